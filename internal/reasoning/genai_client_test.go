package reasoning

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"webatlas/internal/atlas"
	"webatlas/internal/fingerprint"
)

func stubReasoner(responses ...string) *GenAIReasoner {
	i := 0
	r := &GenAIReasoner{cfg: Config{Model: "stub", MaxAttempts: 2}}
	r.call = func(ctx context.Context, prompt string) (string, error) {
		if i >= len(responses) {
			return "", fmt.Errorf("no more responses")
		}
		resp := responses[i]
		i++
		return resp, nil
	}
	return r
}

func snap() *fingerprint.PageSnapshot {
	return &fingerprint.PageSnapshot{URL: "http://app/login", Title: "Login"}
}

func TestProposeTasksParsesAndFilters(t *testing.T) {
	r := stubReasoner("```json\n[" +
		`{"selector":"input[name=user]","kind":"type","params":{"text":"admin"},"priority":8,"rationale":"fill login"},` +
		`{"selector":"#submit","kind":"click","priority":9,"destructive":false},` +
		`{"selector":"#thing","kind":"hover","priority":3}` +
		"]\n```")

	tasks, err := r.ProposeTasks(context.Background(), snap())
	require.NoError(t, err)
	// the unknown "hover" kind is dropped, the rest survive
	require.Len(t, tasks, 2)
	require.Equal(t, atlas.ActionType, tasks[0].Kind)
	require.Equal(t, "admin", tasks[0].Params["text"])
	require.Equal(t, 9, tasks[1].Priority)
}

func TestProposeTasksUnparseableResponse(t *testing.T) {
	r := stubReasoner("this is not json")
	_, err := r.ProposeTasks(context.Background(), snap())
	var collabErr *atlas.CollaboratorError
	require.ErrorAs(t, err, &collabErr)
	require.Equal(t, "reasoner", collabErr.Collaborator)
}

func TestJudgeTransitionLabelFallback(t *testing.T) {
	r := stubReasoner(`{"is_meaningful":true,"label":"","confidence":0.7}`)
	j, err := r.JudgeTransition(context.Background(), snap(), snap(),
		atlas.Action{Kind: atlas.ActionClick, Selector: "#go"})
	require.NoError(t, err)
	require.True(t, j.Meaningful)
	require.Equal(t, "click-#go", j.Label)
}

func TestProposeIdeasDropsInvalid(t *testing.T) {
	r := stubReasoner(`[
		{"name":"long input","category":"boundary","selector":"input","cases":[{"input":"aaaa","expected":"unchanged"}]},
		{"name":"no cases","category":"injection","selector":"input","cases":[]},
		{"name":"bad category","category":"fuzzing","selector":"input","cases":[{"input":"x","expected":"y"}]}
	]`)

	ideas, err := r.ProposeIdeas(context.Background(), snap())
	require.NoError(t, err)
	require.Len(t, ideas, 1)
	require.Equal(t, atlas.IdeaBoundary, ideas[0].Category)
}

func TestGenerateRetriesThenFails(t *testing.T) {
	calls := 0
	r := &GenAIReasoner{cfg: Config{Model: "stub", MaxAttempts: 2}}
	r.call = func(ctx context.Context, prompt string) (string, error) {
		calls++
		return "", errors.New("backend unavailable")
	}

	_, err := r.ProposeTasks(context.Background(), snap())
	var collabErr *atlas.CollaboratorError
	require.ErrorAs(t, err, &collabErr)
	require.Equal(t, 2, calls)
}

func TestGenerateRecoversOnRetry(t *testing.T) {
	calls := 0
	r := &GenAIReasoner{cfg: Config{Model: "stub", MaxAttempts: 3}}
	r.call = func(ctx context.Context, prompt string) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("transient")
		}
		return `[]`, nil
	}

	tasks, err := r.ProposeTasks(context.Background(), snap())
	require.NoError(t, err)
	require.Empty(t, tasks)
	require.Equal(t, 2, calls)
}
