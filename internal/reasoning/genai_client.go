package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"webatlas/internal/atlas"
	"webatlas/internal/fingerprint"
	"webatlas/internal/logging"
)

// Config holds reasoning collaborator configuration.
type Config struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxAttempts int     `yaml:"max_attempts"` // bounded retries per call
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:      apiKey,
		Model:       "gemini-2.5-flash",
		Temperature: 0.2,
		MaxAttempts: 2,
	}
}

// GenAIReasoner implements Reasoner on the Gemini API.
type GenAIReasoner struct {
	client *genai.Client
	cfg    Config
	call   func(ctx context.Context, prompt string) (string, error)
}

// NewGenAIReasoner creates a Gemini-backed reasoner.
func NewGenAIReasoner(ctx context.Context, cfg Config) (*GenAIReasoner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("reasoning: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 2
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("reasoning: create client: %w", err)
	}
	r := &GenAIReasoner{client: client, cfg: cfg}
	r.call = r.modelCall
	return r, nil
}

// modelCall is one JSON-mode generation round trip.
func (r *GenAIReasoner) modelCall(ctx context.Context, prompt string) (string, error) {
	resp, err := r.client.Models.GenerateContent(ctx, r.cfg.Model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			Temperature:      genai.Ptr(r.cfg.Temperature),
		})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

const proposeTasksPrompt = `You analyze a web page and propose the next user interactions worth
exploring. Respond with a JSON array only. Each element:
{"selector": "...", "kind": "click|type|navigate|scroll",
 "params": {"text": "...", "url": "..."},
 "priority": 0-10, "rationale": "...", "destructive": false}
Prefer navigation and form interactions that likely reveal new application
states. Mark anything that might delete or mutate data as destructive.

Page snapshot:
%s`

const judgeTransitionPrompt = `You judge whether a user action moved a web application into a
meaningfully different state. Respond with a JSON object only:
{"is_meaningful": true|false, "label": "short-action-slug", "confidence": 0.0-1.0}
The label must describe the action in 2-5 lowercase words joined by dashes.

Action executed:
%s

State before:
%s

State after:
%s`

const proposeIdeasPrompt = `You propose concrete test ideas for a web page. Respond with a JSON
array only. Each element:
{"name": "...", "category": "boundary|injection|permission|performance|accessibility",
 "selector": "...", "cases": [{"input": "...", "expected": "..."}]}
Only propose ideas with at least one concrete (input, expected) case.

Page snapshot:
%s`

// ProposeTasks asks the model for candidate interactions.
func (r *GenAIReasoner) ProposeTasks(ctx context.Context, snap *fingerprint.PageSnapshot) ([]atlas.Task, error) {
	raw, err := r.generate(ctx, "propose_tasks", fmt.Sprintf(proposeTasksPrompt, renderSnapshot(snap)))
	if err != nil {
		return nil, err
	}

	var proposals []struct {
		Selector    string            `json:"selector"`
		Kind        string            `json:"kind"`
		Params      map[string]string `json:"params"`
		Priority    int               `json:"priority"`
		Rationale   string            `json:"rationale"`
		Destructive bool              `json:"destructive"`
	}
	if err := json.Unmarshal([]byte(raw), &proposals); err != nil {
		return nil, &atlas.CollaboratorError{Collaborator: "reasoner", Op: "propose_tasks",
			Err: fmt.Errorf("unparseable response: %w", err)}
	}

	tasks := make([]atlas.Task, 0, len(proposals))
	for _, p := range proposals {
		kind := atlas.ActionKind(p.Kind)
		if !atlas.ValidActionKind(kind) {
			logging.Get(logging.CategoryReasoner).Warn("dropping proposal with unknown kind %q", p.Kind)
			continue
		}
		tasks = append(tasks, atlas.Task{
			Selector:    p.Selector,
			Kind:        kind,
			Params:      p.Params,
			Priority:    p.Priority,
			Rationale:   p.Rationale,
			Destructive: p.Destructive,
		})
	}
	logging.Reasoner("proposed %d tasks for %s", len(tasks), snap.URL)
	return tasks, nil
}

// JudgeTransition asks the model whether the transition was meaningful.
func (r *GenAIReasoner) JudgeTransition(ctx context.Context, before, after *fingerprint.PageSnapshot, action atlas.Action) (*Judgment, error) {
	actionJSON, _ := json.Marshal(action)
	prompt := fmt.Sprintf(judgeTransitionPrompt, actionJSON, renderSnapshot(before), renderSnapshot(after))
	raw, err := r.generate(ctx, "judge_transition", prompt)
	if err != nil {
		return nil, err
	}

	var j Judgment
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, &atlas.CollaboratorError{Collaborator: "reasoner", Op: "judge_transition",
			Err: fmt.Errorf("unparseable response: %w", err)}
	}
	if j.Meaningful && strings.TrimSpace(j.Label) == "" {
		j.Label = string(action.Kind) + "-" + action.Selector
	}
	logging.Reasoner("judged %s transition: meaningful=%v label=%q", action.Kind, j.Meaningful, j.Label)
	return &j, nil
}

// ProposeIdeas asks the model for test ideas.
func (r *GenAIReasoner) ProposeIdeas(ctx context.Context, snap *fingerprint.PageSnapshot) ([]atlas.TestIdea, error) {
	raw, err := r.generate(ctx, "propose_ideas", fmt.Sprintf(proposeIdeasPrompt, renderSnapshot(snap)))
	if err != nil {
		return nil, err
	}

	var ideas []atlas.TestIdea
	if err := json.Unmarshal([]byte(raw), &ideas); err != nil {
		return nil, &atlas.CollaboratorError{Collaborator: "reasoner", Op: "propose_ideas",
			Err: fmt.Errorf("unparseable response: %w", err)}
	}
	kept := ideas[:0]
	for _, idea := range ideas {
		if validCategory(idea.Category) && len(idea.Cases) > 0 {
			kept = append(kept, idea)
		}
	}
	return kept, nil
}

func validCategory(c atlas.IdeaCategory) bool {
	switch c {
	case atlas.IdeaBoundary, atlas.IdeaInjection, atlas.IdeaPermission,
		atlas.IdeaPerformance, atlas.IdeaAccessibility:
		return true
	}
	return false
}

// generate runs one model call with bounded retries, returning the
// response body with any code fences stripped.
func (r *GenAIReasoner) generate(ctx context.Context, op, prompt string) (string, error) {
	timer := logging.StartTimer(logging.CategoryReasoner, op)
	defer timer.StopWithThreshold(30 * time.Second)

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		raw, err := r.call(ctx, prompt)
		if err == nil {
			text := strings.TrimSpace(raw)
			if text != "" {
				return StripFences(text), nil
			}
			err = fmt.Errorf("empty response")
		}
		lastErr = err
		logging.Get(logging.CategoryReasoner).Warn("%s attempt %d/%d failed: %v", op, attempt, r.cfg.MaxAttempts, err)
		if attempt == r.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", &atlas.CollaboratorError{Collaborator: "reasoner", Op: op, Err: ctx.Err()}
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	return "", &atlas.CollaboratorError{Collaborator: "reasoner", Op: op, Err: lastErr}
}

// renderSnapshot produces the compact textual form of a snapshot given to
// the model.
func renderSnapshot(snap *fingerprint.PageSnapshot) string {
	if snap == nil {
		return "(no snapshot)"
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return snap.URL
	}
	return string(data)
}
