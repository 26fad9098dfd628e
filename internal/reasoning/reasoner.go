// Package reasoning wraps the language-reasoning collaborator: the service
// that turns page snapshots into candidate interactions, judges whether an
// executed transition was meaningful, and proposes test ideas.
package reasoning

import (
	"context"

	"webatlas/internal/atlas"
	"webatlas/internal/fingerprint"
)

// Judgment is the verdict on an executed transition.
type Judgment struct {
	Meaningful bool    `json:"is_meaningful"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Reasoner is the reasoning collaborator contract.
type Reasoner interface {
	// ProposeTasks returns candidate interactions for a page, ordered by
	// priority, each with a rationale and a destructive flag.
	ProposeTasks(ctx context.Context, snap *fingerprint.PageSnapshot) ([]atlas.Task, error)

	// JudgeTransition decides whether executing action on the before state
	// produced a meaningful new state, and labels the transition.
	JudgeTransition(ctx context.Context, before, after *fingerprint.PageSnapshot, action atlas.Action) (*Judgment, error)

	// ProposeIdeas returns categorized test ideas for a page.
	ProposeIdeas(ctx context.Context, snap *fingerprint.PageSnapshot) ([]atlas.TestIdea, error)
}
