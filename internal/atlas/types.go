// Package atlas persists the state graph: one node per distinct application
// state, labeled edges for transitions, per-node task queues and test ideas,
// and a single authoritative graph index. It is the only component allowed
// to create, link, and query state nodes, and all operations are safe under
// concurrent callers.
package atlas

import "time"

// Node is a persisted, uniquely identified application state. The identity
// is derived from the page fingerprint; at most one node exists per
// fingerprint and the identity never changes after creation.
type Node struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	Summary       string    `json:"summary"`
	Fingerprint   string    `json:"fingerprint"`
	ScreenshotRef string    `json:"screenshot_ref,omitempty"`
	ParentID      string    `json:"parent_id,omitempty"` // empty for the root
	Depth         int       `json:"depth"`               // root = 0
	VisitCount    int       `json:"visit_count"`
	Analyzed      bool      `json:"analyzed"`
	Tags          []string  `json:"tags,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Edge is a directed, labeled transition between two nodes. The label is
// unique per source node. Every edge owns a replay script that reproduces
// the transition from the source state.
type Edge struct {
	SourceID  string       `json:"source_id"`
	Label     string       `json:"label"`
	TargetID  string       `json:"target_id"`
	Script    ReplayScript `json:"script"`
	CreatedAt time.Time    `json:"created_at"`
}

// ReplayScript is the ordered, executable recipe reproducing a transition
// from its source node.
type ReplayScript struct {
	Ref   string   `json:"ref"`
	Steps []Action `json:"steps"`
}

// ActionKind is the closed set of interaction kinds.
type ActionKind string

const (
	ActionClick    ActionKind = "click"
	ActionType     ActionKind = "type"
	ActionNavigate ActionKind = "navigate"
	ActionScroll   ActionKind = "scroll"
)

// ValidActionKind reports whether k is one of the closed action set.
func ValidActionKind(k ActionKind) bool {
	switch k {
	case ActionClick, ActionType, ActionNavigate, ActionScroll:
		return true
	}
	return false
}

// Action is a single executable interaction.
type Action struct {
	Kind     ActionKind        `json:"kind"`
	Selector string            `json:"selector,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

// TaskStatus tracks a task through its lifecycle:
// pending -> processing -> {completed|failed}.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task priority bounds. Higher is more urgent.
const (
	PriorityMin = 0
	PriorityMax = 10
)

// Task is a proposed future interaction on a node. Once processing, a task
// is exclusively owned by the worker that claimed it until it resolves.
type Task struct {
	ID          string            `json:"id"`
	NodeID      string            `json:"node_id"`
	Selector    string            `json:"selector,omitempty"`
	Kind        ActionKind        `json:"kind"`
	Params      map[string]string `json:"params,omitempty"`
	Priority    int               `json:"priority"`
	Rationale   string            `json:"rationale,omitempty"`
	Destructive bool              `json:"destructive"`
	Status      TaskStatus        `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Action converts the task into its executable form.
func (t *Task) Action() Action {
	return Action{Kind: t.Kind, Selector: t.Selector, Params: t.Params}
}

// IdeaCategory is the closed set of test idea categories.
type IdeaCategory string

const (
	IdeaBoundary      IdeaCategory = "boundary"
	IdeaInjection     IdeaCategory = "injection"
	IdeaPermission    IdeaCategory = "permission"
	IdeaPerformance   IdeaCategory = "performance"
	IdeaAccessibility IdeaCategory = "accessibility"
)

// TestCase is one concrete (input, expected) pair of a test idea.
type TestCase struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
}

// TestIdea is a discovered testing opportunity attached to a node.
type TestIdea struct {
	ID       string       `json:"id"`
	NodeID   string       `json:"node_id"`
	Name     string       `json:"name"`
	Category IdeaCategory `json:"category"`
	Selector string       `json:"selector,omitempty"`
	Cases    []TestCase   `json:"cases"`
}

// Report is the structured pass/fail record appended by the testing loop.
type Report struct {
	ID        int64     `json:"id"`
	IdeaID    string    `json:"idea_id"`
	NodeID    string    `json:"node_id"`
	CaseInput string    `json:"case_input"`
	Expected  string    `json:"expected"`
	Observed  string    `json:"observed"`
	Passed    bool      `json:"passed"`
	CreatedAt time.Time `json:"created_at"`
}

// PathStep is one hop of a root-to-target path. NodeID is the node reached
// by following Edge from its source.
type PathStep struct {
	NodeID      string `json:"node_id"`
	ActionLabel string `json:"action_label"`
	Edge        Edge   `json:"edge"`
}

// Stats are the aggregate counters of the graph index.
type Stats struct {
	TotalNodes int `json:"total_nodes"`
	TotalEdges int `json:"total_edges"`
	MaxDepth   int `json:"max_depth"`
}

// TodoMode selects the manage-todos operation.
type TodoMode string

const (
	TodoPush TodoMode = "push"
	TodoPop  TodoMode = "pop"
)
