package domain

import (
	"time"
)

// ToolRun is the immutable record of one tool execution attempt. A rectified
// retry produces a fresh record, never a mutation of an earlier one.
type ToolRun struct {
	ID          string                 `json:"id"`
	ToolName    string                 `json:"tool_name"`
	Args        map[string]interface{} `json:"args,omitempty"`
	Result      interface{}            `json:"result,omitempty"`
	Error       *string                `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
	DurationMs  int64                  `json:"duration_ms"`
	ContextMeta map[string]interface{} `json:"context_meta,omitempty"`
}

// Transcript is the short human-readable summary saved beside a ToolRun.
type Transcript struct {
	RunID     string    `json:"run_id"`
	ToolName  string    `json:"tool_name"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkflowNode is the persisted adjacency record for one scheduled unit.
type WorkflowNode struct {
	ID         string   `json:"id"`
	Deps       []string `json:"deps,omitempty"`
	Dependents []string `json:"dependents,omitempty"`
}
