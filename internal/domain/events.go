package domain

import (
	"time"
)

// Event is an append-only record on the bus. Sequence is assigned per name
// at emission and realizes the per-name ordering guarantee.
type Event struct {
	Name      string      `json:"name"`
	Payload   interface{} `json:"payload,omitempty"`
	Sequence  int64       `json:"sequence"`
	Timestamp time.Time   `json:"timestamp"`
}

const (
	EventTaskCreated       = "task.created"
	EventTaskStarted       = "task.started"
	EventTaskStepAdded     = "task.step.added"
	EventTaskStepStarted   = "task.step.started"
	EventTaskStepCompleted = "task.step.completed"
	EventTaskStepFailed    = "task.step.failed"
	EventTaskCompleted     = "task.completed"
	EventTaskFailed        = "task.failed"
	EventTaskCancelled     = "task.cancelled"

	EventToolStart = "tool.start"
	EventToolLog   = "tool.log"
	EventToolEnd   = "tool.end"
	EventToolError = "tool.error"

	EventUnitStarted   = "workflow.unit.started"
	EventUnitCompleted = "workflow.unit.completed"
	EventUnitFailed    = "workflow.unit.failed"
)

type TaskCreatedEvent struct {
	TaskID    string                 `json:"task_id"`
	ParentID  string                 `json:"parent_id,omitempty"`
	Title     string                 `json:"title"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

type TaskStatusEvent struct {
	TaskID string      `json:"task_id"`
	Status TaskStatus  `json:"status"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
	At     time.Time   `json:"at"`
}

type StepAddedEvent struct {
	TaskID      string                 `json:"task_id"`
	StepID      string                 `json:"step_id"`
	Description string                 `json:"description"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
	At          time.Time              `json:"at"`
}

type StepStatusEvent struct {
	TaskID string      `json:"task_id"`
	StepID string      `json:"step_id"`
	Status TaskStatus  `json:"status"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
	At     time.Time   `json:"at"`
}

type ToolStartEvent struct {
	RunID     string                 `json:"run_id"`
	ToolName  string                 `json:"tool_name"`
	Args      map[string]interface{} `json:"args,omitempty"`
	StartedAt time.Time              `json:"started_at"`
}

type ToolLogEvent struct {
	RunID    string    `json:"run_id"`
	ToolName string    `json:"tool_name"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

type ToolEndEvent struct {
	RunID      string      `json:"run_id"`
	ToolName   string      `json:"tool_name"`
	Result     interface{} `json:"result,omitempty"`
	DurationMs int64       `json:"duration_ms"`
	FinishedAt time.Time   `json:"finished_at"`
}

type ToolErrorEvent struct {
	RunID      string    `json:"run_id"`
	ToolName   string    `json:"tool_name"`
	Error      string    `json:"error"`
	DurationMs int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

type UnitStartedEvent struct {
	UnitID  string    `json:"unit_id"`
	Attempt int       `json:"attempt"`
	At      time.Time `json:"at"`
}

type UnitCompletedEvent struct {
	UnitID     string      `json:"unit_id"`
	Result     interface{} `json:"result,omitempty"`
	DurationMs int64       `json:"duration_ms"`
	At         time.Time   `json:"at"`
}

type UnitFailedEvent struct {
	UnitID   string    `json:"unit_id"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
}
