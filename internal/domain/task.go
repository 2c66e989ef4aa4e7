package domain

import (
	"time"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status machine permits moving to next.
// Legal edges: pending→running, running→completed, running→failed, and any
// non-terminal status→cancelled.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if next == TaskStatusCancelled {
		return !s.Terminal()
	}
	switch s {
	case TaskStatusPending:
		return next == TaskStatusRunning
	case TaskStatusRunning:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	}
	return false
}

type Task struct {
	ID        string                 `json:"id"`
	ParentID  string                 `json:"parent_id,omitempty"`
	Title     string                 `json:"title"`
	Status    TaskStatus             `json:"status"`
	Steps     []Step                 `json:"steps"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	Result    interface{}            `json:"result,omitempty"`
	Error     *string                `json:"error,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

type Step struct {
	ID          string                 `json:"id"`
	Description string                 `json:"description"`
	Status      TaskStatus             `json:"status"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
	Result      interface{}            `json:"result,omitempty"`
	Error       *string                `json:"error,omitempty"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	FinishedAt  *time.Time             `json:"finished_at,omitempty"`
}

// Clone returns a structural copy of the task. Steps and meta maps are
// copied; opaque result payloads are shared, the task manager never mutates
// a result after a terminal transition.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}

	clone := *t

	if t.Steps != nil {
		clone.Steps = make([]Step, len(t.Steps))
		for i := range t.Steps {
			clone.Steps[i] = *t.Steps[i].clone()
		}
	}

	clone.Meta = cloneMeta(t.Meta)

	if t.Error != nil {
		errCopy := *t.Error
		clone.Error = &errCopy
	}

	return &clone
}

func (s *Step) clone() *Step {
	clone := *s
	clone.Meta = cloneMeta(s.Meta)

	if s.Error != nil {
		errCopy := *s.Error
		clone.Error = &errCopy
	}
	if s.StartedAt != nil {
		at := *s.StartedAt
		clone.StartedAt = &at
	}
	if s.FinishedAt != nil {
		at := *s.FinishedAt
		clone.FinishedAt = &at
	}

	return &clone
}

func cloneMeta(meta map[string]interface{}) map[string]interface{} {
	if meta == nil {
		return nil
	}
	copied := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		copied[k] = v
	}
	return copied
}
