package ports

import (
	"context"

	"github.com/eleven-am/strand/internal/domain"
)

// Storage is the durable store contract. Every component tolerates a nil
// Storage: persistence degrades to a no-op and the in-memory core keeps
// functioning.
type Storage interface {
	SaveTask(ctx context.Context, task *domain.Task) error
	UpdateTask(ctx context.Context, task *domain.Task) error
	ListTasks(ctx context.Context) ([]*domain.Task, error)

	SaveToolRun(ctx context.Context, run *domain.ToolRun) error
	SaveTranscript(ctx context.Context, transcript *domain.Transcript) error

	SaveEvent(ctx context.Context, event *domain.Event) error

	SaveWorkflowNode(ctx context.Context, node *domain.WorkflowNode) error

	Close() error
}
