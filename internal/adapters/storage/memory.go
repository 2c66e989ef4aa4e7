package storage

import (
	"context"
	"sync"

	"github.com/eleven-am/strand/internal/domain"
)

// Memory is a mutex-guarded in-memory store. It backs tests and
// storage-optional deployments that still want a queryable audit trail for
// the process lifetime.
type Memory struct {
	mu          sync.Mutex
	tasks       map[string]*domain.Task
	taskOrder   []string
	runs        []*domain.ToolRun
	transcripts map[string]*domain.Transcript
	events      []*domain.Event
	nodes       map[string]*domain.WorkflowNode
}

func NewMemory() *Memory {
	return &Memory{
		tasks:       make(map[string]*domain.Task),
		transcripts: make(map[string]*domain.Transcript),
		nodes:       make(map[string]*domain.WorkflowNode),
	}
}

func (m *Memory) SaveTask(ctx context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[task.ID]; !exists {
		m.taskOrder = append(m.taskOrder, task.ID)
	}
	m.tasks[task.ID] = task.Clone()
	return nil
}

func (m *Memory) UpdateTask(ctx context.Context, task *domain.Task) error {
	return m.SaveTask(ctx, task)
}

func (m *Memory) ListTasks(ctx context.Context) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks := make([]*domain.Task, 0, len(m.taskOrder))
	for _, id := range m.taskOrder {
		tasks = append(tasks, m.tasks[id].Clone())
	}
	return tasks, nil
}

// Task returns the stored copy of one task, or nil. Test helper.
func (m *Memory) Task(id string) *domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.tasks[id].Clone()
}

func (m *Memory) SaveToolRun(ctx context.Context, run *domain.ToolRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *run
	m.runs = append(m.runs, &copied)
	return nil
}

// ToolRuns returns every stored run in write order. Test helper.
func (m *Memory) ToolRuns() []*domain.ToolRun {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := make([]*domain.ToolRun, len(m.runs))
	copy(runs, m.runs)
	return runs
}

func (m *Memory) SaveTranscript(ctx context.Context, transcript *domain.Transcript) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *transcript
	m.transcripts[transcript.RunID] = &copied
	return nil
}

// Transcript returns the stored transcript for a run, or nil. Test helper.
func (m *Memory) Transcript(runID string) *domain.Transcript {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.transcripts[runID]
}

func (m *Memory) SaveEvent(ctx context.Context, event *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *event
	m.events = append(m.events, &copied)
	return nil
}

// Events returns persisted events, optionally filtered by name. Test helper.
func (m *Memory) Events(name string) []*domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []*domain.Event
	for _, event := range m.events {
		if name == "" || event.Name == name {
			events = append(events, event)
		}
	}
	return events
}

func (m *Memory) SaveWorkflowNode(ctx context.Context, node *domain.WorkflowNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *node
	m.nodes[node.ID] = &copied
	return nil
}

// Node returns the stored workflow node for an id, or nil. Test helper.
func (m *Memory) Node(id string) *domain.WorkflowNode {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.nodes[id]
}

func (m *Memory) Close() error {
	return nil
}
