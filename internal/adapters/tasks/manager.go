package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/strand/internal/domain"
	"github.com/eleven-am/strand/internal/ports"
	"github.com/google/uuid"
)

// Manager is the sole owner of Task and Step state. Every mutation funnels
// through it and follows persist-then-notify: the durable write completes
// before the corresponding event fires, so a subscriber that re-queries
// storage on an event observes consistent state.
type Manager struct {
	storage ports.Storage
	bus     ports.EventBus
	logger  *slog.Logger

	mu    sync.RWMutex
	tasks map[string]*domain.Task
	order []string
}

type pendingEvent struct {
	name    string
	payload interface{}
}

func NewManager(storage ports.Storage, bus ports.EventBus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		storage: storage,
		bus:     bus,
		logger:  logger.With("component", "task-manager"),
		tasks:   make(map[string]*domain.Task),
	}
}

// Hydrate rebuilds the in-memory index from durable storage. Call once at
// startup, before any mutation.
func (m *Manager) Hydrate(ctx context.Context) error {
	if m.storage == nil {
		return nil
	}

	stored, err := m.storage.ListTasks(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, task := range stored {
		if _, exists := m.tasks[task.ID]; !exists {
			m.order = append(m.order, task.ID)
		}
		m.tasks[task.ID] = task
	}

	m.logger.Debug("task index hydrated", "count", len(stored))
	return nil
}

func (m *Manager) CreateTask(ctx context.Context, title, parentID string, meta map[string]interface{}) (*domain.Task, error) {
	now := time.Now()
	task := &domain.Task{
		ID:        uuid.New().String(),
		ParentID:  parentID,
		Title:     title,
		Status:    domain.TaskStatusPending,
		Steps:     []domain.Step{},
		Meta:      meta,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.tasks[task.ID] = task
	m.order = append(m.order, task.ID)
	m.persist(ctx, task, true)
	snapshot := task.Clone()
	m.mu.Unlock()

	m.emit(ctx, domain.EventTaskCreated, domain.TaskCreatedEvent{
		TaskID:    task.ID,
		ParentID:  parentID,
		Title:     title,
		Meta:      meta,
		CreatedAt: now,
	})

	m.logger.Debug("task created", "task_id", task.ID, "title", title)
	return snapshot, nil
}

func (m *Manager) StartTask(ctx context.Context, id string) (*domain.Task, error) {
	return m.transitionTask(ctx, id, domain.TaskStatusRunning, nil, "")
}

func (m *Manager) CompleteTask(ctx context.Context, id string, result interface{}) (*domain.Task, error) {
	return m.transitionTask(ctx, id, domain.TaskStatusCompleted, result, "")
}

func (m *Manager) FailTask(ctx context.Context, id, errMsg string) (*domain.Task, error) {
	return m.transitionTask(ctx, id, domain.TaskStatusFailed, nil, errMsg)
}

func (m *Manager) CancelTask(ctx context.Context, id string) (*domain.Task, error) {
	return m.transitionTask(ctx, id, domain.TaskStatusCancelled, nil, "")
}

func (m *Manager) transitionTask(ctx context.Context, id string, next domain.TaskStatus, result interface{}, errMsg string) (*domain.Task, error) {
	m.mu.Lock()

	task, exists := m.tasks[id]
	if !exists {
		m.mu.Unlock()
		return nil, domain.NewNotFoundError("task", id)
	}

	var events []pendingEvent

	// A terminal call on a still-pending task passes through running so
	// observed transitions never skip states.
	if task.Status == domain.TaskStatusPending && (next == domain.TaskStatusCompleted || next == domain.TaskStatusFailed) {
		task.Status = domain.TaskStatusRunning
		task.UpdatedAt = time.Now()
		events = append(events, pendingEvent{domain.EventTaskStarted, domain.TaskStatusEvent{
			TaskID: id,
			Status: domain.TaskStatusRunning,
			At:     task.UpdatedAt,
		}})
	}

	if !task.Status.CanTransitionTo(next) {
		m.mu.Unlock()
		return nil, domain.Error{
			Type:    domain.ErrorTypeConflict,
			Message: "invalid task status transition",
			Details: map[string]interface{}{
				"task_id": id,
				"from":    string(task.Status),
				"to":      string(next),
			},
		}
	}

	task.Status = next
	task.UpdatedAt = time.Now()
	if result != nil {
		task.Result = result
	}
	if errMsg != "" {
		task.Error = &errMsg
	}

	events = append(events, pendingEvent{eventForTaskStatus(next), domain.TaskStatusEvent{
		TaskID: id,
		Status: next,
		Result: result,
		Error:  errMsg,
		At:     task.UpdatedAt,
	}})

	m.persist(ctx, task, false)
	snapshot := task.Clone()
	m.mu.Unlock()

	for _, event := range events {
		m.emit(ctx, event.name, event.payload)
	}

	m.logger.Debug("task transitioned", "task_id", id, "status", next)
	return snapshot, nil
}

func (m *Manager) AddStep(ctx context.Context, taskID, description string, meta map[string]interface{}) (*domain.Step, error) {
	m.mu.Lock()

	task, exists := m.tasks[taskID]
	if !exists {
		m.mu.Unlock()
		return nil, domain.NewNotFoundError("task", taskID)
	}

	now := time.Now()
	step := domain.Step{
		ID:          uuid.New().String(),
		Description: description,
		Status:      domain.TaskStatusPending,
		Meta:        meta,
	}
	task.Steps = append(task.Steps, step)
	task.UpdatedAt = now

	m.persist(ctx, task, false)
	m.mu.Unlock()

	m.emit(ctx, domain.EventTaskStepAdded, domain.StepAddedEvent{
		TaskID:      taskID,
		StepID:      step.ID,
		Description: description,
		Meta:        meta,
		At:          now,
	})

	m.logger.Debug("step added", "task_id", taskID, "step_id", step.ID)
	return &step, nil
}

func (m *Manager) StartStep(ctx context.Context, taskID, stepID string) error {
	return m.transitionStep(ctx, taskID, stepID, domain.TaskStatusRunning, nil, "")
}

func (m *Manager) CompleteStep(ctx context.Context, taskID, stepID string, result interface{}) error {
	return m.transitionStep(ctx, taskID, stepID, domain.TaskStatusCompleted, result, "")
}

func (m *Manager) FailStep(ctx context.Context, taskID, stepID, errMsg string) error {
	return m.transitionStep(ctx, taskID, stepID, domain.TaskStatusFailed, nil, errMsg)
}

func (m *Manager) transitionStep(ctx context.Context, taskID, stepID string, next domain.TaskStatus, result interface{}, errMsg string) error {
	m.mu.Lock()

	task, exists := m.tasks[taskID]
	if !exists {
		m.mu.Unlock()
		return domain.NewNotFoundError("task", taskID)
	}

	var step *domain.Step
	for i := range task.Steps {
		if task.Steps[i].ID == stepID {
			step = &task.Steps[i]
			break
		}
	}
	if step == nil {
		m.mu.Unlock()
		return domain.NewNotFoundError("step", stepID)
	}

	now := time.Now()
	var events []pendingEvent

	if step.Status == domain.TaskStatusPending && (next == domain.TaskStatusCompleted || next == domain.TaskStatusFailed) {
		step.Status = domain.TaskStatusRunning
		step.StartedAt = &now
		events = append(events, pendingEvent{domain.EventTaskStepStarted, domain.StepStatusEvent{
			TaskID: taskID,
			StepID: stepID,
			Status: domain.TaskStatusRunning,
			At:     now,
		}})
	}

	if !step.Status.CanTransitionTo(next) {
		m.mu.Unlock()
		return domain.Error{
			Type:    domain.ErrorTypeConflict,
			Message: "invalid step status transition",
			Details: map[string]interface{}{
				"task_id": taskID,
				"step_id": stepID,
				"from":    string(step.Status),
				"to":      string(next),
			},
		}
	}

	step.Status = next
	if next == domain.TaskStatusRunning {
		step.StartedAt = &now
	} else {
		step.FinishedAt = &now
	}
	if result != nil {
		step.Result = result
	}
	if errMsg != "" {
		step.Error = &errMsg
	}
	task.UpdatedAt = now

	events = append(events, pendingEvent{eventForStepStatus(next), domain.StepStatusEvent{
		TaskID: taskID,
		StepID: stepID,
		Status: next,
		Result: result,
		Error:  errMsg,
		At:     now,
	}})

	m.persist(ctx, task, false)
	m.mu.Unlock()

	for _, event := range events {
		m.emit(ctx, event.name, event.payload)
	}

	m.logger.Debug("step transitioned", "task_id", taskID, "step_id", stepID, "status", next)
	return nil
}

func (m *Manager) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, exists := m.tasks[id]
	if !exists {
		return nil, domain.NewNotFoundError("task", id)
	}
	return task.Clone(), nil
}

func (m *Manager) ListTasks(ctx context.Context) []*domain.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks := make([]*domain.Task, 0, len(m.order))
	for _, id := range m.order {
		tasks = append(tasks, m.tasks[id].Clone())
	}
	return tasks
}

// persist writes the task best-effort. Audit-trail loss is logged, never
// surfaced: it must not block forward progress.
func (m *Manager) persist(ctx context.Context, task *domain.Task, create bool) {
	if m.storage == nil {
		return
	}

	var err error
	if create {
		err = m.storage.SaveTask(ctx, task)
	} else {
		err = m.storage.UpdateTask(ctx, task)
	}
	if err != nil {
		m.logger.Warn("failed to persist task",
			"task_id", task.ID,
			"status", task.Status,
			"error", err)
	}
}

func (m *Manager) emit(ctx context.Context, name string, payload interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(ctx, name, payload)
}

func eventForTaskStatus(status domain.TaskStatus) string {
	switch status {
	case domain.TaskStatusRunning:
		return domain.EventTaskStarted
	case domain.TaskStatusCompleted:
		return domain.EventTaskCompleted
	case domain.TaskStatusFailed:
		return domain.EventTaskFailed
	default:
		return domain.EventTaskCancelled
	}
}

func eventForStepStatus(status domain.TaskStatus) string {
	switch status {
	case domain.TaskStatusRunning:
		return domain.EventTaskStepStarted
	case domain.TaskStatusCompleted:
		return domain.EventTaskStepCompleted
	default:
		return domain.EventTaskStepFailed
	}
}
