package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/strand/internal/domain"
	"github.com/eleven-am/strand/internal/ports"
	"golang.org/x/sync/semaphore"
)

type UnitStatus string

const (
	UnitStatusQueued    UnitStatus = "queued"
	UnitStatusWaiting   UnitStatus = "waiting"
	UnitStatusRunning   UnitStatus = "running"
	UnitStatusCompleted UnitStatus = "completed"
	UnitStatusFailed    UnitStatus = "failed"
)

// UnitFunc is one schedulable unit of work, typically a ToolRunner call.
type UnitFunc func(ctx context.Context) (interface{}, error)

type ScheduleOptions struct {
	DependsOn []string
	// Retries is the number of additional attempts after the first
	// failure; attempt k backs off base*2^(k-1) before running.
	Retries int
	// Timeout bounds the dependency-wait phase only. Zero falls back to
	// the engine default. Execution timeouts are the unit's own business.
	Timeout time.Duration
}

type GraphStep struct {
	ID        string
	Fn        UnitFunc
	DependsOn []string
	Retries   int
	Timeout   time.Duration
}

// UnitResult is the settled outcome of one scheduled unit.
type UnitResult struct {
	ID     string
	Result interface{}
	Err    error
}

type unit struct {
	id         string
	deps       map[string]struct{}
	dependents map[string]struct{}
	status     UnitStatus
	result     interface{}
	err        error
	attempts   int
	scheduled  bool

	// done is closed exactly once, on the terminal transition. Status,
	// result and err are written before the close, so any reader past
	// <-done observes them safely.
	done chan struct{}
}

// Engine schedules interdependent units with bounded concurrency,
// dependency ordering and per-unit retry. Only a running handler holds a
// worker slot: dependency waits block on a per-unit broadcast channel and
// backoff sleeps release the slot first, so neither a wait-heavy graph nor
// a retrying unit can starve execution capacity.
type Engine struct {
	config  domain.EngineConfig
	storage ports.Storage
	bus     ports.EventBus
	logger  *slog.Logger
	sem     *semaphore.Weighted

	mu    sync.Mutex
	units map[string]*unit
}

func NewEngine(config domain.EngineConfig, storage ports.Storage, bus ports.EventBus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := domain.DefaultEngineConfig()
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if config.DefaultUnitTimeout <= 0 {
		config.DefaultUnitTimeout = defaults.DefaultUnitTimeout
	}

	return &Engine{
		config:  config,
		storage: storage,
		bus:     bus,
		logger:  logger.With("component", "workflow-engine"),
		sem:     semaphore.NewWeighted(int64(config.WorkerCount)),
		units:   make(map[string]*unit),
	}
}

// RegisterTask creates the adjacency node for id. Re-registration is
// idempotent.
func (e *Engine) RegisterTask(ctx context.Context, id string) {
	e.mu.Lock()
	u := e.ensureUnitLocked(id)
	node := e.nodeRecordLocked(u)
	e.mu.Unlock()

	e.persistNode(ctx, node)
}

// AddDependency records that taskID must wait for dependsOn. Both
// endpoints are auto-registered.
func (e *Engine) AddDependency(ctx context.Context, taskID, dependsOn string) {
	e.mu.Lock()
	u := e.ensureUnitLocked(taskID)
	dep := e.ensureUnitLocked(dependsOn)
	u.deps[dependsOn] = struct{}{}
	dep.dependents[taskID] = struct{}{}
	uNode := e.nodeRecordLocked(u)
	depNode := e.nodeRecordLocked(dep)
	e.mu.Unlock()

	e.persistNode(ctx, uNode)
	e.persistNode(ctx, depNode)
}

// Status reports the current lifecycle state of a registered unit.
func (e *Engine) Status(id string) (UnitStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, exists := e.units[id]
	if !exists {
		return "", domain.NewNotFoundError("unit", id)
	}
	return u.status, nil
}

// Schedule runs fn once every dependency has completed. A failed
// dependency fails the unit immediately with a dependency error and fn is
// never invoked; a wait beyond the timeout surfaces a timeout error.
// Scheduling an id that already ran returns its settled outcome.
func (e *Engine) Schedule(ctx context.Context, id string, fn UnitFunc, opts ScheduleOptions) (interface{}, error) {
	e.mu.Lock()
	u := e.ensureUnitLocked(id)

	if u.scheduled {
		e.mu.Unlock()
		return e.await(ctx, u)
	}
	u.scheduled = true
	u.status = UnitStatusWaiting

	depUnits := make([]*unit, 0, len(opts.DependsOn))
	for _, depID := range opts.DependsOn {
		dep := e.ensureUnitLocked(depID)
		u.deps[depID] = struct{}{}
		dep.dependents[id] = struct{}{}
		depUnits = append(depUnits, dep)
	}
	node := e.nodeRecordLocked(u)
	e.mu.Unlock()

	e.persistNode(ctx, node)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultUnitTimeout
	}

	if err := e.waitForDeps(ctx, u, depUnits, timeout); err != nil {
		e.fail(ctx, u, err)
		return nil, err
	}

	return e.execute(ctx, u, fn, opts.Retries)
}

// RunGraph registers every node and edge up front, rejects cyclic batches
// eagerly, schedules all units concurrently and returns each one's settled
// outcome in input order. One unit's failure never cancels branches that
// do not depend on it.
func (e *Engine) RunGraph(ctx context.Context, steps []GraphStep) ([]UnitResult, error) {
	for _, step := range steps {
		e.RegisterTask(ctx, step.ID)
		for _, dep := range step.DependsOn {
			e.AddDependency(ctx, step.ID, dep)
		}
	}

	if cycle := detectCycle(steps); len(cycle) > 0 {
		return nil, domain.Error{
			Type:    domain.ErrorTypeValidation,
			Message: "dependency cycle detected",
			Details: map[string]interface{}{"units": cycle},
		}
	}

	e.logger.Debug("running graph", "units", len(steps))

	results := make([]UnitResult, len(steps))
	var wg sync.WaitGroup
	for i, step := range steps {
		wg.Add(1)
		go func(i int, step GraphStep) {
			defer wg.Done()
			result, err := e.Schedule(ctx, step.ID, step.Fn, ScheduleOptions{
				DependsOn: step.DependsOn,
				Retries:   step.Retries,
				Timeout:   step.Timeout,
			})
			results[i] = UnitResult{ID: step.ID, Result: result, Err: err}
		}(i, step)
	}
	wg.Wait()

	return results, nil
}

func (e *Engine) ensureUnitLocked(id string) *unit {
	if u, exists := e.units[id]; exists {
		return u
	}

	u := &unit{
		id:         id,
		deps:       make(map[string]struct{}),
		dependents: make(map[string]struct{}),
		status:     UnitStatusQueued,
		done:       make(chan struct{}),
	}
	e.units[id] = u
	return u
}

func (e *Engine) nodeRecordLocked(u *unit) *domain.WorkflowNode {
	node := &domain.WorkflowNode{ID: u.id}
	for dep := range u.deps {
		node.Deps = append(node.Deps, dep)
	}
	for dependent := range u.dependents {
		node.Dependents = append(node.Dependents, dependent)
	}
	return node
}

// waitForDeps blocks until every dependency completes. Settlements are
// fanned into one channel so a failure surfaces as soon as it exists, no
// matter where the failed dependency sits in the list or whether it
// settled before this unit was even scheduled; a slow sibling never masks
// it behind a timeout.
func (e *Engine) waitForDeps(ctx context.Context, u *unit, deps []*unit, timeout time.Duration) error {
	if len(deps) == 0 {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	stop := make(chan struct{})
	defer close(stop)

	settled := make(chan *unit, len(deps))
	for _, dep := range deps {
		go func(dep *unit) {
			select {
			case <-dep.done:
				settled <- dep
			case <-stop:
			}
		}(dep)
	}

	for remaining := len(deps); remaining > 0; remaining-- {
		select {
		case dep := <-settled:
			if dep.status == UnitStatusFailed {
				return domain.NewDependencyFailedError(u.id, dep.id)
			}
		case <-timer.C:
			return domain.NewTimeoutError(u.id, timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// execute runs the retry loop. A worker slot is acquired per attempt and
// released before the backoff sleep, so a retrying unit consumes no
// execution capacity while idle.
func (e *Engine) execute(ctx context.Context, u *unit, fn UnitFunc, retries int) (interface{}, error) {
	var startedAt time.Time
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := e.config.RetryBaseDelay * (1 << (attempt - 1))
			e.logger.Debug("retrying unit",
				"unit_id", u.id,
				"attempt", attempt+1,
				"delay", delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				e.fail(ctx, u, ctx.Err())
				return nil, ctx.Err()
			}
		}

		if err := e.sem.Acquire(ctx, 1); err != nil {
			e.fail(ctx, u, err)
			return nil, err
		}

		if attempt == 0 {
			startedAt = time.Now()
			e.setStatus(u, UnitStatusRunning)
			e.emit(ctx, domain.EventUnitStarted, domain.UnitStartedEvent{
				UnitID:  u.id,
				Attempt: 1,
				At:      startedAt,
			})
		}

		e.recordAttempt(u)
		result, err := e.invoke(ctx, u.id, fn)
		e.sem.Release(1)

		if err == nil {
			e.complete(ctx, u, result, startedAt)
			return result, nil
		}

		lastErr = err
		e.logger.Warn("unit attempt failed",
			"unit_id", u.id,
			"attempt", attempt+1,
			"error", err)
	}

	e.fail(ctx, u, lastErr)
	return nil, lastErr
}

func (e *Engine) invoke(ctx context.Context, id string, fn UnitFunc) (result interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = domain.NewPanicError("unit "+id, rec)
		}
	}()
	return fn(ctx)
}

func (e *Engine) await(ctx context.Context, u *unit) (interface{}, error) {
	select {
	case <-u.done:
		return u.result, u.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) setStatus(u *unit, status UnitStatus) {
	e.mu.Lock()
	u.status = status
	e.mu.Unlock()
}

func (e *Engine) recordAttempt(u *unit) {
	e.mu.Lock()
	u.attempts++
	e.mu.Unlock()
}

func (e *Engine) complete(ctx context.Context, u *unit, result interface{}, startedAt time.Time) {
	e.mu.Lock()
	u.status = UnitStatusCompleted
	u.result = result
	close(u.done)
	e.mu.Unlock()

	e.emit(ctx, domain.EventUnitCompleted, domain.UnitCompletedEvent{
		UnitID:     u.id,
		Result:     result,
		DurationMs: time.Since(startedAt).Milliseconds(),
		At:         time.Now(),
	})

	e.logger.Debug("unit completed", "unit_id", u.id)
}

func (e *Engine) fail(ctx context.Context, u *unit, err error) {
	e.mu.Lock()
	u.status = UnitStatusFailed
	u.err = err
	attempts := u.attempts
	close(u.done)
	e.mu.Unlock()

	e.emit(ctx, domain.EventUnitFailed, domain.UnitFailedEvent{
		UnitID:   u.id,
		Error:    err.Error(),
		Attempts: attempts,
		At:       time.Now(),
	})

	e.logger.Warn("unit failed", "unit_id", u.id, "error", err)
}

func (e *Engine) persistNode(ctx context.Context, node *domain.WorkflowNode) {
	if e.storage == nil {
		return
	}
	if err := e.storage.SaveWorkflowNode(ctx, node); err != nil {
		e.logger.Warn("failed to persist workflow node",
			"unit_id", node.ID,
			"error", err)
	}
}

func (e *Engine) emit(ctx context.Context, name string, payload interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(ctx, name, payload)
}

// detectCycle runs a Kahn pass over the batch, considering only edges
// between steps in the batch; dependencies on units settled in earlier
// batches are not cycles. Returns the ids left unsorted, empty when
// acyclic.
func detectCycle(steps []GraphStep) []string {
	inBatch := make(map[string]bool, len(steps))
	for _, step := range steps {
		inBatch[step.ID] = true
	}

	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, step := range steps {
		if _, counted := indegree[step.ID]; !counted {
			indegree[step.ID] = 0
		}
		for _, dep := range step.DependsOn {
			if !inBatch[dep] {
				continue
			}
			indegree[step.ID]++
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	queue := make([]string, 0, len(steps))
	for id, degree := range indegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	sorted := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted++

		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if sorted == len(indegree) {
		return nil
	}

	var cycle []string
	for id, degree := range indegree {
		if degree > 0 {
			cycle = append(cycle, id)
		}
	}
	return cycle
}
