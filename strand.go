// Package strand provides the orchestration core behind a tool-calling
// agent: task tracking, validated tool execution, and dependency-ordered
// workflow scheduling, all reporting through a single event bus.
//
// Strand keeps the authoritative state in memory and mirrors every change
// to an embedded badger store, so a restart can rehydrate the task list
// and the audit trail survives the process. It provides:
//   - A hierarchical task and step ledger with strict status transitions
//   - A tool runner with pluggable validation and argument correction
//   - A workflow engine with dependency ordering, retry, and bounded
//     concurrency
//   - A pattern-matching event bus that persists before it notifies
//
// Basic usage:
//
//	o, err := strand.New("./data", logger)
//	if err != nil {
//	    return err
//	}
//	defer o.Close()
//
//	o.Tools().Register("search", searchHandler)
//	task, _ := o.Tasks().CreateTask(ctx, "research topic", "", nil)
//	result, err := o.Tools().Call(ctx, "search", map[string]interface{}{
//	    "query": "weather",
//	}, map[string]interface{}{"task_id": task.ID})
package strand

import (
	"context"
	"log/slog"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/eleven-am/strand/internal/adapters/engine"
	"github.com/eleven-am/strand/internal/adapters/events"
	"github.com/eleven-am/strand/internal/adapters/oracle"
	"github.com/eleven-am/strand/internal/adapters/runner"
	"github.com/eleven-am/strand/internal/adapters/storage"
	"github.com/eleven-am/strand/internal/adapters/tasks"
	"github.com/eleven-am/strand/internal/domain"
	"github.com/eleven-am/strand/internal/ports"
)

// Config wires the orchestration core. See domain.Config for field docs.
type Config = domain.Config

// EngineConfig tunes the workflow engine's concurrency and retry policy.
type EngineConfig = domain.EngineConfig

// Task is a tracked unit of agent work, with optional sub-steps.
type Task = domain.Task

// Step is one sub-item of a task.
type Step = domain.Step

// TaskStatus is the task and step lifecycle state.
type TaskStatus = domain.TaskStatus

const (
	TaskStatusPending   = domain.TaskStatusPending
	TaskStatusRunning   = domain.TaskStatusRunning
	TaskStatusCompleted = domain.TaskStatusCompleted
	TaskStatusFailed    = domain.TaskStatusFailed
	TaskStatusCancelled = domain.TaskStatusCancelled
)

// ToolRun is the immutable record of one tool execution attempt.
type ToolRun = domain.ToolRun

// Transcript is the short rendered summary saved beside a ToolRun.
type Transcript = domain.Transcript

// Event is one bus notification.
type Event = domain.Event

// EventHandler receives bus events matching a subscription pattern.
type EventHandler = ports.EventHandler

// ToolHandler is the application-supplied implementation of a named tool.
type ToolHandler = ports.ToolHandler

// Hooks carries the callbacks a tool handler may use during execution.
type Hooks = ports.Hooks

// Validator judges a proposed tool call before it executes.
type Validator = ports.Validator

// Rectifier proposes replacement arguments after a validation rejection.
type Rectifier = ports.Rectifier

// Advisor is the external judgment oracle consulted by the built-in
// validator and rectifier.
type Advisor = ports.Advisor

// Decision is a validator's verdict on a proposed call.
type Decision = ports.Decision

// Rule is one static pre-advisor check over a tool call.
type Rule = oracle.Rule

// RequireFields rejects calls missing required argument fields.
type RequireFields = oracle.RequireFields

// RequireOptIn rejects side-effecting calls without an explicit flag.
type RequireOptIn = oracle.RequireOptIn

// ScheduleOptions configures a single workflow unit.
type ScheduleOptions = engine.ScheduleOptions

// GraphStep is one unit in a batch submitted to RunGraph.
type GraphStep = engine.GraphStep

// UnitResult is the settled outcome of one scheduled unit.
type UnitResult = engine.UnitResult

// UnitFunc is one schedulable unit of work.
type UnitFunc = engine.UnitFunc

// Orchestrator owns the wired core: storage, bus, task manager, tool
// runner, and workflow engine sharing one badger store and one event
// stream.
type Orchestrator struct {
	config  *domain.Config
	db      *badger.DB
	storage ports.Storage
	bus     *events.Bus
	tasks   *tasks.Manager
	runner  *runner.Runner
	engine  *engine.Engine
	logger  *slog.Logger
}

// New opens an orchestrator backed by a badger store at dataDir. An empty
// dataDir runs fully in memory.
func New(dataDir string, logger *slog.Logger) (*Orchestrator, error) {
	config := domain.DefaultConfig()
	config.DataDir = dataDir
	config.InMemory = dataDir == ""
	config.Logger = logger
	return NewWithConfig(config)
}

// NewWithConfig opens an orchestrator from an explicit configuration. The
// task list is rehydrated from the store before the call returns.
func NewWithConfig(config *domain.Config) (*Orchestrator, error) {
	if config == nil {
		config = domain.DefaultConfig()
	}
	config.ApplyDefaults()
	logger := config.Logger

	opts := badger.DefaultOptions(config.DataDir).WithLogger(nil)
	if config.InMemory || config.DataDir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, domain.Error{
			Type:    domain.ErrorTypeInternal,
			Message: "failed to open storage",
			Details: map[string]interface{}{"data_dir": config.DataDir},
			Err:     err,
		}
	}

	store := storage.NewBadger(db, config.EventTTL, config.TranscriptTTL, logger)
	bus := events.NewBus(store, logger)

	taskManager := tasks.NewManager(store, bus, logger)
	if err := taskManager.Hydrate(context.Background()); err != nil {
		logger.Warn("failed to rehydrate task list", "error", err)
	}

	validator := oracle.NewRuleValidator(nil, nil, config.FailClosed, logger)
	toolRunner := runner.NewRunner(store, bus, validator, nil, config.BaseContext, logger)
	workflowEngine := engine.NewEngine(config.Engine, store, bus, logger)

	logger.Info("orchestrator ready",
		"in_memory", config.InMemory || config.DataDir == "",
		"workers", config.Engine.WorkerCount)

	return &Orchestrator{
		config:  config,
		db:      db,
		storage: store,
		bus:     bus,
		tasks:   taskManager,
		runner:  toolRunner,
		engine:  workflowEngine,
		logger:  logger,
	}, nil
}

// NewWithOracle opens an orchestrator whose tool runner consults the given
// advisor for judgment and correction, after the static rules.
func NewWithOracle(config *domain.Config, rules []Rule, advisor Advisor) (*Orchestrator, error) {
	o, err := NewWithConfig(config)
	if err != nil {
		return nil, err
	}

	validator := oracle.NewRuleValidator(rules, advisor, o.config.FailClosed, o.logger)
	var rectifier ports.Rectifier
	if advisor != nil {
		rectifier = oracle.NewAdvisorRectifier(advisor, o.logger)
	}
	o.runner = runner.NewRunner(o.storage, o.bus, validator, rectifier, o.config.BaseContext, o.logger)

	return o, nil
}

// Tasks returns the task manager.
func (o *Orchestrator) Tasks() *tasks.Manager {
	return o.tasks
}

// Tools returns the tool runner.
func (o *Orchestrator) Tools() *runner.Runner {
	return o.runner
}

// Workflows returns the workflow engine.
func (o *Orchestrator) Workflows() *engine.Engine {
	return o.engine
}

// Events returns the shared event bus.
func (o *Orchestrator) Events() *events.Bus {
	return o.bus
}

// Subscribe registers a handler for events whose name matches pattern.
// "*" matches everything; "task.*" matches a prefix. The returned function
// cancels the subscription.
func (o *Orchestrator) Subscribe(pattern string, handler EventHandler) func() {
	return o.bus.Subscribe(pattern, handler)
}

// Emit publishes an application event through the shared bus.
func (o *Orchestrator) Emit(ctx context.Context, name string, payload interface{}) {
	o.bus.Emit(ctx, name, payload)
}

// Store exposes the durable store for read paths like audit queries.
func (o *Orchestrator) Store() *storage.Badger {
	return o.storage.(*storage.Badger)
}

// Close flushes and closes the underlying store.
func (o *Orchestrator) Close() error {
	if err := o.db.Close(); err != nil {
		return domain.Error{
			Type:    domain.ErrorTypeInternal,
			Message: "failed to close storage",
			Err:     err,
		}
	}
	return nil
}
