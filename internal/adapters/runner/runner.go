package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/strand/internal/domain"
	"github.com/eleven-am/strand/internal/ports"
	"github.com/google/uuid"
)

const logBufferSize = 64

// Runner executes one named tool call under the full protocol:
// validate → (rectify) → execute → persist. It produces an immutable
// ToolRun record per attempt plus a tool.* event stream, and never retries
// a failed handler; retry policy belongs to the workflow engine.
type Runner struct {
	storage     ports.Storage
	bus         ports.EventBus
	validator   ports.Validator
	rectifier   ports.Rectifier
	baseContext map[string]interface{}
	logger      *slog.Logger

	mu       sync.RWMutex
	handlers map[string]ports.ToolHandler
}

func NewRunner(storage ports.Storage, bus ports.EventBus, validator ports.Validator, rectifier ports.Rectifier, baseContext map[string]interface{}, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		storage:     storage,
		bus:         bus,
		validator:   validator,
		rectifier:   rectifier,
		baseContext: baseContext,
		logger:      logger.With("component", "tool-runner"),
		handlers:    make(map[string]ports.ToolHandler),
	}
}

func (r *Runner) Register(name string, handler ports.ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

func (r *Runner) Call(ctx context.Context, toolName string, args, meta map[string]interface{}) (interface{}, error) {
	r.mu.RLock()
	handler, exists := r.handlers[toolName]
	r.mu.RUnlock()

	if !exists {
		return nil, domain.NewUnknownToolError(toolName)
	}

	callCtx := r.buildCallContext(toolName, meta)

	if r.validator != nil {
		decision, err := r.validator.Check(ctx, toolName, args, callCtx)
		if err != nil {
			return nil, domain.Error{
				Type:    domain.ErrorTypeInternal,
				Message: "validator failed",
				Details: map[string]interface{}{"tool_name": toolName},
				Err:     err,
			}
		}

		if !decision.Accepted {
			args = r.rectify(ctx, toolName, args, callCtx, decision.Reason)
			if args == nil {
				return nil, domain.NewValidationRejectedError(toolName, decision.Reason)
			}
		}
	}

	runID := uuid.New().String()
	startedAt := time.Now()

	r.emit(ctx, domain.EventToolStart, domain.ToolStartEvent{
		RunID:     runID,
		ToolName:  toolName,
		Args:      args,
		StartedAt: startedAt,
	})

	hooks, flush := r.logHooks(ctx, runID, toolName)
	result, handlerErr := r.invoke(ctx, handler, toolName, args, callCtx, hooks)
	flush()

	finishedAt := time.Now()
	run := &domain.ToolRun{
		ID:          runID,
		ToolName:    toolName,
		Args:        args,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		DurationMs:  finishedAt.Sub(startedAt).Milliseconds(),
		ContextMeta: callCtx,
	}

	if handlerErr != nil {
		errStr := handlerErr.Error()
		run.Error = &errStr

		r.persistRun(ctx, run)
		r.saveTranscript(ctx, run)
		r.emit(ctx, domain.EventToolError, domain.ToolErrorEvent{
			RunID:      runID,
			ToolName:   toolName,
			Error:      errStr,
			DurationMs: run.DurationMs,
			FinishedAt: finishedAt,
		})

		r.logger.Error("tool handler failed",
			"tool_name", toolName,
			"run_id", runID,
			"duration_ms", run.DurationMs,
			"error", errStr)

		return nil, domain.NewHandlerError(toolName, handlerErr)
	}

	run.Result = result

	r.persistRun(ctx, run)
	r.saveTranscript(ctx, run)
	r.emit(ctx, domain.EventToolEnd, domain.ToolEndEvent{
		RunID:      runID,
		ToolName:   toolName,
		Result:     result,
		DurationMs: run.DurationMs,
		FinishedAt: finishedAt,
	})

	r.logger.Debug("tool call completed",
		"tool_name", toolName,
		"run_id", runID,
		"duration_ms", run.DurationMs)

	return result, nil
}

// rectify asks for replacement args after a rejection. The proposal
// replaces the originals wholesale for exactly one re-attempt; nil means
// hard rejection.
func (r *Runner) rectify(ctx context.Context, toolName string, args, callCtx map[string]interface{}, reason string) map[string]interface{} {
	if r.rectifier == nil {
		return nil
	}

	proposal, err := r.rectifier.Propose(ctx, toolName, args, callCtx, reason)
	if err != nil {
		r.logger.Warn("rectifier failed",
			"tool_name", toolName,
			"reason", reason,
			"error", err)
		return nil
	}
	if proposal == nil {
		return nil
	}

	r.logger.Debug("tool args rectified",
		"tool_name", toolName,
		"reason", reason)
	return proposal
}

func (r *Runner) invoke(ctx context.Context, handler ports.ToolHandler, toolName string, args, callCtx map[string]interface{}, hooks ports.Hooks) (result interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = domain.NewPanicError("tool handler "+toolName, rec)
		}
	}()
	return handler(ctx, args, callCtx, hooks)
}

// logHooks builds the fire-and-forget progress channel. OnLog never blocks
// the handler: messages queue into a buffer drained to tool.log events and
// overflow drops with a warning. The returned flush closes the channel and
// waits for the drain to finish.
func (r *Runner) logHooks(ctx context.Context, runID, toolName string) (ports.Hooks, func()) {
	logCh := make(chan string, logBufferSize)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for message := range logCh {
			r.emit(ctx, domain.EventToolLog, domain.ToolLogEvent{
				RunID:    runID,
				ToolName: toolName,
				Message:  message,
				At:       time.Now(),
			})
		}
	}()

	hooks := ports.Hooks{
		OnLog: func(message string) {
			select {
			case logCh <- message:
			default:
				r.logger.Warn("dropping tool log message",
					"tool_name", toolName,
					"run_id", runID)
			}
		},
	}

	return hooks, func() {
		close(logCh)
		<-done
	}
}

func (r *Runner) persistRun(ctx context.Context, run *domain.ToolRun) {
	if r.storage == nil {
		return
	}
	if err := r.storage.SaveToolRun(ctx, run); err != nil {
		r.logger.Warn("failed to persist tool run",
			"tool_name", run.ToolName,
			"run_id", run.ID,
			"error", err)
	}
}

func (r *Runner) saveTranscript(ctx context.Context, run *domain.ToolRun) {
	if r.storage == nil {
		return
	}

	transcript := &domain.Transcript{
		RunID:     run.ID,
		ToolName:  run.ToolName,
		Text:      buildTranscript(run),
		CreatedAt: time.Now(),
	}
	if err := r.storage.SaveTranscript(ctx, transcript); err != nil {
		r.logger.Warn("failed to save transcript",
			"tool_name", run.ToolName,
			"run_id", run.ID,
			"error", err)
	}
}

func (r *Runner) emit(ctx context.Context, name string, payload interface{}) {
	if r.bus == nil {
		return
	}
	r.bus.Emit(ctx, name, payload)
}
