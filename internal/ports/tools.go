package ports

import (
	"context"
)

// Hooks carries the progress channels handed to a tool handler. OnLog is
// fire-and-forget and never blocks the handler.
type Hooks struct {
	OnLog func(message string)
}

// ToolHandler executes one named tool call. Args, callCtx and the result
// are opaque serializable values to the core.
type ToolHandler func(ctx context.Context, args, callCtx map[string]interface{}, hooks Hooks) (interface{}, error)
