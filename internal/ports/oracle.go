package ports

import (
	"context"
)

// Decision is a validator's verdict on a proposed tool call.
type Decision struct {
	Accepted bool
	Reason   string
}

// Validator gatekeeps a proposed tool call before its handler runs.
type Validator interface {
	Check(ctx context.Context, toolName string, args, meta map[string]interface{}) (Decision, error)
}

// Rectifier proposes replacement arguments after a rejection. A nil
// proposal is a hard rejection; a non-nil proposal replaces the original
// args wholesale for exactly one re-attempt. Bounding retries is the
// caller's job.
type Rectifier interface {
	Propose(ctx context.Context, toolName string, args, meta map[string]interface{}, reason string) (map[string]interface{}, error)
}

// Advisor is the narrow interface to the external reasoning oracle backing
// the secondary judgment pass and the rectifier. Both methods return raw
// text; parsing and the fail-open policy live in the adapter.
type Advisor interface {
	ReviewCall(ctx context.Context, toolName string, args, meta map[string]interface{}) (string, error)
	ProposeArgs(ctx context.Context, toolName string, args, meta map[string]interface{}, reason string) (string, error)
}
