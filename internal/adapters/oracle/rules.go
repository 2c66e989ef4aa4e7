package oracle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eleven-am/strand/internal/ports"
	"github.com/eleven-am/strand/internal/xjson"
)

// Rule is one static check over a proposed tool call. Rules run before any
// advisor pass and short-circuit on the first rejection.
type Rule interface {
	Evaluate(toolName string, args map[string]interface{}) (ok bool, reason string)
}

// RequireFields rejects a call to Tool when any of Fields is absent or
// empty.
type RequireFields struct {
	Tool   string
	Fields []string
}

func (r RequireFields) Evaluate(toolName string, args map[string]interface{}) (bool, string) {
	if toolName != r.Tool {
		return true, ""
	}

	for _, field := range r.Fields {
		value, present := args[field]
		if !present || value == nil || value == "" {
			return false, fmt.Sprintf("missing required field %q for tool %q", field, toolName)
		}
	}
	return true, ""
}

// RequireOptIn rejects a side-effecting call unless it carries an explicit
// boolean opt-in flag.
type RequireOptIn struct {
	Tools []string
	Flag  string
}

func (r RequireOptIn) Evaluate(toolName string, args map[string]interface{}) (bool, string) {
	matched := false
	for _, tool := range r.Tools {
		if tool == toolName {
			matched = true
			break
		}
	}
	if !matched {
		return true, ""
	}

	if confirmed, _ := args[r.Flag].(bool); !confirmed {
		return false, fmt.Sprintf("side-effecting tool %q requires %s=true", toolName, r.Flag)
	}
	return true, ""
}

type advisorVerdict struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
}

// RuleValidator runs static rules first, then an optional advisor judgment
// pass. A malformed or errored advisor response defaults to accept
// (fail-open) unless failClosed is set; the trade-off is availability over
// strictness and the default is deliberate, inherited policy.
type RuleValidator struct {
	rules      []Rule
	advisor    ports.Advisor
	failClosed bool
	logger     *slog.Logger
}

func NewRuleValidator(rules []Rule, advisor ports.Advisor, failClosed bool, logger *slog.Logger) *RuleValidator {
	if logger == nil {
		logger = slog.Default()
	}

	return &RuleValidator{
		rules:      rules,
		advisor:    advisor,
		failClosed: failClosed,
		logger:     logger.With("component", "oracle-validator"),
	}
}

func (v *RuleValidator) Check(ctx context.Context, toolName string, args, meta map[string]interface{}) (ports.Decision, error) {
	for _, rule := range v.rules {
		if ok, reason := rule.Evaluate(toolName, args); !ok {
			v.logger.Debug("static rule rejected call",
				"tool_name", toolName,
				"reason", reason)
			return ports.Decision{Accepted: false, Reason: reason}, nil
		}
	}

	if v.advisor == nil {
		return ports.Decision{Accepted: true}, nil
	}

	raw, err := v.advisor.ReviewCall(ctx, toolName, args, meta)
	if err != nil {
		return v.fallback(toolName, "advisor review failed", err), nil
	}

	var verdict advisorVerdict
	if err := xjson.Unmarshal([]byte(raw), &verdict); err != nil {
		return v.fallback(toolName, "unparseable advisor verdict", err), nil
	}

	if !verdict.Accepted {
		reason := verdict.Reason
		if reason == "" {
			reason = "rejected by advisor"
		}
		v.logger.Debug("advisor rejected call",
			"tool_name", toolName,
			"reason", reason)
		return ports.Decision{Accepted: false, Reason: reason}, nil
	}

	return ports.Decision{Accepted: true}, nil
}

func (v *RuleValidator) fallback(toolName, cause string, err error) ports.Decision {
	v.logger.Warn("advisor judgment unusable",
		"tool_name", toolName,
		"cause", cause,
		"fail_closed", v.failClosed,
		"error", err)

	if v.failClosed {
		return ports.Decision{Accepted: false, Reason: cause}
	}
	return ports.Decision{Accepted: true}
}

// AdvisorRectifier asks the external oracle for replacement arguments
// after a rejection. An unusable response means no proposal; the caller
// treats that as a hard rejection. There is no retry loop here.
type AdvisorRectifier struct {
	advisor ports.Advisor
	logger  *slog.Logger
}

func NewAdvisorRectifier(advisor ports.Advisor, logger *slog.Logger) *AdvisorRectifier {
	if logger == nil {
		logger = slog.Default()
	}

	return &AdvisorRectifier{
		advisor: advisor,
		logger:  logger.With("component", "oracle-rectifier"),
	}
}

func (r *AdvisorRectifier) Propose(ctx context.Context, toolName string, args, meta map[string]interface{}, reason string) (map[string]interface{}, error) {
	raw, err := r.advisor.ProposeArgs(ctx, toolName, args, meta, reason)
	if err != nil {
		r.logger.Warn("advisor proposal failed",
			"tool_name", toolName,
			"error", err)
		return nil, nil
	}

	var corrected map[string]interface{}
	if err := xjson.Unmarshal([]byte(raw), &corrected); err != nil {
		r.logger.Warn("unparseable advisor proposal",
			"tool_name", toolName,
			"error", err)
		return nil, nil
	}

	return corrected, nil
}
