package runner

import (
	"dario.cat/mergo"
)

// buildCallContext deep-merges the per-call meta over the runner's base
// context. Neither input is mutated; call values win on conflict.
func (r *Runner) buildCallContext(toolName string, meta map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(r.baseContext)+len(meta))
	for k, v := range r.baseContext {
		merged[k] = v
	}

	if len(meta) == 0 {
		return merged
	}

	if err := mergo.Merge(&merged, meta, mergo.WithOverride); err != nil {
		r.logger.Warn("failed to merge call context",
			"tool_name", toolName,
			"error", err)
		for k, v := range meta {
			merged[k] = v
		}
	}

	return merged
}
