package runner

import (
	"fmt"
	"strings"

	"github.com/eleven-am/strand/internal/domain"
	"github.com/eleven-am/strand/internal/xjson"
)

const transcriptValueLimit = 1024

// buildTranscript renders the short human-readable summary saved beside a
// ToolRun record. Large payloads are truncated; the full values live on
// the record itself.
func buildTranscript(run *domain.ToolRun) string {
	var b strings.Builder

	fmt.Fprintf(&b, "tool: %s\n", run.ToolName)
	fmt.Fprintf(&b, "run: %s\n", run.ID)
	fmt.Fprintf(&b, "args: %s\n", renderValue(run.Args))

	if run.Error != nil {
		fmt.Fprintf(&b, "error: %s\n", truncate(*run.Error))
	} else {
		fmt.Fprintf(&b, "result: %s\n", renderValue(run.Result))
	}

	fmt.Fprintf(&b, "duration_ms: %d\n", run.DurationMs)

	return b.String()
}

func renderValue(v interface{}) string {
	if v == nil {
		return "null"
	}

	data, err := xjson.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<unserializable: %v>", err)
	}
	return truncate(string(data))
}

func truncate(s string) string {
	if len(s) <= transcriptValueLimit {
		return s
	}
	return s[:transcriptValueLimit] + "..."
}
