package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/iksnae/yeschef-session/internal"
)

// JSONLExporter exports session reports in JSONL format (one event per line)
type JSONLExporter struct{}

// Export writes one line per session event, each tagged with the recipe id
func (e *JSONLExporter) Export(report *internal.SessionReport, w io.Writer) error {
	enc := json.NewEncoder(w)

	for _, ev := range report.Events {
		obj := map[string]interface{}{
			"recipeId": report.RecipeID,
			"kind":     ev.Kind,
			"at":       ev.At.UTC().Format(time.RFC3339),
		}
		if ev.Step > 0 {
			obj["step"] = ev.Step
		}
		if ev.Detail != "" {
			obj["detail"] = ev.Detail
		}

		if err := enc.Encode(obj); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}

	return nil
}

// Extension returns the file extension for this format
func (e *JSONLExporter) Extension() string {
	return "jsonl"
}
