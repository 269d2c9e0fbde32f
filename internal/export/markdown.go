package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/iksnae/yeschef-session/internal"
)

// MarkdownExporter exports session reports in Markdown format
type MarkdownExporter struct{}

// Export exports a report to Markdown format
func (e *MarkdownExporter) Export(report *internal.SessionReport, w io.Writer) error {
	title := report.Title
	if title == "" {
		title = report.RecipeID
	}
	_, _ = fmt.Fprintf(w, "# %s\n\n", escapeMarkdown(title))

	_, _ = fmt.Fprintf(w, "**Recipe:** %s  \n", report.RecipeID)
	_, _ = fmt.Fprintf(w, "**Status:** %s  \n", report.Status)
	if report.TotalSteps > 0 {
		_, _ = fmt.Fprintf(w, "**Step:** %d of %d  \n", report.CurrentStep, report.TotalSteps)
	} else {
		_, _ = fmt.Fprintf(w, "**Step:** %d  \n", report.CurrentStep)
	}
	_, _ = fmt.Fprintf(w, "**Cook time:** %s\n\n", internal.FormatElapsed(report.ElapsedSeconds))

	if report.PausedAt != nil {
		_, _ = fmt.Fprintf(w, "**Paused:** %s\n\n", report.PausedAt.UTC().Format(time.RFC1123))
	}

	if len(report.Events) == 0 {
		return nil
	}

	_, _ = fmt.Fprintf(w, "---\n\n")
	_, _ = fmt.Fprintf(w, "## Timeline\n\n")
	_, _ = fmt.Fprintf(w, "| Time | Event | Step | Notes |\n")
	_, _ = fmt.Fprintf(w, "|------|-------|------|-------|\n")

	for _, ev := range report.Events {
		step := ""
		if ev.Step > 0 {
			step = fmt.Sprintf("%d", ev.Step)
		}
		_, _ = fmt.Fprintf(w, "| %s | %s | %s | %s |\n",
			ev.At.UTC().Format("15:04:05"), ev.Kind, step, escapeMarkdown(ev.Detail))
	}

	return nil
}

// escapeMarkdown keeps free text from breaking emphasis or table cells
func escapeMarkdown(text string) string {
	text = strings.ReplaceAll(text, "**", "\\*\\*")
	text = strings.ReplaceAll(text, "__", "\\_\\_")
	text = strings.ReplaceAll(text, "|", "\\|")
	return strings.ReplaceAll(text, "\n", " ")
}

// Extension returns the file extension for this format
func (e *MarkdownExporter) Extension() string {
	return "md"
}
