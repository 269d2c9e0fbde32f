package export

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/iksnae/yeschef-session/internal"
)

// Formats lists the accepted --format values.
var Formats = []string{"jsonl", "md", "yaml", "json"}

// Exporter writes a session report in one file format.
type Exporter interface {
	Export(report *internal.SessionReport, w io.Writer) error
	Extension() string
}

// NewExporter picks the exporter for format. Case is ignored and "markdown"
// and "yml" are accepted as aliases.
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jsonl":
		return &JSONLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "json":
		return &JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: %s)", format, strings.Join(Formats, ", "))
	}
}

var errNoReport = errors.New("no session report to export")

// document is the report as written by the structured formats, with the
// display values a reader would otherwise have to derive.
type document struct {
	internal.SessionReport `yaml:",inline"`

	Elapsed  string     `json:"elapsed" yaml:"elapsed"`
	Progress string     `json:"progress,omitempty" yaml:"progress,omitempty"`
	ResumeBy *time.Time `json:"resumeBy,omitempty" yaml:"resume_by,omitempty"`
}

func newDocument(report *internal.SessionReport) (document, error) {
	if report == nil {
		return document{}, errNoReport
	}
	doc := document{
		SessionReport: *report,
		Elapsed:       internal.FormatElapsed(report.ElapsedSeconds),
	}
	if report.TotalSteps > 0 {
		doc.Progress = fmt.Sprintf("%d/%d", report.CurrentStep, report.TotalSteps)
	}
	if report.Status == internal.ReportPaused && report.PausedAt != nil {
		until := report.PausedAt.Add(internal.DefaultCheckpointTTL)
		doc.ResumeBy = &until
	}
	return doc, nil
}
