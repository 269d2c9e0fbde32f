package export

import (
	"encoding/json"
	"io"

	"github.com/iksnae/yeschef-session/internal"
)

// JSONExporter writes one indented JSON document per report.
type JSONExporter struct{}

func (e *JSONExporter) Export(report *internal.SessionReport, w io.Writer) error {
	doc, err := newDocument(report)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func (e *JSONExporter) Extension() string {
	return "json"
}
