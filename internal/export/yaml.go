package export

import (
	"io"

	"github.com/iksnae/yeschef-session/internal"
	"gopkg.in/yaml.v3"
)

// YAMLExporter writes the report with snake_case keys, matching the config file.
type YAMLExporter struct{}

func (e *YAMLExporter) Export(report *internal.SessionReport, w io.Writer) error {
	doc, err := newDocument(report)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func (e *YAMLExporter) Extension() string {
	return "yaml"
}
