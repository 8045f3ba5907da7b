package export

import (
	"fmt"
	"strings"

	"jobmail-hq/governor/pkg/evidence"
)

// Formats lists the supported export formats.
var Formats = []string{"json", "csv"}

// New returns the exporter for format.
func New(format string, pretty bool) (evidence.Exporter, error) {
	switch strings.ToLower(format) {
	case "json", "":
		return NewJSONExporter(pretty), nil
	case "csv":
		return NewCSVExporter(true), nil
	}
	return nil, fmt.Errorf("unknown export format %q (supported: %s)", format, strings.Join(Formats, ", "))
}
