// Package export serializes tabular snapshots into interchange formats.
// It is a thin format-mapping layer: the engine hands it the currently
// filtered rows plus a column list and gets bytes back. No concurrency
// or consistency concerns live here.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Format identifies an output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
	FormatYAML Format = "yaml"
	FormatXLSX Format = "xlsx"
)

// ErrUnknownFormat is returned for formats this package does not write.
var ErrUnknownFormat = errors.New("unknown export format")

// Export serializes rows into the requested format. Only the listed
// columns are written, in order; with an empty column list the full field
// set of each row is emitted (format permitting).
func Export(format Format, rows []map[string]interface{}, columns []string) ([]byte, error) {
	switch Format(strings.ToLower(string(format))) {
	case FormatCSV:
		return exportCSV(rows, columns)
	case FormatJSON:
		return exportJSON(rows, columns)
	case FormatXML:
		return exportXML(rows, columns)
	case FormatYAML:
		return exportYAML(rows, columns)
	case FormatXLSX:
		return exportXLSX(rows, columns)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// project narrows a row to the listed columns. An empty column list keeps
// the row as-is.
func project(row map[string]interface{}, columns []string) map[string]interface{} {
	if len(columns) == 0 {
		return row
	}
	out := make(map[string]interface{}, len(columns))
	for _, col := range columns {
		if v, ok := row[col]; ok {
			out[col] = v
		}
	}
	return out
}

// cellString renders one value for the text-oriented formats.
func cellString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case time.Time:
		return val.Format(time.RFC3339)
	case []string:
		return strings.Join(val, ",")
	default:
		return fmt.Sprintf("%v", val)
	}
}
