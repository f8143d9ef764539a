package export

import (
	"github.com/goccy/go-json"
)

func exportJSON(rows []map[string]interface{}, columns []string) ([]byte, error) {
	projected := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		projected[i] = project(row, columns)
	}
	return json.MarshalIndent(projected, "", "  ")
}
