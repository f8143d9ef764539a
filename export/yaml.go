package export

import (
	"gopkg.in/yaml.v3"
)

func exportYAML(rows []map[string]interface{}, columns []string) ([]byte, error) {
	projected := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		projected[i] = project(row, columns)
	}
	return yaml.Marshal(projected)
}
