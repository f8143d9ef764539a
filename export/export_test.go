package export_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/gridkit/gridkit/export"
)

var sampleRows = []map[string]interface{}{
	{"id": "r1", "name": "alice", "age": 30, "active": true},
	{"id": "r2", "name": "bob", "age": 25, "active": false},
}

var sampleColumns = []string{"id", "name", "age"}

func TestExportCSV(t *testing.T) {
	out, err := export.Export(export.FormatCSV, sampleRows, sampleColumns)
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines:\n%s", len(lines), out)
	}
	if lines[0] != "id,name,age" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "r1,alice,30" {
		t.Errorf("row 1 = %q", lines[1])
	}
	// Columns outside the list are not written.
	if strings.Contains(string(out), "true") {
		t.Error("unlisted column leaked into the output")
	}
}

func TestExportCSVMissingValues(t *testing.T) {
	rows := []map[string]interface{}{{"id": "r1"}}
	out, err := export.Export(export.FormatCSV, rows, []string{"id", "name"})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if lines[1] != "r1," {
		t.Errorf("missing value should render empty, got %q", lines[1])
	}
}

func TestExportJSON(t *testing.T) {
	out, err := export.Export(export.FormatJSON, sampleRows, sampleColumns)
	if err != nil {
		t.Fatal(err)
	}

	var decoded []map[string]interface{}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("decoded %d rows, want 2", len(decoded))
	}
	if decoded[0]["name"] != "alice" {
		t.Errorf("name = %v", decoded[0]["name"])
	}
	if _, ok := decoded[0]["active"]; ok {
		t.Error("projection must drop unlisted columns")
	}
}

func TestExportYAML(t *testing.T) {
	out, err := export.Export(export.FormatYAML, sampleRows, sampleColumns)
	if err != nil {
		t.Fatal(err)
	}

	var decoded []map[string]interface{}
	if err := yaml.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("output is not valid YAML: %v", err)
	}
	if len(decoded) != 2 || decoded[1]["name"] != "bob" {
		t.Errorf("decoded = %v", decoded)
	}
}

func TestExportXML(t *testing.T) {
	out, err := export.Export(export.FormatXML, sampleRows, sampleColumns)
	if err != nil {
		t.Fatal(err)
	}

	text := string(out)
	if !strings.Contains(text, "<rows>") || !strings.Contains(text, "</rows>") {
		t.Errorf("missing root element:\n%s", text)
	}
	if !strings.Contains(text, `<field name="name">alice</field>`) {
		t.Errorf("missing field element:\n%s", text)
	}
	if strings.Count(text, "<row>") != 2 {
		t.Errorf("expected 2 row elements:\n%s", text)
	}
}

func TestExportXLSX(t *testing.T) {
	out, err := export.Export(export.FormatXLSX, sampleRows, sampleColumns)
	if err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not a readable workbook: %v", err)
	}
	defer f.Close()

	cells, err := f.GetRows("Sheet1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cells) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(cells))
	}
	if cells[0][0] != "id" || cells[0][2] != "age" {
		t.Errorf("header row = %v", cells[0])
	}
	if cells[1][1] != "alice" || cells[1][2] != "30" {
		t.Errorf("data row = %v", cells[1])
	}
}

func TestExportFormatCaseInsensitive(t *testing.T) {
	if _, err := export.Export("CSV", sampleRows, sampleColumns); err != nil {
		t.Errorf("uppercase format rejected: %v", err)
	}
}

func TestExportUnknownFormat(t *testing.T) {
	_, err := export.Export("pdf", sampleRows, sampleColumns)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "pdf") {
		t.Errorf("error should name the format: %v", err)
	}
}

func TestExportEmptyDataset(t *testing.T) {
	out, err := export.Export(export.FormatCSV, nil, sampleColumns)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(out)) != "id,name,age" {
		t.Errorf("empty dataset should still emit the header, got %q", out)
	}
}
