package export

import (
	"bytes"
	"encoding/xml"
	"sort"
)

// exportXML writes <rows><row><field name="...">value</field>...</row></rows>.
// Field elements carry the column name as an attribute because row keys
// are data, not element names, and may not be valid XML identifiers.
func exportXML(rows []map[string]interface{}, columns []string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	rowsStart := xml.StartElement{Name: xml.Name{Local: "rows"}}
	if err := enc.EncodeToken(rowsStart); err != nil {
		return nil, err
	}

	for _, row := range rows {
		cols := columns
		if len(cols) == 0 {
			cols = make([]string, 0, len(row))
			for k := range row {
				cols = append(cols, k)
			}
			sort.Strings(cols)
		}

		rowStart := xml.StartElement{Name: xml.Name{Local: "row"}}
		if err := enc.EncodeToken(rowStart); err != nil {
			return nil, err
		}
		for _, col := range cols {
			v, ok := row[col]
			if !ok {
				continue
			}
			field := xml.StartElement{
				Name: xml.Name{Local: "field"},
				Attr: []xml.Attr{{Name: xml.Name{Local: "name"}, Value: col}},
			}
			if err := enc.EncodeElement(cellString(v), field); err != nil {
				return nil, err
			}
		}
		if err := enc.EncodeToken(rowStart.End()); err != nil {
			return nil, err
		}
	}

	if err := enc.EncodeToken(rowsStart.End()); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
