package gridkit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IDField is the mandatory unique identifier field every row carries.
const IDField = "id"

// Row is one record of the dataset: a mapping from field name to value,
// keyed by a unique string id. Rows are treated as immutable snapshots;
// mutation is always replace-whole-row so identity comparison between an
// old and a new row is meaningful for change detection.
type Row map[string]interface{}

// ID returns the row identifier, or "" if the id field is missing or not
// a string.
func (r Row) ID() string {
	v, ok := r[IDField]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Clone returns a deep copy of the row. Nested maps and slices are copied
// one level deep, which covers the scalar/array/object values the data
// model allows.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	dup := make(Row, len(r))
	for k, v := range r {
		dup[k] = cloneValue(v)
	}
	return dup
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, inner := range val {
			m[k] = cloneValue(inner)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(val))
		for i, inner := range val {
			s[i] = cloneValue(inner)
		}
		return s
	case []string:
		s := make([]string, len(val))
		copy(s, val)
		return s
	default:
		return val
	}
}

// Merge returns a new row with the fields of partial applied on top of r.
// A nil value in partial removes the field. The receiver is not modified.
func (r Row) Merge(partial Row) Row {
	merged := r.Clone()
	if merged == nil {
		merged = make(Row, len(partial))
	}
	for k, v := range partial {
		if v == nil {
			delete(merged, k)
		} else {
			merged[k] = cloneValue(v)
		}
	}
	return merged
}

// GetAsString returns the field as string or defaultValue if not found.
func (r Row) GetAsString(col string, defaultValue string) string {
	v, ok := r[col]
	if !ok || v == nil {
		return defaultValue
	}

	switch val := v.(type) {
	case string:
		return val
	case int, int64, float64:
		return fmt.Sprintf("%v", val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	case []string:
		return strings.Join(val, ",")
	default:
		return fmt.Sprintf("%v", val)
	}
}

// GetAsInt64 returns the field as int64 or defaultValue if not found.
func (r Row) GetAsInt64(col string, defaultValue int64) int64 {
	v, ok := r[col]
	if !ok {
		return defaultValue
	}

	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case string:
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// GetAsFloat64 returns the field as float64 or defaultValue if not found.
func (r Row) GetAsFloat64(col string, defaultValue float64) float64 {
	v, ok := r[col]
	if !ok {
		return defaultValue
	}

	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// GetAsBool returns the field as bool or defaultValue if not found.
func (r Row) GetAsBool(col string, defaultValue bool) bool {
	v, ok := r[col]
	if !ok {
		return defaultValue
	}

	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val == "true" || val == "1"
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	}
	return defaultValue
}

// GetAsStrings returns the field as []string or defaultValue if not found.
func (r Row) GetAsStrings(col string, defaultValue []string) []string {
	v, ok := r[col]
	if !ok {
		return defaultValue
	}

	switch val := v.(type) {
	case []string:
		return val
	case string:
		if val == "" {
			return []string{}
		}
		return strings.Split(val, ",")
	case []interface{}:
		result := make([]string, len(val))
		for i, item := range val {
			result[i] = fmt.Sprintf("%v", item)
		}
		return result
	}
	return defaultValue
}

// timeFormats are tried in order when parsing string timestamps.
var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// GetAsTime returns the field as time.Time or defaultValue if not found.
func (r Row) GetAsTime(col string, defaultValue time.Time) time.Time {
	v, ok := r[col]
	if !ok {
		return defaultValue
	}

	switch val := v.(type) {
	case time.Time:
		return val
	case string:
		for _, format := range timeFormats {
			if t, err := time.Parse(format, val); err == nil {
				return t
			}
		}
	}
	return defaultValue
}

// WithString returns a new row with a string field set.
func (r Row) WithString(col string, value string) Row {
	dup := r.Clone()
	if dup == nil {
		dup = Row{}
	}
	dup[col] = value
	return dup
}

// WithInt64 returns a new row with an int64 field set.
func (r Row) WithInt64(col string, value int64) Row {
	dup := r.Clone()
	if dup == nil {
		dup = Row{}
	}
	dup[col] = value
	return dup
}

// WithFloat64 returns a new row with a float64 field set.
func (r Row) WithFloat64(col string, value float64) Row {
	dup := r.Clone()
	if dup == nil {
		dup = Row{}
	}
	dup[col] = value
	return dup
}

// WithBool returns a new row with a bool field set.
func (r Row) WithBool(col string, value bool) Row {
	dup := r.Clone()
	if dup == nil {
		dup = Row{}
	}
	dup[col] = value
	return dup
}

// WithTime returns a new row with a time field set (stored as RFC 3339).
func (r Row) WithTime(col string, value time.Time) Row {
	dup := r.Clone()
	if dup == nil {
		dup = Row{}
	}
	dup[col] = value.Format(time.RFC3339)
	return dup
}

// cloneRows deep-copies a slice of rows.
func cloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}
