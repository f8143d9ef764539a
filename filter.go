package gridkit

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
)

// FilterOperator identifies a filter comparison.
type FilterOperator string

const (
	OpEquals             FilterOperator = "equals"
	OpNotEquals          FilterOperator = "notEquals"
	OpContains           FilterOperator = "contains"
	OpStartsWith         FilterOperator = "startsWith"
	OpEndsWith           FilterOperator = "endsWith"
	OpGreaterThan        FilterOperator = "greaterThan"
	OpGreaterThanOrEqual FilterOperator = "greaterThanOrEqual"
	OpLessThan           FilterOperator = "lessThan"
	OpLessThanOrEqual    FilterOperator = "lessThanOrEqual"
	OpIn                 FilterOperator = "in"
	OpNotIn              FilterOperator = "notIn"
	OpBetween            FilterOperator = "between"
	OpIsNull             FilterOperator = "isNull"
	OpIsNotNull          FilterOperator = "isNotNull"
	OpIsEmpty            FilterOperator = "isEmpty"
	OpIsNotEmpty         FilterOperator = "isNotEmpty"
	OpRegex              FilterOperator = "regex"
	OpFuzzy              FilterOperator = "fuzzy"
)

// Filter is a single declarative condition on one column.
type Filter struct {
	Column   string
	Operator FilterOperator
	Value    interface{}
	// CaseSensitive forces case-sensitive string comparison for this
	// filter regardless of the table-wide default.
	CaseSensitive bool
}

// BoolOperator combines multiple filters.
type BoolOperator string

const (
	BoolAnd BoolOperator = "and"
	BoolOr  BoolOperator = "or"
)

// FilterOptions tune evaluation behavior.
type FilterOptions struct {
	// CaseSensitive disables the default case folding of string
	// operators.
	CaseSensitive bool
	// FuzzyThreshold is the minimum similarity in [0,1] for the fuzzy
	// operator. Zero falls back to 0.8.
	FuzzyThreshold float64
}

// ApplyFilters returns the rows matching the filter set combined with op.
// It is a pure function: the input slice is not modified. An empty filter
// set matches everything.
func ApplyFilters(rows []Row, filters []Filter, op BoolOperator, opts FilterOptions) []Row {
	if len(filters) == 0 {
		return rows
	}

	results := make([]Row, 0, len(rows))
	for _, row := range rows {
		if MatchesFilters(row, filters, op, opts) {
			results = append(results, row)
		}
	}
	return results
}

// MatchesFilters reports whether a single row satisfies the filter set.
func MatchesFilters(row Row, filters []Filter, op BoolOperator, opts FilterOptions) bool {
	if len(filters) == 0 {
		return true
	}
	if op == BoolOr {
		for _, f := range filters {
			if evalFilter(row, f, opts) {
				return true
			}
		}
		return false
	}
	// AND is the default for any other value.
	for _, f := range filters {
		if !evalFilter(row, f, opts) {
			return false
		}
	}
	return true
}

// evalFilter evaluates one filter against one row. A filter referencing a
// column the row does not carry matches nothing, for every operator; an
// explicit nil value is a present column and flows through, so isNull
// distinguishes null from absent. Unknown operators match nothing.
// Evaluation never panics on malformed input, it fails closed.
func evalFilter(row Row, f Filter, opts FilterOptions) bool {
	value, exists := row[f.Column]
	if !exists {
		return false
	}
	if f.CaseSensitive {
		opts.CaseSensitive = true
	}

	switch f.Operator {
	case OpEquals:
		return compareEqual(value, f.Value, opts)
	case OpNotEquals:
		return !compareEqual(value, f.Value, opts)
	case OpContains:
		return stringMatch(value, f.Value, opts, strings.Contains)
	case OpStartsWith:
		return stringMatch(value, f.Value, opts, strings.HasPrefix)
	case OpEndsWith:
		return stringMatch(value, f.Value, opts, strings.HasSuffix)
	case OpGreaterThan:
		cmp, ok := compareOrdered(value, f.Value)
		return ok && cmp > 0
	case OpGreaterThanOrEqual:
		cmp, ok := compareOrdered(value, f.Value)
		return ok && cmp >= 0
	case OpLessThan:
		cmp, ok := compareOrdered(value, f.Value)
		return ok && cmp < 0
	case OpLessThanOrEqual:
		cmp, ok := compareOrdered(value, f.Value)
		return ok && cmp <= 0
	case OpIn:
		return compareIn(value, f.Value, opts)
	case OpNotIn:
		return !compareIn(value, f.Value, opts)
	case OpBetween:
		return compareBetween(value, f.Value)
	case OpIsNull:
		return value == nil
	case OpIsNotNull:
		return value != nil
	case OpIsEmpty:
		return isEmptyValue(value)
	case OpIsNotEmpty:
		return !isEmptyValue(value)
	case OpRegex:
		return regexMatch(value, f.Value, opts)
	case OpFuzzy:
		return fuzzyMatch(value, f.Value, opts)
	default:
		// Unknown operator: defensive default, match nothing.
		return false
	}
}

// compareEqual compares two values for equality with type coercion:
// date-parse first, then numeric, then string.
func compareEqual(a, b interface{}, opts FilterOptions) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			return ta.Equal(tb)
		}
	}
	if fa, ok := asNumber(a); ok {
		if fb, ok := asNumber(b); ok {
			return fa == fb
		}
	}

	sa, sb := stringify(a), stringify(b)
	if !opts.CaseSensitive {
		return strings.EqualFold(sa, sb)
	}
	return sa == sb
}

// compareOrdered coerces both operands the same way (date, then number,
// then string) and returns -1/0/1. ok is false when the pair has no
// sensible ordering, which makes ordering filters fail closed.
func compareOrdered(a, b interface{}) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}

	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			switch {
			case ta.Before(tb):
				return -1, true
			case ta.After(tb):
				return 1, true
			default:
				return 0, true
			}
		}
	}

	if fa, ok := asNumber(a); ok {
		if fb, ok := asNumber(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			default:
				return 0, true
			}
		}
	}

	return strings.Compare(stringify(a), stringify(b)), true
}

func compareIn(a, b interface{}, opts FilterOptions) bool {
	list, ok := valueList(b)
	if !ok {
		return false
	}
	for _, item := range list {
		if compareEqual(a, item, opts) {
			return true
		}
	}
	return false
}

// compareBetween requires a 2-element list value; anything else fails
// closed.
func compareBetween(a, b interface{}) bool {
	list, ok := valueList(b)
	if !ok || len(list) != 2 {
		return false
	}

	lo, okLo := compareOrdered(a, list[0])
	hi, okHi := compareOrdered(a, list[1])
	return okLo && okHi && lo >= 0 && hi <= 0
}

func stringMatch(a, b interface{}, opts FilterOptions, match func(s, substr string) bool) bool {
	if a == nil || b == nil {
		return false
	}
	sa, sb := stringify(a), stringify(b)
	if !opts.CaseSensitive {
		sa, sb = strings.ToLower(sa), strings.ToLower(sb)
	}
	return match(sa, sb)
}

func regexMatch(a, b interface{}, opts FilterOptions) bool {
	if a == nil || b == nil {
		return false
	}
	pattern := stringify(b)
	if !opts.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(stringify(a))
}

// fuzzyMatch substitutes Levenshtein similarity for exact equality.
func fuzzyMatch(a, b interface{}, opts FilterOptions) bool {
	if a == nil || b == nil {
		return false
	}
	sa, sb := stringify(a), stringify(b)
	if !opts.CaseSensitive {
		sa, sb = strings.ToLower(sa), strings.ToLower(sb)
	}
	threshold := opts.FuzzyThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	return similarity(sa, sb) >= threshold
}

// similarity is 1 - normalized Levenshtein distance.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

func isEmptyValue(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []interface{}:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	default:
		return false
	}
}

// valueList normalizes the list-shaped operand of in/notIn/between.
func valueList(v interface{}) ([]interface{}, bool) {
	switch val := v.(type) {
	case []interface{}:
		return val, true
	case [2]interface{}:
		return val[:], true
	case []string:
		out := make([]interface{}, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]interface{}, len(val))
		for i, n := range val {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]interface{}, len(val))
		for i, n := range val {
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}

// asNumber converts numeric types and numeric-looking strings to float64.
func asNumber(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f, true
		}
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// asTime recognizes time.Time values and RFC 3339-ish strings. Bare
// numbers are deliberately not treated as timestamps.
func asTime(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		// Cheap pre-check keeps numeric strings out of the date path.
		if len(val) < 8 || !strings.Contains(val, "-") {
			return time.Time{}, false
		}
		for _, format := range timeFormats {
			if t, err := time.Parse(format, val); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
