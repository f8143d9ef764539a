package gridkit

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ColumnType is the declared semantic type of a column.
type ColumnType string

const (
	TypeText    ColumnType = "text"
	TypeNumber  ColumnType = "number"
	TypeBoolean ColumnType = "boolean"
	TypeDate    ColumnType = "date"
	TypeEmail   ColumnType = "email"
	TypeURL     ColumnType = "url"
)

// ColumnSchema declares validation and formatting rules for one column.
type ColumnSchema struct {
	Name     string
	Type     ColumnType
	Required bool
	// Unique enforces distinct values across the entire dataset.
	Unique bool
	// MaxLength truncates string values during RunTransform; 0 disables.
	MaxLength int
	// Trim strips surrounding whitespace during RunTransform.
	Trim bool
}

// RowRule is a row-level constraint. Check returns false when the row
// violates the rule.
type RowRule struct {
	Name    string
	Message string
	Check   func(Row) bool
}

// Schema is the full declarative validation model for a dataset.
type Schema struct {
	Columns []ColumnSchema
	// Rules are row-level and cross-field constraints, evaluated per row
	// against its full field set.
	Rules []RowRule
}

// IssueKind classifies one validation finding.
type IssueKind string

const (
	IssueMissingID       IssueKind = "missing_id"
	IssueDuplicateID     IssueKind = "duplicate_id"
	IssueTypeMismatch    IssueKind = "type_mismatch"
	IssueRequired        IssueKind = "required"
	IssueUniqueViolation IssueKind = "unique_violation"
	IssueRuleViolation   IssueKind = "rule_violation"
)

// Issue is one advisory validation finding. Issues are data, never
// errors: validation reports, it does not block mutation.
type Issue struct {
	Kind     IssueKind
	RowIndex int
	RowID    string
	Column   string
	Message  string
}

// Engine runs validation and transform passes over a dataset on demand.
// It is intentionally decoupled from the hot mutation path: callers
// choose when to invoke it, typically after an initial load or before a
// save-all.
type Engine struct {
	mu         sync.Mutex
	logger     *zap.Logger
	lastIssues []Issue
}

// NewEngine creates an engine logging findings through the given logger.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// RunValidation performs a full scan of the dataset against the schema:
// structural id checks, per-column type checks, uniqueness and row-level
// rules. The data is never mutated; findings are returned and logged.
func (e *Engine) RunValidation(rows []Row, schema Schema) []Issue {
	var issues []Issue

	// Structural pass: every row needs a non-empty unique id.
	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		id := row.ID()
		if id == "" {
			issues = append(issues, Issue{
				Kind:     IssueMissingID,
				RowIndex: i,
				Message:  "row has no id",
			})
			continue
		}
		if first, dup := seen[id]; dup {
			issues = append(issues, Issue{
				Kind:     IssueDuplicateID,
				RowIndex: i,
				RowID:    id,
				Message:  fmt.Sprintf("duplicate id, first seen at row %d", first),
			})
			continue
		}
		seen[id] = i
	}

	// Column pass: required + type + uniqueness, over the whole dataset.
	for _, col := range schema.Columns {
		uniqueSeen := make(map[string]int)
		for i, row := range rows {
			v, ok := row[col.Name]
			if !ok || v == nil {
				if col.Required {
					issues = append(issues, Issue{
						Kind:     IssueRequired,
						RowIndex: i,
						RowID:    row.ID(),
						Column:   col.Name,
						Message:  "required value is missing",
					})
				}
				continue
			}

			if msg, ok := checkType(v, col.Type); !ok {
				issues = append(issues, Issue{
					Kind:     IssueTypeMismatch,
					RowIndex: i,
					RowID:    row.ID(),
					Column:   col.Name,
					Message:  msg,
				})
			}

			if col.Unique {
				key := stringify(v)
				if first, dup := uniqueSeen[key]; dup {
					issues = append(issues, Issue{
						Kind:     IssueUniqueViolation,
						RowIndex: i,
						RowID:    row.ID(),
						Column:   col.Name,
						Message:  fmt.Sprintf("value %q duplicates row %d", key, first),
					})
				} else {
					uniqueSeen[key] = i
				}
			}
		}
	}

	// Rule pass: row-level and cross-field constraints.
	for _, rule := range schema.Rules {
		if rule.Check == nil {
			continue
		}
		for i, row := range rows {
			if !rule.Check(row) {
				msg := rule.Message
				if msg == "" {
					msg = fmt.Sprintf("rule %s violated", rule.Name)
				}
				issues = append(issues, Issue{
					Kind:     IssueRuleViolation,
					RowIndex: i,
					RowID:    row.ID(),
					Message:  msg,
				})
			}
		}
	}

	for _, issue := range issues {
		e.logger.Warn("validation issue",
			zap.String("kind", string(issue.Kind)),
			zap.Int("row", issue.RowIndex),
			zap.String("id", issue.RowID),
			zap.String("column", issue.Column),
			zap.String("message", issue.Message))
	}

	e.mu.Lock()
	e.lastIssues = issues
	e.mu.Unlock()
	return issues
}

// RunTransform applies the schema's formatters and returns new rows; the
// input is not modified. Values that do not fit a formatter pass through
// untouched.
func (e *Engine) RunTransform(rows []Row, schema Schema) []Row {
	out := make([]Row, len(rows))
	for i, row := range rows {
		transformed := row
		changed := false
		for _, col := range schema.Columns {
			v, ok := row[col.Name]
			if !ok {
				continue
			}
			s, isString := v.(string)
			if !isString {
				continue
			}

			orig := s
			if col.Trim {
				s = strings.TrimSpace(s)
			}
			if col.Type == TypeEmail {
				s = strings.ToLower(s)
			}
			if col.Type == TypeDate {
				if t, ok := asTime(s); ok {
					s = t.Format(time.RFC3339)
				}
			}
			if col.MaxLength > 0 {
				if runes := []rune(s); len(runes) > col.MaxLength {
					s = string(runes[:col.MaxLength])
				}
			}
			if s != orig {
				if !changed {
					transformed = row.Clone()
					changed = true
				}
				transformed[col.Name] = s
			}
		}
		out[i] = transformed
	}
	return out
}

// LastIssues returns the findings of the most recent validation run.
func (e *Engine) LastIssues() []Issue {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Issue, len(e.lastIssues))
	copy(out, e.lastIssues)
	return out
}

// Reset discards recorded findings.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastIssues = nil
}

func checkType(v interface{}, t ColumnType) (string, bool) {
	switch t {
	case TypeText, "":
		return "", true
	case TypeNumber:
		if _, ok := v.(bool); ok {
			return "expected number, got boolean", false
		}
		if _, ok := asNumber(v); !ok {
			return fmt.Sprintf("expected number, got %v", v), false
		}
		return "", true
	case TypeBoolean:
		switch val := v.(type) {
		case bool:
			return "", true
		case string:
			switch strings.ToLower(val) {
			case "true", "false", "0", "1":
				return "", true
			}
		}
		return fmt.Sprintf("expected boolean, got %v", v), false
	case TypeDate:
		if _, ok := asTime(v); !ok {
			return fmt.Sprintf("expected date, got %v", v), false
		}
		return "", true
	case TypeEmail:
		s, ok := v.(string)
		if !ok || !emailPattern.MatchString(s) {
			return fmt.Sprintf("expected email, got %v", v), false
		}
		return "", true
	case TypeURL:
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("expected url, got %v", v), false
		}
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Sprintf("expected url, got %q", s), false
		}
		return "", true
	default:
		// Unknown declared type: advisory engine stays permissive.
		return "", true
	}
}
