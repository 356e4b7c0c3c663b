package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vburojevic/beacon/internal/domain"
)

// WhereClause represents a parsed --where condition
type WhereClause struct {
	Field    string
	Operator string
	Value    string
	regex    *regexp.Regexp // Compiled regex for ~ and !~ operators
}

// ParseWhereClause parses a where clause like "type=AUTH" or "name~^tab_"
// Supported operators: =, !=, ~, !~, >=, <=, ^, $
func ParseWhereClause(clause string) (*WhereClause, error) {
	// Longest operators first to avoid partial matches
	operators := []string{"!~", ">=", "<=", "!=", "~", "=", "^", "$"}

	for _, op := range operators {
		idx := strings.Index(clause, op)
		if idx > 0 {
			field := strings.TrimSpace(clause[:idx])
			value := strings.TrimSpace(clause[idx+len(op):])

			if field == "" || value == "" {
				return nil, fmt.Errorf("invalid where clause: %s", clause)
			}

			wc := &WhereClause{
				Field:    field,
				Operator: op,
				Value:    value,
			}

			if op == "~" || op == "!~" {
				re, err := regexp.Compile(value)
				if err != nil {
					return nil, fmt.Errorf("invalid regex in where clause '%s': %w", clause, err)
				}
				wc.regex = re
			}

			return wc, nil
		}
	}

	return nil, fmt.Errorf("no valid operator found in where clause: %s (use =, !=, ~, !~, >=, <=, ^, $)", clause)
}

// Match checks if an event matches this where clause
func (wc *WhereClause) Match(ev *domain.Event) bool {
	fieldValue := wc.getFieldValue(ev)

	switch wc.Operator {
	case "=":
		return strings.EqualFold(fieldValue, wc.Value)
	case "!=":
		return !strings.EqualFold(fieldValue, wc.Value)
	case "~":
		return wc.regex.MatchString(fieldValue)
	case "!~":
		return !wc.regex.MatchString(fieldValue)
	case "^":
		return strings.HasPrefix(fieldValue, wc.Value)
	case "$":
		return strings.HasSuffix(fieldValue, wc.Value)
	case ">=":
		return wc.compare(ev, fieldValue, true)
	case "<=":
		return wc.compare(ev, fieldValue, false)
	}

	return false
}

// getFieldValue extracts the field value from an event. data.<key> reads
// one key of the event data.
func (wc *WhereClause) getFieldValue(ev *domain.Event) string {
	field := strings.ToLower(wc.Field)
	if key, ok := strings.CutPrefix(wc.Field, "data."); ok {
		v, found := ev.EventData[key]
		if !found || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	}
	switch field {
	case "type":
		return string(ev.EventType)
	case "name":
		return ev.EventName
	case "result":
		return string(ev.Result)
	case "session":
		return ev.SessionID
	case "device":
		return ev.DeviceType
	case "time":
		if ev.Timestamp == nil {
			return ""
		}
		return ev.Timestamp.UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// compare handles >= and <= for time and numeric fields
func (wc *WhereClause) compare(ev *domain.Event, fieldValue string, greaterOrEqual bool) bool {
	if strings.EqualFold(wc.Field, "time") {
		if ev.Timestamp == nil {
			return false
		}
		target, err := time.Parse(time.RFC3339, wc.Value)
		if err != nil {
			return false
		}
		if greaterOrEqual {
			return !ev.Timestamp.Before(target)
		}
		return !ev.Timestamp.After(target)
	}

	have, err := strconv.ParseFloat(fieldValue, 64)
	if err != nil {
		return false
	}
	want, err := strconv.ParseFloat(wc.Value, 64)
	if err != nil {
		return false
	}
	if greaterOrEqual {
		return have >= want
	}
	return have <= want
}

// WhereFilter is a filter that applies multiple where clauses (AND logic)
type WhereFilter struct {
	clauses []*WhereClause
}

// NewWhereFilter creates a filter from multiple where clause strings
func NewWhereFilter(whereClauses []string) (*WhereFilter, error) {
	if len(whereClauses) == 0 {
		return nil, nil
	}

	filter := &WhereFilter{}
	for _, clause := range whereClauses {
		wc, err := ParseWhereClause(clause)
		if err != nil {
			return nil, err
		}
		filter.clauses = append(filter.clauses, wc)
	}

	return filter, nil
}

// Match returns true if the event matches ALL where clauses (AND logic)
func (f *WhereFilter) Match(ev *domain.Event) bool {
	for _, clause := range f.clauses {
		if !clause.Match(ev) {
			return false
		}
	}
	return true
}
