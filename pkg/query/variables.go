// Package query describes document queries as Variables (ordered filters and
// sorts) and folds them onto a native, lazily evaluated store query.
package query

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidVariables is returned when Variables fall outside the closed operator set.
var ErrInvalidVariables = errors.New("invalid query variables")

// Operator is a filter comparison from a closed set.
type Operator string

// Supported filter operators.
const (
	Equal            Operator = "=="
	NotEqual         Operator = "!="
	LessThan         Operator = "<"
	LessThanEqual    Operator = "<="
	GreaterThan      Operator = ">"
	GreaterThanEqual Operator = ">="
	ArrayContains    Operator = "array-contains"
	ArrayContainsAny Operator = "array-contains-any"
	In               Operator = "in"
	NotIn            Operator = "not-in"
)

var operatorAliases = map[string]Operator{
	"==":                    Equal,
	"=":                     Equal,
	"equals":                Equal,
	"!=":                    NotEqual,
	"not-equals":            NotEqual,
	"<":                     LessThan,
	"less-than":             LessThan,
	"<=":                    LessThanEqual,
	"less-than-or-equal":    LessThanEqual,
	">":                     GreaterThan,
	"greater-than":          GreaterThan,
	">=":                    GreaterThanEqual,
	"greater-than-or-equal": GreaterThanEqual,
	"array-contains":        ArrayContains,
	"array-contains-any":    ArrayContainsAny,
	"in":                    In,
	"not-in":                NotIn,
}

// Operators lists the canonical operator set.
func Operators() []Operator {
	return []Operator{
		Equal, NotEqual, LessThan, LessThanEqual, GreaterThan, GreaterThanEqual,
		ArrayContains, ArrayContainsAny, In, NotIn,
	}
}

// ParseOperator resolves a canonical spelling or long alias to an Operator.
func ParseOperator(raw string) (Operator, error) {
	op, ok := operatorAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidVariables, raw)
	}
	return op, nil
}

// Valid reports whether o belongs to the closed operator set.
func (o Operator) Valid() bool {
	canonical, ok := operatorAliases[string(o)]
	return ok && canonical == o
}

// TakesList reports whether the operator's value must be a list.
func (o Operator) TakesList() bool {
	return o == ArrayContainsAny || o == In || o == NotIn
}

// Direction is a sort direction.
type Direction string

// Sort directions.
const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection resolves "asc"/"ascending"/"desc"/"descending".
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "asc", "ascending":
		return Asc, nil
	case "desc", "descending":
		return Desc, nil
	default:
		return "", fmt.Errorf("%w: unknown sort direction %q", ErrInvalidVariables, raw)
	}
}

// Filter is one predicate appended to a query.
type Filter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Sort is one ordering appended to a query.
type Sort struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction"`
}

// Variables holds the filters and sorts applied to a collection query.
// Filters apply left to right; all filters apply before any sort.
type Variables struct {
	FilterBy []Filter `json:"filterBy,omitempty"`
	SortBy   []Sort   `json:"sortBy,omitempty"`
}

// Where returns a copy of v with an extra filter.
func (v Variables) Where(field string, op Operator, value any) Variables {
	out := v.clone()
	out.FilterBy = append(out.FilterBy, Filter{Field: field, Operator: op, Value: value})
	return out
}

// OrderBy returns a copy of v with an extra sort.
func (v Variables) OrderBy(field string, dir Direction) Variables {
	out := v.clone()
	out.SortBy = append(out.SortBy, Sort{Field: field, Direction: dir})
	return out
}

// IsZero reports whether v has neither filters nor sorts.
func (v Variables) IsZero() bool {
	return len(v.FilterBy) == 0 && len(v.SortBy) == 0
}

// Validate checks operators, directions and field names.
func (v Variables) Validate() error {
	var errs []error
	for i, f := range v.FilterBy {
		if strings.TrimSpace(f.Field) == "" {
			errs = append(errs, fmt.Errorf("filterBy[%d].field is required", i))
		}
		if !f.Operator.Valid() {
			errs = append(errs, fmt.Errorf("filterBy[%d].operator %q is not supported", i, f.Operator))
			continue
		}
		if f.Operator.TakesList() && !isList(f.Value) {
			errs = append(errs, fmt.Errorf("filterBy[%d].value must be a list for operator %q", i, f.Operator))
		}
	}
	for i, s := range v.SortBy {
		if strings.TrimSpace(s.Field) == "" {
			errs = append(errs, fmt.Errorf("sortBy[%d].field is required", i))
		}
		if s.Direction != "" && s.Direction != Asc && s.Direction != Desc {
			errs = append(errs, fmt.Errorf("sortBy[%d].direction %q is not supported", i, s.Direction))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidVariables, errors.Join(errs...))
	}
	return nil
}

// ValidateFields checks every filter and sort field against a known set of dotted paths.
func (v Variables) ValidateFields(paths []string) error {
	known := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		known[p] = struct{}{}
	}
	var errs []error
	for i, f := range v.FilterBy {
		if _, ok := known[f.Field]; !ok {
			errs = append(errs, fmt.Errorf("filterBy[%d].field %q is not a record field", i, f.Field))
		}
	}
	for i, s := range v.SortBy {
		if _, ok := known[s.Field]; !ok {
			errs = append(errs, fmt.Errorf("sortBy[%d].field %q is not a record field", i, s.Field))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidVariables, errors.Join(errs...))
	}
	return nil
}

func (v Variables) clone() Variables {
	return Variables{
		FilterBy: append([]Filter(nil), v.FilterBy...),
		SortBy:   append([]Sort(nil), v.SortBy...),
	}
}

func isList(v any) bool {
	switch v.(type) {
	case []any, []string, []int, []int64, []float64, []bool:
		return true
	}
	return false
}
