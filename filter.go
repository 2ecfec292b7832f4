package fleetgate

import (
	"fmt"
	"strings"
)

// ============================================================================
// ROW FILTERS
// ============================================================================

// Op is a filter comparison operator.
type Op string

const (
	OpEq Op = "eq"
	OpIn Op = "in"
)

// Cond constrains one field. OpEq requires exactly one value; OpIn matches
// any of Values, and an empty Values set matches nothing.
type Cond struct {
	Field  string   `json:"field"`
	Op     Op       `json:"op"`
	Values []string `json:"values"`
}

// Eq builds an equality condition.
func Eq(field, value string) Cond {
	return Cond{Field: field, Op: OpEq, Values: []string{value}}
}

// In builds a membership condition.
func In(field string, values ...string) Cond {
	return Cond{Field: field, Op: OpIn, Values: values}
}

// Filter is a conjunction of conditions ANDed into the underlying query by
// the data-access layer, or matched against a concrete row by the engine.
// A nil *Filter means no row restriction.
type Filter struct {
	Conds []Cond `json:"conds"`
}

// NewFilter builds a filter from conditions.
func NewFilter(conds ...Cond) *Filter {
	return &Filter{Conds: conds}
}

// Match reports whether the row satisfies every condition. A nil filter
// matches any row. A missing field fails the condition (fail-closed).
func (f *Filter) Match(row Row) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Conds {
		val, ok := row.Field(c.Field)
		if !ok {
			return false
		}
		switch c.Op {
		case OpEq:
			if len(c.Values) != 1 || val != c.Values[0] {
				return false
			}
		case OpIn:
			found := false
			for _, v := range c.Values {
				if v == val {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (f *Filter) String() string {
	if f == nil {
		return "unrestricted"
	}
	parts := make([]string, 0, len(f.Conds))
	for _, c := range f.Conds {
		switch c.Op {
		case OpEq:
			parts = append(parts, fmt.Sprintf("%s=%s", c.Field, strings.Join(c.Values, "")))
		default:
			parts = append(parts, fmt.Sprintf("%s in [%s]", c.Field, strings.Join(c.Values, ",")))
		}
	}
	return strings.Join(parts, " AND ")
}

// Row is the narrow read capability the engine needs from a target row: the
// fields a filter references, as strings. The data-access layer owns the
// full schema binding.
type Row interface {
	Field(name string) (string, bool)
}

// MapRow adapts a plain map to Row.
type MapRow map[string]string

func (m MapRow) Field(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}
