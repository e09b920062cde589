package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// Operator names a comparison applied by a leaf condition.
type Operator string

const (
	OpEqual          Operator = "eq"
	OpNotEqual       Operator = "neq"
	OpGreaterThan    Operator = "gt"
	OpGreaterOrEqual Operator = "gte"
	OpLessThan       Operator = "lt"
	OpLessOrEqual    Operator = "lte"
	OpContains       Operator = "contains"
	OpExists         Operator = "exists"
	OpMissing        Operator = "missing"
)

// Condition is a structured activation predicate evaluated against the
// trigger input. It is a hard pre-filter: a chain whose condition evaluates
// false is never offered to the decision oracle. A condition is either a
// leaf (Field/Operator/Value) or a composite (All, Any, Not).
type Condition struct {
	Field    string      `json:"field,omitempty" yaml:"field,omitempty"`
	Operator Operator    `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    any         `json:"value,omitempty" yaml:"value,omitempty"`
	All      []Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any      []Condition `json:"any,omitempty" yaml:"any,omitempty"`
	Not      *Condition  `json:"not,omitempty" yaml:"not,omitempty"`
}

// Evaluate applies the condition to the trigger input. Field paths use
// dotted notation into nested maps ("payload.issue.state"). Evaluation is
// deterministic and side-effect free.
func (c *Condition) Evaluate(input map[string]any) (bool, error) {
	if c == nil {
		return true, nil
	}

	switch {
	case len(c.All) > 0:
		for i := range c.All {
			ok, err := c.All[i].Evaluate(input)
			if err != nil || !ok {
				return false, err
			}
		}

		return true, nil
	case len(c.Any) > 0:
		for i := range c.Any {
			ok, err := c.Any[i].Evaluate(input)
			if err != nil {
				return false, err
			}

			if ok {
				return true, nil
			}
		}

		return false, nil
	case c.Not != nil:
		ok, err := c.Not.Evaluate(input)
		if err != nil {
			return false, err
		}

		return !ok, nil
	}

	return c.evaluateLeaf(input)
}

func (c *Condition) evaluateLeaf(input map[string]any) (bool, error) {
	if c.Field == "" {
		return false, fmt.Errorf("condition leaf has no field")
	}

	value, found := LookupPath(input, c.Field)

	switch c.Operator {
	case OpExists:
		return found, nil
	case OpMissing:
		return !found, nil
	case OpEqual:
		return found && looseEqual(value, c.Value), nil
	case OpNotEqual:
		return !found || !looseEqual(value, c.Value), nil
	case OpContains:
		return found && contains(value, c.Value), nil
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual:
		if !found {
			return false, nil
		}

		return compareNumeric(value, c.Value, c.Operator)
	case "":
		return false, fmt.Errorf("condition on field %q has no operator", c.Field)
	default:
		return false, fmt.Errorf("unknown condition operator %q", c.Operator)
	}
}

// LookupPath resolves a dotted path against nested maps, returning the value
// and whether it was found.
func LookupPath(input map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	current := any(input)

	for _, part := range parts {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = asMap[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// looseEqual compares values after normalizing numbers to float64 and
// everything else to strings, tolerating the type drift JSON decoding
// introduces.
func looseEqual(a, b any) bool {
	if fa, oka := toFloat(a); oka {
		if fb, okb := toFloat(b); okb {
			return fa == fb
		}
	}

	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprintf("%v", needle))
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}

		return false
	case []string:
		for _, item := range h {
			if item == fmt.Sprintf("%v", needle) {
				return true
			}
		}

		return false
	default:
		return false
	}
}

func compareNumeric(a, b any, op Operator) (bool, error) {
	fa, oka := toFloat(a)
	fb, okb := toFloat(b)

	if !oka || !okb {
		return false, fmt.Errorf("operator %q requires numeric operands, got %T and %T", op, a, b)
	}

	switch op {
	case OpGreaterThan:
		return fa > fb, nil
	case OpGreaterOrEqual:
		return fa >= fb, nil
	case OpLessThan:
		return fa < fb, nil
	case OpLessOrEqual:
		return fa <= fb, nil
	default:
		return false, fmt.Errorf("operator %q is not numeric", op)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
