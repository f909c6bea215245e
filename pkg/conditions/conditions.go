// Package conditions evaluates condition and branch step configuration
// against run data.
//
// A condition step is either an expression rendered through the template
// package and read for truthiness:
//
//	{"expression": "{{ eq .payload.species \"dog\" }}"}
//
// or a field comparison:
//
//	{"field": "payload.weight", "operator": "gt", "value": 20}
//
// A branch step names a field (or a value expression) whose value selects the
// outgoing edge with the matching handle.
package conditions

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/barkbase/automation/pkg/template"
)

// ErrInvalidCondition reports step configuration that can never evaluate.
var ErrInvalidCondition = errors.New("invalid condition")

// Operator compares a resolved field value with a configured value.
type Operator string

const (
	OpEquals    Operator = "eq"
	OpNotEquals Operator = "neq"
	OpGreater   Operator = "gt"
	OpGreaterEq Operator = "gte"
	OpLess      Operator = "lt"
	OpLessEq    Operator = "lte"
	OpContains  Operator = "contains"
	OpIn        Operator = "in"
	OpExists    Operator = "exists"
	OpNotExists Operator = "not_exists"
)

const defaultRoot = "payload"

// EvaluateCondition decides which way a condition step goes.
func EvaluateCondition(config map[string]any, data map[string]any) (bool, error) {
	if expression, ok := config["expression"].(string); ok && expression != "" {
		result, err := template.Render(expression, data)
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrInvalidCondition, err)
		}

		return Truthy(result), nil
	}

	field, ok := config["field"].(string)
	if !ok || field == "" {
		return false, fmt.Errorf("%w: either expression or field is required", ErrInvalidCondition)
	}

	operator := OpEquals
	if op, ok := config["operator"].(string); ok && op != "" {
		operator = Operator(op)
	}

	actual, found := Lookup(data, field)

	return Compare(actual, found, operator, config["value"])
}

// EvaluateBranch returns the handle a branch step should follow.
func EvaluateBranch(config map[string]any, data map[string]any) (string, error) {
	if field, ok := config["field"].(string); ok && field != "" {
		value, found := Lookup(data, field)
		if !found || value == nil {
			return "", nil
		}

		return stringify(value), nil
	}

	if expression, ok := config["value"].(string); ok && expression != "" {
		result, err := template.Render(expression, data)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidCondition, err)
		}

		return stringify(result), nil
	}

	return "", fmt.Errorf("%w: branch requires field or value", ErrInvalidCondition)
}

// Lookup resolves a dotted path in data. Paths that do not start at a known
// top-level key are resolved against the trigger payload, so "species" and
// "payload.species" are equivalent.
func Lookup(data map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")

	if _, ok := data[segments[0]]; !ok {
		segments = append([]string{defaultRoot}, segments...)
	}

	var current any = data

	for _, segment := range segments {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		default:
			return nil, false
		}
	}

	return current, true
}

// Compare applies operator to the resolved value and the expected value.
func Compare(actual any, found bool, operator Operator, expected any) (bool, error) {
	switch operator {
	case OpExists:
		return found && actual != nil, nil
	case OpNotExists:
		return !found || actual == nil, nil
	case OpEquals:
		return equal(actual, expected), nil
	case OpNotEquals:
		return !equal(actual, expected), nil
	case OpGreater, OpGreaterEq, OpLess, OpLessEq:
		if !found {
			return false, nil
		}

		cmp, ok := order(actual, expected)
		if !ok {
			return false, nil
		}

		switch operator {
		case OpGreater:
			return cmp > 0, nil
		case OpGreaterEq:
			return cmp >= 0, nil
		case OpLess:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case OpContains:
		return contains(actual, expected), nil
	case OpIn:
		return contains(expected, actual), nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, operator)
	}
}

// Truthy converts a rendered value to a boolean.
func Truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}

		return v != "" && v != "<no value>"
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return false
	}
}

func equal(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}

	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
	}

	return reflect.DeepEqual(a, b)
}

func order(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)

	if aok && bok {
		return strings.Compare(as, bs), true
	}

	return 0, false
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)

		return ok && strings.Contains(h, n)
	case []any:
		for _, item := range h {
			if equal(item, needle) {
				return true
			}
		}

		return false
	case map[string]any:
		key, ok := needle.(string)
		if !ok {
			return false
		}

		_, exists := h[key]

		return exists
	default:
		return false
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
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

func stringify(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	return fmt.Sprintf("%v", v)
}
