package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nstoddard17/chainreact-core/workflow"
)

// Step configs may embed reference tokens that are resolved just before the
// action runs:
//
//	{{trigger.<path>}}   a dotted path into the trigger event payload
//	{{inputs.<path>}}    a dotted path into the chain's mapped inputs
//	{{steps.<id>.<path>}} a dotted path into an upstream step's output
//
// A string that is exactly one token keeps the referenced value's type; a
// token embedded in a larger string is interpolated as text.
var tokenPattern = regexp.MustCompile(`\{\{\s*((?:trigger|inputs|steps)(?:\.[^{}\s]+)?)\s*\}\}`)

// TokenError reports a reference that could not be resolved. It aborts the
// referencing step only.
type TokenError struct {
	NodeID string
	Token  string
	Reason string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("step %s: unresolvable reference %q: %s", e.NodeID, e.Token, e.Reason)
}

type tokenScope struct {
	trigger map[string]any
	inputs  map[string]any
	steps   map[string]map[string]any
}

func (s tokenScope) lookup(ref string) (any, error) {
	root, rest, _ := strings.Cut(ref, ".")

	switch root {
	case "trigger":
		if rest == "" {
			return s.trigger, nil
		}

		if value, ok := workflow.LookupPath(s.trigger, rest); ok {
			return value, nil
		}

		return nil, fmt.Errorf("trigger has no field %q", rest)
	case "inputs":
		if rest == "" {
			return s.inputs, nil
		}

		if value, ok := workflow.LookupPath(s.inputs, rest); ok {
			return value, nil
		}

		return nil, fmt.Errorf("inputs have no field %q", rest)
	case "steps":
		stepID, path, _ := strings.Cut(rest, ".")
		if stepID == "" {
			return nil, fmt.Errorf("step reference names no step")
		}

		output, ok := s.steps[stepID]
		if !ok {
			return nil, fmt.Errorf("step %q has not produced output", stepID)
		}

		if path == "" {
			return output, nil
		}

		if value, ok := workflow.LookupPath(output, path); ok {
			return value, nil
		}

		return nil, fmt.Errorf("output of step %q has no field %q", stepID, path)
	default:
		return nil, fmt.Errorf("unknown reference root %q", root)
	}
}

// resolveConfig walks a step config and replaces every token with its
// referenced value. Maps and slices are resolved recursively; the input is
// never mutated.
func resolveConfig(nodeID string, config map[string]any, scope tokenScope) (map[string]any, error) {
	if len(config) == 0 {
		return config, nil
	}

	resolved := make(map[string]any, len(config))

	for key, value := range config {
		out, err := resolveValue(nodeID, value, scope)
		if err != nil {
			return nil, err
		}

		resolved[key] = out
	}

	return resolved, nil
}

func resolveValue(nodeID string, value any, scope tokenScope) (any, error) {
	switch typed := value.(type) {
	case string:
		return resolveString(nodeID, typed, scope)
	case map[string]any:
		return resolveConfig(nodeID, typed, scope)
	case []any:
		resolved := make([]any, len(typed))

		for i, item := range typed {
			out, err := resolveValue(nodeID, item, scope)
			if err != nil {
				return nil, err
			}

			resolved[i] = out
		}

		return resolved, nil
	default:
		return value, nil
	}
}

func resolveString(nodeID, raw string, scope tokenScope) (any, error) {
	matches := tokenPattern.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return raw, nil
	}

	// A lone token preserves the referenced value's type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(raw) {
		ref := raw[matches[0][2]:matches[0][3]]

		value, err := scope.lookup(ref)
		if err != nil {
			return nil, &TokenError{NodeID: nodeID, Token: raw, Reason: err.Error()}
		}

		return value, nil
	}

	var builder strings.Builder

	last := 0

	for _, match := range matches {
		builder.WriteString(raw[last:match[0]])

		ref := raw[match[2]:match[3]]

		value, err := scope.lookup(ref)
		if err != nil {
			return nil, &TokenError{NodeID: nodeID, Token: raw[match[0]:match[1]], Reason: err.Error()}
		}

		builder.WriteString(fmt.Sprint(value))
		last = match[1]
	}

	builder.WriteString(raw[last:])

	return builder.String(), nil
}
