package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Issue is a single field-level validation failure.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError reports every issue found in a request body.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.Path + ": " + issue.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validate checks raw JSON against node and returns the validated value with
// defaults applied and unknown object members removed. A body that does not
// match returns a *ValidationError; a node outside the supported variants
// returns ErrUnsupportedSchemaShape.
func Validate(node Node, raw []byte) (any, error) {
	var value any
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&value); err != nil {
			return nil, &ValidationError{Issues: []Issue{{Path: rootPath, Message: "invalid JSON: " + err.Error()}}}
		}
	}

	v := &validator{}
	out := v.walk(node, value, rootPath)
	if v.err != nil {
		return nil, v.err
	}
	if len(v.issues) > 0 {
		return nil, &ValidationError{Issues: v.issues}
	}
	return out, nil
}

const rootPath = "body"

type validator struct {
	issues []Issue
	err    error
}

func (v *validator) fail(path, format string, args ...any) {
	v.issues = append(v.issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) walk(node Node, value any, path string) any {
	if v.err != nil {
		return nil
	}

	switch n := node.(type) {
	case String:
		s, ok := value.(string)
		if !ok {
			v.fail(path, "expected string, got %s", describe(value))
			return nil
		}
		return s

	case Number:
		num, ok := value.(json.Number)
		if !ok {
			v.fail(path, "expected number, got %s", describe(value))
			return nil
		}
		return num

	case Boolean:
		b, ok := value.(bool)
		if !ok {
			v.fail(path, "expected boolean, got %s", describe(value))
			return nil
		}
		return b

	case Enum:
		s, ok := value.(string)
		if !ok {
			v.fail(path, "expected one of [%s], got %s", strings.Join(n.Values, ", "), describe(value))
			return nil
		}
		for _, allowed := range n.Values {
			if s == allowed {
				return s
			}
		}
		v.fail(path, "expected one of [%s], got %q", strings.Join(n.Values, ", "), s)
		return nil

	case Array:
		items, ok := value.([]any)
		if !ok {
			v.fail(path, "expected array, got %s", describe(value))
			return nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = v.walk(n.Items, item, fmt.Sprintf("%s[%d]", path, i))
		}
		return out

	case Object:
		m, ok := value.(map[string]any)
		if !ok {
			v.fail(path, "expected object, got %s", describe(value))
			return nil
		}
		out := make(map[string]any, len(n.Fields))
		for _, f := range n.Fields {
			fieldPath := path + "." + f.Name
			fv, present := m[f.Name]
			missing := !present || fv == nil

			switch inner := f.Node.(type) {
			case Optional:
				if missing {
					continue
				}
				out[f.Name] = v.walk(inner.Inner, fv, fieldPath)
			case Default:
				if missing {
					out[f.Name] = inner.Value
					continue
				}
				out[f.Name] = v.walk(inner.Inner, fv, fieldPath)
			default:
				if missing {
					v.fail(fieldPath, "required")
					continue
				}
				out[f.Name] = v.walk(f.Node, fv, fieldPath)
			}
		}
		return out

	case Any:
		return value

	case Optional:
		if value == nil {
			return nil
		}
		return v.walk(n.Inner, value, path)

	case Default:
		if value == nil {
			return n.Value
		}
		return v.walk(n.Inner, value, path)

	default:
		v.err = fmt.Errorf("%w: %T at %s", ErrUnsupportedSchemaShape, node, path)
		return nil
	}
}

func describe(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}
