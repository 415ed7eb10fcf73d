package schema

import (
	"fmt"

	"github.com/invopop/jsonschema"
)

const draft07 = "http://json-schema.org/draft-07/schema#"

// Document converts node into a JSON-schema document for the discovery API.
func Document(node Node) (*jsonschema.Schema, error) {
	doc, err := convert(node)
	if err != nil {
		return nil, err
	}
	doc.Version = draft07
	return doc, nil
}

func convert(node Node) (*jsonschema.Schema, error) {
	switch n := node.(type) {
	case String:
		return &jsonschema.Schema{Type: "string", Description: n.Description}, nil

	case Number:
		return &jsonschema.Schema{Type: "number", Description: n.Description}, nil

	case Boolean:
		return &jsonschema.Schema{Type: "boolean", Description: n.Description}, nil

	case Enum:
		values := make([]any, len(n.Values))
		for i, v := range n.Values {
			values[i] = v
		}
		return &jsonschema.Schema{Type: "string", Enum: values, Description: n.Description}, nil

	case Array:
		items, err := convert(n.Items)
		if err != nil {
			return nil, err
		}
		return &jsonschema.Schema{Type: "array", Items: items, Description: n.Description}, nil

	case Object:
		props := jsonschema.NewProperties()
		var required []string
		for _, f := range n.Fields {
			child, err := convert(f.Node)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			props.Set(f.Name, child)
			switch f.Node.(type) {
			case Optional, Default:
			default:
				required = append(required, f.Name)
			}
		}
		return &jsonschema.Schema{
			Type:                 "object",
			Properties:           props,
			Required:             required,
			AdditionalProperties: jsonschema.FalseSchema,
			Description:          n.Description,
		}, nil

	case Any:
		return &jsonschema.Schema{Description: n.Description}, nil

	case Optional:
		return convert(n.Inner)

	case Default:
		inner, err := convert(n.Inner)
		if err != nil {
			return nil, err
		}
		inner.Default = n.Value
		return inner, nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedSchemaShape, node)
	}
}
