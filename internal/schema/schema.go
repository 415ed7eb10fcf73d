// Package schema describes request bodies accepted by integrated functions.
//
// A schema is a tree of Node values drawn from a closed set of variants:
// String, Number, Boolean, Enum, Array, Object, Optional, Default and Any.
// The same tree drives both validation of incoming JSON and the
// JSON-schema document exposed by the discovery API.
package schema

import "errors"

// ErrUnsupportedSchemaShape is returned when a node outside the supported
// variants is found while validating or serializing a schema.
var ErrUnsupportedSchemaShape = errors.New("unsupported schema shape")

// Node is one schema variant. Only types declared in this package implement it.
type Node interface {
	node()
}

// String matches any JSON string.
type String struct {
	Description string
}

// Number matches any JSON number.
type Number struct {
	Description string
}

// Boolean matches true or false.
type Boolean struct {
	Description string
}

// Enum matches one of a fixed set of strings.
type Enum struct {
	Values      []string
	Description string
}

// Array matches a JSON array whose items all match Items.
type Array struct {
	Items       Node
	Description string
}

// Any matches any JSON value and passes it through unchanged. Used for
// bodies that are validated later against another schema.
type Any struct {
	Description string
}

// Field is a named member of an Object.
type Field struct {
	Name string
	Node Node
}

// Object matches a JSON object. Fields are required unless wrapped in
// Optional or Default. Unknown members are dropped from the validated value.
type Object struct {
	Fields      []Field
	Description string
}

// Optional marks an object field that may be absent or null.
type Optional struct {
	Inner Node
}

// Default marks an object field that takes Value when absent.
type Default struct {
	Inner Node
	Value any
}

func (String) node()   {}
func (Number) node()   {}
func (Boolean) node()  {}
func (Enum) node()     {}
func (Array) node()    {}
func (Object) node()   {}
func (Optional) node() {}
func (Default) node()  {}
func (Any) node()      {}

// Extend returns a copy of o with the given fields appended. A field whose
// name already exists replaces the original in place.
func (o Object) Extend(fields ...Field) Object {
	out := Object{
		Fields:      make([]Field, 0, len(o.Fields)+len(fields)),
		Description: o.Description,
	}
	out.Fields = append(out.Fields, o.Fields...)

	for _, f := range fields {
		replaced := false
		for i := range out.Fields {
			if out.Fields[i].Name == f.Name {
				out.Fields[i] = f
				replaced = true
				break
			}
		}
		if !replaced {
			out.Fields = append(out.Fields, f)
		}
	}

	return out
}
