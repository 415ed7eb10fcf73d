package function

import (
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/cuongbtq/cog-core/internal/schema"
)

var (
	// ErrDuplicateFunctionName is returned when two functions share a name.
	ErrDuplicateFunctionName = errors.New("duplicate function name")

	// ErrFunctionNotFound is returned when no function has the requested name.
	ErrFunctionNotFound = errors.New("function not found")
)

// Registry is an immutable, ordered catalogue of integrated functions. It is
// built once at startup and safe for concurrent reads.
type Registry struct {
	ordered []*IntegratedFunction
	byName  map[string]*IntegratedFunction
}

// NewRegistry builds a registry in the given order. It fails if a name is
// empty or repeated, or a function has no schema or handler.
func NewRegistry(fns ...*IntegratedFunction) (*Registry, error) {
	r := &Registry{
		ordered: make([]*IntegratedFunction, 0, len(fns)),
		byName:  make(map[string]*IntegratedFunction, len(fns)),
	}

	for _, fn := range fns {
		if err := r.register(fn); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Registry) register(fn *IntegratedFunction) error {
	if fn == nil || fn.Name == "" {
		return fmt.Errorf("function name is required")
	}
	if _, exists := r.byName[fn.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateFunctionName, fn.Name)
	}
	if fn.Schema == nil {
		return fmt.Errorf("function %q: schema is required", fn.Name)
	}
	if fn.Handler == nil {
		return fmt.Errorf("function %q: handler is required", fn.Name)
	}

	r.byName[fn.Name] = fn
	r.ordered = append(r.ordered, fn)
	return nil
}

// Lookup returns the named function.
func (r *Registry) Lookup(name string) (*IntegratedFunction, bool) {
	fn, ok := r.byName[name]
	return fn, ok
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	return len(r.ordered)
}

// ListScheduleable returns scheduleable functions in registration order.
func (r *Registry) ListScheduleable() []*IntegratedFunction {
	out := make([]*IntegratedFunction, 0, len(r.ordered))
	for _, fn := range r.ordered {
		if fn.Scheduleable {
			out = append(out, fn)
		}
	}
	return out
}

// Description is the discovery view of one function.
type Description struct {
	FunctionName string             `json:"functionName"`
	Description  string             `json:"description"`
	Scheduleable bool               `json:"scheduleable"`
	Schema       *jsonschema.Schema `json:"schema"`
}

// DescribeAll returns every function with its serialized schema, in
// registration order.
func (r *Registry) DescribeAll() ([]Description, error) {
	out := make([]Description, 0, len(r.ordered))
	for _, fn := range r.ordered {
		doc, err := schema.Document(fn.Schema)
		if err != nil {
			return nil, fmt.Errorf("function %q: %w", fn.Name, err)
		}
		out = append(out, Description{
			FunctionName: fn.Name,
			Description:  fn.Description,
			Scheduleable: fn.Scheduleable,
			Schema:       doc,
		})
	}
	return out, nil
}
