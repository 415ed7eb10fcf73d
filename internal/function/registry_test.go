package function

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/cog-core/internal/schema"
)

func noop(ctx context.Context, env *Env, body json.RawMessage) Response {
	return RespondWith(http.StatusOK, "ok", nil)
}

func fn(name string, scheduleable bool) *IntegratedFunction {
	return &IntegratedFunction{
		Name:         name,
		Description:  "describes " + name,
		Scheduleable: scheduleable,
		Schema:       schema.Object{Fields: []schema.Field{{Name: "uuid", Node: schema.String{}}}},
		Handler:      noop,
	}
}

func TestNewRegistry(t *testing.T) {
	tests := []struct {
		name      string
		fns       []*IntegratedFunction
		errString string
		dup       bool
	}{
		{
			name: "unique names",
			fns:  []*IntegratedFunction{fn("a", true), fn("b", false)},
		},
		{
			name:      "duplicate name",
			fns:       []*IntegratedFunction{fn("a", true), fn("b", false), fn("a", false)},
			errString: `"a"`,
			dup:       true,
		},
		{
			name:      "empty name",
			fns:       []*IntegratedFunction{fn("", true)},
			errString: "function name is required",
		},
		{
			name:      "missing handler",
			fns:       []*IntegratedFunction{{Name: "x", Schema: schema.String{}}},
			errString: "handler is required",
		},
		{
			name:      "missing schema",
			fns:       []*IntegratedFunction{{Name: "x", Handler: noop}},
			errString: "schema is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegistry(tt.fns...)
			if tt.errString == "" {
				require.NoError(t, err)
				assert.Equal(t, len(tt.fns), r.Len())
				return
			}
			require.Error(t, err)
			assert.Nil(t, r)
			assert.Contains(t, err.Error(), tt.errString)
			assert.Equal(t, tt.dup, errors.Is(err, ErrDuplicateFunctionName))
		})
	}
}

func TestRegistry_LookupAndListScheduleable(t *testing.T) {
	r, err := NewRegistry(fn("c", true), fn("a", false), fn("b", true), fn("d", true))
	require.NoError(t, err)

	got, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.Name)
	assert.Equal(t, "a", got.QueueName())

	_, ok = r.Lookup("doesNotExist")
	assert.False(t, ok)

	var names []string
	for _, f := range r.ListScheduleable() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"c", "b", "d"}, names)
}

func TestRegistry_DescribeAll(t *testing.T) {
	r, err := NewRegistry(fn("scan", true), fn("schedule", false))
	require.NoError(t, err)

	descs, err := r.DescribeAll()
	require.NoError(t, err)
	require.Len(t, descs, 2)

	assert.Equal(t, "scan", descs[0].FunctionName)
	assert.Equal(t, "describes scan", descs[0].Description)
	assert.True(t, descs[0].Scheduleable)
	assert.False(t, descs[1].Scheduleable)

	raw, err := json.Marshal(descs[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"required":["uuid"]`)
}

func TestRegistry_DescribeAllUnsupportedShape(t *testing.T) {
	bad := fn("bad", false)
	bad.Schema = schema.Array{Items: nil}

	r, err := NewRegistry(bad)
	require.NoError(t, err)

	_, err = r.DescribeAll()
	require.ErrorIs(t, err, schema.ErrUnsupportedSchemaShape)
	assert.Contains(t, err.Error(), `"bad"`)
}

func TestResponse_OK(t *testing.T) {
	assert.True(t, RespondWith(http.StatusOK, "ok", nil).OK())
	assert.True(t, RespondWith(http.StatusCreated, "ok", nil).OK())
	assert.False(t, RespondError(http.StatusNotFound, "function not found").OK())
}
