package expr

import (
	"context"
	"errors"
	"fmt"

	"github.com/orneryd/pathfold/pkg/storage"
)

// ErrUnboundVariable is returned when a Variable has no binding in the Context.
var ErrUnboundVariable = errors.New("unbound variable")

// RecordLoader dereferences record links while navigating a path.
type RecordLoader interface {
	LoadRecord(id storage.RecordID) (*storage.Record, error)
}

// Context carries what evaluation needs from the surrounding query: variable
// bindings, a loader for linked records and a context.Context for
// cancellation. The zero value is usable and has no bindings and no loader.
type Context struct {
	ctx    context.Context
	loader RecordLoader
	vars   map[string]any
}

// NewContext returns an evaluation context bound to ctx and loader.
func NewContext(ctx context.Context, loader RecordLoader) *Context {
	return &Context{ctx: ctx, loader: loader, vars: make(map[string]any)}
}

// Set binds a variable and returns the context for chaining.
func (c *Context) Set(name string, value any) *Context {
	if c.vars == nil {
		c.vars = make(map[string]any)
	}
	c.vars[name] = value
	return c
}

// Get returns a variable binding.
func (c *Context) Get(name string) (any, bool) {
	if c == nil || c.vars == nil {
		return nil, false
	}
	v, ok := c.vars[name]
	return v, ok
}

// Loader returns the record loader, possibly nil.
func (c *Context) Loader() RecordLoader {
	if c == nil {
		return nil
	}
	return c.loader
}

func (c *Context) err() error {
	if c == nil || c.ctx == nil {
		return nil
	}
	return c.ctx.Err()
}

// Evaluate evaluates e against candidate.
//
// For a Path this is Evaluate(right, Evaluate(left, candidate)); nil results
// propagate, so navigating through a missing field yields nil rather than an
// error.
func Evaluate(c *Context, e Expression, candidate any) (any, error) {
	if err := c.err(); err != nil {
		return nil, err
	}

	switch x := e.(type) {
	case *Path:
		v, err := Evaluate(c, x.left, candidate)
		if err != nil {
			return nil, err
		}
		return Evaluate(c, x.right, v)
	case *Name:
		return navigate(c, x.name, candidate)
	case *Literal:
		return x.value, nil
	case *Variable:
		v, ok := c.Get(x.name)
		if !ok {
			return nil, fmt.Errorf("%w: $%s", ErrUnboundVariable, x.name)
		}
		return v, nil
	default:
		panic(fmt.Sprintf("expr: unknown expression %T", e))
	}
}

// navigate reads field name from candidate.
func navigate(c *Context, name string, candidate any) (any, error) {
	switch v := candidate.(type) {
	case nil:
		return nil, nil
	case *storage.Record:
		field, _ := v.Field(name)
		return field, nil
	case map[string]any:
		return v[name], nil
	case storage.RecordID:
		rec, err := load(c, v)
		if err != nil || rec == nil {
			return nil, err
		}
		field, _ := rec.Field(name)
		return field, nil
	case []storage.RecordID:
		items := make([]any, len(v))
		for i, id := range v {
			items[i] = id
		}
		return navigateList(c, name, items)
	case []any:
		return navigateList(c, name, v)
	default:
		return nil, nil
	}
}

// navigateList navigates every element and flattens list results, dropping nils.
func navigateList(c *Context, name string, items []any) (any, error) {
	out := make([]any, 0, len(items))
	for _, item := range items {
		v, err := navigate(c, name, item)
		if err != nil {
			return nil, err
		}
		switch r := v.(type) {
		case nil:
		case []any:
			out = append(out, r...)
		default:
			out = append(out, r)
		}
	}
	return out, nil
}

// load follows a link. A dangling link evaluates to nil.
func load(c *Context, id storage.RecordID) (*storage.Record, error) {
	loader := c.Loader()
	if loader == nil {
		return nil, nil
	}
	rec, err := loader.LoadRecord(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	return rec, nil
}
