// Package schema describes record classes, their properties and the indexes
// declared on them.
//
// A Schema is shared by every query and is safe for concurrent use. Class and
// property names are case-insensitive. Every mutation bumps Version so cached
// query plans can tell when they went stale.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/orneryd/pathfold/pkg/index"
)

// Errors returned by schema operations.
var (
	ErrClassNotFound    = errors.New("class not found")
	ErrClassExists      = errors.New("class already exists")
	ErrPropertyNotFound = errors.New("property not found")
	ErrPropertyExists   = errors.New("property already exists")
	ErrIndexExists      = errors.New("index already exists")
	ErrInvalidSchema    = errors.New("invalid schema")
)

// Schema is a registry of classes.
type Schema struct {
	factory index.Factory
	version atomic.Uint64

	mu      sync.RWMutex
	classes map[string]*Class
}

// New creates an empty schema whose indexes are built by factory.
func New(factory index.Factory) *Schema {
	return &Schema{
		factory: factory,
		classes: make(map[string]*Class),
	}
}

// Version returns a counter incremented by every schema change.
func (s *Schema) Version() uint64 {
	return s.version.Load()
}

func (s *Schema) bump() {
	s.version.Add(1)
}

// Class returns the named class.
func (s *Schema) Class(name string) (*Class, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.classes[strings.ToLower(name)]
	return c, ok
}

// Classes returns all classes sorted by name.
func (s *Schema) Classes() []*Class {
	s.mu.RLock()
	out := make([]*Class, 0, len(s.classes))
	for _, c := range s.classes {
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// AddClass registers a new class.
func (s *Schema) AddClass(name string) (*Class, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty class name", ErrInvalidSchema)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(name)
	if _, exists := s.classes[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrClassExists, name)
	}
	c := newClass(s, name)
	s.classes[key] = c
	s.bump()
	return c, nil
}

// AddProperty adds a scalar property to a class.
func (s *Schema) AddProperty(class, name string, typ PropertyType) (*Property, error) {
	if typ == TypeLink {
		return nil, fmt.Errorf("%w: link property %s.%s needs a linked class", ErrInvalidSchema, class, name)
	}
	if !typ.valid() {
		return nil, fmt.Errorf("%w: unknown property type %q", ErrInvalidSchema, typ)
	}
	c, ok := s.Class(class)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, class)
	}
	return c.addProperty(&Property{name: name, typ: typ, owner: c})
}

// AddLinkProperty adds a property whose values reference records of linked.
// The linked class must already exist.
func (s *Schema) AddLinkProperty(class, name, linked string) (*Property, error) {
	c, ok := s.Class(class)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, class)
	}
	target, ok := s.Class(linked)
	if !ok {
		return nil, fmt.Errorf("%w: linked class %s of %s.%s", ErrClassNotFound, linked, class, name)
	}
	return c.addProperty(&Property{name: name, typ: TypeLink, linked: target.name, owner: c})
}

// AddIndex declares a single-field index on class. An empty name defaults to
// "Class.field".
func (s *Schema) AddIndex(class, name, field string) (index.Index, error) {
	return s.addIndex(class, name, []string{field})
}

// AddCompositeIndex declares an index over two or more fields. An empty name
// defaults to "Class.field1_field2".
func (s *Schema) AddCompositeIndex(class, name string, fields ...string) (index.Index, error) {
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: composite index requires at least 2 fields", ErrInvalidSchema)
	}
	return s.addIndex(class, name, fields)
}

func (s *Schema) addIndex(class, name string, fields []string) (index.Index, error) {
	c, ok := s.Class(class)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, class)
	}
	for _, f := range fields {
		if _, ok := c.Property(f); !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrPropertyNotFound, c.name, f)
		}
	}
	if name == "" {
		name = c.name + "." + strings.Join(fields, "_")
	}
	if s.factory == nil {
		return nil, fmt.Errorf("%w: no index factory", ErrInvalidSchema)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.indexes[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrIndexExists, name)
	}
	idx, err := s.factory(name, index.NewDefinition(fields...))
	if err != nil {
		return nil, fmt.Errorf("failed to create index %s: %w", name, err)
	}
	c.indexes[name] = idx
	s.bump()
	return idx, nil
}

// Index returns the named index from any class.
func (s *Schema) Index(name string) (index.Index, bool) {
	for _, c := range s.Classes() {
		c.mu.RLock()
		idx, ok := c.indexes[name]
		c.mu.RUnlock()
		if ok {
			return idx, true
		}
	}
	return nil, false
}
