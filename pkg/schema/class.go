package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/orneryd/pathfold/pkg/index"
	"github.com/orneryd/pathfold/pkg/storage"
)

// PropertyType is the declared type of a property.
type PropertyType string

const (
	TypeString PropertyType = "string"
	TypeNumber PropertyType = "number"
	TypeBool   PropertyType = "bool"
	TypeLink   PropertyType = "link"
)

func (t PropertyType) valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBool, TypeLink:
		return true
	}
	return false
}

// Property is a named field of a class.
type Property struct {
	name   string
	typ    PropertyType
	linked string
	owner  *Class
}

// Name returns the property name as declared.
func (p *Property) Name() string { return p.name }

// Type returns the declared type.
func (p *Property) Type() PropertyType { return p.typ }

// IsLink reports whether the property references records of another class.
func (p *Property) IsLink() bool { return p.typ == TypeLink }

// LinkedClass returns the class the property references. Scalar properties
// have none and end a navigation path.
func (p *Property) LinkedClass() (*Class, bool) {
	if p.typ != TypeLink {
		return nil, false
	}
	return p.owner.schema.Class(p.linked)
}

// Class is a named record type with properties and indexes.
type Class struct {
	name   string
	schema *Schema

	mu         sync.RWMutex
	properties map[string]*Property
	indexes    map[string]index.Index
}

func newClass(s *Schema, name string) *Class {
	return &Class{
		name:       name,
		schema:     s,
		properties: make(map[string]*Property),
		indexes:    make(map[string]index.Index),
	}
}

// Name returns the class name as declared.
func (c *Class) Name() string { return c.name }

// Property returns the named property, ignoring case.
func (c *Class) Property(name string) (*Property, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.properties[strings.ToLower(name)]
	return p, ok
}

// Properties returns all properties sorted by name.
func (c *Class) Properties() []*Property {
	c.mu.RLock()
	out := make([]*Property, 0, len(c.properties))
	for _, p := range c.properties {
		out = append(out, p)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Indexes returns every index declared on the class sorted by name.
func (c *Class) Indexes() []index.Index {
	c.mu.RLock()
	out := make([]index.Index, 0, len(c.indexes))
	for _, idx := range c.indexes {
		out = append(out, idx)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// InvolvedIndexes returns the indexes whose key contains property at any
// position, sorted by name.
func (c *Class) InvolvedIndexes(property string) []index.Index {
	var out []index.Index
	for _, idx := range c.Indexes() {
		if idx.Definition().Contains(property) {
			out = append(out, idx)
		}
	}
	return out
}

func (c *Class) addProperty(p *Property) (*Property, error) {
	if strings.TrimSpace(p.name) == "" || strings.ContainsAny(p.name, ". $") {
		return nil, fmt.Errorf("%w: bad property name %q", ErrInvalidSchema, p.name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := strings.ToLower(p.name)
	if _, exists := c.properties[key]; exists {
		return nil, fmt.Errorf("%w: %s.%s", ErrPropertyExists, c.name, p.name)
	}
	c.properties[key] = p
	c.schema.bump()
	return p, nil
}

// IndexRecord adds rec to every index of the class.
func (c *Class) IndexRecord(rec *storage.Record) error {
	for _, idx := range c.Indexes() {
		for _, key := range keysFor(idx.Definition(), rec) {
			if err := idx.Put(key, rec.ID); err != nil {
				return fmt.Errorf("failed to index %s in %s: %w", rec.ID, idx.Name(), err)
			}
		}
	}
	return nil
}

// UnindexRecord removes rec from every index of the class.
func (c *Class) UnindexRecord(rec *storage.Record) error {
	for _, idx := range c.Indexes() {
		for _, key := range keysFor(idx.Definition(), rec) {
			if err := idx.Remove(key, rec.ID); err != nil {
				return fmt.Errorf("failed to unindex %s from %s: %w", rec.ID, idx.Name(), err)
			}
		}
	}
	return nil
}

// keysFor returns the keys rec is stored under in an index over def.
//
// A single-field index stores one entry per element of a list value. A
// composite index stores the leading fields up to the first missing one, with
// one entry per combination of list elements; a record without the leading
// field is not indexed at all.
func keysFor(def index.Definition, rec *storage.Record) []any {
	if !def.IsComposite() {
		v, ok := rec.Field(def.Leading())
		if !ok || v == nil {
			return nil
		}
		return listElements(v)
	}

	var slots [][]any
	for _, f := range def.Fields {
		v, ok := rec.Field(f)
		if !ok || v == nil {
			break
		}
		elems := listElements(v)
		if len(elems) == 0 {
			break
		}
		slots = append(slots, elems)
	}
	if len(slots) == 0 {
		return nil
	}

	var keys []any
	combine(slots, make([]any, 0, len(slots)), func(values []any) {
		keys = append(keys, index.NewCompositeKey(values...))
	})
	return keys
}

// combine calls emit with every combination taking one value from each slot.
func combine(slots [][]any, prefix []any, emit func([]any)) {
	if len(slots) == 0 {
		values := make([]any, len(prefix))
		copy(values, prefix)
		emit(values)
		return
	}
	for _, v := range slots[0] {
		combine(slots[1:], append(prefix, v), emit)
	}
}

func listElements(v any) []any {
	switch list := v.(type) {
	case []any:
		out := make([]any, 0, len(list))
		for _, e := range list {
			if e != nil {
				out = append(out, e)
			}
		}
		return out
	case []storage.RecordID:
		out := make([]any, len(list))
		for i, e := range list {
			out[i] = e
		}
		return out
	case []string:
		out := make([]any, len(list))
		for i, e := range list {
			out[i] = e
		}
		return out
	}
	return []any{v}
}
