// Package index defines the secondary index contract used by path folding and
// provides in-memory, BadgerDB and SQLite backed implementations.
//
// An index maps keys to record IDs. A key is either a single value or a
// CompositeKey whose slots follow the index Definition. Lookups with a
// CompositeKey shorter than the definition match every entry sharing those
// leading slots, which is how a hop is folded through the leading field of a
// composite index.
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"

	metrics "github.com/rcrowley/go-metrics"

	"github.com/orneryd/pathfold/pkg/storage"
)

// Errors returned by index operations.
var (
	ErrKeyArity        = errors.New("key has more slots than the index definition")
	ErrEmptyKey        = errors.New("empty composite key")
	ErrInvalidName     = errors.New("invalid index name")
	ErrInvalidDef      = errors.New("invalid index definition")
	ErrIndexClosed     = errors.New("index is closed")
	ErrInvalidRecordID = errors.New("invalid record ID for index entry")
)

// Definition is the ordered list of fields making up an index key.
type Definition struct {
	Fields []string
}

// NewDefinition returns a definition over fields.
func NewDefinition(fields ...string) Definition {
	out := make([]string, len(fields))
	copy(out, fields)
	return Definition{Fields: out}
}

// Leading returns the first key field. An empty definition breaks the index
// contract and panics.
func (d Definition) Leading() string {
	if len(d.Fields) == 0 {
		panic("index: definition has no key fields")
	}
	return d.Fields[0]
}

// IsComposite reports whether the key has more than one field.
func (d Definition) IsComposite() bool {
	return len(d.Fields) > 1
}

// Contains reports whether field is part of the key, ignoring case.
func (d Definition) Contains(field string) bool {
	for _, f := range d.Fields {
		if strings.EqualFold(f, field) {
			return true
		}
	}
	return false
}

// Validate checks the definition is usable.
func (d Definition) Validate() error {
	if len(d.Fields) == 0 {
		return fmt.Errorf("%w: no fields", ErrInvalidDef)
	}
	for i, f := range d.Fields {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("%w: empty field at position %d", ErrInvalidDef, i)
		}
	}
	return nil
}

// Index is a secondary index over one class.
type Index interface {
	Name() string
	Definition() Definition

	// Put adds rid under key. Adding an existing entry is a no-op.
	Put(key any, rid storage.RecordID) error
	// Remove deletes rid from key. Removing a missing entry is a no-op.
	Remove(key any, rid storage.RecordID) error

	// Values returns the union of record IDs stored under keys, without
	// duplicates and in ascending order.
	Values(ctx context.Context, keys []any) ([]storage.RecordID, error)

	// RecordUsage counts one use of the index by a query. Safe for
	// concurrent use.
	RecordUsage()
	// Usage returns the number of recorded uses.
	Usage() int64
}

// Factory builds an index for a class.
type Factory func(name string, def Definition) (Index, error)

// usage tracks how often an index served a query.
type usage struct {
	counter metrics.Counter
}

func newUsage(registry metrics.Registry, name string) usage {
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	return usage{counter: metrics.GetOrRegisterCounter("index."+name+".usage", registry)}
}

func (u usage) RecordUsage() { u.counter.Inc(1) }

func (u usage) Usage() int64 { return u.counter.Count() }

func validateName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func validateRecordID(rid storage.RecordID) error {
	if rid == "" || strings.ContainsRune(string(rid), 0) {
		return fmt.Errorf("%w: %q", ErrInvalidRecordID, rid)
	}
	return nil
}
