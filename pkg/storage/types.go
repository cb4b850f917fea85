// Package storage provides the record model and record stores for pathfold.
//
// A Record belongs to exactly one schema class and carries a flat field map.
// Fields that model relations hold the RecordID of the linked record, so a
// chain such as person.address.city is followed by loading one record per hop.
//
// Example:
//
//	store := storage.NewMemoryStore()
//	defer store.Close()
//
//	city := &storage.Record{
//		ID:     storage.NewRecordID(),
//		Class:  "City",
//		Fields: map[string]any{"name": "Springfield"},
//	}
//	store.CreateRecord(city)
package storage

import (
	"errors"
	"sort"

	"github.com/google/uuid"
)

// Errors returned by record stores.
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrInvalidID     = errors.New("invalid record ID")
	ErrInvalidData   = errors.New("invalid record data")
	ErrStorageClosed = errors.New("storage is closed")
)

// RecordID identifies a record. Link fields store the RecordID of their target.
type RecordID string

// NewRecordID returns a fresh random record ID.
func NewRecordID() RecordID {
	return RecordID(uuid.NewString())
}

// String implements fmt.Stringer.
func (id RecordID) String() string {
	return string(id)
}

// Record is a single stored document.
type Record struct {
	ID     RecordID
	Class  string
	Fields map[string]any
}

// Field returns the named field value and whether it was present.
func (r *Record) Field(name string) (any, bool) {
	if r == nil || r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[name]
	return v, ok
}

// Copy returns a deep copy of the record. Nested slices and maps are copied so
// callers cannot reach stored state through the result.
func (r *Record) Copy() *Record {
	if r == nil {
		return nil
	}
	copied := &Record{
		ID:     r.ID,
		Class:  r.Class,
		Fields: make(map[string]any, len(r.Fields)),
	}
	for k, v := range r.Fields {
		copied.Fields[k] = copyValue(v)
	}
	return copied
}

func copyValue(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case []RecordID:
		out := make([]RecordID, len(val))
		copy(out, val)
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

// SortIDs sorts record IDs in place and returns them.
func SortIDs(ids []RecordID) []RecordID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RecordEventCallback is invoked after a record is created or updated.
// For updates, previous holds the record as it was before the write.
type RecordEventCallback func(record, previous *Record)

// RecordDeleteCallback is invoked after a record is deleted.
type RecordDeleteCallback func(record *Record)
