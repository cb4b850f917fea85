package storage

import (
	"sort"
	"strings"
	"sync"
)

// MemoryStore is a thread-safe in-memory record store.
//
// It is the store behind the planner's scan fallback and the loader of linked
// records during path evaluation. Records are deep-copied on the way in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[RecordID]*Record

	// class name (lowercase) -> record IDs
	byClass map[string]map[RecordID]struct{}

	onCreated  RecordEventCallback
	onUpdated  RecordEventCallback
	onDeleted  RecordDeleteCallback
	callbackMu sync.RWMutex

	closed bool
}

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[RecordID]*Record),
		byClass: make(map[string]map[RecordID]struct{}),
	}
}

// OnRecordCreated sets a callback fired after a record is created.
func (m *MemoryStore) OnRecordCreated(callback RecordEventCallback) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.onCreated = callback
}

// OnRecordUpdated sets a callback fired after a record is updated.
func (m *MemoryStore) OnRecordUpdated(callback RecordEventCallback) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.onUpdated = callback
}

// OnRecordDeleted sets a callback fired after a record is deleted.
func (m *MemoryStore) OnRecordDeleted(callback RecordDeleteCallback) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.onDeleted = callback
}

// CreateRecord stores a new record.
func (m *MemoryStore) CreateRecord(record *Record) error {
	if record == nil || record.Class == "" {
		return ErrInvalidData
	}
	if record.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrStorageClosed
	}
	if _, exists := m.records[record.ID]; exists {
		m.mu.Unlock()
		return ErrAlreadyExists
	}

	stored := record.Copy()
	m.records[record.ID] = stored
	m.addToClass(stored)
	m.mu.Unlock()

	m.callbackMu.RLock()
	cb := m.onCreated
	m.callbackMu.RUnlock()
	if cb != nil {
		cb(stored.Copy(), nil)
	}
	return nil
}

// GetRecord retrieves a record by ID.
func (m *MemoryStore) GetRecord(id RecordID) (*Record, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	record, exists := m.records[id]
	if !exists {
		return nil, ErrNotFound
	}
	return record.Copy(), nil
}

// LoadRecord implements expr.RecordLoader.
func (m *MemoryStore) LoadRecord(id RecordID) (*Record, error) {
	return m.GetRecord(id)
}

// UpdateRecord replaces an existing record.
func (m *MemoryStore) UpdateRecord(record *Record) error {
	if record == nil || record.Class == "" {
		return ErrInvalidData
	}
	if record.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrStorageClosed
	}
	existing, exists := m.records[record.ID]
	if !exists {
		m.mu.Unlock()
		return ErrNotFound
	}

	m.removeFromClass(existing)
	stored := record.Copy()
	m.records[record.ID] = stored
	m.addToClass(stored)
	m.mu.Unlock()

	m.callbackMu.RLock()
	cb := m.onUpdated
	m.callbackMu.RUnlock()
	if cb != nil {
		cb(stored.Copy(), existing)
	}
	return nil
}

// DeleteRecord removes a record. Links pointing at it are left dangling and
// evaluate to nil when followed.
func (m *MemoryStore) DeleteRecord(id RecordID) error {
	if id == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrStorageClosed
	}
	existing, exists := m.records[id]
	if !exists {
		m.mu.Unlock()
		return ErrNotFound
	}
	m.removeFromClass(existing)
	delete(m.records, id)
	m.mu.Unlock()

	m.callbackMu.RLock()
	cb := m.onDeleted
	m.callbackMu.RUnlock()
	if cb != nil {
		cb(existing)
	}
	return nil
}

// RecordsByClass returns copies of every record of the class, ordered by ID.
// Class names are matched case-insensitively.
func (m *MemoryStore) RecordsByClass(class string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	ids := m.byClass[strings.ToLower(class)]
	out := make([]*Record, 0, len(ids))
	for id := range ids {
		out = append(out, m.records[id].Copy())
	}
	sortRecords(out)
	return out, nil
}

// IDsByClass returns the IDs of every record of the class, ordered.
func (m *MemoryStore) IDsByClass(class string) ([]RecordID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	ids := m.byClass[strings.ToLower(class)]
	out := make([]RecordID, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return SortIDs(out), nil
}

// Count returns the number of stored records.
func (m *MemoryStore) Count() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.records)), nil
}

// Close releases all records. Further calls return ErrStorageClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.records = nil
	m.byClass = nil
	return nil
}

func (m *MemoryStore) addToClass(r *Record) {
	key := strings.ToLower(r.Class)
	if m.byClass[key] == nil {
		m.byClass[key] = make(map[RecordID]struct{})
	}
	m.byClass[key][r.ID] = struct{}{}
}

func (m *MemoryStore) removeFromClass(r *Record) {
	if ids := m.byClass[strings.ToLower(r.Class)]; ids != nil {
		delete(ids, r.ID)
	}
}

func sortRecords(records []*Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
}
