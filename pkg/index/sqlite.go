package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	metrics "github.com/rcrowley/go-metrics"
	_ "modernc.org/sqlite"

	"github.com/orneryd/pathfold/pkg/storage"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS index_definitions (
	index_name TEXT PRIMARY KEY,
	fields TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS index_entries (
	index_name TEXT NOT NULL,
	key BLOB NOT NULL,
	rid TEXT NOT NULL,
	PRIMARY KEY (index_name, key, rid)
);
`

// SQLiteStore persists indexes in a SQLite database.
//
// Entries are stored with their encoded key, so a leading-slot lookup is a
// range scan over the primary key.
type SQLiteStore struct {
	db       *sql.DB
	registry metrics.Registry

	mu      sync.Mutex
	indexes map[string]*SQLiteIndex
	closed  bool
}

// OpenSQLiteStore opens or creates the database at path. Use ":memory:" for an
// in-memory database. registry may be nil.
func OpenSQLiteStore(path string, registry metrics.Registry) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index tables: %w", err)
	}

	if registry == nil {
		registry = metrics.NewRegistry()
	}
	return &SQLiteStore{
		db:       db,
		registry: registry,
		indexes:  make(map[string]*SQLiteIndex),
	}, nil
}

// Index returns the named index, creating it with def when it does not exist.
func (s *SQLiteStore) Index(name string, def Definition) (*SQLiteIndex, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrIndexClosed
	}
	if idx, ok := s.indexes[name]; ok {
		if !sameFields(idx.def.Fields, def.Fields) {
			return nil, fmt.Errorf("%w: index %s already defined on %v", ErrInvalidDef, name, idx.def.Fields)
		}
		return idx, nil
	}

	fields := strings.Join(def.Fields, "\x00")
	var stored string
	err := s.db.QueryRow(`SELECT fields FROM index_definitions WHERE index_name = ?`, name).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.Exec(`INSERT INTO index_definitions (index_name, fields) VALUES (?, ?)`, name, fields); err != nil {
			return nil, fmt.Errorf("failed to store index definition: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read index definition: %w", err)
	case stored != fields:
		return nil, fmt.Errorf("%w: index %s stored with different fields", ErrInvalidDef, name)
	}

	idx := &SQLiteIndex{
		usage: newUsage(s.registry, name),
		store: s,
		name:  name,
		def:   NewDefinition(def.Fields...),
	}
	s.indexes[name] = idx
	return idx, nil
}

// Factory returns a Factory creating indexes in this store.
func (s *SQLiteStore) Factory() Factory {
	return func(name string, def Definition) (Index, error) {
		return s.Index(name, def)
	}
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// SQLiteIndex is one index inside a SQLiteStore.
type SQLiteIndex struct {
	usage
	store *SQLiteStore
	name  string
	def   Definition
}

// Name returns the index name.
func (q *SQLiteIndex) Name() string { return q.name }

// Definition returns the indexed fields.
func (q *SQLiteIndex) Definition() Definition { return q.def }

// Put adds rid under key.
func (q *SQLiteIndex) Put(key any, rid storage.RecordID) error {
	if err := validateRecordID(rid); err != nil {
		return err
	}
	encoded, err := encodeLookup(q.def, key)
	if err != nil {
		return err
	}
	_, err = q.store.db.Exec(
		`INSERT OR IGNORE INTO index_entries (index_name, key, rid) VALUES (?, ?, ?)`,
		q.name, []byte(encoded), string(rid),
	)
	if err != nil {
		return fmt.Errorf("failed to insert index entry: %w", err)
	}
	return nil
}

// Remove deletes rid from key.
func (q *SQLiteIndex) Remove(key any, rid storage.RecordID) error {
	encoded, err := encodeLookup(q.def, key)
	if err != nil {
		return err
	}
	_, err = q.store.db.Exec(
		`DELETE FROM index_entries WHERE index_name = ? AND key = ? AND rid = ?`,
		q.name, []byte(encoded), string(rid),
	)
	if err != nil {
		return fmt.Errorf("failed to delete index entry: %w", err)
	}
	return nil
}

// Values returns the union of records stored under keys.
func (q *SQLiteIndex) Values(ctx context.Context, keys []any) ([]storage.RecordID, error) {
	encoded := make([]string, 0, len(keys))
	for _, key := range keys {
		p, err := encodeLookup(q.def, key)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, p)
	}

	seen := make(map[storage.RecordID]struct{})
	out := []storage.RecordID{}
	for _, p := range encoded {
		// Every encoded prefix ends with slotEnd; bumping that byte gives the
		// exclusive upper bound of the range.
		upper := p[:len(p)-1] + string(rune(slotEnd+1))
		rows, err := q.store.db.QueryContext(ctx,
			`SELECT rid FROM index_entries WHERE index_name = ? AND key >= ? AND key < ?`,
			q.name, []byte(p), []byte(upper),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to query index %s: %w", q.name, err)
		}
		for rows.Next() {
			var rid string
			if err := rows.Scan(&rid); err != nil {
				rows.Close()
				return nil, err
			}
			id := storage.RecordID(rid)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return storage.SortIDs(out), nil
}
