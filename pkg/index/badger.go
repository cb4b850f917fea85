package index

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	metrics "github.com/rcrowley/go-metrics"

	"github.com/orneryd/pathfold/pkg/storage"
)

// Key prefixes for BadgerDB storage organization.
const (
	prefixIndexEntry = byte(0x10) // entry:indexName:encodedKey:recordID -> empty
	prefixIndexDef   = byte(0x11) // def:indexName -> encoded field list
)

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// DataDir is the directory for the data files. Ignored when InMemory.
	DataDir string

	// InMemory runs BadgerDB without touching disk. Useful for tests.
	InMemory bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil silences it.
	Logger badger.Logger

	// Registry holds usage counters of the store's indexes. Nil creates one.
	Registry metrics.Registry
}

// BadgerStore persists any number of indexes in one BadgerDB.
//
// Key Structure:
//   - Entries: 0x10 + indexName + 0x00 + encodedKey + 0x00 + recordID -> empty
//   - Definitions: 0x11 + indexName -> fields joined by 0x00
//
// Because encoded keys end every slot with a fixed terminator, a lookup with
// k leading slots is one prefix iteration.
type BadgerStore struct {
	db       *badger.DB
	registry metrics.Registry

	mu      sync.Mutex
	indexes map[string]*BadgerIndex
	closed  bool
}

// OpenBadgerStore opens (or creates) a store.
func OpenBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	// A nil logger keeps BadgerDB quiet.
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger index store: %w", err)
	}

	registry := opts.Registry
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	return &BadgerStore{
		db:       db,
		registry: registry,
		indexes:  make(map[string]*BadgerIndex),
	}, nil
}

// Index returns the named index, creating it with def when it does not exist
// yet. Reopening an existing index with a different definition is an error.
func (s *BadgerStore) Index(name string, def Definition) (*BadgerIndex, error) {
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

	encodedDef := encodeFields(def.Fields)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(defKey(name))
		if err == badger.ErrKeyNotFound {
			return txn.Set(defKey(name), encodedDef)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if !bytes.Equal(val, encodedDef) {
				return fmt.Errorf("%w: index %s stored with different fields", ErrInvalidDef, name)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	idx := &BadgerIndex{
		usage: newUsage(s.registry, name),
		store: s,
		name:  name,
		def:   NewDefinition(def.Fields...),
	}
	s.indexes[name] = idx
	return idx, nil
}

// Factory returns a Factory creating indexes in this store.
func (s *BadgerStore) Factory() Factory {
	return func(name string, def Definition) (Index, error) {
		return s.Index(name, def)
	}
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// BadgerIndex is one index inside a BadgerStore.
type BadgerIndex struct {
	usage
	store *BadgerStore
	name  string
	def   Definition
}

// Name returns the index name.
func (b *BadgerIndex) Name() string { return b.name }

// Definition returns the indexed fields.
func (b *BadgerIndex) Definition() Definition { return b.def }

// Put adds rid under key.
func (b *BadgerIndex) Put(key any, rid storage.RecordID) error {
	if err := validateRecordID(rid); err != nil {
		return err
	}
	encoded, err := encodeLookup(b.def, key)
	if err != nil {
		return err
	}
	return b.store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.entryKey(encoded, rid), []byte{})
	})
}

// Remove deletes rid from key.
func (b *BadgerIndex) Remove(key any, rid storage.RecordID) error {
	encoded, err := encodeLookup(b.def, key)
	if err != nil {
		return err
	}
	return b.store.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(b.entryKey(encoded, rid))
	})
}

// Values returns the union of records stored under keys.
func (b *BadgerIndex) Values(ctx context.Context, keys []any) ([]storage.RecordID, error) {
	prefixes := make([][]byte, 0, len(keys))
	for _, key := range keys {
		encoded, err := encodeLookup(b.def, key)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, b.entryPrefix(encoded))
	}

	seen := make(map[storage.RecordID]struct{})
	out := []storage.RecordID{}
	err := b.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for _, prefix := range prefixes {
			if err := ctx.Err(); err != nil {
				return err
			}
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				k := it.Item().Key()
				sep := bytes.LastIndexByte(k, 0x00)
				rid := storage.RecordID(k[sep+1:])
				if _, dup := seen[rid]; dup {
					continue
				}
				seen[rid] = struct{}{}
				out = append(out, rid)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return storage.SortIDs(out), nil
}

// entryPrefix creates the iteration prefix for an encoded key.
// Format: prefix + indexName + 0x00 + encodedKey
func (b *BadgerIndex) entryPrefix(encoded string) []byte {
	key := make([]byte, 0, 1+len(b.name)+1+len(encoded))
	key = append(key, prefixIndexEntry)
	key = append(key, b.name...)
	key = append(key, 0x00)
	key = append(key, encoded...)
	return key
}

// entryKey creates the key of a single entry.
// Format: prefix + indexName + 0x00 + encodedKey + 0x00 + recordID
func (b *BadgerIndex) entryKey(encoded string, rid storage.RecordID) []byte {
	key := b.entryPrefix(encoded)
	key = append(key, 0x00)
	key = append(key, rid...)
	return key
}

func defKey(name string) []byte {
	return append([]byte{prefixIndexDef}, name...)
}

func encodeFields(fields []string) []byte {
	var buf bytes.Buffer
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(0x00)
		}
		buf.WriteString(f)
	}
	return buf.Bytes()
}

func sameFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
