// Package pathfold ties records, schema, indexes and the planner into one
// database answering path filters.
//
// Example:
//
//	db, err := pathfold.Open(config.LoadDefaults())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	res, err := db.Filter(ctx, planner.Query{
//		Class:  "Person",
//		Path:   "address.city.name",
//		Values: []any{"Springfield"},
//	})
//
// Records are kept in memory. Indexes live in the configured backend and are
// maintained on every Insert, Update and Delete.
package pathfold

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	metrics "github.com/rcrowley/go-metrics"

	"github.com/orneryd/pathfold/pkg/config"
	"github.com/orneryd/pathfold/pkg/index"
	"github.com/orneryd/pathfold/pkg/logging"
	"github.com/orneryd/pathfold/pkg/planner"
	"github.com/orneryd/pathfold/pkg/schema"
	"github.com/orneryd/pathfold/pkg/storage"
)

// Errors returned by DB operations.
var (
	ErrClosed       = errors.New("database is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// DB is a pathfold database.
type DB struct {
	config *config.Config
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool

	schema   *schema.Schema
	store    *storage.MemoryStore
	planner  *planner.Planner
	registry metrics.Registry

	// writeMu serialises writes so index errors raised in store callbacks
	// reach the write that caused them.
	writeMu  sync.Mutex
	indexErr error

	closers []io.Closer
}

// Option configures Open.
type Option func(*DB)

// WithLogger overrides the logger built from the logging config.
func WithLogger(logger *slog.Logger) Option {
	return func(db *DB) { db.logger = logger }
}

// Open creates a database from cfg. A nil cfg uses the defaults.
func Open(cfg *config.Config, opts ...Option) (*DB, error) {
	if cfg == nil {
		cfg = config.LoadDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db := &DB{
		config:   cfg,
		store:    storage.NewMemoryStore(),
		registry: metrics.NewRegistry(),
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.logger == nil {
		logger, closer, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, err
		}
		db.logger = logger
		db.closers = append(db.closers, closer)
	}

	factory, err := db.openIndexBackend()
	if err != nil {
		db.closeInternal()
		return nil, err
	}

	if cfg.Storage.SchemaFile != "" {
		s, err := schema.LoadFile(cfg.Storage.SchemaFile, factory)
		if err != nil {
			db.closeInternal()
			return nil, err
		}
		db.schema = s
	} else {
		db.schema = schema.New(factory)
	}

	db.store.OnRecordCreated(db.onCreated)
	db.store.OnRecordUpdated(db.onUpdated)
	db.store.OnRecordDeleted(db.onDeleted)

	db.planner, err = planner.New(db.schema, db.store,
		planner.WithLogger(db.logger),
		planner.WithCacheSize(cfg.Planner.CacheSize),
		planner.WithFolding(cfg.Planner.FoldingEnabled),
		planner.WithRegistry(db.registry),
	)
	if err != nil {
		db.closeInternal()
		return nil, err
	}

	if cfg.Storage.RecordsFile != "" {
		n, err := db.LoadRecordsFile(cfg.Storage.RecordsFile)
		if err != nil {
			db.closeInternal()
			return nil, err
		}
		db.logger.Info("records loaded", "file", cfg.Storage.RecordsFile, "count", n)
	}

	db.logger.Debug("database opened", "config", cfg.String())
	return db, nil
}

func (db *DB) openIndexBackend() (index.Factory, error) {
	switch db.config.Storage.Backend {
	case config.BackendBadger:
		dir := filepath.Join(db.config.Storage.DataDir, "indexes")
		store, err := index.OpenBadgerStore(index.BadgerOptions{
			DataDir:    dir,
			SyncWrites: db.config.Storage.SyncWrites,
			Logger:     logging.Badger{Logger: db.logger},
			Registry:   db.registry,
		})
		if err != nil {
			return nil, err
		}
		db.closers = append(db.closers, store)
		return store.Factory(), nil

	case config.BackendSQLite:
		if err := os.MkdirAll(db.config.Storage.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := index.OpenSQLiteStore(filepath.Join(db.config.Storage.DataDir, "indexes.db"), db.registry)
		if err != nil {
			return nil, err
		}
		db.closers = append(db.closers, store)
		return store.Factory(), nil

	default:
		return index.MemoryFactory(db.registry), nil
	}
}

// Schema returns the schema. Classes, properties and indexes may be added at
// any time; indexes added after records were inserted are filled by Reindex.
func (db *DB) Schema() *schema.Schema {
	return db.schema
}

// Registry returns the metrics registry holding index usage counters and
// planner timers.
func (db *DB) Registry() metrics.Registry {
	return db.registry
}

// Insert stores a new record and indexes it. An empty ID is generated. Link
// fields given as strings are converted to record IDs.
func (db *DB) Insert(rec *storage.Record) (storage.RecordID, error) {
	if err := db.checkOpen(); err != nil {
		return "", err
	}
	if rec == nil {
		return "", fmt.Errorf("%w: nil record", ErrInvalidInput)
	}
	prepared, err := db.prepare(rec)
	if err != nil {
		return "", err
	}
	if prepared.ID == "" {
		prepared.ID = storage.NewRecordID()
	}

	err = db.write(func() error { return db.store.CreateRecord(prepared) })
	if err != nil {
		return "", err
	}
	return prepared.ID, nil
}

// Update replaces a stored record and moves its index entries.
func (db *DB) Update(rec *storage.Record) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidInput)
	}
	prepared, err := db.prepare(rec)
	if err != nil {
		return err
	}
	return db.write(func() error { return db.store.UpdateRecord(prepared) })
}

// Delete removes a record and its index entries.
func (db *DB) Delete(id storage.RecordID) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.write(func() error { return db.store.DeleteRecord(id) })
}

// Get returns a copy of a record.
func (db *DB) Get(id storage.RecordID) (*storage.Record, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.store.GetRecord(id)
}

// Count returns the number of records.
func (db *DB) Count() (int64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	return db.store.Count()
}

// CountClass returns the number of records of class.
func (db *DB) CountClass(class string) (int, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	c, ok := db.schema.Class(class)
	if !ok {
		return 0, fmt.Errorf("%w: %s", schema.ErrClassNotFound, class)
	}
	ids, err := db.store.IDsByClass(c.Name())
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Reindex adds every record of class to its indexes. Adding entries that
// already exist is harmless.
func (db *DB) Reindex(class string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	c, ok := db.schema.Class(class)
	if !ok {
		return fmt.Errorf("%w: %s", schema.ErrClassNotFound, class)
	}
	records, err := db.store.RecordsByClass(c.Name())
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := c.IndexRecord(rec); err != nil {
			return err
		}
	}
	return nil
}

// Filter answers a path filter.
func (db *DB) Filter(ctx context.Context, q planner.Query) (*planner.Result, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := db.planner.Filter(ctx, q)
	if err != nil {
		return nil, err
	}

	threshold := db.config.Planner.SlowQueryThreshold
	if elapsed := time.Since(start); threshold > 0 && elapsed > threshold {
		db.logger.Warn("slow query",
			"class", q.Class,
			"path", q.Path,
			"strategy", res.Strategy.String(),
			"elapsed", elapsed)
	}
	return res, nil
}

// Explain describes how a path filter would be answered.
func (db *DB) Explain(class, path string) (*planner.Explanation, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.planner.Explain(class, path)
}

// IndexUsage returns how often each index served a query, by index name.
func (db *DB) IndexUsage() map[string]int64 {
	out := make(map[string]int64)
	for _, c := range db.schema.Classes() {
		for _, idx := range c.Indexes() {
			out[idx.Name()] = idx.Usage()
		}
	}
	return out
}

// Close releases the index backend and the record store.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	return db.closeInternal()
}

// closeInternal performs cleanup without requiring the lock.
// Used during initialization failures and normal close.
func (db *DB) closeInternal() error {
	var errs []error
	if err := db.store.Close(); err != nil {
		errs = append(errs, err)
	}
	for i := len(db.closers) - 1; i >= 0; i-- {
		if err := db.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (db *DB) checkOpen() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	return nil
}

// write runs a store mutation and returns the first index error raised by
// its callbacks.
func (db *DB) write(fn func() error) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	db.indexErr = nil
	if err := fn(); err != nil {
		return err
	}
	err := db.indexErr
	db.indexErr = nil
	return err
}

func (db *DB) setIndexErr(err error) {
	if err == nil {
		return
	}
	db.logger.Error("index maintenance failed", "error", err)
	if db.indexErr == nil {
		db.indexErr = err
	}
}

func (db *DB) onCreated(rec, _ *storage.Record) {
	if c, ok := db.schema.Class(rec.Class); ok {
		db.setIndexErr(c.IndexRecord(rec))
	}
}

func (db *DB) onUpdated(rec, previous *storage.Record) {
	if previous != nil {
		if c, ok := db.schema.Class(previous.Class); ok {
			db.setIndexErr(c.UnindexRecord(previous))
		}
	}
	if c, ok := db.schema.Class(rec.Class); ok {
		db.setIndexErr(c.IndexRecord(rec))
	}
}

func (db *DB) onDeleted(rec *storage.Record) {
	if c, ok := db.schema.Class(rec.Class); ok {
		db.setIndexErr(c.UnindexRecord(rec))
	}
}
