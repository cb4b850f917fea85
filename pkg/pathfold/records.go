package pathfold

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/pathfold/pkg/schema"
	"github.com/orneryd/pathfold/pkg/storage"
)

// RecordsFile is the YAML layout of a record dump.
//
//	records:
//	  - id: c1
//	    class: City
//	    fields: {name: Springfield}
//	  - id: p1
//	    class: Person
//	    fields: {name: Homer, address: a1, friends: [p2, p3]}
type RecordsFile struct {
	Records []RecordEntry `yaml:"records"`
}

// RecordEntry is one record in a RecordsFile.
type RecordEntry struct {
	ID     string         `yaml:"id"`
	Class  string         `yaml:"class"`
	Fields map[string]any `yaml:"fields"`
}

// LoadRecordsFile inserts every record of a YAML dump and returns how many
// were inserted. Loading stops at the first failing record.
func (db *DB) LoadRecordsFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read records file: %w", err)
	}
	var f RecordsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("failed to parse records file %s: %w", path, err)
	}

	for i, entry := range f.Records {
		rec := &storage.Record{
			ID:     storage.RecordID(entry.ID),
			Class:  entry.Class,
			Fields: entry.Fields,
		}
		if _, err := db.Insert(rec); err != nil {
			return i, fmt.Errorf("record %d (%s): %w", i, entry.ID, err)
		}
	}
	return len(f.Records), nil
}

// prepare checks rec against the schema and returns a copy whose fields are
// keyed by their declared property names and whose link fields hold record
// IDs. Fields the schema does not declare are kept as given.
func (db *DB) prepare(rec *storage.Record) (*storage.Record, error) {
	c, ok := db.schema.Class(rec.Class)
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrClassNotFound, rec.Class)
	}

	out := rec.Copy()
	out.Class = c.Name()
	fields := make(map[string]any, len(out.Fields))
	for name, v := range out.Fields {
		p, ok := c.Property(name)
		if !ok {
			fields[name] = v
			continue
		}
		if _, dup := fields[p.Name()]; dup {
			return nil, fmt.Errorf("%w: %s.%s is set more than once", ErrInvalidInput, c.Name(), p.Name())
		}
		if p.IsLink() {
			link, err := toLink(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidInput, c.Name(), name, err)
			}
			v = link
		}
		fields[p.Name()] = v
	}
	out.Fields = fields
	return out, nil
}

// toLink converts a link field value to a RecordID or a list of them.
func toLink(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case storage.RecordID:
		return x, nil
	case string:
		return storage.RecordID(x), nil
	case []storage.RecordID:
		out := make([]any, len(x))
		for i, id := range x {
			out[i] = id
		}
		return out, nil
	case []string:
		out := make([]any, len(x))
		for i, id := range x {
			out[i] = storage.RecordID(id)
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(x))
		for _, item := range x {
			id, err := toLink(item)
			if err != nil {
				return nil, err
			}
			if _, nested := id.([]any); nested {
				return nil, fmt.Errorf("nested link lists are not supported")
			}
			if id != nil {
				out = append(out, id)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("link must be a record ID, got %T", v)
}
