package storage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	require.NotNil(t, store)
	assert.NotNil(t, store.records)
	assert.NotNil(t, store.byClass)
	assert.False(t, store.closed)
}

func TestMemoryStore_CreateRecord(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		store := NewMemoryStore()
		err := store.CreateRecord(&Record{
			ID:     "p1",
			Class:  "Person",
			Fields: map[string]any{"name": "Alice", "friends": []any{RecordID("p2")}},
		})
		require.NoError(t, err)

		stored, err := store.GetRecord("p1")
		require.NoError(t, err)
		assert.Equal(t, "Person", stored.Class)
		assert.Equal(t, "Alice", stored.Fields["name"])
		assert.Equal(t, []any{RecordID("p2")}, stored.Fields["friends"])
	})

	t.Run("nil record", func(t *testing.T) {
		store := NewMemoryStore()
		assert.ErrorIs(t, store.CreateRecord(nil), ErrInvalidData)
	})

	t.Run("missing class", func(t *testing.T) {
		store := NewMemoryStore()
		assert.ErrorIs(t, store.CreateRecord(&Record{ID: "p1"}), ErrInvalidData)
	})

	t.Run("empty ID", func(t *testing.T) {
		store := NewMemoryStore()
		assert.ErrorIs(t, store.CreateRecord(&Record{Class: "Person"}), ErrInvalidID)
	})

	t.Run("duplicate ID", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.CreateRecord(&Record{ID: "p1", Class: "Person"}))
		assert.ErrorIs(t, store.CreateRecord(&Record{ID: "p1", Class: "Person"}), ErrAlreadyExists)
	})
}

func TestMemoryStore_CopiesInAndOut(t *testing.T) {
	store := NewMemoryStore()
	friends := []any{RecordID("p2")}
	rec := &Record{ID: "p1", Class: "Person", Fields: map[string]any{"name": "Alice", "friends": friends}}
	require.NoError(t, store.CreateRecord(rec))

	rec.Fields["name"] = "Mallory"
	friends[0] = RecordID("p9")

	got, err := store.GetRecord("p1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Fields["name"])
	assert.Equal(t, []any{RecordID("p2")}, got.Fields["friends"])

	got.Fields["name"] = "Eve"
	again, err := store.GetRecord("p1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", again.Fields["name"])
}

func TestMemoryStore_GetRecord(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.GetRecord("")
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = store.GetRecord("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.CreateRecord(&Record{ID: "c1", Class: "City"}))
	rec, err := store.LoadRecord("c1")
	require.NoError(t, err)
	assert.Equal(t, RecordID("c1"), rec.ID)
}

func TestMemoryStore_UpdateRecord(t *testing.T) {
	t.Run("moves class membership", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.CreateRecord(&Record{ID: "r1", Class: "Person"}))
		require.NoError(t, store.UpdateRecord(&Record{ID: "r1", Class: "City"}))

		people, err := store.IDsByClass("Person")
		require.NoError(t, err)
		assert.Empty(t, people)

		cities, err := store.IDsByClass("City")
		require.NoError(t, err)
		assert.Equal(t, []RecordID{"r1"}, cities)
	})

	t.Run("not found", func(t *testing.T) {
		store := NewMemoryStore()
		assert.ErrorIs(t, store.UpdateRecord(&Record{ID: "r1", Class: "Person"}), ErrNotFound)
	})

	t.Run("invalid", func(t *testing.T) {
		store := NewMemoryStore()
		assert.ErrorIs(t, store.UpdateRecord(nil), ErrInvalidData)
		assert.ErrorIs(t, store.UpdateRecord(&Record{Class: "Person"}), ErrInvalidID)
	})
}

func TestMemoryStore_DeleteRecord(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.CreateRecord(&Record{ID: "r1", Class: "Person"}))

	require.NoError(t, store.DeleteRecord("r1"))
	assert.ErrorIs(t, store.DeleteRecord("r1"), ErrNotFound)
	assert.ErrorIs(t, store.DeleteRecord(""), ErrInvalidID)

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMemoryStore_Callbacks(t *testing.T) {
	store := NewMemoryStore()

	var events []string
	store.OnRecordCreated(func(rec, previous *Record) {
		assert.Nil(t, previous)
		events = append(events, "created "+rec.ID.String())
	})
	store.OnRecordUpdated(func(rec, previous *Record) {
		require.NotNil(t, previous)
		events = append(events, fmt.Sprintf("updated %s %v->%v", rec.ID, previous.Fields["n"], rec.Fields["n"]))
	})
	store.OnRecordDeleted(func(rec *Record) {
		events = append(events, "deleted "+rec.ID.String())
	})

	require.NoError(t, store.CreateRecord(&Record{ID: "r1", Class: "C", Fields: map[string]any{"n": 1}}))
	require.NoError(t, store.UpdateRecord(&Record{ID: "r1", Class: "C", Fields: map[string]any{"n": 2}}))
	require.NoError(t, store.DeleteRecord("r1"))

	assert.Equal(t, []string{"created r1", "updated r1 1->2", "deleted r1"}, events)
}

func TestMemoryStore_ByClass(t *testing.T) {
	store := NewMemoryStore()
	for _, id := range []RecordID{"p3", "p1", "p2"} {
		require.NoError(t, store.CreateRecord(&Record{ID: id, Class: "Person"}))
	}
	require.NoError(t, store.CreateRecord(&Record{ID: "c1", Class: "City"}))

	ids, err := store.IDsByClass("person")
	require.NoError(t, err)
	assert.Equal(t, []RecordID{"p1", "p2", "p3"}, ids, "class lookup is case-insensitive and ordered")

	records, err := store.RecordsByClass("PERSON")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, RecordID("p1"), records[0].ID)

	ids, err = store.IDsByClass("Robot")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryStore_Close(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.CreateRecord(&Record{ID: "r1", Class: "C"}))
	require.NoError(t, store.Close())

	_, err := store.GetRecord("r1")
	assert.ErrorIs(t, err, ErrStorageClosed)
	assert.ErrorIs(t, store.CreateRecord(&Record{ID: "r2", Class: "C"}), ErrStorageClosed)
	_, err = store.RecordsByClass("C")
	assert.ErrorIs(t, err, ErrStorageClosed)
	_, err = store.Count()
	assert.ErrorIs(t, err, ErrStorageClosed)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := RecordID(fmt.Sprintf("r%02d", i))
			assert.NoError(t, store.CreateRecord(&Record{ID: id, Class: "C"}))
			_, err := store.GetRecord(id)
			assert.NoError(t, err)
			_, err = store.IDsByClass("C")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(20), n)
}

func TestRecord_Copy(t *testing.T) {
	var nilRec *Record
	assert.Nil(t, nilRec.Copy())

	rec := &Record{ID: "r1", Class: "C", Fields: map[string]any{
		"ids":  []RecordID{"a", "b"},
		"meta": map[string]any{"tags": []any{"x"}},
	}}
	cp := rec.Copy()
	cp.Fields["ids"].([]RecordID)[0] = "z"
	cp.Fields["meta"].(map[string]any)["tags"].([]any)[0] = "y"

	assert.Equal(t, RecordID("a"), rec.Fields["ids"].([]RecordID)[0])
	assert.Equal(t, "x", rec.Fields["meta"].(map[string]any)["tags"].([]any)[0])
}

func TestRecord_Field(t *testing.T) {
	var nilRec *Record
	_, ok := nilRec.Field("name")
	assert.False(t, ok)

	rec := &Record{Fields: map[string]any{"name": "Alice", "empty": nil}}
	v, ok := rec.Field("name")
	assert.True(t, ok)
	assert.Equal(t, "Alice", v)

	v, ok = rec.Field("empty")
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestNewRecordID(t *testing.T) {
	a, b := NewRecordID(), NewRecordID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
	assert.Equal(t, string(a), a.String())
	assert.Equal(t, []RecordID{"a", "b", "c"}, SortIDs([]RecordID{"c", "a", "b"}))
}
