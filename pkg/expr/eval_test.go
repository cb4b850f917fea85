package expr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/pathfold/pkg/storage"
)

func newLinkedStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	records := []*storage.Record{
		{ID: "city-1", Class: "City", Fields: map[string]any{"name": "Springfield"}},
		{ID: "addr-1", Class: "Address", Fields: map[string]any{"street": "742 Evergreen", "city": storage.RecordID("city-1")}},
		{ID: "person-1", Class: "Person", Fields: map[string]any{
			"name":    "Homer",
			"address": storage.RecordID("addr-1"),
			"friends": []any{storage.RecordID("person-2"), storage.RecordID("missing")},
		}},
		{ID: "person-2", Class: "Person", Fields: map[string]any{"name": "Ned"}},
	}
	for _, r := range records {
		require.NoError(t, store.CreateRecord(r))
	}
	return store
}

func TestEvaluate_PathFollowsLinks(t *testing.T) {
	store := newLinkedStore(t)
	c := NewContext(context.Background(), store)
	person, err := store.GetRecord("person-1")
	require.NoError(t, err)

	got, err := Evaluate(c, MustParsePath("address.city.name"), person)
	require.NoError(t, err)
	assert.Equal(t, "Springfield", got)

	// Starting from an ID works the same as starting from the record.
	got, err = Evaluate(c, MustParsePath("address.city.name"), storage.RecordID("person-1"))
	require.NoError(t, err)
	assert.Equal(t, "Springfield", got)
}

func TestEvaluate_Composition(t *testing.T) {
	store := newLinkedStore(t)
	c := NewContext(context.Background(), store)

	exprs := []Expression{
		NewName("address"),
		NewName("city"),
		MustParsePath("city.name"),
		NewLiteral("constant"),
		NewName("missing"),
	}
	candidates := []any{
		storage.RecordID("person-1"),
		storage.RecordID("addr-1"),
		map[string]any{"address": storage.RecordID("addr-1"), "city": storage.RecordID("city-1")},
		nil,
	}

	for _, a := range exprs {
		for _, b := range exprs {
			for _, x := range candidates {
				whole, err := Evaluate(c, NewPath(a, b), x)
				require.NoError(t, err)

				inner, err := Evaluate(c, a, x)
				require.NoError(t, err)
				stepwise, err := Evaluate(c, b, inner)
				require.NoError(t, err)

				assert.Equal(t, stepwise, whole, "path %s.%s on %v", a, b, x)
			}
		}
	}
}

func TestEvaluate_NullPropagation(t *testing.T) {
	store := newLinkedStore(t)
	c := NewContext(context.Background(), store)

	got, err := Evaluate(c, MustParsePath("address.city.name"), storage.RecordID("person-2"))
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = Evaluate(c, MustParsePath("name"), storage.RecordID("nope"))
	require.NoError(t, err, "dangling links evaluate to nil")
	assert.Nil(t, got)

	got, err = Evaluate(c, MustParsePath("name"), 42)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEvaluate_ListNavigation(t *testing.T) {
	store := newLinkedStore(t)
	c := NewContext(context.Background(), store)

	got, err := Evaluate(c, MustParsePath("friends.name"), storage.RecordID("person-1"))
	require.NoError(t, err)
	assert.Equal(t, []any{"Ned"}, got)
}

func TestEvaluate_Variables(t *testing.T) {
	store := newLinkedStore(t)
	c := NewContext(context.Background(), store).Set("home", storage.RecordID("addr-1"))

	got, err := Evaluate(c, MustParsePath("$home.city.name"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Springfield", got)

	_, err = Evaluate(c, NewVariable("unset"), nil)
	assert.True(t, errors.Is(err, ErrUnboundVariable))
}

func TestEvaluate_NoLoader(t *testing.T) {
	var c Context
	got, err := Evaluate(&c, NewName("a"), map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	got, err = Evaluate(&c, NewName("a"), storage.RecordID("x"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEvaluate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewContext(ctx, nil)

	_, err := Evaluate(c, MustParsePath("a.b"), map[string]any{})
	assert.ErrorIs(t, err, context.Canceled)
}

type failingLoader struct{}

func (failingLoader) LoadRecord(id storage.RecordID) (*storage.Record, error) {
	return nil, storage.ErrStorageClosed
}

func TestEvaluate_LoaderError(t *testing.T) {
	c := NewContext(context.Background(), failingLoader{})
	_, err := Evaluate(c, MustParsePath("a.b"), storage.RecordID("x"))
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
