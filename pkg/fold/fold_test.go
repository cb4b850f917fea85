package fold

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/pathfold/pkg/index"
	"github.com/orneryd/pathfold/pkg/schema"
	"github.com/orneryd/pathfold/pkg/storage"
)

// recordingIndex remembers every lookup made through it.
type recordingIndex struct {
	index.Index
	log *callLog
}

type call struct {
	index string
	keys  []any
}

type callLog struct {
	mu    sync.Mutex
	calls []call
}

func (l *callLog) add(name string, keys []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call{index: name, keys: append([]any{}, keys...)})
}

func (r *recordingIndex) Values(ctx context.Context, keys []any) ([]storage.RecordID, error) {
	r.log.add(r.Name(), keys)
	return r.Index.Values(ctx, keys)
}

func recordingFactory(log *callLog) index.Factory {
	return func(name string, def index.Definition) (index.Index, error) {
		m, err := index.NewMemoryIndex(name, def, nil)
		if err != nil {
			return nil, err
		}
		return &recordingIndex{Index: m, log: log}, nil
	}
}

const peopleSchema = `
classes:
  - name: Person
    properties:
      - {name: name}
      - {name: age, type: number}
      - {name: address, type: link, linked: Address}
      - {name: employer, type: link, linked: Company}
      - {name: spouse, type: link, linked: Person}
    indexes:
      - name: Person.address
        fields: [address]
      - name: Person.name_employer
        fields: [name, employer]
  - name: Address
    properties:
      - {name: street}
      - {name: zip}
      - {name: city, type: link, linked: City}
    indexes:
      - name: Address.city
        fields: [city]
  - name: City
    properties:
      - {name: name}
  - name: Company
    properties:
      - {name: name}
`

type fixture struct {
	schema *schema.Schema
	log    *callLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := &callLog{}
	s, err := schema.Parse([]byte(peopleSchema), recordingFactory(log))
	require.NoError(t, err)

	f := &fixture{schema: s, log: log}
	f.index(t, "Address", "a1", map[string]any{"city": storage.RecordID("c1")})
	f.index(t, "Address", "a2", map[string]any{"city": storage.RecordID("c2")})
	f.index(t, "Address", "a3", map[string]any{"city": storage.RecordID("c1")})
	f.index(t, "Person", "p1", map[string]any{"address": storage.RecordID("a1")})
	f.index(t, "Person", "p2", map[string]any{"address": storage.RecordID("a2")})
	f.index(t, "Person", "p3", map[string]any{"address": storage.RecordID("a3")})
	f.index(t, "Person", "p4", map[string]any{"name": "Homer"})
	return f
}

func (f *fixture) index(t *testing.T, class string, id storage.RecordID, fields map[string]any) {
	t.Helper()
	c, ok := f.schema.Class(class)
	require.True(t, ok)
	require.NoError(t, c.IndexRecord(&storage.Record{ID: id, Class: class, Fields: fields}))
}

func (f *fixture) class(t *testing.T, name string) *schema.Class {
	t.Helper()
	c, ok := f.schema.Class(name)
	require.True(t, ok)
	return c
}

func segmentNames(plan Plan) [][2]string {
	out := make([][2]string, len(plan.Segments))
	for i, s := range plan.Segments {
		out[i] = [2]string{s.Index().Name(), s.FieldName()}
	}
	return out
}

func TestResolve_EndToEnd(t *testing.T) {
	f := newFixture(t)
	person := f.class(t, "Person")

	plan, ok := Resolve([]string{"address", "city", "name"}, person)
	require.True(t, ok)
	assert.Equal(t, [][2]string{
		{"Person.address", "address"},
		{"Address.city", "city"},
	}, segmentNames(plan))
	assert.Equal(t, "City", plan.Final.Name())

	result := NewIncluded(storage.RecordID("c1"))
	require.NoError(t, Fold(context.Background(), plan.Segments, result))

	require.Len(t, f.log.calls, 2)
	assert.Equal(t, "Address.city", f.log.calls[0].index, "innermost hop is folded first")
	assert.Equal(t, []any{storage.RecordID("c1")}, f.log.calls[0].keys)
	assert.Equal(t, "Person.address", f.log.calls[1].index)
	assert.Equal(t, []any{storage.RecordID("a1"), storage.RecordID("a3")}, f.log.calls[1].keys)

	assert.True(t, result.IsIncluded())
	assert.Nil(t, result.Excluded())
	assert.Equal(t, []any{storage.RecordID("p1"), storage.RecordID("p3")}, result.Included())

	assert.Equal(t, int64(1), plan.Segments[0].Index().Usage())
	assert.Equal(t, int64(1), plan.Segments[1].Index().Usage())
}

func TestResolve_SingleSegment(t *testing.T) {
	f := newFixture(t)
	person := f.class(t, "Person")

	for _, path := range [][]string{{"name"}, {"anything"}, nil} {
		plan, rej := Analyze(path, person)
		require.Nil(t, rej, "path %v", path)
		assert.Empty(t, plan.Segments)
		assert.True(t, plan.Empty())
		assert.Same(t, person, plan.Final)
	}

	result := NewIncluded("Homer")
	before := result.Clone()
	plan, ok := Resolve([]string{"name"}, person)
	require.True(t, ok)
	require.NoError(t, Fold(context.Background(), plan.Segments, result))
	assert.Equal(t, before, result, "folding no segments is a no-op")
	assert.Empty(t, f.log.calls)
}

func TestResolve_Rejections(t *testing.T) {
	f := newFixture(t)
	person := f.class(t, "Person")

	tests := []struct {
		name   string
		path   []string
		want   Rejection
		reason string
	}{
		{
			name: "missing property",
			path: []string{"nope", "name"},
			want: Rejection{Position: 0, Segment: "nope", Class: "Person", Reason: ReasonMissingProperty},
		},
		{
			name: "missing property deeper in the path",
			path: []string{"address", "country", "name"},
			want: Rejection{Position: 1, Segment: "country", Class: "Address", Reason: ReasonMissingProperty},
		},
		{
			name: "scalar property",
			path: []string{"age", "value"},
			want: Rejection{Position: 0, Segment: "age", Class: "Person", Reason: ReasonNotLink},
		},
		{
			name: "link without index",
			path: []string{"spouse", "name"},
			want: Rejection{Position: 0, Segment: "spouse", Class: "Person", Reason: ReasonNoIndex},
		},
		{
			name: "only indexed as a trailing field",
			path: []string{"employer", "name"},
			want: Rejection{Position: 0, Segment: "employer", Class: "Person", Reason: ReasonNoLeadingIndex},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, ok := Resolve(tt.path, person)
			assert.False(t, ok)
			assert.Empty(t, plan.Segments)

			_, rej := Analyze(tt.path, person)
			require.NotNil(t, rej)
			assert.Equal(t, tt.want, *rej)
			assert.NotEmpty(t, rej.String())
		})
	}
}

func TestResolve_CaseInsensitive(t *testing.T) {
	f := newFixture(t)
	plan, ok := Resolve([]string{"ADDRESS", "City", "name"}, f.class(t, "Person"))
	require.True(t, ok)
	assert.Equal(t, [][2]string{
		{"Person.address", "ADDRESS"},
		{"Address.city", "City"},
	}, segmentNames(plan))
}

func TestResolve_EveryLeadingIndexIsAppended(t *testing.T) {
	f := newFixture(t)
	_, err := f.schema.AddCompositeIndex("Address", "Address.city_zip", "city", "zip")
	require.NoError(t, err)
	_, err = f.schema.AddCompositeIndex("Address", "Address.zip_city", "zip", "city")
	require.NoError(t, err)

	plan, ok := Resolve([]string{"city", "name"}, f.class(t, "Address"))
	require.True(t, ok)
	assert.Equal(t, [][2]string{
		{"Address.city", "city"},
		{"Address.city_zip", "city"},
	}, segmentNames(plan))
	for _, seg := range plan.Segments {
		assert.Equal(t, 0, seg.Position())
	}
}

func TestFold_CompositeIndexUsesLeadingSlot(t *testing.T) {
	log := &callLog{}
	idx, err := recordingFactory(log)("Address.city_zip", index.NewDefinition("city", "zip"))
	require.NoError(t, err)
	require.NoError(t, idx.Put(index.NewCompositeKey("Springfield", "10001"), "a1"))
	require.NoError(t, idx.Put(index.NewCompositeKey("Springfield", "10002"), "a2"))
	require.NoError(t, idx.Put(index.NewCompositeKey("Shelbyville", "20001"), "a3"))

	result := NewIncluded("Springfield")
	require.NoError(t, Fold(context.Background(), []Segment{newSegment(idx, "city", 0)}, result))

	require.Len(t, log.calls, 1)
	require.Len(t, log.calls[0].keys, 1)
	key, ok := log.calls[0].keys[0].(index.CompositeKey)
	require.True(t, ok, "composite indexes are queried with composite keys")
	assert.Equal(t, []any{"Springfield"}, key.Values, "only the first slot is populated")

	assert.Equal(t, []any{storage.RecordID("a1"), storage.RecordID("a2")}, result.Included())
}

func TestFold_PreservesPolarity(t *testing.T) {
	f := newFixture(t)
	plan, ok := Resolve([]string{"address", "city", "name"}, f.class(t, "Person"))
	require.True(t, ok)

	result := NewExcluded(storage.RecordID("c2"))
	require.NoError(t, Fold(context.Background(), plan.Segments, result))

	assert.True(t, result.IsExcluded())
	assert.False(t, result.IsIncluded())
	assert.Nil(t, result.Included())
	assert.Equal(t, []any{storage.RecordID("p2")}, result.Excluded())
}

func TestFold_EmptyCandidates(t *testing.T) {
	f := newFixture(t)
	plan, ok := Resolve([]string{"address", "city", "name"}, f.class(t, "Person"))
	require.True(t, ok)

	result := NewIncluded(storage.RecordID("c404"))
	require.NoError(t, Fold(context.Background(), plan.Segments, result))
	assert.True(t, result.IsIncluded())
	assert.Empty(t, result.Included())
}

func TestFold_Unconstrained(t *testing.T) {
	f := newFixture(t)
	plan, ok := Resolve([]string{"address", "city", "name"}, f.class(t, "Person"))
	require.True(t, ok)

	result := Unconstrained()
	err := Fold(context.Background(), plan.Segments, result)
	assert.ErrorIs(t, err, ErrUnconstrained)
	assert.True(t, result.IsUnconstrained())
	assert.Empty(t, f.log.calls)
}

func TestFold_Cancelled(t *testing.T) {
	f := newFixture(t)
	plan, ok := Resolve([]string{"address", "city", "name"}, f.class(t, "Person"))
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := NewIncluded(storage.RecordID("c1"))
	err := Fold(ctx, plan.Segments, result)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.log.calls, "no index is called after cancellation")
	assert.Equal(t, []any{storage.RecordID("c1")}, result.Included())
}

// brokenIndex reports an empty key definition.
type brokenIndex struct {
	index.Index
}

func (brokenIndex) Definition() index.Definition { return index.Definition{} }

func TestFold_InvalidDefinition(t *testing.T) {
	m, err := index.NewMemoryIndex("Address.city", index.NewDefinition("city"), nil)
	require.NoError(t, err)

	result := NewIncluded("Springfield")
	err = Fold(context.Background(), []Segment{newSegment(brokenIndex{m}, "city", 0)}, result)
	assert.ErrorIs(t, err, ErrInvalidDefinition)
	assert.Contains(t, err.Error(), "Address.city")
	assert.Equal(t, []any{"Springfield"}, result.Included(), "result is left as it was")
	assert.Equal(t, int64(0), m.Usage())
}

func TestSearchResult(t *testing.T) {
	t.Run("sides are exclusive", func(t *testing.T) {
		r := NewIncluded("a")
		r.SetExcluded([]any{"b"})
		assert.Nil(t, r.Included())
		assert.Equal(t, []any{"b"}, r.Excluded())

		r.SetIncluded(nil)
		assert.True(t, r.IsIncluded(), "an empty allow-list is still included")
		assert.Nil(t, r.Excluded())
	})

	t.Run("values are deduplicated by key", func(t *testing.T) {
		r := NewIncluded("a", "a", 1, int64(1), 1.0, "1")
		assert.Equal(t, []any{"a", 1, "1"}, r.Included())
	})

	t.Run("unconstrained", func(t *testing.T) {
		r := Unconstrained()
		assert.True(t, r.IsUnconstrained())
		assert.False(t, r.IsIncluded())
		assert.False(t, r.IsExcluded())
	})

	t.Run("clone is independent", func(t *testing.T) {
		r := NewIncluded("a")
		c := r.Clone()
		c.SetExcluded([]any{"b"})
		assert.Equal(t, []any{"a"}, r.Included())
	})
}
