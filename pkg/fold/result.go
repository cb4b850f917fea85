package fold

import (
	"github.com/orneryd/pathfold/pkg/index"
)

// SearchResult is the candidate set of one query: an allow-list (included),
// a deny-list (excluded), or neither when the query is unconstrained. At most
// one side is non-nil. A SearchResult belongs to a single query execution and
// is not safe for concurrent use.
type SearchResult struct {
	included []any
	excluded []any
}

// NewIncluded returns a result allowing only values.
func NewIncluded(values ...any) *SearchResult {
	r := &SearchResult{}
	r.SetIncluded(values)
	return r
}

// NewExcluded returns a result denying values.
func NewExcluded(values ...any) *SearchResult {
	r := &SearchResult{}
	r.SetExcluded(values)
	return r
}

// Unconstrained returns a result with neither side set.
func Unconstrained() *SearchResult {
	return &SearchResult{}
}

// Included returns the allow-list, or nil when the result is not included.
func (r *SearchResult) Included() []any { return r.included }

// Excluded returns the deny-list, or nil when the result is not excluded.
func (r *SearchResult) Excluded() []any { return r.excluded }

func (r *SearchResult) IsIncluded() bool { return r.included != nil }

func (r *SearchResult) IsExcluded() bool { return r.excluded != nil }

func (r *SearchResult) IsUnconstrained() bool { return r.included == nil && r.excluded == nil }

// SetIncluded replaces the allow-list and clears the deny-list. A nil slice
// is stored as an empty allow-list, which matches nothing.
func (r *SearchResult) SetIncluded(values []any) {
	r.included = dedupe(values)
	r.excluded = nil
}

// SetExcluded replaces the deny-list and clears the allow-list. A nil slice is
// stored as an empty deny-list, which matches everything.
func (r *SearchResult) SetExcluded(values []any) {
	r.excluded = dedupe(values)
	r.included = nil
}

// Clone returns an independent copy.
func (r *SearchResult) Clone() *SearchResult {
	out := &SearchResult{}
	if r.included != nil {
		out.included = append([]any{}, r.included...)
	}
	if r.excluded != nil {
		out.excluded = append([]any{}, r.excluded...)
	}
	return out
}

// active returns the non-nil side and a setter writing back to the same side.
func (r *SearchResult) active() ([]any, func([]any), bool) {
	switch {
	case r.included != nil:
		return r.included, r.SetIncluded, true
	case r.excluded != nil:
		return r.excluded, r.SetExcluded, true
	}
	return nil, nil, false
}

// dedupe drops values equal as index keys, keeping first occurrences in order.
func dedupe(values []any) []any {
	out := make([]any, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		h := index.NewCompositeKey(v).Hash
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, v)
	}
	return out
}
