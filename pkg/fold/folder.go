package fold

import (
	"context"
	"errors"
	"fmt"

	"github.com/orneryd/pathfold/pkg/index"
)

// Errors returned by Fold.
var (
	ErrUnconstrained     = errors.New("search result has neither included nor excluded values")
	ErrInvalidDefinition = errors.New("index has an empty key definition")
)

// Fold narrows result through segments, innermost hop first.
//
// Each step looks up the values on the result's active side in the hop's
// index and replaces them with the matching record IDs. A composite index is
// queried with its leading slot only. The active side never changes, so an
// excluded result stays excluded. ctx is checked before every index call.
//
// segments must come from a successful Resolve. An empty list leaves result
// untouched. If a step fails, result keeps the values of the last completed
// step.
func Fold(ctx context.Context, segments []Segment, result *SearchResult) error {
	if len(segments) == 0 {
		return nil
	}

	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if err := ctx.Err(); err != nil {
			return err
		}

		values, set, ok := result.active()
		if !ok {
			return ErrUnconstrained
		}

		def := seg.index.Definition()
		if len(def.Fields) == 0 {
			return fmt.Errorf("%w: %s", ErrInvalidDefinition, seg.index.Name())
		}

		keys := values
		if def.IsComposite() {
			keys = make([]any, len(values))
			for j, v := range values {
				keys[j] = index.NewCompositeKey(v)
			}
		}

		ids, err := seg.index.Values(ctx, keys)
		if err != nil {
			return fmt.Errorf("fold %s through %s: %w", seg.fieldName, seg.index.Name(), err)
		}

		next := make([]any, len(ids))
		for j, id := range ids {
			next[j] = id
		}
		set(next)
		seg.index.RecordUsage()
	}
	return nil
}
