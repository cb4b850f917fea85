// Package fold turns a navigation path into a chain of index lookups.
//
// Resolve checks, against the schema, that every hop of a path such as
// address.city.name follows a link property covered by an index whose leading
// field is that property. Fold then walks the resolved hops from the innermost
// outward, feeding each index the values produced by the previous step, so a
// constraint on the terminal field becomes a set of start-class records
// without scanning them.
package fold

import (
	"fmt"

	"github.com/orneryd/pathfold/pkg/index"
	"github.com/orneryd/pathfold/pkg/schema"
)

// Segment is one resolved hop: the index that answers it and the field it
// navigates, which is the index's leading field.
type Segment struct {
	index     index.Index
	fieldName string
	position  int
}

func newSegment(idx index.Index, fieldName string, position int) Segment {
	return Segment{index: idx, fieldName: fieldName, position: position}
}

// Index returns the index answering the hop.
func (s Segment) Index() index.Index { return s.index }

// FieldName returns the link property the hop navigates.
func (s Segment) FieldName() string { return s.fieldName }

// Position is the index of the hop in the path. Segments of a hop answered by
// several indexes share it.
func (s Segment) Position() int { return s.position }

// String renders the segment as "field via index".
func (s Segment) String() string {
	return fmt.Sprintf("%s via %s", s.fieldName, s.index.Name())
}

// Plan is the outcome of a successful resolution.
type Plan struct {
	// Segments in traversal order, outermost hop first.
	Segments []Segment
	// Final is the class reached after the last hop. The terminal path field
	// is a property of Final.
	Final *schema.Class
}

// Empty reports whether the plan has no hops to fold.
func (p Plan) Empty() bool { return len(p.Segments) == 0 }
