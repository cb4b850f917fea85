package fold

import (
	"fmt"
	"strings"

	"github.com/orneryd/pathfold/pkg/schema"
)

// Reason says why a path cannot be folded.
type Reason int

const (
	// ReasonMissingProperty: the class has no property with the segment name.
	ReasonMissingProperty Reason = iota + 1
	// ReasonNotLink: the property is scalar and cannot be navigated.
	ReasonNotLink
	// ReasonNoIndex: no index of the class involves the property.
	ReasonNoIndex
	// ReasonNoLeadingIndex: indexes involve the property, but none leads with it.
	ReasonNoLeadingIndex
)

// String returns a short description of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonMissingProperty:
		return "missing property"
	case ReasonNotLink:
		return "not a link"
	case ReasonNoIndex:
		return "no index"
	case ReasonNoLeadingIndex:
		return "no index leading with field"
	}
	return "unknown"
}

// Rejection describes the hop that stopped a path from being folded.
type Rejection struct {
	// Position of the offending segment in the path.
	Position int
	Segment  string
	// Class is the name of the class the segment was looked up on.
	Class  string
	Reason Reason
}

// String renders the rejected segment, its class and the reason.
func (r *Rejection) String() string {
	return fmt.Sprintf("segment %d %q on %s: %s", r.Position, r.Segment, r.Class, r.Reason)
}

// Resolve reports whether path, starting at start, can be folded through
// indexes. ok is false when it cannot; callers then evaluate the path per
// record instead.
//
// Every segment but the last must be a link property of the current class
// with at least one index leading with it. The last segment is the field being
// filtered and is not resolved. A path of one segment resolves to an empty
// plan on start.
func Resolve(path []string, start *schema.Class) (Plan, bool) {
	plan, rej := Analyze(path, start)
	return plan, rej == nil
}

// Analyze is Resolve returning the reason for a failure.
func Analyze(path []string, start *schema.Class) (Plan, *Rejection) {
	current := start
	var segments []Segment

	for i := 0; i < len(path)-1; i++ {
		name := path[i]
		reject := func(reason Reason) (Plan, *Rejection) {
			return Plan{}, &Rejection{Position: i, Segment: name, Class: current.Name(), Reason: reason}
		}

		prop, ok := current.Property(name)
		if !ok {
			return reject(ReasonMissingProperty)
		}
		linked, ok := prop.LinkedClass()
		if !ok {
			return reject(ReasonNotLink)
		}

		involved := current.InvolvedIndexes(name)
		if len(involved) == 0 {
			return reject(ReasonNoIndex)
		}

		matched := false
		for _, idx := range involved {
			fields := idx.Definition().Fields
			if len(fields) > 0 && strings.EqualFold(fields[0], name) {
				segments = append(segments, newSegment(idx, name, i))
				matched = true
			}
		}
		if !matched {
			return reject(ReasonNoLeadingIndex)
		}

		current = linked
	}

	return Plan{Segments: segments, Final: current}, nil
}
