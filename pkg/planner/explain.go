package planner

import (
	"fmt"
	"strings"

	"github.com/orneryd/pathfold/pkg/expr"
	"github.com/orneryd/pathfold/pkg/fold"
)

// Explanation describes how a path filter would be answered.
type Explanation struct {
	Class    string
	Path     string
	Strategy Strategy
	// Hops lists the folded segments in the order they are applied.
	Hops []Hop
	// Seed names the index answering the terminal field, or is empty when
	// the terminal field is found by scanning its class.
	Seed      string
	Final     string
	Terminal  string
	Rejection *fold.Rejection
	// Reason is set for scans not caused by a rejection.
	Reason string
}

// Hop is one folded segment.
type Hop struct {
	Field string
	Index string
	// Composite is set when only the leading slot of the index is used.
	Composite bool
}

// Explain reports the strategy Filter would use for path on class.
func (p *Planner) Explain(class, path string) (*Explanation, error) {
	c, e, err := p.prepare(Query{Class: class, Path: path})
	if err != nil {
		return nil, err
	}

	names, ok := expr.Names(expr.Unfold(e))
	if ok {
		names, e = canonical(c, names, e)
	}
	ex := &Explanation{Class: c.Name(), Path: e.String(), Strategy: StrategyScan}
	switch {
	case !ok:
		ex.Reason = "path contains non-field expressions"
		return ex, nil
	case !p.folding:
		ex.Reason = "folding disabled"
		return ex, nil
	}

	plan, rej := p.resolve(c, names)
	if rej != nil {
		ex.Rejection = rej
		return ex, nil
	}

	ex.Strategy = StrategyFold
	ex.Final = plan.Final.Name()
	ex.Terminal = names[len(names)-1]
	if idx := leadingIndex(plan.Final, ex.Terminal); idx != nil {
		ex.Seed = idx.Name()
	}
	hops := perHop(plan.Segments)
	for i := len(hops) - 1; i >= 0; i-- {
		s := hops[i]
		ex.Hops = append(ex.Hops, Hop{
			Field:     s.FieldName(),
			Index:     s.Index().Name(),
			Composite: s.Index().Definition().IsComposite(),
		})
	}
	return ex, nil
}

// String renders the explanation as indented text, one step per line.
func (e *Explanation) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s.%s: %s\n", e.Class, e.Path, e.Strategy)

	if e.Strategy == StrategyScan {
		switch {
		case e.Rejection != nil:
			fmt.Fprintf(&b, "  not foldable: %s\n", e.Rejection)
		case e.Reason != "":
			fmt.Fprintf(&b, "  %s\n", e.Reason)
		}
		fmt.Fprintf(&b, "  evaluate path on every %s record\n", e.Class)
		return b.String()
	}

	if e.Seed != "" {
		fmt.Fprintf(&b, "  seed: %s.%s via %s\n", e.Final, e.Terminal, e.Seed)
	} else {
		fmt.Fprintf(&b, "  seed: scan %s.%s\n", e.Final, e.Terminal)
	}
	for i, h := range e.Hops {
		note := ""
		if h.Composite {
			note = " (leading slot)"
		}
		fmt.Fprintf(&b, "  %d. %s via %s%s\n", i+1, h.Field, h.Index, note)
	}
	return b.String()
}
