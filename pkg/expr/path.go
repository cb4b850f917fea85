package expr

// Path is the binary navigation node: it evaluates Left against the
// candidate, then Right against Left's result. Deeper chains nest Path nodes
// in any bracketing, e.g. ((a.b).c).d or a.(b.(c.d)).
type Path struct {
	left  Expression
	right Expression
	alias string
}

// NewPath composes left and right. The alias is inherited from left.
func NewPath(left, right Expression) *Path {
	return NewAliasedPath("", left, right)
}

// NewAliasedPath composes left and right under alias. An empty alias is
// inherited from left. Both children are required.
func NewAliasedPath(alias string, left, right Expression) *Path {
	if left == nil || right == nil {
		panic("expr: path requires two children")
	}
	if alias == "" {
		alias = left.Alias()
	}
	return &Path{left: left, right: right, alias: alias}
}

// Chain folds exprs into a left-leaning path: Chain(a, b, c) is (a.b).c.
// A single expression is returned as is.
func Chain(first Expression, rest ...Expression) Expression {
	out := first
	for _, next := range rest {
		out = NewPath(out, next)
	}
	return out
}

// Left returns the first child.
func (p *Path) Left() Expression { return p.left }

// Right returns the second child.
func (p *Path) Right() Expression { return p.right }

// Children returns [left, right].
func (p *Path) Children() []Expression {
	return []Expression{p.left, p.right}
}

// Kind returns KindPath.
func (p *Path) Kind() Kind { return KindPath }

// Alias returns the binding name of the composed result.
func (p *Path) Alias() string { return p.alias }

func (p *Path) sealed() {}

// String renders the path in dotted form.
func (p *Path) String() string {
	s := p.left.String() + "." + p.right.String()
	if p.alias != "" && p.alias != p.left.Alias() {
		s += " AS " + p.alias
	}
	return s
}

// Copy returns a new node with the same alias and the same children.
// Children are shared, which is safe because trees are never mutated.
func (p *Path) Copy() *Path {
	return &Path{left: p.left, right: p.right, alias: p.alias}
}

// Unfold returns the leaves of the navigation chain in reading order:
// a.b.c.d yields [a, b, c, d] whatever the nesting.
func (p *Path) Unfold() []Expression {
	var leaves []Expression
	return unfold(p, leaves)
}

func unfold(e Expression, leaves []Expression) []Expression {
	if p, ok := e.(*Path); ok {
		leaves = unfold(p.left, leaves)
		return unfold(p.right, leaves)
	}
	return append(leaves, e)
}

// Unfold flattens any expression: a Path unfolds into its leaves, every other
// expression is its own single leaf.
func Unfold(e Expression) []Expression {
	return unfold(e, nil)
}
