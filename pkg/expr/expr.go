// Package expr implements the expression tree used for field navigation.
//
// Expressions form a closed set of kinds: Name (field access), Literal,
// Variable and Path. Path is the binary composition node: a.b.c is built as
// nested Path nodes and evaluated by feeding the result of the left operand to
// the right operand.
//
// Expression trees are immutable once built. Nodes may be shared between
// trees, and Path.Copy only rebuilds the top node.
package expr

import (
	"fmt"
	"strings"
)

// Kind identifies the concrete kind of an Expression.
type Kind int

const (
	KindName Kind = iota
	KindLiteral
	KindVariable
	KindPath
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindName:
		return "name"
	case KindLiteral:
		return "literal"
	case KindVariable:
		return "variable"
	case KindPath:
		return "path"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Expression is a node of an expression tree. The set of implementations is
// closed: *Name, *Literal, *Variable and *Path.
type Expression interface {
	Kind() Kind
	// Alias is the name under which the expression's result is bound, or "".
	Alias() string
	String() string

	sealed()
}

// Name navigates to a field of the candidate.
type Name struct {
	name  string
	alias string
}

// NewName returns a field access expression. The alias defaults to the field name.
func NewName(name string) *Name {
	return &Name{name: name, alias: name}
}

// NewAliasedName returns a field access bound under alias.
func NewAliasedName(alias, name string) *Name {
	return &Name{name: name, alias: alias}
}

// Name returns the field name.
func (n *Name) Name() string { return n.name }

// Kind returns KindName.
func (n *Name) Kind() Kind { return KindName }

// Alias returns the binding name, the field name unless set otherwise.
func (n *Name) Alias() string { return n.alias }

// String renders the field name and any explicit alias.
func (n *Name) String() string { return withAlias(n.name, n.alias, n.name) }

func (n *Name) sealed() {}

// Literal is a constant value.
type Literal struct {
	value any
	alias string
}

// NewLiteral returns a constant expression.
func NewLiteral(value any) *Literal {
	return &Literal{value: value}
}

// NewAliasedLiteral returns a constant bound under alias.
func NewAliasedLiteral(alias string, value any) *Literal {
	return &Literal{value: value, alias: alias}
}

// Value returns the constant.
func (l *Literal) Value() any { return l.value }

// Kind returns KindLiteral.
func (l *Literal) Kind() Kind { return KindLiteral }

// Alias returns the binding name, or "" for an unbound constant.
func (l *Literal) Alias() string { return l.alias }

func (l *Literal) sealed() {}

// String renders the constant, quoting strings.
func (l *Literal) String() string {
	var s string
	switch v := l.value.(type) {
	case nil:
		s = "null"
	case string:
		s = fmt.Sprintf("%q", v)
	default:
		s = fmt.Sprintf("%v", v)
	}
	return withAlias(s, l.alias, "")
}

// Variable reads a binding from the evaluation Context.
type Variable struct {
	name  string
	alias string
}

// NewVariable returns a reference to the context variable name.
func NewVariable(name string) *Variable {
	return &Variable{name: name, alias: name}
}

// Name returns the variable name without the leading '$'.
func (v *Variable) Name() string { return v.name }

// Kind returns KindVariable.
func (v *Variable) Kind() Kind { return KindVariable }

// Alias returns the binding name, the variable name unless set otherwise.
func (v *Variable) Alias() string { return v.alias }

// String renders the variable with its leading '$'.
func (v *Variable) String() string { return withAlias("$"+v.name, v.alias, v.name) }

func (v *Variable) sealed() {}

func withAlias(s, alias, implicit string) string {
	if alias == "" || alias == implicit {
		return s
	}
	return s + " AS " + alias
}

// Names returns the field names of a flattened path. ok is false when any
// leaf is not a Name, in which case the path cannot be navigated by name.
func Names(leaves []Expression) (names []string, ok bool) {
	names = make([]string, 0, len(leaves))
	for _, leaf := range leaves {
		n, isName := leaf.(*Name)
		if !isName {
			return nil, false
		}
		names = append(names, n.name)
	}
	return names, true
}

// JoinNames renders names in dotted form.
func JoinNames(names []string) string {
	return strings.Join(names, ".")
}
