package expr

import "reflect"

// Equal reports whether a and b are structurally equal: same kind, same alias
// and equal children (or equal payload for leaves). Mismatched kinds are
// simply unequal.
func Equal(a, b Expression) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() || a.Alias() != b.Alias() {
		return false
	}

	switch x := a.(type) {
	case *Path:
		y := b.(*Path)
		return Equal(x.left, y.left) && Equal(x.right, y.right)
	case *Name:
		return x.name == b.(*Name).name
	case *Variable:
		return x.name == b.(*Variable).name
	case *Literal:
		return reflect.DeepEqual(x.value, b.(*Literal).value)
	default:
		return false
	}
}
