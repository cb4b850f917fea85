package expr

import (
	"fmt"
	"strings"
)

// ParsePath parses a dotted field path such as "address.city.name" into a
// left-leaning chain of Name nodes. A leading '$' on the first segment makes
// it a Variable, so "$current.address" navigates from a bound value.
func ParsePath(s string) (Expression, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty path")
	}

	parts := strings.Split(s, ".")
	leaves := make([]Expression, 0, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("path %q: empty segment at position %d", s, i)
		}
		if strings.HasPrefix(part, "$") {
			if i != 0 || len(part) == 1 {
				return nil, fmt.Errorf("path %q: invalid variable segment %q", s, part)
			}
			leaves = append(leaves, NewVariable(part[1:]))
			continue
		}
		if strings.ContainsAny(part, " \t$") {
			return nil, fmt.Errorf("path %q: invalid segment %q", s, part)
		}
		leaves = append(leaves, NewName(part))
	}
	return Chain(leaves[0], leaves[1:]...), nil
}

// MustParsePath is ParsePath that panics on error. Intended for tests and
// package-level values.
func MustParsePath(s string) Expression {
	e, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return e
}
