package expr

import (
	"itemstore/pkg/errors"
)

// Rewrite rebinds every member reference in the tree from interface-level
// property names to stored field names. A member with no mapping fails with
// BadRequest at rewrite time, before the adapter is contacted.
func Rewrite(n Node, fields map[string]string) (Node, error) {
	if n == nil {
		return nil, nil
	}
	switch t := n.(type) {
	case Member:
		mapped, ok := fields[t.Name]
		if !ok {
			return nil, errors.Newf(errors.KindBadRequest, "unknown property %q in query expression", t.Name)
		}
		return Member{Name: mapped}, nil
	case Const:
		return t, nil
	case Compare:
		m, err := Rewrite(t.Member, fields)
		if err != nil {
			return nil, err
		}
		t.Member = m.(Member)
		return t, nil
	case IsMissing:
		m, err := Rewrite(t.Member, fields)
		if err != nil {
			return nil, err
		}
		t.Member = m.(Member)
		return t, nil
	case Logical:
		left, err := Rewrite(t.Left, fields)
		if err != nil {
			return nil, err
		}
		right, err := Rewrite(t.Right, fields)
		if err != nil {
			return nil, err
		}
		t.Left, t.Right = left, right
		return t, nil
	case Not:
		inner, err := Rewrite(t.Inner, fields)
		if err != nil {
			return nil, err
		}
		t.Inner = inner
		return t, nil
	default:
		return nil, errors.Newf(errors.KindBadRequest, "unsupported expression node %T", n)
	}
}

// RewritePredicate is Rewrite over a Predicate wrapper.
func RewritePredicate(p Predicate, fields map[string]string) (Predicate, error) {
	n, err := Rewrite(p.Node(), fields)
	if err != nil {
		return Predicate{}, err
	}
	return Predicate{n: n}, nil
}

// RewriteField maps a single selector (order-by key) to its stored name.
func RewriteField(name string, fields map[string]string) (string, error) {
	mapped, ok := fields[name]
	if !ok {
		return "", errors.Newf(errors.KindBadRequest, "unknown property %q in order-by selector", name)
	}
	return mapped, nil
}
