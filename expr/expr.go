// Package expr models query predicates and selectors as a small algebraic
// data type with a fluent builder. Callers write expressions against
// interface-level property names; the rewriter rebinds them to stored field
// names so each store adapter can translate the tree to its native query
// language with a backend-specific visitor.
package expr

// Node is a node in a predicate expression tree.
type Node interface {
	node()
}

// Member references a property by name. Before rewriting the name is the
// interface-level property name; after rewriting it is the stored field name.
type Member struct {
	Name string
}

// Const is a literal JSON-compatible value.
type Const struct {
	Value any
}

// CompareOp enumerates binary comparison operators.
type CompareOp string

const (
	OpEq         CompareOp = "eq"
	OpNe         CompareOp = "ne"
	OpGt         CompareOp = "gt"
	OpGe         CompareOp = "ge"
	OpLt         CompareOp = "lt"
	OpLe         CompareOp = "le"
	OpContains   CompareOp = "contains"
	OpStartsWith CompareOp = "starts_with"
)

// Compare applies a binary operator to a member and a constant.
type Compare struct {
	Op     CompareOp
	Member Member
	Value  Const
}

// LogicalOp enumerates boolean connectives.
type LogicalOp string

const (
	OpAnd LogicalOp = "and"
	OpOr  LogicalOp = "or"
)

// Logical combines two predicates.
type Logical struct {
	Op    LogicalOp
	Left  Node
	Right Node
}

// Not negates a predicate.
type Not struct {
	Inner Node
}

// IsMissing matches documents where the member is absent or null.
type IsMissing struct {
	Member Member
}

func (Member) node()    {}
func (Const) node()     {}
func (Compare) node()   {}
func (Logical) node()   {}
func (Not) node()       {}
func (IsMissing) node() {}

// Predicate is a composable boolean expression.
type Predicate struct {
	n Node
}

// Node returns the underlying tree, or nil for the zero predicate.
func (p Predicate) Node() Node { return p.n }

// IsZero reports whether the predicate is empty.
func (p Predicate) IsZero() bool { return p.n == nil }

// And conjoins two predicates; a zero side is ignored.
func (p Predicate) And(q Predicate) Predicate {
	switch {
	case p.n == nil:
		return q
	case q.n == nil:
		return p
	}
	return Predicate{n: Logical{Op: OpAnd, Left: p.n, Right: q.n}}
}

// Or disjoins two predicates; a zero side is ignored.
func (p Predicate) Or(q Predicate) Predicate {
	switch {
	case p.n == nil:
		return q
	case q.n == nil:
		return p
	}
	return Predicate{n: Logical{Op: OpOr, Left: p.n, Right: q.n}}
}

// Negate wraps the predicate in a logical not.
func Negate(p Predicate) Predicate {
	if p.n == nil {
		return p
	}
	return Predicate{n: Not{Inner: p.n}}
}

// FieldRef starts a comparison against a named property.
type FieldRef struct {
	name string
}

// Field references a property by its interface-level name.
func Field(name string) FieldRef { return FieldRef{name: name} }

func (f FieldRef) compare(op CompareOp, v any) Predicate {
	return Predicate{n: Compare{Op: op, Member: Member{Name: f.name}, Value: Const{Value: v}}}
}

func (f FieldRef) Eq(v any) Predicate         { return f.compare(OpEq, v) }
func (f FieldRef) Ne(v any) Predicate         { return f.compare(OpNe, v) }
func (f FieldRef) Gt(v any) Predicate         { return f.compare(OpGt, v) }
func (f FieldRef) Ge(v any) Predicate         { return f.compare(OpGe, v) }
func (f FieldRef) Lt(v any) Predicate         { return f.compare(OpLt, v) }
func (f FieldRef) Le(v any) Predicate         { return f.compare(OpLe, v) }
func (f FieldRef) Contains(s string) Predicate { return f.compare(OpContains, s) }
func (f FieldRef) StartsWith(s string) Predicate { return f.compare(OpStartsWith, s) }

// Missing matches documents where the property is absent or null.
func (f FieldRef) Missing() Predicate {
	return Predicate{n: IsMissing{Member: Member{Name: f.name}}}
}
