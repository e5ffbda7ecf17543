package expr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itemstore/expr"
	"itemstore/pkg/errors"
)

func TestFieldComparisonsBuildCompareNodes(t *testing.T) {
	tests := []struct {
		name string
		p    expr.Predicate
		op   expr.CompareOp
		val  any
	}{
		{"eq", expr.Field("title").Eq("a"), expr.OpEq, "a"},
		{"ne", expr.Field("title").Ne("a"), expr.OpNe, "a"},
		{"gt", expr.Field("score").Gt(3), expr.OpGt, 3},
		{"ge", expr.Field("score").Ge(3), expr.OpGe, 3},
		{"lt", expr.Field("score").Lt(3), expr.OpLt, 3},
		{"le", expr.Field("score").Le(3), expr.OpLe, 3},
		{"contains", expr.Field("title").Contains("x"), expr.OpContains, "x"},
		{"starts_with", expr.Field("title").StartsWith("x"), expr.OpStartsWith, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmp, ok := tt.p.Node().(expr.Compare)
			require.True(t, ok)
			assert.Equal(t, tt.op, cmp.Op)
			assert.Equal(t, tt.val, cmp.Value.Value)
		})
	}
}

func TestZeroPredicateIsIdentityForAndOr(t *testing.T) {
	var zero expr.Predicate
	p := expr.Field("title").Eq("a")

	assert.Equal(t, p.Node(), zero.And(p).Node())
	assert.Equal(t, p.Node(), p.And(zero).Node())
	assert.Equal(t, p.Node(), zero.Or(p).Node())
	assert.Equal(t, p.Node(), p.Or(zero).Node())
	assert.True(t, zero.And(zero).IsZero())
	assert.True(t, expr.Negate(zero).IsZero())
}

func TestCompositionShapes(t *testing.T) {
	p := expr.Field("title").Eq("a")
	q := expr.Field("score").Gt(3)

	and, ok := p.And(q).Node().(expr.Logical)
	require.True(t, ok)
	assert.Equal(t, expr.OpAnd, and.Op)
	assert.Equal(t, p.Node(), and.Left)
	assert.Equal(t, q.Node(), and.Right)

	or, ok := p.Or(q).Node().(expr.Logical)
	require.True(t, ok)
	assert.Equal(t, expr.OpOr, or.Op)

	not, ok := expr.Negate(p).Node().(expr.Not)
	require.True(t, ok)
	assert.Equal(t, p.Node(), not.Inner)
}

func TestMissingBuildsIsMissingNode(t *testing.T) {
	n, ok := expr.Field("deletedDate").Missing().Node().(expr.IsMissing)
	require.True(t, ok)
	assert.Equal(t, "deletedDate", n.Member.Name)
}

func TestRewriteRebindsMemberNames(t *testing.T) {
	fields := map[string]string{"title": "title", "eTag": "_etag", "score": "points"}

	p := expr.Field("score").Gt(3).And(expr.Negate(expr.Field("eTag").Missing()))
	rewritten, err := expr.RewritePredicate(p, fields)
	require.NoError(t, err)

	and := rewritten.Node().(expr.Logical)
	cmp := and.Left.(expr.Compare)
	assert.Equal(t, "points", cmp.Member.Name)
	missing := and.Right.(expr.Not).Inner.(expr.IsMissing)
	assert.Equal(t, "_etag", missing.Member.Name)
}

func TestRewriteLeavesOriginalTreeIntact(t *testing.T) {
	fields := map[string]string{"score": "points"}
	p := expr.Field("score").Gt(3)

	_, err := expr.RewritePredicate(p, fields)
	require.NoError(t, err)

	cmp := p.Node().(expr.Compare)
	assert.Equal(t, "score", cmp.Member.Name)
}

func TestRewriteUnknownPropertyFailsBadRequest(t *testing.T) {
	fields := map[string]string{"title": "title"}

	_, err := expr.RewritePredicate(expr.Field("nope").Eq(1), fields)
	assert.True(t, errors.IsBadRequest(err))

	_, err = expr.RewriteField("nope", fields)
	assert.True(t, errors.IsBadRequest(err))
}

func TestRewriteZeroPredicate(t *testing.T) {
	rewritten, err := expr.RewritePredicate(expr.Predicate{}, nil)
	require.NoError(t, err)
	assert.True(t, rewritten.IsZero())
}
