package memory

import (
	"strings"

	"itemstore/expr"
	"itemstore/item"
	"itemstore/pkg/errors"
	"itemstore/store/jsonval"
)

// evalPredicate evaluates a rewritten expression tree against a document.
func evalPredicate(n expr.Node, doc item.Document) (bool, error) {
	switch t := n.(type) {
	case nil:
		return true, nil
	case expr.Compare:
		fieldVal, _ := jsonval.Get(doc, t.Member.Name)
		constVal := jsonval.Normalize(t.Value.Value)
		switch t.Op {
		case expr.OpEq:
			return jsonval.Compare(fieldVal, constVal) == 0, nil
		case expr.OpNe:
			return jsonval.Compare(fieldVal, constVal) != 0, nil
		case expr.OpGt:
			return jsonval.Compare(fieldVal, constVal) > 0, nil
		case expr.OpGe:
			return jsonval.Compare(fieldVal, constVal) >= 0, nil
		case expr.OpLt:
			return jsonval.Compare(fieldVal, constVal) < 0, nil
		case expr.OpLe:
			return jsonval.Compare(fieldVal, constVal) <= 0, nil
		case expr.OpContains:
			s, okS := fieldVal.(string)
			sub, okSub := constVal.(string)
			return okS && okSub && strings.Contains(s, sub), nil
		case expr.OpStartsWith:
			s, okS := fieldVal.(string)
			pre, okPre := constVal.(string)
			return okS && okPre && strings.HasPrefix(s, pre), nil
		default:
			return false, errors.Newf(errors.KindBadRequest, "unsupported comparison %q", t.Op)
		}
	case expr.IsMissing:
		v, present := jsonval.Get(doc, t.Member.Name)
		return !present || v == nil, nil
	case expr.Logical:
		left, err := evalPredicate(t.Left, doc)
		if err != nil {
			return false, err
		}
		// Short-circuit per connective.
		if t.Op == expr.OpAnd && !left {
			return false, nil
		}
		if t.Op == expr.OpOr && left {
			return true, nil
		}
		return evalPredicate(t.Right, doc)
	case expr.Not:
		inner, err := evalPredicate(t.Inner, doc)
		if err != nil {
			return false, err
		}
		return !inner, nil
	default:
		return false, errors.Newf(errors.KindBadRequest, "unsupported expression node %T", n)
	}
}
