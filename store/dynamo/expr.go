package dynamo

import (
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"

	"itemstore/expr"
	"itemstore/pkg/errors"
)

// toCondition translates a rewritten expression tree into a DynamoDB
// condition builder. Trees arrive already rewritten to stored field names, so
// members translate directly to attribute names.
func toCondition(n expr.Node) (expression.ConditionBuilder, error) {
	switch t := n.(type) {
	case expr.Compare:
		name := expression.Name(t.Member.Name)
		switch t.Op {
		case expr.OpEq:
			return name.Equal(expression.Value(t.Value.Value)), nil
		case expr.OpNe:
			return name.NotEqual(expression.Value(t.Value.Value)), nil
		case expr.OpGt:
			return name.GreaterThan(expression.Value(t.Value.Value)), nil
		case expr.OpGe:
			return name.GreaterThanEqual(expression.Value(t.Value.Value)), nil
		case expr.OpLt:
			return name.LessThan(expression.Value(t.Value.Value)), nil
		case expr.OpLe:
			return name.LessThanEqual(expression.Value(t.Value.Value)), nil
		case expr.OpContains:
			s, ok := t.Value.Value.(string)
			if !ok {
				return expression.ConditionBuilder{}, errors.Newf(errors.KindBadRequest,
					"contains requires a string operand, got %T", t.Value.Value)
			}
			return name.Contains(s), nil
		case expr.OpStartsWith:
			s, ok := t.Value.Value.(string)
			if !ok {
				return expression.ConditionBuilder{}, errors.Newf(errors.KindBadRequest,
					"starts_with requires a string operand, got %T", t.Value.Value)
			}
			return name.BeginsWith(s), nil
		default:
			return expression.ConditionBuilder{}, errors.Newf(errors.KindBadRequest, "unsupported comparison %q", t.Op)
		}
	case expr.IsMissing:
		name := expression.Name(t.Member.Name)
		return name.AttributeNotExists().Or(name.Equal(expression.Value(nil))), nil
	case expr.Logical:
		left, err := toCondition(t.Left)
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		right, err := toCondition(t.Right)
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		if t.Op == expr.OpAnd {
			return left.And(right), nil
		}
		return left.Or(right), nil
	case expr.Not:
		inner, err := toCondition(t.Inner)
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		return inner.Not(), nil
	default:
		return expression.ConditionBuilder{}, errors.Newf(errors.KindBadRequest, "unsupported expression node %T", n)
	}
}
