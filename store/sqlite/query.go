package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"itemstore/expr"
	"itemstore/item"
	"itemstore/pkg/errors"
	"itemstore/store"
)

// Query translates spec into a single SQL statement over the items
// table. Predicates compile to json_extract conditions, ordering and
// windowing to ORDER BY and LIMIT/OFFSET, so filtering happens in SQLite.
func (s *Store) Query(ctx context.Context, spec store.QuerySpec) (store.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT doc FROM items WHERE type_name = ?`)
	args := []any{spec.TypeName}
	if spec.PartitionKey != "" {
		sb.WriteString(` AND partition_key = ?`)
		args = append(args, spec.PartitionKey)
	}
	if !spec.IncludeDeleted {
		sb.WriteString(` AND is_deleted = 0`)
	}
	if spec.Predicate != nil {
		clause, predArgs, err := buildWhere(spec.Predicate)
		if err != nil {
			return nil, err
		}
		sb.WriteString(` AND `)
		sb.WriteString(clause)
		args = append(args, predArgs...)
	}
	if spec.OrderBy != "" {
		col, err := docColumn(spec.OrderBy)
		if err != nil {
			return nil, err
		}
		sb.WriteString(` ORDER BY `)
		sb.WriteString(col)
		if spec.Descending {
			sb.WriteString(` DESC`)
		}
	}
	take := spec.Take
	if take < 0 {
		take = -1 // SQLite treats a negative limit as unlimited
	}
	sb.WriteString(` LIMIT ? OFFSET ?`)
	args = append(args, take, max(spec.Skip, 0))

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, translate(err, "sqlite: query")
	}
	return &iterator{rows: rows}, nil
}

// docColumn renders a json_extract accessor for a stored field name. Names
// reach this point from the tracked-property registry, but they still only
// pass as plain identifiers.
func docColumn(field string) (string, error) {
	if field == "" {
		return "", errors.New(errors.KindBadRequest, "empty field name")
	}
	for _, r := range field {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return "", errors.Newf(errors.KindBadRequest, "invalid field name %q", field)
		}
	}
	return fmt.Sprintf("json_extract(doc, '$.%s')", field), nil
}

// buildWhere compiles a rewritten expression tree into a SQL clause with
// positional arguments.
func buildWhere(n expr.Node) (string, []any, error) {
	switch t := n.(type) {
	case expr.Compare:
		col, err := docColumn(t.Member.Name)
		if err != nil {
			return "", nil, err
		}
		if t.Value.Value == nil {
			switch t.Op {
			case expr.OpEq:
				return col + " IS NULL", nil, nil
			case expr.OpNe:
				return col + " IS NOT NULL", nil, nil
			default:
				return "", nil, errors.Newf(errors.KindBadRequest, "comparison %q does not accept null", t.Op)
			}
		}
		arg := bindValue(t.Value.Value)
		switch t.Op {
		case expr.OpEq:
			return col + " = ?", []any{arg}, nil
		case expr.OpNe:
			return col + " <> ?", []any{arg}, nil
		case expr.OpGt:
			return col + " > ?", []any{arg}, nil
		case expr.OpGe:
			return col + " >= ?", []any{arg}, nil
		case expr.OpLt:
			return col + " < ?", []any{arg}, nil
		case expr.OpLe:
			return col + " <= ?", []any{arg}, nil
		case expr.OpContains:
			s, ok := t.Value.Value.(string)
			if !ok {
				return "", nil, errors.Newf(errors.KindBadRequest, "contains requires a string operand, got %T", t.Value.Value)
			}
			return "instr(" + col + ", ?) > 0", []any{s}, nil
		case expr.OpStartsWith:
			s, ok := t.Value.Value.(string)
			if !ok {
				return "", nil, errors.Newf(errors.KindBadRequest, "starts_with requires a string operand, got %T", t.Value.Value)
			}
			return "substr(" + col + ", 1, length(?)) = ?", []any{s, s}, nil
		default:
			return "", nil, errors.Newf(errors.KindBadRequest, "unsupported comparison %q", t.Op)
		}
	case expr.IsMissing:
		col, err := docColumn(t.Member.Name)
		if err != nil {
			return "", nil, err
		}
		return col + " IS NULL", nil, nil
	case expr.Logical:
		left, leftArgs, err := buildWhere(t.Left)
		if err != nil {
			return "", nil, err
		}
		right, rightArgs, err := buildWhere(t.Right)
		if err != nil {
			return "", nil, err
		}
		op := " AND "
		if t.Op == expr.OpOr {
			op = " OR "
		}
		return "(" + left + op + right + ")", append(leftArgs, rightArgs...), nil
	case expr.Not:
		inner, innerArgs, err := buildWhere(t.Inner)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + inner + ")", innerArgs, nil
	default:
		return "", nil, errors.Newf(errors.KindBadRequest, "unsupported expression node %T", n)
	}
}

// bindValue maps builder constants to SQLite's representation of stored JSON
// values: json_extract surfaces booleans as integers.
func bindValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

// iterator adapts *sql.Rows to the store iterator contract.
type iterator struct {
	rows  *sql.Rows
	value item.Document
	err   error
}

func (it *iterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		it.err = errors.FromContext(err)
		it.rows.Close()
		return false
	}
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			it.err = translate(err, "sqlite: iterate rows")
		}
		return false
	}
	var raw string
	if err := it.rows.Scan(&raw); err != nil {
		it.err = translate(err, "sqlite: scan row")
		return false
	}
	doc, err := parseDoc(raw)
	if err != nil {
		it.err = err
		return false
	}
	it.value = doc
	return true
}

func (it *iterator) Value() item.Document { return it.value }
func (it *iterator) Err() error           { return it.err }

func (it *iterator) Close() error {
	return it.rows.Close()
}

func parseDoc(raw string) (item.Document, error) {
	var doc item.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "sqlite: decode document")
	}
	return doc, nil
}

func renderDoc(doc item.Document) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "sqlite: encode document")
	}
	return string(raw), nil
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
