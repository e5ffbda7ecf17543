package datastore

import (
	"context"

	"itemstore/expr"
	"itemstore/item"
	"itemstore/pkg/errors"
	"itemstore/store"
)

// QueryCommand composes a backend-neutral query over the provider's type.
// Clauses compose left to right: Where conjoins, a later OrderBy replaces
// earlier ordering, Skip and Take window the ordered results. Composition is
// synchronous and single-owner; the command is not safe for concurrent
// mutation.
//
// Two filters are appended implicitly at execution and cannot be removed:
// the provider-registered type name, and exclusion of tombstones.
type QueryCommand[T item.Model] struct {
	provider     *Provider[T]
	predicate    expr.Predicate
	partitionKey string
	orderBy      string
	descending   bool
	hasOrder     bool
	skip         int
	take         int
}

// Where conjoins a predicate: Where(p).Where(q) is Where(p.And(q)).
func (q *QueryCommand[T]) Where(p expr.Predicate) *QueryCommand[T] {
	q.predicate = q.predicate.And(p)
	return q
}

// WithPartitionKey restricts the query to one partition. Backends use it to
// avoid cross-partition fan-out.
func (q *QueryCommand[T]) WithPartitionKey(pk string) *QueryCommand[T] {
	q.partitionKey = pk
	return q
}

// OrderBy sorts ascending by the named property, replacing earlier ordering.
func (q *QueryCommand[T]) OrderBy(field string) *QueryCommand[T] {
	q.orderBy = field
	q.descending = false
	q.hasOrder = true
	return q
}

// OrderByDescending sorts descending by the named property, replacing
// earlier ordering.
func (q *QueryCommand[T]) OrderByDescending(field string) *QueryCommand[T] {
	q.orderBy = field
	q.descending = true
	q.hasOrder = true
	return q
}

// Skip discards the first n ordered results.
func (q *QueryCommand[T]) Skip(n int) *QueryCommand[T] {
	q.skip = n
	return q
}

// Take caps the result count at n.
func (q *QueryCommand[T]) Take(n int) *QueryCommand[T] {
	q.take = n
	return q
}

// Execute rewrites the composed clauses to stored field names and returns a
// lazy, single-pass, cancellable sequence of rows. Unmapped properties fail
// with BadRequest before the adapter is contacted.
func (q *QueryCommand[T]) Execute(ctx context.Context) (*Results[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}
	fields := q.provider.registry.FieldMap()
	predicate, err := expr.RewritePredicate(q.predicate, fields)
	if err != nil {
		return nil, err
	}
	spec := store.QuerySpec{
		TypeName:     q.provider.typeName,
		PartitionKey: q.partitionKey,
		Predicate:    predicate.Node(),
		Skip:         q.skip,
		Take:         q.take,
	}
	if q.hasOrder {
		orderField, err := expr.RewriteField(q.orderBy, fields)
		if err != nil {
			return nil, err
		}
		spec.OrderBy = orderField
		spec.Descending = q.descending
	}
	inner, err := q.provider.store.Query(ctx, spec)
	if err != nil {
		return nil, err
	}
	return &Results[T]{provider: q.provider, inner: inner}, nil
}

// Results is the lazy sequence produced by Execute. Cancellation surfaces as
// a Cancelled error on the next step; rows are hydrated one at a time.
type Results[T item.Model] struct {
	provider *Provider[T]
	inner    store.Iterator
	current  *QueryResult[T]
	err      error
}

// Next advances to the next row, honoring cancellation between rows.
func (r *Results[T]) Next(ctx context.Context) bool {
	if r.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		r.err = errors.FromContext(err)
		return false
	}
	if !r.inner.Next(ctx) {
		r.err = r.inner.Err()
		return false
	}
	it, err := r.provider.hydrate(r.inner.Value())
	if err != nil {
		r.err = err
		return false
	}
	it.Base().Freeze()
	r.current = &QueryResult[T]{ReadResult: &ReadResult[T]{provider: r.provider, it: it}}
	return true
}

// Value returns the current row.
func (r *Results[T]) Value() *QueryResult[T] { return r.current }

// Err returns the first error encountered during iteration.
func (r *Results[T]) Err() error { return r.err }

// Close releases the underlying cursor.
func (r *Results[T]) Close() error { return r.inner.Close() }

// Collect drains the sequence into a slice. Intended for tests and small
// result sets; production callers should iterate.
func (r *Results[T]) Collect(ctx context.Context) ([]*QueryResult[T], error) {
	defer r.Close()
	var out []*QueryResult[T]
	for r.Next(ctx) {
		out = append(out, r.Value())
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
