package datastore

import (
	"sync"

	"itemstore/item"
	"itemstore/pkg/errors"
	"itemstore/proxy"
	"itemstore/store"
)

// ReadResult is a read-only view of a stored item. The wrapped item is
// frozen; writes through it fail with ReadOnly.
type ReadResult[T item.Model] struct {
	provider *Provider[T]
	it       T
}

// Item returns the read-only interface view.
func (r *ReadResult[T]) Item() T { return r.it }

// Validate runs the provider's registered validator against the wrapped
// item. Pure; no I/O.
func (r *ReadResult[T]) Validate() ValidationResult {
	if r.provider.validator == nil {
		return ValidationResult{}
	}
	return r.provider.validator.Validate(r.it)
}

// QueryResult is a ReadResult produced by a query row. It can be converted,
// at most once, into an update or delete command over the same stored state,
// inheriting the row's ETag for compare-and-swap without a second read.
type QueryResult[T item.Model] struct {
	*ReadResult[T]

	mu        sync.Mutex
	converted bool
}

// Update converts the row into an update command. A second conversion of
// either kind fails with AlreadyConverted.
func (q *QueryResult[T]) Update() (*SaveCommand[T], error) {
	if q.provider.operations&OpUpdate == 0 {
		return nil, errors.Newf(errors.KindNotSupported, "update is not enabled for type %q", q.provider.typeName)
	}
	return q.convert(store.ActionUpdate)
}

// Delete converts the row into a delete command. A second conversion of
// either kind fails with AlreadyConverted.
func (q *QueryResult[T]) Delete() (*SaveCommand[T], error) {
	if q.provider.operations&OpDelete == 0 {
		return nil, errors.Newf(errors.KindNotSupported, "delete is not enabled for type %q", q.provider.typeName)
	}
	return q.convert(store.ActionDelete)
}

func (q *QueryResult[T]) convert(action store.Action) (*SaveCommand[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.converted {
		return nil, errors.New(errors.KindAlreadyConverted, "query result has already been converted to a command")
	}
	writable, err := q.provider.writableCopy(q.it)
	if err != nil {
		return nil, err
	}
	px, err := proxy.New(writable, q.provider.registry)
	if err != nil {
		return nil, err
	}
	q.converted = true
	return newSaveCommand(q.provider, px, action), nil
}
