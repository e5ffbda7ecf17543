// Package store defines the narrow contract the core requires from any
// backend: read one item, save one (item, event) pair atomically, save a
// batch atomically within one partition, and produce a lazy query iterator.
// Concrete adapters live in subpackages; decorators compose around the Store
// interface.
package store

import (
	"context"

	"itemstore/expr"
	"itemstore/item"
)

// Action is the adapter-level mutation discriminator.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// SaveRequest carries one (item, event) pair to be persisted atomically.
type SaveRequest struct {
	// Typed key fields, duplicated out of the documents so adapters never
	// re-parse them.
	ID           string
	PartitionKey string
	TypeName     string
	// ETag is the expected stored version for UPDATE/DELETE compare-and-swap;
	// empty on CREATE.
	ETag string

	Item   item.Document
	Event  item.Document
	Action Action
}

// SaveResult is the stored form of a successfully saved item.
type SaveResult struct {
	Item item.Document
}

// BatchResult reports the outcome of one row of an atomic batch. The slice
// returned by SaveBatch is positionally aligned with the request slice.
type BatchResult struct {
	// StatusCode is HTTP-style: 200 on success, 409/412 for the row that was
	// rejected, 424 for rows that failed only because a sibling did.
	StatusCode int
	// Item is the stored form; set only when StatusCode is 200.
	Item item.Document
	// Err carries the row failure; nil when StatusCode is 200.
	Err error
}

// QuerySpec is the backend-neutral query the core hands to an adapter. The
// predicate and order-by field are already rewritten to stored field names.
type QuerySpec struct {
	// TypeName filters to one registered type. Always set by the core.
	TypeName string
	// PartitionKey, when nonempty, restricts the query to one partition.
	PartitionKey string
	// Predicate is the caller-composed filter; nil matches everything.
	Predicate expr.Node
	// OrderBy is a stored field name; empty means backend order.
	OrderBy    string
	Descending bool
	// Skip and Take window the ordered results. Take < 0 means no limit.
	Skip int
	Take int
	// IncludeDeleted bypasses the implicit tombstone filter. The core never
	// sets it; adapters and their tests may.
	IncludeDeleted bool
}

// Iterator is a lazy, single-pass cursor over query results. Next honors
// cancellation between rows and never materializes the full result set.
// The sql.Rows idiom applies: Next then Value, Err after exhaustion, Close
// when done.
type Iterator interface {
	Next(ctx context.Context) bool
	Value() item.Document
	Err() error
	Close() error
}

// Pinger is implemented by adapters that can report backend health.
// Decorators forward Ping when their inner store implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store is the pluggable backend contract.
//
// Error taxonomy adapters must surface (as *errors.Error kinds): Conflict for
// duplicate keys, PreconditionFailed for ETag mismatches, NotFound, BadRequest,
// ServiceUnavailable and Internal. The core passes adapter errors through
// unchanged.
type Store interface {
	// ReadItem returns the stored document, or a NotFound error. Tombstoned
	// items read as NotFound.
	ReadItem(ctx context.Context, id, partitionKey string) (item.Document, error)

	// SaveItem persists the (item, event) pair atomically within one
	// partition. CREATE uses insert-or-conflict semantics; UPDATE and DELETE
	// compare-and-swap on the stored ETag. The returned document is the
	// stored form, with the adapter-issued ETag.
	SaveItem(ctx context.Context, req SaveRequest) (item.Document, error)

	// SaveBatch executes all requests as one atomic unit within a single
	// partition. No partial commit is ever observable: when any row is
	// rejected, every other row reports FailedDependency.
	SaveBatch(ctx context.Context, partitionKey string, reqs []SaveRequest) ([]BatchResult, error)

	// Query returns a lazy iterator over documents matching spec.
	Query(ctx context.Context, spec QuerySpec) (Iterator, error)
}
