// Package memory is the reference in-memory store adapter. It keeps
// JSON-cloned documents under a readers-writer lock: Read and Query.next
// take the read side, SaveItem and SaveBatch the write side. Every write
// clones documents so callers never alias stored state.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"itemstore/item"
	"itemstore/pkg/errors"
	"itemstore/store"
	"itemstore/store/jsonval"
)

// Store is the in-memory reference adapter.
type Store struct {
	mu     sync.RWMutex
	parts  map[string]map[string]item.Document // partitionKey -> id -> document
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger attaches a structured logger; the default is a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		parts:  make(map[string]map[string]item.Document),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

// ReadItem returns the live document for (id, partitionKey). Tombstones and
// absent ids both surface as NotFound.
func (s *Store) ReadItem(ctx context.Context, id, partitionKey string) (item.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.parts[partitionKey][id]
	if !ok || !jsonval.IsLive(doc) {
		return nil, errors.Newf(errors.KindNotFound, "item %s not found in partition %s", id, partitionKey)
	}
	return doc.Clone(), nil
}

// RawRead returns the stored document regardless of tombstone state. It
// exists for audit inspection and tests; the core never calls it.
func (s *Store) RawRead(id, partitionKey string) (item.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.parts[partitionKey][id]
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

// SaveItem persists one (item, event) pair atomically.
func (s *Store) SaveItem(ctx context.Context, req store.SaveRequest) (item.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	part := s.parts[req.PartitionKey]
	if err := s.checkWrite(part, req); err != nil {
		return nil, err
	}
	if part == nil {
		part = make(map[string]item.Document)
		s.parts[req.PartitionKey] = part
	}
	stored := s.commit(part, req)
	s.logger.Debug("saved item",
		zap.String("id", req.ID),
		zap.String("partition_key", req.PartitionKey),
		zap.String("action", string(req.Action)))
	return stored.Clone(), nil
}

// checkWrite validates one request against the current partition state.
func (s *Store) checkWrite(part map[string]item.Document, req store.SaveRequest) error {
	existing, exists := part[req.ID]
	switch req.Action {
	case store.ActionCreate:
		if exists {
			return errors.Newf(errors.KindConflict, "item %s already exists in partition %s", req.ID, req.PartitionKey)
		}
	case store.ActionUpdate, store.ActionDelete:
		if !exists {
			return errors.Newf(errors.KindNotFound, "item %s not found in partition %s", req.ID, req.PartitionKey)
		}
		// The ETag comparison runs before the tombstone check so the loser
		// of two concurrent deletes sees PreconditionFailed, not NotFound.
		if jsonval.String(existing, "_etag") != req.ETag {
			return errors.Newf(errors.KindPreconditionFailed, "etag mismatch for item %s", req.ID)
		}
		if !jsonval.IsLive(existing) {
			// Unreachable with a matching ETag: every delete rotates it.
			return errors.Newf(errors.KindNotFound, "item %s not found in partition %s", req.ID, req.PartitionKey)
		}
	default:
		return errors.Newf(errors.KindBadRequest, "unknown save action %q", req.Action)
	}
	return nil
}

// commit writes the item and its event into the partition, assigning fresh
// ETags. Callers hold the write lock and have already validated the request.
func (s *Store) commit(part map[string]item.Document, req store.SaveRequest) item.Document {
	stored := req.Item.Clone()
	stored["_etag"] = mustJSON(uuid.NewString())

	event := req.Event.Clone()
	event["_etag"] = mustJSON(uuid.NewString())
	eventID := jsonval.String(event, "id")

	part[req.ID] = stored
	part[eventID] = event
	return stored
}

// SaveBatch applies all requests as one atomic unit. Requests are staged
// against a copy of the partition; any rejection discards the stage and
// reports the failing row's real status with FailedDependency siblings.
func (s *Store) SaveBatch(ctx context.Context, partitionKey string, reqs []store.SaveRequest) ([]store.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}
	results := make([]store.BatchResult, len(reqs))
	if len(reqs) == 0 {
		return results, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	part := s.parts[partitionKey]
	stage := make(map[string]item.Document, len(part))
	for id, doc := range part {
		stage[id] = doc
	}

	// Validate and stage every row; intra-batch interactions (a second
	// create of the same id) are visible because rows stage in add-order.
	staged := make([]item.Document, len(reqs))
	for i, req := range reqs {
		if req.PartitionKey != partitionKey {
			return s.rejectBatch(results, i, errors.Newf(errors.KindBadRequest,
				"row %d targets partition %s, batch is bound to %s", i, req.PartitionKey, partitionKey)), nil
		}
		if err := s.checkWrite(stage, req); err != nil {
			return s.rejectBatch(results, i, err), nil
		}
		staged[i] = s.commit(stage, req)
	}

	// All rows passed; publish the stage.
	s.parts[partitionKey] = stage
	for i := range reqs {
		results[i] = store.BatchResult{StatusCode: 200, Item: staged[i].Clone()}
	}
	s.logger.Debug("saved batch",
		zap.String("partition_key", partitionKey),
		zap.Int("rows", len(reqs)))
	return results, nil
}

// rejectBatch fills the result slice for a rejected batch: the failing row
// carries its real status, every sibling FailedDependency. Nothing commits.
func (s *Store) rejectBatch(results []store.BatchResult, failed int, cause error) []store.BatchResult {
	for i := range results {
		if i == failed {
			results[i] = store.BatchResult{StatusCode: errors.StatusOf(cause), Err: cause}
			continue
		}
		results[i] = store.BatchResult{
			StatusCode: 424,
			Err:        errors.Newf(errors.KindFailedDependency, "row %d failed because row %d was rejected", i, failed),
		}
	}
	return results
}

// Query returns a lazy iterator over matching documents. Matching ids and
// their sort keys are collected under the read lock; document values are
// fetched row by row as the caller iterates.
func (s *Store) Query(ctx context.Context, spec store.QuerySpec) (store.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}

	type candidate struct {
		partitionKey string
		id           string
		sortKey      any
	}

	s.mu.RLock()
	var matches []candidate
	for pk, part := range s.parts {
		if spec.PartitionKey != "" && pk != spec.PartitionKey {
			continue
		}
		for id, doc := range part {
			if jsonval.String(doc, "typeName") != spec.TypeName {
				continue
			}
			if !spec.IncludeDeleted && !jsonval.IsLive(doc) {
				continue
			}
			ok, err := evalPredicate(spec.Predicate, doc)
			if err != nil {
				s.mu.RUnlock()
				return nil, err
			}
			if !ok {
				continue
			}
			c := candidate{partitionKey: pk, id: id}
			if spec.OrderBy != "" {
				c.sortKey, _ = jsonval.Get(doc, spec.OrderBy)
			}
			matches = append(matches, c)
		}
	}
	s.mu.RUnlock()

	if spec.OrderBy != "" {
		sort.SliceStable(matches, func(i, j int) bool {
			cmp := jsonval.Compare(matches[i].sortKey, matches[j].sortKey)
			if spec.Descending {
				return cmp > 0
			}
			return cmp < 0
		})
	}
	if spec.Skip > 0 {
		if spec.Skip >= len(matches) {
			matches = nil
		} else {
			matches = matches[spec.Skip:]
		}
	}
	if spec.Take >= 0 && spec.Take < len(matches) {
		matches = matches[:spec.Take]
	}

	keys := make([][2]string, len(matches))
	for i, m := range matches {
		keys[i] = [2]string{m.partitionKey, m.id}
	}
	return &iterator{store: s, keys: keys, includeDeleted: spec.IncludeDeleted}, nil
}

// Ping reports store health; the in-memory store is always reachable.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// iterator walks the matched keys, re-reading each document under the read
// lock so Query.next behaves as a reader. Rows removed or tombstoned between
// Query and Next are skipped.
type iterator struct {
	store          *Store
	keys           [][2]string
	includeDeleted bool
	pos            int
	value          item.Document
	err            error
	closed         bool
}

func (it *iterator) Next(ctx context.Context) bool {
	if it.closed || it.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		it.err = errors.FromContext(err)
		return false
	}
	for it.pos < len(it.keys) {
		key := it.keys[it.pos]
		it.pos++
		it.store.mu.RLock()
		doc, ok := it.store.parts[key[0]][key[1]]
		if ok {
			doc = doc.Clone()
		}
		it.store.mu.RUnlock()
		if !ok {
			continue
		}
		if !it.includeDeleted && !jsonval.IsLive(doc) {
			continue
		}
		it.value = doc
		return true
	}
	return false
}

func (it *iterator) Value() item.Document { return it.value }
func (it *iterator) Err() error           { return it.err }

func (it *iterator) Close() error {
	it.closed = true
	it.value = nil
	return nil
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
