package datastore

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"itemstore/item"
	"itemstore/pkg/errors"
	"itemstore/store"
)

// BatchCommand coordinates several save commands sharing one partition key
// into a single atomic multi-op. Either every row commits or none does; a
// rejected batch reports the failing row's backend status and
// FailedDependency for its siblings.
type BatchCommand[T item.Model] struct {
	mu       sync.Mutex
	provider *Provider[T]
	cmds     []*SaveCommand[T]
	addErr   error
}

// BatchResult reports the outcome of one batch row. Result is set only on
// success.
type BatchResult[T item.Model] struct {
	StatusCode int
	Result     *ReadResult[T]
	Err        error
}

// Add appends a save command to the batch. Errors such as a finalized command
// or a partition key differing from the first row's are sticky and surface on
// Save before any I/O.
func (b *BatchCommand[T]) Add(cmd *SaveCommand[T]) *BatchCommand[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.addErr != nil {
		return b
	}
	if cmd == nil {
		b.addErr = errors.New(errors.KindBadRequest, "cannot add a nil command to a batch")
		return b
	}
	cmd.mu.Lock()
	finalized := cmd.finalized
	cmd.mu.Unlock()
	if finalized {
		b.addErr = errors.New(errors.KindAlreadySaved, "cannot add a finalized command to a batch")
		return b
	}
	if len(b.cmds) > 0 && cmd.partitionKey() != b.cmds[0].partitionKey() {
		b.addErr = errors.Newf(errors.KindBadRequest,
			"batch is bound to partition %q, command targets %q",
			b.cmds[0].partitionKey(), cmd.partitionKey())
		return b
	}
	b.cmds = append(b.cmds, cmd)
	return b
}

// Len returns the number of added commands.
func (b *BatchCommand[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cmds)
}

// Validate runs every contained command's validator. Pure; no I/O. The slice
// is positionally aligned with add order.
func (b *BatchCommand[T]) Validate() []ValidationResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	results := make([]ValidationResult, len(b.cmds))
	for i, cmd := range b.cmds {
		results[i] = cmd.Validate()
	}
	return results
}

// Save dispatches the batch as one atomic multi-op. Pre-I/O violations
// (sticky add errors, an empty batch, validator failures) raise; per-row
// backend outcomes are reported in the aligned result slice instead.
func (b *BatchCommand[T]) Save(ctx context.Context, rc item.RequestContext) ([]BatchResult[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.addErr != nil {
		return nil, b.addErr
	}
	if len(b.cmds) == 0 {
		return nil, errors.New(errors.KindBadRequest, "batch has no commands")
	}

	// Validate every row before touching any command lock.
	if err := b.validateAll(); err != nil {
		return nil, err
	}

	// Acquire each command in a single pass. Commands are independent, so
	// the lock graph is acyclic; on failure, release what was acquired and
	// report without contacting the adapter.
	acquired := make([]*SaveCommand[T], 0, len(b.cmds))
	for i, cmd := range b.cmds {
		if err := cmd.tryAcquire(); err != nil {
			for _, held := range acquired {
				held.release()
			}
			return b.acquireFailure(i, err), nil
		}
		acquired = append(acquired, cmd)
	}
	defer func() {
		for _, held := range acquired {
			held.release()
		}
	}()

	// Build requests in add order; one clock reading stamps the whole batch.
	now := b.provider.clock()
	partitionKey := b.cmds[0].partitionKey()
	reqs := make([]store.SaveRequest, len(b.cmds))
	for i, cmd := range b.cmds {
		req, err := cmd.buildRequest(rc, now)
		if err != nil {
			return nil, err
		}
		reqs[i] = req
	}

	rows, err := b.provider.store.SaveBatch(ctx, partitionKey, reqs)
	if err != nil {
		return nil, err
	}
	if len(rows) != len(reqs) {
		return nil, errors.Newf(errors.KindInternal,
			"adapter returned %d batch results for %d requests", len(rows), len(reqs))
	}

	results := make([]BatchResult[T], len(rows))
	for i, row := range rows {
		if row.StatusCode == 200 {
			rr, err := b.cmds[i].finalize(row.Item)
			if err != nil {
				return nil, err
			}
			results[i] = BatchResult[T]{StatusCode: 200, Result: rr}
			continue
		}
		// Non-OK rows stay unfinalized; the whole batch did not commit.
		results[i] = BatchResult[T]{StatusCode: row.StatusCode, Err: row.Err}
	}
	b.provider.logger.Debug("saved batch",
		zap.String("type_name", b.provider.typeName),
		zap.String("partition_key", partitionKey),
		zap.Int("rows", len(rows)))
	return results, nil
}

// validateAll aggregates per-row validator failures into one Validation
// error keyed by row index.
func (b *BatchCommand[T]) validateAll() error {
	var fields map[string][]string
	for i, cmd := range b.cmds {
		vr := cmd.Validate()
		if vr.OK() {
			continue
		}
		if fields == nil {
			fields = make(map[string][]string)
		}
		for field, msgs := range vr.Fields {
			key := fmt.Sprintf("%d.%s", i, field)
			fields[key] = append(fields[key], msgs...)
		}
	}
	if fields == nil {
		return nil
	}
	return errors.Validation("batch failed validation", fields)
}

// acquireFailure reports a pre-I/O acquisition failure: the failing row
// carries BadRequest, every sibling FailedDependency.
func (b *BatchCommand[T]) acquireFailure(failed int, cause error) []BatchResult[T] {
	results := make([]BatchResult[T], len(b.cmds))
	for i := range b.cmds {
		if i == failed {
			results[i] = BatchResult[T]{
				StatusCode: 400,
				Err:        errors.Wrap(cause, errors.KindBadRequest, "command could not be acquired"),
			}
			continue
		}
		results[i] = BatchResult[T]{
			StatusCode: 424,
			Err: errors.Newf(errors.KindFailedDependency,
				"row %d failed because row %d could not be acquired", i, failed),
		}
	}
	return results
}
