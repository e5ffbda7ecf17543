package datastore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"itemstore/item"
	"itemstore/pkg/errors"
	"itemstore/proxy"
	"itemstore/store"
)

// SaveCommand is a stateful, single-use mutation: it exclusively owns its
// item until it completes. Save runs the full pipeline (validate, stamp,
// build the audit event, call the adapter) and finalizes the command on
// success, after which the view is read-only and further saves fail with
// AlreadySaved.
type SaveCommand[T item.Model] struct {
	mu        sync.Mutex
	provider  *Provider[T]
	proxy     *proxy.Proxy[T]
	action    store.Action
	saveFn    func(context.Context, store.SaveRequest) (item.Document, error)
	finalized bool
	result    *ReadResult[T]
}

func newSaveCommand[T item.Model](p *Provider[T], px *proxy.Proxy[T], action store.Action) *SaveCommand[T] {
	return &SaveCommand[T]{
		provider: p,
		proxy:    px,
		action:   action,
		saveFn:   p.store.SaveItem,
	}
}

// Item returns the interface view of the owned item. The view stays readable
// after finalization; writes through it fail with ReadOnly.
func (c *SaveCommand[T]) Item() T { return c.proxy.Item() }

// Action returns the command's mutation discriminator.
func (c *SaveCommand[T]) Action() store.Action { return c.action }

// Validate runs the provider's registered validator against the current
// item. Pure; no I/O, no locking.
func (c *SaveCommand[T]) Validate() ValidationResult {
	if c.provider.validator == nil {
		return ValidationResult{}
	}
	return c.provider.validator.Validate(c.proxy.Item())
}

// Save executes the mutation pipeline. On success it replaces the owned item
// with the stored form, transitions it to read-only and returns a ReadResult
// wrapping it. Adapter errors propagate unchanged.
func (c *SaveCommand[T]) Save(ctx context.Context, rc item.RequestContext) (*ReadResult[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}
	if err := c.tryAcquire(); err != nil {
		return nil, err
	}
	defer c.release()

	if vr := c.Validate(); !vr.OK() {
		return nil, vr.Err()
	}
	req, err := c.buildRequest(rc, c.provider.clock())
	if err != nil {
		return nil, err
	}
	stored, err := c.saveFn(ctx, req)
	if err != nil {
		return nil, err
	}
	result, err := c.finalize(stored)
	if err != nil {
		return nil, err
	}
	c.provider.logger.Debug("saved item",
		zap.String("type_name", c.provider.typeName),
		zap.String("id", req.ID),
		zap.String("partition_key", req.PartitionKey),
		zap.String("action", string(c.action)))
	return result, nil
}

// tryAcquire takes the command mutex and fails with AlreadySaved if the
// command has been finalized. The caller must release.
func (c *SaveCommand[T]) tryAcquire() error {
	c.mu.Lock()
	if c.finalized {
		c.mu.Unlock()
		return errors.New(errors.KindAlreadySaved, "command has already been saved")
	}
	return nil
}

func (c *SaveCommand[T]) release() {
	c.mu.Unlock()
}

// buildRequest stamps the item for the action, derives the audit change set
// from the tracked-property snapshot and serializes the (item, event) pair.
// The caller holds the command mutex.
func (c *SaveCommand[T]) buildRequest(rc item.RequestContext, now time.Time) (store.SaveRequest, error) {
	it := c.proxy.Item()
	base := it.Base()

	var action item.SaveAction
	var changes []item.PropertyChange
	var err error
	switch c.action {
	case store.ActionCreate:
		action = item.SaveActionCreated
		if err := base.StampCreate(now); err != nil {
			return store.SaveRequest{}, err
		}
		changes, err = c.proxy.Changes()
	case store.ActionUpdate:
		action = item.SaveActionUpdated
		if err := base.StampUpdate(now); err != nil {
			return store.SaveRequest{}, err
		}
		changes, err = c.proxy.Changes()
	case store.ActionDelete:
		action = item.SaveActionDeleted
		if err := base.StampDelete(now); err != nil {
			return store.SaveRequest{}, err
		}
		changes = []item.PropertyChange{}
	default:
		return store.SaveRequest{}, errors.Newf(errors.KindInternal, "unknown action %q", c.action)
	}
	if err != nil {
		return store.SaveRequest{}, err
	}

	event := item.NewEvent(it, action, changes, rc, now)
	itemDoc, err := item.MarshalDocument(it)
	if err != nil {
		return store.SaveRequest{}, err
	}
	eventDoc, err := item.MarshalEventDocument(event)
	if err != nil {
		return store.SaveRequest{}, err
	}
	return store.SaveRequest{
		ID:           base.GetID(),
		PartitionKey: base.GetPartitionKey(),
		TypeName:     base.GetTypeName(),
		ETag:         base.GetETag(),
		Item:         itemDoc,
		Event:        eventDoc,
		Action:       c.action,
	}, nil
}

// finalize replaces the owned item with its stored form, freezes the view and
// retires the save callback. The caller holds the command mutex.
func (c *SaveCommand[T]) finalize(stored item.Document) (*ReadResult[T], error) {
	it, err := c.provider.hydrate(stored)
	if err != nil {
		return nil, err
	}
	c.proxy.Replace(it)
	c.finalized = true
	c.saveFn = nil
	c.result = &ReadResult[T]{provider: c.provider, it: it}
	return c.result, nil
}

// partitionKey returns the owned item's partition key without locking; the
// key is set at construction and never changes.
func (c *SaveCommand[T]) partitionKey() string {
	return c.proxy.Item().Base().GetPartitionKey()
}
