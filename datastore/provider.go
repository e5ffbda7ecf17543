// Package datastore is the core of the data-access library: a per-type
// provider façade exposing Create/Read/Update/Delete/Batch/Query, save
// commands that co-write an audit event with every mutation under optimistic
// concurrency, an atomic single-partition batch driver, and a composable
// backend-neutral query command.
package datastore

import (
	"context"
	"time"

	"go.uber.org/zap"

	"itemstore/item"
	"itemstore/pkg/errors"
	"itemstore/proxy"
	"itemstore/store"
)

// Operations gates the mutating operations a provider exposes.
type Operations uint8

const (
	// OpUpdate allows Update commands.
	OpUpdate Operations = 1 << iota
	// OpDelete allows Delete commands.
	OpDelete

	// OpAll allows every operation.
	OpAll = OpUpdate | OpDelete
	// OpNone disables Update and Delete; Create, Read and Query are always
	// available.
	OpNone Operations = 0
)

// Provider is the per-type factory for commands. Registration binds a type
// name, a concrete item factory, the tracked-property registry and the store
// adapter; the type name is validated once, here, against the naming rule.
type Provider[T item.Model] struct {
	typeName   string
	store      store.Store
	registry   *proxy.Registry[T]
	factory    func() T
	validator  Validator[T]
	operations Operations
	logger     *zap.Logger
	clock      func() time.Time
}

// ProviderOption configures a Provider.
type ProviderOption[T item.Model] func(*Provider[T])

// WithValidator registers the validator run by every command's Validate.
func WithValidator[T item.Model](v Validator[T]) ProviderOption[T] {
	return func(p *Provider[T]) { p.validator = v }
}

// WithOperations restricts the mutating operations the provider allows.
func WithOperations[T item.Model](ops Operations) ProviderOption[T] {
	return func(p *Provider[T]) { p.operations = ops }
}

// WithLogger attaches a structured logger; the default is a nop logger.
func WithLogger[T item.Model](logger *zap.Logger) ProviderOption[T] {
	return func(p *Provider[T]) { p.logger = logger }
}

// WithClock overrides the time source. Tests use it to pin timestamps.
func WithClock[T item.Model](clock func() time.Time) ProviderOption[T] {
	return func(p *Provider[T]) { p.clock = clock }
}

// NewProvider registers a concrete item type under typeName. The name must be
// lowercase letters and hyphens, starting and ending with a letter, and not
// the reserved event name; violations fail with InvalidType.
func NewProvider[T item.Model](
	typeName string,
	st store.Store,
	registry *proxy.Registry[T],
	factory func() T,
	opts ...ProviderOption[T],
) (*Provider[T], error) {
	if err := item.ValidateTypeName(typeName); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.New(errors.KindInvalidType, "provider requires a store adapter")
	}
	if registry == nil {
		return nil, errors.New(errors.KindInvalidType, "provider requires a tracked-property registry")
	}
	if factory == nil {
		return nil, errors.New(errors.KindInvalidType, "provider requires an item factory")
	}
	p := &Provider[T]{
		typeName:   typeName,
		store:      st,
		registry:   registry,
		factory:    factory,
		operations: OpAll,
		logger:     zap.NewNop(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// TypeName returns the registered type name.
func (p *Provider[T]) TypeName() string { return p.typeName }

// Create returns a save command owning a freshly constructed item keyed by
// (id, partitionKey). No store read is performed; the ETag is assigned by the
// store on save.
func (p *Provider[T]) Create(id, partitionKey string) (*SaveCommand[T], error) {
	if id == "" || partitionKey == "" {
		return nil, errors.New(errors.KindBadRequest, "create requires an id and a partition key")
	}
	it := p.factory()
	base := it.Base()
	if err := base.SetKey(id, partitionKey); err != nil {
		return nil, err
	}
	if err := base.SetTypeName(p.typeName); err != nil {
		return nil, err
	}
	return newSaveCommand(p, proxy.NewFresh(it, p.registry), store.ActionCreate), nil
}

// Read returns a read-only view of the stored item, or (nil, nil) when it is
// absent. Tombstones read as absent.
func (p *Provider[T]) Read(ctx context.Context, id, partitionKey string) (*ReadResult[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}
	doc, err := p.store.ReadItem(ctx, id, partitionKey)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	it, err := p.hydrate(doc)
	if err != nil {
		return nil, err
	}
	it.Base().Freeze()
	return &ReadResult[T]{provider: p, it: it}, nil
}

// Update returns a save command over the stored item, inheriting its ETag for
// compare-and-swap. It fails fast with NotFound when the item is absent and
// with NotSupported when the provider disallows updates.
func (p *Provider[T]) Update(ctx context.Context, id, partitionKey string) (*SaveCommand[T], error) {
	if p.operations&OpUpdate == 0 {
		return nil, errors.Newf(errors.KindNotSupported, "update is not enabled for type %q", p.typeName)
	}
	return p.commandFromStore(ctx, id, partitionKey, store.ActionUpdate)
}

// Delete returns a save command that tombstones the stored item. It fails
// fast with NotFound when the item is absent and with NotSupported when the
// provider disallows deletes.
func (p *Provider[T]) Delete(ctx context.Context, id, partitionKey string) (*SaveCommand[T], error) {
	if p.operations&OpDelete == 0 {
		return nil, errors.Newf(errors.KindNotSupported, "delete is not enabled for type %q", p.typeName)
	}
	return p.commandFromStore(ctx, id, partitionKey, store.ActionDelete)
}

// Batch returns an empty batch command bound to this provider.
func (p *Provider[T]) Batch() *BatchCommand[T] {
	return &BatchCommand[T]{provider: p}
}

// Query returns a query command. The provider-registered type filter and the
// tombstone exclusion are appended implicitly at execution; callers cannot
// remove them.
func (p *Provider[T]) Query() *QueryCommand[T] {
	return &QueryCommand[T]{provider: p, take: -1}
}

func (p *Provider[T]) commandFromStore(ctx context.Context, id, partitionKey string, action store.Action) (*SaveCommand[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}
	doc, err := p.store.ReadItem(ctx, id, partitionKey)
	if err != nil {
		return nil, err
	}
	it, err := p.hydrate(doc)
	if err != nil {
		return nil, err
	}
	px, err := proxy.New(it, p.registry)
	if err != nil {
		return nil, err
	}
	return newSaveCommand(p, px, action), nil
}

// hydrate builds a concrete item from its stored document.
func (p *Provider[T]) hydrate(doc item.Document) (T, error) {
	it := p.factory()
	if err := item.UnmarshalDocument(doc, it); err != nil {
		var zero T
		return zero, err
	}
	return it, nil
}

// writableCopy clones a frozen item into a writable one with identical state.
func (p *Provider[T]) writableCopy(frozen T) (T, error) {
	doc, err := item.MarshalDocument(frozen)
	if err != nil {
		var zero T
		return zero, err
	}
	return p.hydrate(doc)
}
