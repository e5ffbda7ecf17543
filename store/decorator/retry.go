// Package decorator layers cross-cutting behavior around a store: retries
// with exponential backoff, a circuit breaker, structured logging and
// Prometheus metrics. Decorators compose in any order through Chain.
package decorator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"itemstore/item"
	"itemstore/pkg/errors"
	"itemstore/store"
)

// RetryConfig configures the retry decorator.
type RetryConfig struct {
	MaxRetries      uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// RetryWrites also retries SaveItem and SaveBatch. Writes are guarded by
	// conditions, so a retry of an attempt that actually committed surfaces
	// as Conflict or PreconditionFailed rather than a double write. Off by
	// default because callers then see that ambiguity.
	RetryWrites bool
}

// DefaultRetryConfig returns the defaults used by Chain.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// RetryStore retries transient failures with exponential backoff. Only
// errors the taxonomy marks retryable are attempted again; everything else
// is permanent.
type RetryStore struct {
	inner  store.Store
	config RetryConfig
}

// NewRetryStore wraps inner with retry behavior.
func NewRetryStore(inner store.Store, config RetryConfig) *RetryStore {
	return &RetryStore{inner: inner, config: config}
}

var _ store.Store = (*RetryStore)(nil)

func (r *RetryStore) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.InitialInterval
	b.MaxInterval = r.config.MaxInterval
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.config.MaxRetries)), ctx)
}

func (r *RetryStore) execute(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !errors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, r.backoff(ctx))
}

func (r *RetryStore) ReadItem(ctx context.Context, id, partitionKey string) (item.Document, error) {
	var doc item.Document
	err := r.execute(ctx, func() error {
		var err error
		doc, err = r.inner.ReadItem(ctx, id, partitionKey)
		return err
	})
	return doc, err
}

func (r *RetryStore) SaveItem(ctx context.Context, req store.SaveRequest) (item.Document, error) {
	if !r.config.RetryWrites {
		return r.inner.SaveItem(ctx, req)
	}
	var doc item.Document
	err := r.execute(ctx, func() error {
		var err error
		doc, err = r.inner.SaveItem(ctx, req)
		return err
	})
	return doc, err
}

func (r *RetryStore) SaveBatch(ctx context.Context, partitionKey string, reqs []store.SaveRequest) ([]store.BatchResult, error) {
	if !r.config.RetryWrites {
		return r.inner.SaveBatch(ctx, partitionKey, reqs)
	}
	var results []store.BatchResult
	err := r.execute(ctx, func() error {
		var err error
		results, err = r.inner.SaveBatch(ctx, partitionKey, reqs)
		return err
	})
	return results, err
}

func (r *RetryStore) Query(ctx context.Context, spec store.QuerySpec) (store.Iterator, error) {
	var it store.Iterator
	err := r.execute(ctx, func() error {
		var err error
		it, err = r.inner.Query(ctx, spec)
		return err
	})
	return it, err
}

// Ping forwards health checks without retrying; callers poll it anyway.
func (r *RetryStore) Ping(ctx context.Context) error {
	return pingInner(ctx, r.inner)
}

func pingInner(ctx context.Context, inner store.Store) error {
	if p, ok := inner.(store.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
