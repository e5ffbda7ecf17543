package decorator

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"itemstore/item"
	"itemstore/pkg/errors"
	"itemstore/store"
)

// BreakerConfig configures the circuit breaker decorator.
type BreakerConfig struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig returns the defaults used by Chain.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "store",
		MaxRequests:         3,
		Interval:            10 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// BreakerStore stops calling a failing backend. Only retryable failures
// count against the breaker: conflicts, precondition failures and other
// caller errors are backend health signals in the wrong direction.
type BreakerStore struct {
	inner   store.Store
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps inner with a circuit breaker.
func NewBreakerStore(inner store.Store, config BreakerConfig, logger *zap.Logger) *BreakerStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.IsRetryable(err)
		},
	}
	return &BreakerStore{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

var _ store.Store = (*BreakerStore)(nil)

func (b *BreakerStore) execute(op func() (any, error)) (any, error) {
	out, err := b.breaker.Execute(op)
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Wrap(err, errors.KindServiceUnavailable, "store circuit open")
	}
	return out, err
}

func (b *BreakerStore) ReadItem(ctx context.Context, id, partitionKey string) (item.Document, error) {
	out, err := b.execute(func() (any, error) {
		return b.inner.ReadItem(ctx, id, partitionKey)
	})
	if err != nil {
		return nil, err
	}
	return out.(item.Document), nil
}

func (b *BreakerStore) SaveItem(ctx context.Context, req store.SaveRequest) (item.Document, error) {
	out, err := b.execute(func() (any, error) {
		return b.inner.SaveItem(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(item.Document), nil
}

func (b *BreakerStore) SaveBatch(ctx context.Context, partitionKey string, reqs []store.SaveRequest) ([]store.BatchResult, error) {
	out, err := b.execute(func() (any, error) {
		return b.inner.SaveBatch(ctx, partitionKey, reqs)
	})
	if err != nil {
		return nil, err
	}
	return out.([]store.BatchResult), nil
}

func (b *BreakerStore) Query(ctx context.Context, spec store.QuerySpec) (store.Iterator, error) {
	out, err := b.execute(func() (any, error) {
		return b.inner.Query(ctx, spec)
	})
	if err != nil {
		return nil, err
	}
	return out.(store.Iterator), nil
}

// Ping bypasses the breaker so health checks can observe recovery.
func (b *BreakerStore) Ping(ctx context.Context) error {
	return pingInner(ctx, b.inner)
}
