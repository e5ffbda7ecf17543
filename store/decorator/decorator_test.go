package decorator_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"itemstore/item"
	"itemstore/pkg/errors"
	"itemstore/store"
	"itemstore/store/decorator"
)

// scriptedStore fails each operation a configured number of times before
// succeeding, counting the calls it receives.
type scriptedStore struct {
	failures int
	err      error
	calls    int
}

func (s *scriptedStore) do() error {
	s.calls++
	if s.calls <= s.failures {
		return s.err
	}
	return nil
}

func (s *scriptedStore) ReadItem(ctx context.Context, id, partitionKey string) (item.Document, error) {
	if err := s.do(); err != nil {
		return nil, err
	}
	return item.Document{"id": json.RawMessage(`"` + id + `"`)}, nil
}

func (s *scriptedStore) SaveItem(ctx context.Context, req store.SaveRequest) (item.Document, error) {
	if err := s.do(); err != nil {
		return nil, err
	}
	return req.Item, nil
}

func (s *scriptedStore) SaveBatch(ctx context.Context, partitionKey string, reqs []store.SaveRequest) ([]store.BatchResult, error) {
	if err := s.do(); err != nil {
		return nil, err
	}
	return make([]store.BatchResult, len(reqs)), nil
}

func (s *scriptedStore) Query(ctx context.Context, spec store.QuerySpec) (store.Iterator, error) {
	if err := s.do(); err != nil {
		return nil, err
	}
	return emptyIterator{}, nil
}

func (s *scriptedStore) Ping(ctx context.Context) error { return nil }

type emptyIterator struct{}

func (emptyIterator) Next(context.Context) bool { return false }
func (emptyIterator) Value() item.Document      { return nil }
func (emptyIterator) Err() error                { return nil }
func (emptyIterator) Close() error              { return nil }

func fastRetry() decorator.RetryConfig {
	return decorator.RetryConfig{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	inner := &scriptedStore{failures: 2, err: errors.New(errors.KindServiceUnavailable, "flaky")}
	r := decorator.NewRetryStore(inner, fastRetry())

	doc, err := r.ReadItem(context.Background(), "t1", "p1")
	require.NoError(t, err)
	assert.NotNil(t, doc)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	inner := &scriptedStore{failures: 100, err: errors.New(errors.KindServiceUnavailable, "down")}
	r := decorator.NewRetryStore(inner, fastRetry())

	_, err := r.ReadItem(context.Background(), "t1", "p1")
	assert.True(t, errors.IsUnavailable(err))
	assert.Equal(t, 4, inner.calls) // initial attempt plus three retries
}

func TestRetryDoesNotRetryCallerErrors(t *testing.T) {
	inner := &scriptedStore{failures: 100, err: errors.New(errors.KindNotFound, "missing")}
	r := decorator.NewRetryStore(inner, fastRetry())

	_, err := r.ReadItem(context.Background(), "t1", "p1")
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, 1, inner.calls)
}

func TestRetrySkipsWritesByDefault(t *testing.T) {
	inner := &scriptedStore{failures: 1, err: errors.New(errors.KindServiceUnavailable, "blip")}
	r := decorator.NewRetryStore(inner, fastRetry())

	_, err := r.SaveItem(context.Background(), store.SaveRequest{ID: "t1"})
	assert.True(t, errors.IsUnavailable(err))
	assert.Equal(t, 1, inner.calls)

	cfg := fastRetry()
	cfg.RetryWrites = true
	inner = &scriptedStore{failures: 1, err: errors.New(errors.KindServiceUnavailable, "blip")}
	r = decorator.NewRetryStore(inner, cfg)

	_, err = r.SaveItem(context.Background(), store.SaveRequest{ID: "t1"})
	assert.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &scriptedStore{failures: 100, err: errors.New(errors.KindServiceUnavailable, "down")}
	cfg := decorator.DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 2
	b := decorator.NewBreakerStore(inner, cfg, zap.NewNop())
	ctx := context.Background()

	_, _ = b.ReadItem(ctx, "t1", "p1")
	_, _ = b.ReadItem(ctx, "t1", "p1")

	// Circuit is open; the inner store is no longer reached.
	callsBefore := inner.calls
	_, err := b.ReadItem(ctx, "t1", "p1")
	assert.True(t, errors.IsUnavailable(err))
	assert.Equal(t, callsBefore, inner.calls)
}

func TestBreakerIgnoresCallerErrors(t *testing.T) {
	inner := &scriptedStore{failures: 100, err: errors.New(errors.KindConflict, "dup")}
	cfg := decorator.DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 2
	b := decorator.NewBreakerStore(inner, cfg, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := b.ReadItem(ctx, "t1", "p1")
		assert.True(t, errors.IsConflict(err))
	}
	assert.Equal(t, 5, inner.calls)
}

func TestMetricsStoreRecordsCalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	inner := &scriptedStore{}
	m := decorator.NewMetricsStore(inner, reg)

	_, err := m.ReadItem(context.Background(), "t1", "p1")
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, len(families))
	for i, f := range families {
		names[i] = f.GetName()
	}
	assert.Contains(t, names, "itemstore_store_calls_total")
	assert.Contains(t, names, "itemstore_store_call_duration_seconds")
}

func TestChainComposesConfiguredDecorators(t *testing.T) {
	inner := &scriptedStore{failures: 1, err: errors.New(errors.KindServiceUnavailable, "blip")}
	cfg := decorator.DefaultChainConfig()
	cfg.Retry = fastRetry()
	cfg.Registry = prometheus.NewRegistry()

	chained := decorator.Chain(inner, cfg, zap.NewNop())

	doc, err := chained.ReadItem(context.Background(), "t1", "p1")
	require.NoError(t, err)
	assert.NotNil(t, doc)
	assert.Equal(t, 2, inner.calls)

	if p, ok := chained.(store.Pinger); assert.True(t, ok) {
		assert.NoError(t, p.Ping(context.Background()))
	}
}
