package decorator

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"itemstore/item"
	"itemstore/pkg/errors"
	"itemstore/store"
)

// MetricsStore records per-operation call counts and latencies.
type MetricsStore struct {
	inner     store.Store
	calls     *prometheus.CounterVec
	latencies *prometheus.HistogramVec
}

// NewMetricsStore wraps inner with Prometheus instrumentation, registering
// its collectors on reg.
func NewMetricsStore(inner store.Store, reg prometheus.Registerer) *MetricsStore {
	m := &MetricsStore{
		inner: inner,
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "itemstore",
			Subsystem: "store",
			Name:      "calls_total",
			Help:      "Store calls by operation and outcome kind.",
		}, []string{"op", "kind"}),
		latencies: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "itemstore",
			Subsystem: "store",
			Name:      "call_duration_seconds",
			Help:      "Store call latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.calls, m.latencies)
	}
	return m
}

var _ store.Store = (*MetricsStore)(nil)

func (m *MetricsStore) observe(op string, start time.Time, err error) {
	kind := "ok"
	if err != nil {
		kind = string(errors.KindOf(err))
	}
	m.calls.WithLabelValues(op, kind).Inc()
	m.latencies.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *MetricsStore) ReadItem(ctx context.Context, id, partitionKey string) (item.Document, error) {
	start := time.Now()
	doc, err := m.inner.ReadItem(ctx, id, partitionKey)
	m.observe("read_item", start, err)
	return doc, err
}

func (m *MetricsStore) SaveItem(ctx context.Context, req store.SaveRequest) (item.Document, error) {
	start := time.Now()
	doc, err := m.inner.SaveItem(ctx, req)
	m.observe("save_item", start, err)
	return doc, err
}

func (m *MetricsStore) SaveBatch(ctx context.Context, partitionKey string, reqs []store.SaveRequest) ([]store.BatchResult, error) {
	start := time.Now()
	results, err := m.inner.SaveBatch(ctx, partitionKey, reqs)
	m.observe("save_batch", start, err)
	return results, err
}

func (m *MetricsStore) Query(ctx context.Context, spec store.QuerySpec) (store.Iterator, error) {
	start := time.Now()
	it, err := m.inner.Query(ctx, spec)
	m.observe("query", start, err)
	return it, err
}

func (m *MetricsStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := pingInner(ctx, m.inner)
	m.observe("ping", start, err)
	return err
}
