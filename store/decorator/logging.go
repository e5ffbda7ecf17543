package decorator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"itemstore/item"
	"itemstore/pkg/errors"
	"itemstore/store"
)

// LoggingStore logs every store call with its duration and outcome.
type LoggingStore struct {
	inner  store.Store
	logger *zap.Logger
}

// NewLoggingStore wraps inner with call logging.
func NewLoggingStore(inner store.Store, logger *zap.Logger) *LoggingStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingStore{inner: inner, logger: logger}
}

var _ store.Store = (*LoggingStore)(nil)

func (l *LoggingStore) log(op string, start time.Time, err error, fields ...zap.Field) {
	fields = append(fields,
		zap.String("op", op),
		zap.Duration("duration", time.Since(start)))
	if err != nil {
		fields = append(fields,
			zap.String("kind", string(errors.KindOf(err))),
			zap.Error(err))
		l.logger.Warn("store call failed", fields...)
		return
	}
	l.logger.Debug("store call", fields...)
}

func (l *LoggingStore) ReadItem(ctx context.Context, id, partitionKey string) (item.Document, error) {
	start := time.Now()
	doc, err := l.inner.ReadItem(ctx, id, partitionKey)
	l.log("read_item", start, err, zap.String("id", id), zap.String("partition_key", partitionKey))
	return doc, err
}

func (l *LoggingStore) SaveItem(ctx context.Context, req store.SaveRequest) (item.Document, error) {
	start := time.Now()
	doc, err := l.inner.SaveItem(ctx, req)
	l.log("save_item", start, err,
		zap.String("id", req.ID),
		zap.String("partition_key", req.PartitionKey),
		zap.String("action", string(req.Action)))
	return doc, err
}

func (l *LoggingStore) SaveBatch(ctx context.Context, partitionKey string, reqs []store.SaveRequest) ([]store.BatchResult, error) {
	start := time.Now()
	results, err := l.inner.SaveBatch(ctx, partitionKey, reqs)
	l.log("save_batch", start, err,
		zap.String("partition_key", partitionKey),
		zap.Int("rows", len(reqs)))
	return results, err
}

func (l *LoggingStore) Query(ctx context.Context, spec store.QuerySpec) (store.Iterator, error) {
	start := time.Now()
	it, err := l.inner.Query(ctx, spec)
	l.log("query", start, err,
		zap.String("type_name", spec.TypeName),
		zap.String("partition_key", spec.PartitionKey))
	return it, err
}

func (l *LoggingStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := pingInner(ctx, l.inner)
	l.log("ping", start, err)
	return err
}
