// Package sqlite is the relational store adapter. Items and their audit
// events live in two tables joined by a foreign key; each save runs in one
// immediate transaction that re-reads the current row, enforces the write
// guard and applies both rows, so the (item, event) pair commits atomically
// and compare-and-swap is serialized by SQLite's write lock.
package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	"itemstore/item"
	"itemstore/pkg/errors"
	"itemstore/store"
	"itemstore/store/jsonval"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	partition_key TEXT NOT NULL,
	id            TEXT NOT NULL,
	type_name     TEXT NOT NULL,
	is_deleted    INTEGER NOT NULL DEFAULT 0,
	etag          TEXT NOT NULL,
	doc           TEXT NOT NULL,
	PRIMARY KEY (partition_key, id)
);
CREATE INDEX IF NOT EXISTS idx_items_type ON items(type_name, partition_key);

CREATE TABLE IF NOT EXISTS item_events (
	partition_key TEXT NOT NULL,
	id            TEXT NOT NULL,
	object_id     TEXT NOT NULL,
	doc           TEXT NOT NULL,
	PRIMARY KEY (partition_key, id),
	FOREIGN KEY (partition_key, object_id) REFERENCES items(partition_key, id)
);
CREATE INDEX IF NOT EXISTS idx_item_events_object ON item_events(partition_key, object_id);
`

// Store is the SQLite adapter.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

type options struct {
	logger      *zap.Logger
	busyTimeout time.Duration
}

// Option configures a Store.
type Option func(*options)

// WithLogger attaches a structured logger; the default is a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBusyTimeout overrides how long a connection waits on SQLite's write
// lock before giving up.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// ConnString builds a connection string with the standard pragmas:
// busy_timeout keeps concurrent writers from failing fast with "database is
// locked", foreign_keys enforces the events-to-items reference.
func ConnString(path string, busyTimeout time.Duration) string {
	if busyTimeout <= 0 {
		busyTimeout = 30 * time.Second
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)",
		path, busyTimeout.Milliseconds())
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral database.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	db, err := sql.Open("sqlite3", ConnString(path, o.busyTimeout))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindServiceUnavailable, "sqlite: open database")
	}
	// A single connection keeps in-memory databases coherent and serializes
	// writers ahead of SQLite's own lock.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.KindServiceUnavailable, "sqlite: apply schema")
	}
	return &Store{db: db, logger: o.logger}, nil
}

var _ store.Store = (*Store)(nil)

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReadItem returns the live document for (id, partitionKey). Tombstones and
// absent rows both surface as NotFound.
func (s *Store) ReadItem(ctx context.Context, id, partitionKey string) (item.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM items WHERE partition_key = ? AND id = ? AND is_deleted = 0`,
		partitionKey, id).Scan(&doc)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf(errors.KindNotFound, "item %s not found in partition %s", id, partitionKey)
	}
	if err != nil {
		return nil, translate(err, "sqlite: read item")
	}
	return parseDoc(doc)
}

// SaveItem persists one (item, event) pair in a single transaction.
func (s *Store) SaveItem(ctx context.Context, req store.SaveRequest) (item.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, translate(err, "sqlite: begin transaction")
	}
	defer tx.Rollback()

	stored, err := s.applyRow(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, translate(err, "sqlite: commit")
	}
	s.logger.Debug("saved item",
		zap.String("id", req.ID),
		zap.String("partition_key", req.PartitionKey),
		zap.String("action", string(req.Action)))
	return stored, nil
}

// applyRow enforces the write guard against the current row and writes the
// item and its event inside the caller's transaction.
func (s *Store) applyRow(ctx context.Context, tx *sql.Tx, req store.SaveRequest) (item.Document, error) {
	var curETag string
	var curDeleted bool
	err := tx.QueryRowContext(ctx,
		`SELECT etag, is_deleted FROM items WHERE partition_key = ? AND id = ?`,
		req.PartitionKey, req.ID).Scan(&curETag, &curDeleted)
	exists := true
	if stderrors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return nil, translate(err, "sqlite: read current row")
	}

	switch req.Action {
	case store.ActionCreate:
		if exists {
			return nil, errors.Newf(errors.KindConflict, "item %s already exists in partition %s", req.ID, req.PartitionKey)
		}
	case store.ActionUpdate, store.ActionDelete:
		if !exists {
			return nil, errors.Newf(errors.KindNotFound, "item %s not found in partition %s", req.ID, req.PartitionKey)
		}
		// The ETag comparison runs before the tombstone check so the loser
		// of two concurrent deletes sees PreconditionFailed, not NotFound.
		if curETag != req.ETag {
			return nil, errors.Newf(errors.KindPreconditionFailed, "etag mismatch for item %s", req.ID)
		}
		if curDeleted {
			// Unreachable with a matching ETag: every delete rotates it.
			return nil, errors.Newf(errors.KindNotFound, "item %s not found in partition %s", req.ID, req.PartitionKey)
		}
	default:
		return nil, errors.Newf(errors.KindBadRequest, "unknown save action %q", req.Action)
	}

	stored := req.Item.Clone()
	etag := uuid.NewString()
	stored["_etag"] = mustJSON(etag)
	storedRaw, err := renderDoc(stored)
	if err != nil {
		return nil, err
	}
	deleted := 0
	if !jsonval.IsLive(stored) {
		deleted = 1
	}

	if exists {
		_, err = tx.ExecContext(ctx,
			`UPDATE items SET type_name = ?, is_deleted = ?, etag = ?, doc = ?
			 WHERE partition_key = ? AND id = ? AND etag = ?`,
			req.TypeName, deleted, etag, storedRaw, req.PartitionKey, req.ID, req.ETag)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO items (partition_key, id, type_name, is_deleted, etag, doc)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			req.PartitionKey, req.ID, req.TypeName, deleted, etag, storedRaw)
	}
	if err != nil {
		return nil, translate(err, "sqlite: write item")
	}

	event := req.Event.Clone()
	event["_etag"] = mustJSON(uuid.NewString())
	eventRaw, err := renderDoc(event)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO item_events (partition_key, id, object_id, doc) VALUES (?, ?, ?, ?)`,
		req.PartitionKey, jsonval.String(event, "id"), req.ID, eventRaw)
	if err != nil {
		return nil, translate(err, "sqlite: write event")
	}
	return stored, nil
}

// SaveBatch applies all requests inside one transaction. The first rejected
// row rolls everything back and reports its real status with
// FailedDependency siblings.
func (s *Store) SaveBatch(ctx context.Context, partitionKey string, reqs []store.SaveRequest) ([]store.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}
	results := make([]store.BatchResult, len(reqs))
	if len(reqs) == 0 {
		return results, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, translate(err, "sqlite: begin transaction")
	}
	defer tx.Rollback()

	stored := make([]item.Document, len(reqs))
	for i, req := range reqs {
		if req.PartitionKey != partitionKey {
			return rejectBatch(results, i, errors.Newf(errors.KindBadRequest,
				"row %d targets partition %s, batch is bound to %s", i, req.PartitionKey, partitionKey)), nil
		}
		doc, err := s.applyRow(ctx, tx, req)
		if err != nil {
			if errors.KindOf(err) == errors.KindInternal || errors.IsUnavailable(err) {
				return nil, err
			}
			return rejectBatch(results, i, err), nil
		}
		stored[i] = doc
	}

	if err := tx.Commit(); err != nil {
		return nil, translate(err, "sqlite: commit")
	}
	for i := range reqs {
		results[i] = store.BatchResult{StatusCode: 200, Item: stored[i]}
	}
	s.logger.Debug("saved batch",
		zap.String("partition_key", partitionKey),
		zap.Int("rows", len(reqs)))
	return results, nil
}

// rejectBatch fills the result slice for a rejected batch: the failing row
// carries its real status, every sibling FailedDependency. Nothing commits.
func rejectBatch(results []store.BatchResult, failed int, cause error) []store.BatchResult {
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

// ReadEvents returns the audit event documents recorded for an item, oldest
// first by insertion order.
func (s *Store) ReadEvents(ctx context.Context, objectID, partitionKey string) ([]item.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM item_events WHERE partition_key = ? AND object_id = ? ORDER BY rowid`,
		partitionKey, objectID)
	if err != nil {
		return nil, translate(err, "sqlite: read events")
	}
	defer rows.Close()

	var docs []item.Document
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, translate(err, "sqlite: scan event")
		}
		doc, err := parseDoc(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "sqlite: read events")
	}
	return docs, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return translate(err, "sqlite: ping")
	}
	return nil
}

// translate maps driver failures onto the shared error taxonomy.
func translate(err error, msg string) error {
	if err == nil {
		return nil
	}
	var serr *sqlite3.Error
	if stderrors.As(err, &serr) {
		switch serr.ExtendedCode() {
		case sqlite3.CONSTRAINT_PRIMARYKEY, sqlite3.CONSTRAINT_UNIQUE:
			return errors.Wrap(err, errors.KindConflict, msg)
		case sqlite3.CONSTRAINT_FOREIGNKEY:
			return errors.Wrap(err, errors.KindFailedDependency, msg)
		}
		switch serr.Code() {
		case sqlite3.BUSY, sqlite3.LOCKED:
			return errors.Wrap(err, errors.KindServiceUnavailable, msg)
		}
	}
	return errors.Wrap(err, errors.KindInternal, msg)
}
