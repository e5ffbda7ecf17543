package itemstore_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itemstore"
	"itemstore/config"
	"itemstore/item"
	"itemstore/pkg/errors"
	"itemstore/store"
)

func TestOpenMemoryBackend(t *testing.T) {
	s, closer, err := itemstore.Open(context.Background(), nil, nil)
	require.NoError(t, err)
	defer closer.Close()

	doc := item.Document{
		"id":           json.RawMessage(`"t1"`),
		"partitionKey": json.RawMessage(`"p1"`),
		"typeName":     json.RawMessage(`"task"`),
	}
	event := item.Document{
		"id":           json.RawMessage(`"ev1"`),
		"partitionKey": json.RawMessage(`"p1"`),
		"typeName":     json.RawMessage(`"event"`),
	}
	_, err = s.SaveItem(context.Background(), store.SaveRequest{
		ID: "t1", PartitionKey: "p1", TypeName: "task",
		Item: doc, Event: event, Action: store.ActionCreate,
	})
	require.NoError(t, err)

	got, err := s.ReadItem(context.Background(), "t1", "p1")
	require.NoError(t, err)
	assert.JSONEq(t, `"t1"`, string(got["id"]))

	// The chain preserves health checking.
	if p, ok := s.(store.Pinger); assert.True(t, ok) {
		assert.NoError(t, p.Ping(context.Background()))
	}
}

func TestOpenSQLiteBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendSQLite
	cfg.SQLite.Path = ":memory:"

	s, closer, err := itemstore.Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer closer.Close()

	if p, ok := s.(store.Pinger); assert.True(t, ok) {
		assert.NoError(t, p.Ping(context.Background()))
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendDynamo // no table name

	_, _, err := itemstore.Open(context.Background(), cfg, nil)
	assert.True(t, errors.IsValidation(err))
}

func TestNewLogger(t *testing.T) {
	logger, err := itemstore.NewLogger(config.LoggingConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = itemstore.NewLogger(config.LoggingConfig{Level: "shout"})
	assert.True(t, errors.IsValidation(err))
}
