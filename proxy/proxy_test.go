package proxy_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itemstore/item"
	"itemstore/pkg/errors"
	"itemstore/proxy"
)

type task struct {
	item.BaseItem
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

func taskRegistry(t *testing.T) *proxy.Registry[*task] {
	t.Helper()
	r, err := proxy.NewRegistry(
		proxy.Tracked[*task]{Name: "title", Get: func(it *task) any { return it.Title }},
		proxy.Tracked[*task]{Name: "done", Get: func(it *task) any { return it.Done }},
	)
	require.NoError(t, err)
	return r
}

func TestNewRegistryRejectsEnvelopeShadowing(t *testing.T) {
	_, err := proxy.NewRegistry(
		proxy.Tracked[*task]{Name: "etag", JSONName: "_etag", Get: func(it *task) any { return nil }},
	)
	assert.True(t, errors.IsInvalidType(err))
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := proxy.NewRegistry(
		proxy.Tracked[*task]{Name: "title", Get: func(it *task) any { return it.Title }},
		proxy.Tracked[*task]{Name: "title", Get: func(it *task) any { return it.Title }},
	)
	assert.True(t, errors.IsInvalidType(err))
}

func TestNewRegistryRejectsMissingGetter(t *testing.T) {
	_, err := proxy.NewRegistry(proxy.Tracked[*task]{Name: "title"})
	assert.True(t, errors.IsInvalidType(err))
}

func TestFieldMapIncludesSystemAndTrackedNames(t *testing.T) {
	fields := taskRegistry(t).FieldMap()

	assert.Equal(t, "title", fields["title"])
	assert.Equal(t, "_etag", fields["eTag"])
	assert.Equal(t, "isDeleted", fields["isDeleted"])
	assert.Equal(t, "id", fields["id"])
}

func TestFreshProxyReportsEveryTrackedProperty(t *testing.T) {
	it := &task{Title: "write code", Done: false}
	p := proxy.NewFresh(it, taskRegistry(t))

	changes, err := p.Changes()
	require.NoError(t, err)
	require.Len(t, changes, 2)

	byName := map[string]item.PropertyChange{}
	for _, c := range changes {
		byName[c.PropertyName] = c
	}
	assert.Nil(t, byName["title"].OldValue)
	assert.JSONEq(t, `"write code"`, string(byName["title"].NewValue))
	assert.Nil(t, byName["done"].OldValue)
	assert.JSONEq(t, `false`, string(byName["done"].NewValue))
}

func TestSnapshotProxyDiffsAgainstPreState(t *testing.T) {
	it := &task{Title: "write code", Done: false}
	p, err := proxy.New(it, taskRegistry(t))
	require.NoError(t, err)

	it.Title = "write tests"

	changes, err := p.Changes()
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "title", changes[0].PropertyName)
	assert.JSONEq(t, `"write code"`, string(changes[0].OldValue))
	assert.JSONEq(t, `"write tests"`, string(changes[0].NewValue))
}

func TestUnchangedItemProducesEmptyChangeSet(t *testing.T) {
	it := &task{Title: "stable", Done: true}
	p, err := proxy.New(it, taskRegistry(t))
	require.NoError(t, err)

	changes, err := p.Changes()
	require.NoError(t, err)
	assert.Empty(t, changes)

	// Empty, not nil: the change set serializes as [].
	raw, err := json.Marshal(changes)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

func TestRevertedChangeDropsOut(t *testing.T) {
	it := &task{Title: "original"}
	p, err := proxy.New(it, taskRegistry(t))
	require.NoError(t, err)

	it.Title = "tweaked"
	it.Title = "original"

	changes, err := p.Changes()
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestReplaceFreezesStoredItem(t *testing.T) {
	p := proxy.NewFresh(&task{Title: "a"}, taskRegistry(t))
	assert.False(t, p.Frozen())

	stored := &task{Title: "a"}
	p.Replace(stored)

	assert.True(t, p.Frozen())
	assert.Same(t, stored, p.Item())
	assert.True(t, errors.IsReadOnly(p.Item().Writable()))
}
