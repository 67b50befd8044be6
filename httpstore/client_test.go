package httpstore

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wizenheimer/sufdex"
	"github.com/wizenheimer/sufdex/server"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRemote(t *testing.T) (*Client, *sufdex.MemoryStore) {
	t.Helper()
	backing := sufdex.NewMemoryStore()
	ts := httptest.NewServer(server.New(nil, backing, server.Options{Logger: quietLogger()}))
	t.Cleanup(ts.Close)

	c, err := New(ts.URL+"/", ts.Client())
	require.NoError(t, err)
	return c, backing
}

func TestNew_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"ftp://example.com", "::not a url", ""} {
		_, err := New(raw, nil)
		assert.Error(t, err, raw)
	}
}

func TestClient_NodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, backing := newRemote(t)

	id, err := c.NextID(ctx)
	require.NoError(t, err)
	assert.Equal(t, sufdex.RefID(0), id)

	node := &sufdex.Node{
		ID:      id,
		Key:     sufdex.Key{Char: "é", Row: 3, Col: 1, Next: sufdex.RefID(7)},
		Forward: []sufdex.NodeID{sufdex.Tail, sufdex.RefID(2)},
	}
	require.NoError(t, c.SetNode(ctx, node))
	assert.Equal(t, 1, backing.Count())

	got, err := c.GetNode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, node, got)

	require.NoError(t, c.RemoveNode(ctx, id))
	_, err = c.GetNode(ctx, id)
	assert.ErrorIs(t, err, sufdex.ErrNodeNotFound)
}

func TestClient_BacksSuffixArray(t *testing.T) {
	ctx := context.Background()
	c, backing := newRemote(t)

	sa, err := sufdex.NewSuffixArray(ctx, c, sufdex.WithMaxLevel(6), sufdex.WithLogger(quietLogger()))
	require.NoError(t, err)

	require.NoError(t, sa.InsertRecord(ctx, sufdex.Record{ID: 1, Text: "hello world"}))
	require.NoError(t, sa.InsertRecord(ctx, sufdex.Record{ID: 2, Text: "yellow"}))

	rows, err := sa.Query(ctx, "ello", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []sufdex.RowID{1, 2}, rows)

	require.NoError(t, sa.DeleteRecord(ctx, sufdex.Record{ID: 2, Text: "yellow"}))
	rows, err = sa.Query(ctx, "ello", 10)
	require.NoError(t, err)
	assert.Equal(t, []sufdex.RowID{1}, rows)

	// head plus "hello world" and its sentinel
	assert.Equal(t, 13, backing.Count())
}
