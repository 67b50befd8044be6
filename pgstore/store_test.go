package pgstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wizenheimer/sufdex"
)

func TestRowKey(t *testing.T) {
	tests := []struct {
		id      sufdex.NodeID
		want    int64
		wantErr bool
	}{
		{sufdex.Head, headKey, false},
		{sufdex.Tail, tailKey, false},
		{sufdex.Cursor, cursorKey, false},
		{sufdex.RefID(0), 0, false},
		{sufdex.RefID(1 << 62), 1 << 62, false},
		{sufdex.RefID(1 << 63), 0, true},
		{sufdex.NoNode, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.id.String(), func(t *testing.T) {
			got, err := rowKey(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, sufdex.ErrInvalidNodeID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// connect opens a store against SUFDEX_TEST_DATABASE_URL on a clean table.
func connect(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("SUFDEX_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SUFDEX_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	_, err = s.pool.Exec(ctx, `TRUNCATE sufdex_nodes; ALTER SEQUENCE sufdex_node_ids RESTART`)
	require.NoError(t, err)
	return s
}

func TestStore_Postgres(t *testing.T) {
	s := connect(t)
	ctx := context.Background()

	id, err := s.NextID(ctx)
	require.NoError(t, err)
	assert.Equal(t, sufdex.RefID(0), id)

	node := &sufdex.Node{ID: id, Key: sufdex.Key{Char: "z", Row: 1, Next: sufdex.RefID(3)}, Forward: []sufdex.NodeID{sufdex.Tail}}
	require.NoError(t, s.SetNode(ctx, node))
	node.Forward = append(node.Forward, sufdex.RefID(5))
	require.NoError(t, s.SetNode(ctx, node))

	got, err := s.GetNode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, node, got)

	require.NoError(t, s.RemoveNode(ctx, id))
	_, err = s.GetNode(ctx, id)
	assert.ErrorIs(t, err, sufdex.ErrNodeNotFound)
}

func TestStore_PostgresBacksSuffixArray(t *testing.T) {
	s := connect(t)
	ctx := context.Background()

	sa, err := sufdex.NewSuffixArray(ctx, s,
		sufdex.WithMaxLevel(8),
		sufdex.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	require.NoError(t, sa.InsertRecord(ctx, sufdex.Record{ID: 1, Text: "banana"}))
	require.NoError(t, sa.InsertRecord(ctx, sufdex.Record{ID: 2, Text: "bandana"}))

	rows, err := sa.Query(ctx, "ana", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []sufdex.RowID{1, 2}, rows)

	rows, err = sa.Query(ctx, "nd", 10)
	require.NoError(t, err)
	assert.Equal(t, []sufdex.RowID{2}, rows)
}
