// Package pgstore keeps skip list nodes in PostgreSQL.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wizenheimer/sufdex"
)

// Schema creates the node table and id sequence. Sentinels and the cursor are
// stored under negative keys, which the sequence never produces.
const Schema = `
CREATE TABLE IF NOT EXISTS sufdex_nodes (
	id   BIGINT PRIMARY KEY,
	data BYTEA  NOT NULL
);
CREATE SEQUENCE IF NOT EXISTS sufdex_node_ids MINVALUE 0 START 0;
`

const (
	headKey   int64 = -1
	tailKey   int64 = -2
	cursorKey int64 = -3
)

// Store is a sufdex.NodeStore backed by a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps a pool. Call Migrate once before first use.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for dsn and applies Schema.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// rowKey maps a node id onto the table's primary key.
func rowKey(id sufdex.NodeID) (int64, error) {
	switch {
	case id.IsHead():
		return headKey, nil
	case id.IsTail():
		return tailKey, nil
	case id == sufdex.Cursor:
		return cursorKey, nil
	}
	n, ok := id.Ordinal()
	if !ok || n > 1<<63-1 {
		return 0, fmt.Errorf("%w: %s", sufdex.ErrInvalidNodeID, id)
	}
	return int64(n), nil
}

func (s *Store) GetNode(ctx context.Context, id sufdex.NodeID) (*sufdex.Node, error) {
	key, err := rowKey(id)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = s.pool.QueryRow(ctx, `SELECT data FROM sufdex_nodes WHERE id = $1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", sufdex.ErrNodeNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select node %s: %w", id, err)
	}

	node := new(sufdex.Node)
	if err := node.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode node %s: %w", id, err)
	}
	return node, nil
}

func (s *Store) SetNode(ctx context.Context, node *sufdex.Node) error {
	key, err := rowKey(node.ID)
	if err != nil {
		return err
	}
	data, err := node.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sufdex_nodes (id, data) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`, key, data)
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", node.ID, err)
	}
	return nil
}

func (s *Store) NextID(ctx context.Context) (sufdex.NodeID, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('sufdex_node_ids')`).Scan(&n); err != nil {
		return sufdex.NoNode, fmt.Errorf("next node id: %w", err)
	}
	if n < 0 {
		return sufdex.NoNode, fmt.Errorf("%w: sequence returned %d", sufdex.ErrInvalidNodeID, n)
	}
	return sufdex.RefID(uint64(n)), nil
}

func (s *Store) RemoveNode(ctx context.Context, id sufdex.NodeID) error {
	key, err := rowKey(id)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM sufdex_nodes WHERE id = $1`, key); err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}
