// Package redisstore keeps skip list nodes in Redis.
//
// Each node is one string value holding its binary encoding under
// "<prefix>node:<id>"; ids come from INCR on "<prefix>seq".
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wizenheimer/sufdex"
)

const DefaultPrefix = "sufdex:"

// Store is a sufdex.NodeStore backed by a Redis client.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// New wraps an existing client. An empty prefix selects DefaultPrefix.
func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Dial connects to addr and checks the connection with PING.
func Dial(ctx context.Context, addr, prefix string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return New(rdb, prefix), nil
}

func (s *Store) nodeKey(id sufdex.NodeID) string {
	return s.prefix + "node:" + id.String()
}

func (s *Store) seqKey() string {
	return s.prefix + "seq"
}

func (s *Store) GetNode(ctx context.Context, id sufdex.NodeID) (*sufdex.Node, error) {
	data, err := s.rdb.Get(ctx, s.nodeKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", sufdex.ErrNodeNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", id, err)
	}

	node := new(sufdex.Node)
	if err := node.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode node %s: %w", id, err)
	}
	return node, nil
}

func (s *Store) SetNode(ctx context.Context, node *sufdex.Node) error {
	if node.ID.IsNone() {
		return fmt.Errorf("%w: node without id", sufdex.ErrInvalidNodeID)
	}
	data, err := node.MarshalBinary()
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.nodeKey(node.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", node.ID, err)
	}
	return nil
}

// NextID hands out 0, 1, 2, ... across every client sharing the prefix.
func (s *Store) NextID(ctx context.Context) (sufdex.NodeID, error) {
	n, err := s.rdb.Incr(ctx, s.seqKey()).Uint64()
	if err != nil {
		return sufdex.NoNode, fmt.Errorf("redis incr: %w", err)
	}
	return sufdex.RefID(n - 1), nil
}

func (s *Store) RemoveNode(ctx context.Context, id sufdex.NodeID) error {
	if err := s.rdb.Del(ctx, s.nodeKey(id)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", id, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}
