package sufdex

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrNodeNotFound = errors.New("node not found")

// NodeStore persists skip list nodes by id. It may be remote: every call can
// block and every call can fail.
type NodeStore interface {
	// GetNode returns the node stored under id, or an error wrapping ErrNodeNotFound.
	GetNode(ctx context.Context, id NodeID) (*Node, error)
	// SetNode stores node under node.ID, replacing any previous version.
	SetNode(ctx context.Context, node *Node) error
	// NextID allocates a fresh regular id.
	NextID(ctx context.Context) (NodeID, error)
}

// NodeRemover is implemented by stores that can drop nodes nobody links to anymore.
type NodeRemover interface {
	RemoveNode(ctx context.Context, id NodeID) error
}

// MemoryStore is a NodeStore backed by a map.
// Nodes are copied on the way in and out, like a remote store would.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[NodeID]*Node
	seq   uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[NodeID]*Node),
	}
}

func (s *MemoryStore) GetNode(ctx context.Context, id NodeID) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return node.Clone(), nil
}

func (s *MemoryStore) SetNode(ctx context.Context, node *Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if node.ID.IsNone() {
		return fmt.Errorf("%w: node without id", ErrInvalidNodeID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes[node.ID] = node.Clone()
	return nil
}

func (s *MemoryStore) NextID(ctx context.Context) (NodeID, error) {
	if err := ctx.Err(); err != nil {
		return NoNode, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := RefID(s.seq)
	s.seq++
	return id, nil
}

func (s *MemoryStore) RemoveNode(ctx context.Context, id NodeID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.nodes, id)
	return nil
}

// Count returns the number of stored nodes, sentinels included.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}
