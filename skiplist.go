package sufdex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring"
)

// ═══════════════════════════════════════════════════════════════════════════════
// A SKIP LIST THAT LIVES IN A STORE
// ═══════════════════════════════════════════════════════════════════════════════
// The shape is the usual one:
//
// Level 2: HEAD --> [at] -------------------------------> TAIL
// Level 1: HEAD --> [at] ---------------> [t] ----------> TAIL
// Level 0: HEAD --> [at] --> [cat] -----> [t] --> [∅] --> TAIL
//
// Those are the suffixes of the record "cat". No node is held in memory
// between operations: a forward link is a NodeID, and every step of a descent
// asks the NodeStore for the node again.
//
// ORDERING:
// ---------
// A key stands for a whole suffix, so two keys compare by walking both chains
// character by character:
//   - the terminal key of a record sorts AFTER every key that continues with
//     the same prefix ("ab" > "abc")
//   - two terminal keys tie-break on row id
//   - a search pattern's end sorts BEFORE everything sharing the pattern, so a
//     range scan lands on the first entry that starts with it
// ═══════════════════════════════════════════════════════════════════════════════

const (
	DefaultProbability = 0.5
	DefaultMaxLevel    = 30
)

var ErrKeyNotFound = errors.New("key not found")

// SkipList keeps Keys in ascending suffix order on top of a NodeStore.
// It does no locking of its own: writers of the same record must be serialized by the caller.
type SkipList struct {
	store    NodeStore
	p        float64
	maxLevel int
	size     atomic.Int64
	logger   *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures a SkipList.
type Option func(*SkipList)

// WithProbability sets the chance of promoting a node one more level.
func WithProbability(p float64) Option {
	return func(sl *SkipList) { sl.p = p }
}

// WithMaxLevel caps tower height.
func WithMaxLevel(n int) Option {
	return func(sl *SkipList) { sl.maxLevel = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(sl *SkipList) { sl.logger = l }
}

// WithRand makes level selection deterministic, mostly for tests.
func WithRand(r *rand.Rand) Option {
	return func(sl *SkipList) { sl.rng = r }
}

// NewSkipList opens the skip list kept in store, writing a fresh HEAD if the
// store has none.
func NewSkipList(ctx context.Context, store NodeStore, opts ...Option) (*SkipList, error) {
	sl := &SkipList{
		store:    store,
		p:        DefaultProbability,
		maxLevel: DefaultMaxLevel,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(sl)
	}
	if sl.p <= 0 || sl.p >= 1 {
		return nil, fmt.Errorf("skip list probability must be in (0, 1), got %v", sl.p)
	}
	if sl.maxLevel < 1 {
		return nil, fmt.Errorf("skip list max level must be at least 1, got %d", sl.maxLevel)
	}
	if sl.rng == nil {
		sl.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	head, err := store.GetNode(ctx, Head)
	switch {
	case err == nil:
		return sl, sl.adoptHead(ctx, head)
	case errors.Is(err, ErrNodeNotFound):
		head = &Node{ID: Head, Key: Key{Col: EndOfRecord}, Forward: make([]NodeID, sl.maxLevel)}
		for i := range head.Forward {
			head.Forward[i] = Tail
		}
		if err := store.SetNode(ctx, head); err != nil {
			return nil, fmt.Errorf("write head: %w", err)
		}
		return sl, nil
	default:
		return nil, fmt.Errorf("read head: %w", err)
	}
}

// adoptHead reconciles an existing HEAD with the configured max level.
// Towers already in the store may be taller than maxLevel, so the larger height wins.
func (sl *SkipList) adoptHead(ctx context.Context, head *Node) error {
	if head.Level() >= sl.maxLevel {
		sl.maxLevel = head.Level()
		return nil
	}
	for head.Level() < sl.maxLevel {
		head.Forward = append(head.Forward, Tail)
	}
	if err := sl.store.SetNode(ctx, head); err != nil {
		return fmt.Errorf("grow head: %w", err)
	}
	return nil
}

// Len returns the number of entries inserted minus entries deleted through
// this instance. It is not recovered when a store is reopened.
func (sl *SkipList) Len() int {
	return int(max(sl.size.Load(), 0))
}

// MaxLevel returns the tower height cap.
func (sl *SkipList) MaxLevel() int {
	return sl.maxLevel
}

func (sl *SkipList) node(ctx context.Context, id NodeID) (*Node, error) {
	n, err := sl.store.GetNode(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	return n, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMPARATORS
// ═══════════════════════════════════════════════════════════════════════════════

// less reports whether suffix a sorts before suffix b.
func (sl *SkipList) less(ctx context.Context, a, b Key) (bool, error) {
	for {
		aEnd, bEnd := a.IsTerminal(), b.IsTerminal()
		switch {
		case aEnd && bEnd:
			return a.Row < b.Row, nil
		case aEnd:
			return false, nil
		case bEnd:
			return true, nil
		case a.Char != b.Char:
			return a.Char < b.Char, nil
		case a.Next == b.Next:
			// Same tail node: the rest of both chains is identical.
			return false, nil
		}

		an, err := sl.node(ctx, a.Next)
		if err != nil {
			return false, err
		}
		bn, err := sl.node(ctx, b.Next)
		if err != nil {
			return false, err
		}
		a, b = an.Key, bn.Key
	}
}

// nodeBefore applies the sentinel rules before falling back to chain comparison.
func (sl *SkipList) nodeBefore(ctx context.Context, n *Node, key Key) (bool, error) {
	switch {
	case n.ID.IsHead():
		return true, nil
	case n.ID.IsTail():
		return false, nil
	}
	return sl.less(ctx, n.Key, key)
}

// beforePattern reports whether the suffix at k sorts before a search pattern.
// The end of the pattern is smaller than anything sharing it as a prefix.
func (sl *SkipList) beforePattern(ctx context.Context, k Key, pattern []rune) (bool, error) {
	for i := 0; ; i++ {
		if i == len(pattern) || k.IsTerminal() {
			return false, nil
		}
		if c := string(pattern[i]); k.Char != c {
			return k.Char < c, nil
		}
		n, err := sl.node(ctx, k.Next)
		if err != nil {
			return false, err
		}
		k = n.Key
	}
}

// HasPrefix reports whether the suffix anchored at k starts with pattern.
func (sl *SkipList) HasPrefix(ctx context.Context, k Key, pattern []rune) (bool, error) {
	for i := 0; ; i++ {
		if i == len(pattern) {
			return true, nil
		}
		if k.IsTerminal() || k.Char != string(pattern[i]) {
			return false, nil
		}
		n, err := sl.node(ctx, k.Next)
		if err != nil {
			return false, err
		}
		k = n.Key
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// SEARCH
// ═══════════════════════════════════════════════════════════════════════════════

// descend walks from HEAD's top level down to level 0 and returns, for each
// level, the rightmost node that sorts before the target.
//
// The journey is not revalidated afterwards, so concurrent writers sharing
// predecessors can lose each other's splices.
func (sl *SkipList) descend(ctx context.Context, before func(*Node) (bool, error)) ([]*Node, error) {
	x, err := sl.node(ctx, Head)
	if err != nil {
		return nil, err
	}

	journey := make([]*Node, sl.maxLevel)
	for level := sl.maxLevel - 1; level >= 0; level-- {
		for level < x.Level() {
			nextID := x.Forward[level]
			if nextID.IsTail() || nextID.IsNone() {
				break
			}
			next, err := sl.node(ctx, nextID)
			if err != nil {
				return nil, err
			}
			advance, err := before(next)
			if err != nil {
				return nil, err
			}
			if !advance {
				break
			}
			x = next
		}
		journey[level] = x
	}
	return journey, nil
}

func (sl *SkipList) descendToKey(ctx context.Context, key Key) ([]*Node, error) {
	return sl.descend(ctx, func(n *Node) (bool, error) {
		return sl.nodeBefore(ctx, n, key)
	})
}

// successor loads the level-0 successor of the journey's last node, or nil at TAIL.
func (sl *SkipList) successor(ctx context.Context, journey []*Node) (*Node, error) {
	id := journey[0].Forward[0]
	if id.IsTail() || id.IsNone() {
		return nil, nil
	}
	return sl.node(ctx, id)
}

// Find returns the node holding key, or an error wrapping ErrKeyNotFound.
func (sl *SkipList) Find(ctx context.Context, key Key) (*Node, error) {
	journey, err := sl.descendToKey(ctx, key)
	if err != nil {
		return nil, err
	}
	x, err := sl.successor(ctx, journey)
	if err != nil {
		return nil, err
	}
	if x == nil || !SameKey(x.Key, key) {
		return nil, fmt.Errorf("%w: row %d col %d", ErrKeyNotFound, key.Row, key.Col)
	}
	return x, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// MUTATION
// ═══════════════════════════════════════════════════════════════════════════════

// Insert adds key and returns the id of its node.
//
// Entries are append-only: if (row, col) is already present the existing id is
// returned and nothing is written.
func (sl *SkipList) Insert(ctx context.Context, key Key) (NodeID, error) {
	id, _, err := sl.insert(ctx, key)
	return id, err
}

// insert also reports whether a new node was written.
func (sl *SkipList) insert(ctx context.Context, key Key) (NodeID, bool, error) {
	journey, err := sl.descendToKey(ctx, key)
	if err != nil {
		return NoNode, false, err
	}
	x, err := sl.successor(ctx, journey)
	if err != nil {
		return NoNode, false, err
	}
	if x != nil && SameKey(x.Key, key) {
		sl.logger.Warn("duplicate insert ignored",
			slog.Int("row", int(key.Row)), slog.Int("col", key.Col), slog.String("node", x.ID.String()))
		return x.ID, false, nil
	}

	height := sl.randomHeight()
	id, err := sl.store.NextID(ctx)
	if err != nil {
		return NoNode, false, fmt.Errorf("allocate node id: %w", err)
	}
	if !id.IsRef() {
		return NoNode, false, fmt.Errorf("%w: store allocated %s", ErrInvalidNodeID, id)
	}

	node := &Node{ID: id, Key: key, Forward: make([]NodeID, height)}
	for level := 0; level < height; level++ {
		node.Forward[level] = journey[level].Forward[level]
	}
	if err := sl.store.SetNode(ctx, node); err != nil {
		return NoNode, false, fmt.Errorf("write node %s: %w", id, err)
	}

	dirty := make([]*Node, 0, height)
	for level := 0; level < height; level++ {
		pred := journey[level]
		pred.Forward[level] = id
		dirty = appendDirty(dirty, pred)
	}
	if err := sl.flush(ctx, dirty); err != nil {
		return NoNode, false, err
	}

	sl.size.Add(1)
	return id, true, nil
}

// Delete unlinks the node holding key. It reports false, without error, when
// the key is absent.
func (sl *SkipList) Delete(ctx context.Context, key Key) (bool, error) {
	journey, err := sl.descendToKey(ctx, key)
	if err != nil {
		return false, err
	}
	x, err := sl.successor(ctx, journey)
	if err != nil {
		return false, err
	}
	if x == nil || !SameKey(x.Key, key) {
		sl.logger.Warn("delete of missing key ignored",
			slog.Int("row", int(key.Row)), slog.Int("col", key.Col))
		return false, nil
	}

	dirty := make([]*Node, 0, x.Level())
	for level := 0; level < len(journey); level++ {
		pred := journey[level]
		// Towers are contiguous: once a predecessor skips x, every level above does too.
		if level >= pred.Level() || pred.Forward[level] != x.ID {
			break
		}
		pred.Forward[level] = x.Forward[level]
		dirty = appendDirty(dirty, pred)
	}
	if err := sl.flush(ctx, dirty); err != nil {
		return false, err
	}

	sl.size.Add(-1)
	return true, nil
}

// appendDirty records pred once; a predecessor shared by several levels shows
// up in consecutive journey slots.
func appendDirty(dirty []*Node, pred *Node) []*Node {
	if len(dirty) > 0 && dirty[len(dirty)-1] == pred {
		return dirty
	}
	return append(dirty, pred)
}

func (sl *SkipList) flush(ctx context.Context, dirty []*Node) error {
	for _, n := range dirty {
		if err := sl.store.SetNode(ctx, n); err != nil {
			return fmt.Errorf("write node %s: %w", n.ID, err)
		}
	}
	return nil
}

func (sl *SkipList) randomHeight() int {
	sl.rngMu.Lock()
	defer sl.rngMu.Unlock()

	height := 1
	for sl.rng.Float64() < sl.p && height < sl.maxLevel {
		height++
	}
	return height
}

// ═══════════════════════════════════════════════════════════════════════════════
// RANGE SCAN
// ═══════════════════════════════════════════════════════════════════════════════

// NextKeys returns up to n keys, one per row, whose suffix starts with pattern,
// in skip list order. The scan begins at the first entry not before pattern and
// stops at the first entry that does not start with it.
func (sl *SkipList) NextKeys(ctx context.Context, pattern []rune, n int) ([]Key, error) {
	if n <= 0 {
		return nil, nil
	}
	journey, err := sl.descend(ctx, func(node *Node) (bool, error) {
		return sl.beforePattern(ctx, node.Key, pattern)
	})
	if err != nil {
		return nil, err
	}

	rows := roaring.New()
	keys := make([]Key, 0, n)
	for id := journey[0].Forward[0]; !id.IsTail() && !id.IsNone() && int(rows.GetCardinality()) < n; {
		x, err := sl.node(ctx, id)
		if err != nil {
			return nil, err
		}
		ok, err := sl.HasPrefix(ctx, x.Key, pattern)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if rows.CheckedAdd(x.Key.Row) {
			keys = append(keys, x.Key)
		}
		id = x.Forward[0]
	}
	return keys, nil
}

// Scan calls fn for every entry in order until fn returns false.
func (sl *SkipList) Scan(ctx context.Context, fn func(*Node) bool) error {
	head, err := sl.node(ctx, Head)
	if err != nil {
		return err
	}
	for id := head.Forward[0]; !id.IsTail() && !id.IsNone(); {
		x, err := sl.node(ctx, id)
		if err != nil {
			return err
		}
		if !fn(x) {
			return nil
		}
		id = x.Forward[0]
	}
	return nil
}
