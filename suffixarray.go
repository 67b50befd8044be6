package sufdex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/RoaringBitmap/roaring"
)

var (
	ErrChainBroken  = errors.New("suffix chain broken")
	ErrInvalidLimit = errors.New("result limit must be positive")
	ErrRowMismatch  = errors.New("records have different row ids")
)

// Record is a row of text handed to the index. It is never stored as such;
// it is decomposed into keys.
type Record struct {
	ID   RowID  `json:"id"`
	Text string `json:"text"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// SUFFIX ARRAY: Substring search over a store-backed skip list
// ═══════════════════════════════════════════════════════════════════════════════
// Every character position of every record becomes one skip list entry, and
// the entry's chain spells out the suffix starting there. For "hello" (row 1):
//
//	col 4 [o] → ∅           "o"
//	col 3 [l] → o → ∅       "lo"
//	col 2 [l] → l → o → ∅   "llo"
//	...
//
// Chains are built back to front so that each key can point at the node of the
// character after it, which is already in the store.
//
// A query for "ll" descends to the first suffix ≥ "ll", walks forward while the
// suffixes still start with "ll", and reports the rows they belong to.
// ═══════════════════════════════════════════════════════════════════════════════

// SuffixArray indexes records for substring lookup.
type SuffixArray struct {
	skiplist *SkipList
	store    NodeStore
	logger   *slog.Logger
	reclaim  *reclaimer
}

// NewSuffixArray opens the index kept in store.
func NewSuffixArray(ctx context.Context, store NodeStore, opts ...Option) (*SuffixArray, error) {
	sl, err := NewSkipList(ctx, store, opts...)
	if err != nil {
		return nil, err
	}
	return &SuffixArray{
		skiplist: sl,
		store:    store,
		logger:   sl.logger,
		reclaim:  newReclaimer(),
	}, nil
}

// Len returns the number of indexed keys across all records (not the record count).
func (sa *SuffixArray) Len() int {
	return sa.skiplist.Len()
}

// link is a key together with the node that holds it.
type link struct {
	key   Key
	id    NodeID
	fresh bool // written by the current insert
}

// InsertRecord indexes every suffix of r.
//
// If the store fails part way, the keys written so far for r are removed again
// and the error is returned.
func (sa *SuffixArray) InsertRecord(ctx context.Context, r Record) error {
	defer sa.track(ctx)()

	text := Normalize(r.Text)
	sa.logger.Debug("indexing record", slog.Int("row", int(r.ID)), slog.Int("chars", len(text)))

	created := make([]link, 0, len(text)+1)
	key := EndOfRecordKey(r.ID)
	for col := len(text); col >= 0; col-- {
		if col < len(text) {
			key = Key{Char: string(text[col]), Row: r.ID, Col: col, Next: created[len(created)-1].id}
		}
		id, isNew, err := sa.skiplist.insert(ctx, key)
		if err != nil {
			sa.rollback(ctx, created)
			return fmt.Errorf("insert row %d col %d: %w", r.ID, key.Col, err)
		}
		created = append(created, link{key: key, id: id, fresh: isNew})
	}
	return nil
}

// rollback unlinks keys written by a failed insert, earliest column first.
func (sa *SuffixArray) rollback(ctx context.Context, created []link) {
	removed := make([]NodeID, 0, len(created))
	for i := len(created) - 1; i >= 0; i-- {
		l := created[i]
		if !l.fresh {
			continue
		}
		if _, err := sa.skiplist.Delete(ctx, l.key); err != nil {
			sa.logger.Warn("rollback left key behind",
				slog.Int("row", int(l.key.Row)), slog.Int("col", l.key.Col), slog.Any("error", err))
			continue
		}
		removed = append(removed, l.id)
	}
	sa.reclaim.retire(removed)
}

// DeleteRecord removes every suffix of r. r.Text must be the text that was indexed.
//
// The whole chain is located before anything is unlinked. If any key cannot be
// found nothing is deleted and the returned error wraps ErrChainBroken.
// Unlinked nodes leave the store once no running operation can reach them.
func (sa *SuffixArray) DeleteRecord(ctx context.Context, r Record) error {
	defer sa.track(ctx)()

	text := Normalize(r.Text)
	chain, err := sa.reconstruct(ctx, r.ID, text)
	if err != nil {
		sa.logger.Warn("record delete abandoned", slog.Int("row", int(r.ID)), slog.Any("error", err))
		return fmt.Errorf("delete row %d: %w", r.ID, err)
	}

	// Earliest column first, terminal key last: every key still in the list
	// keeps its whole chain readable until it is unlinked itself.
	unlinked := make([]NodeID, 0, len(chain))
	for _, l := range chain {
		if _, err := sa.skiplist.Delete(ctx, l.key); err != nil {
			sa.reclaim.retire(unlinked)
			return fmt.Errorf("delete row %d col %d: %w", r.ID, l.key.Col, err)
		}
		unlinked = append(unlinked, l.id)
	}
	sa.reclaim.retire(unlinked)

	sa.logger.Debug("record removed", slog.Int("row", int(r.ID)), slog.Int("keys", len(chain)))
	return nil
}

// reconstruct finds the node of every key of a record, walking from the
// terminal key backwards. The result is ordered by column, terminal key last.
func (sa *SuffixArray) reconstruct(ctx context.Context, row RowID, text []rune) ([]link, error) {
	chain := make([]link, len(text)+1)
	key := EndOfRecordKey(row)
	for i := len(text); i >= 0; i-- {
		node, err := sa.skiplist.Find(ctx, key)
		if errors.Is(err, ErrKeyNotFound) {
			return nil, fmt.Errorf("%w at col %d: %w", ErrChainBroken, key.Col, err)
		}
		if err != nil {
			return nil, err
		}
		chain[i] = link{key: key, id: node.ID}
		if i > 0 {
			key = Key{Char: string(text[i-1]), Row: row, Col: i - 1, Next: node.ID}
		}
	}
	return chain, nil
}

// track registers an index operation with the reclaimer. The returned func
// ends it and removes whatever retired nodes nobody can reach anymore.
func (sa *SuffixArray) track(ctx context.Context) func() {
	epoch := sa.reclaim.enter()
	return func() {
		sa.reclaim.exit(epoch)
		sa.release(context.WithoutCancel(ctx), sa.reclaim.ready())
	}
}

// release drops unreachable nodes from stores that support it. Failures only
// leave garbage behind, so they are logged and skipped.
func (sa *SuffixArray) release(ctx context.Context, ids []NodeID) {
	remover, ok := sa.store.(NodeRemover)
	if !ok || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		if err := remover.RemoveNode(ctx, id); err != nil {
			sa.logger.Warn("unlinked node not removed", slog.String("node", id.String()), slog.Any("error", err))
		}
	}
}

// UpdateRecord replaces the indexed text of a row.
func (sa *SuffixArray) UpdateRecord(ctx context.Context, old, updated Record) error {
	if old.ID != updated.ID {
		return fmt.Errorf("%w: %d != %d", ErrRowMismatch, old.ID, updated.ID)
	}
	if string(Normalize(old.Text)) == string(Normalize(updated.Text)) {
		return nil
	}
	if err := sa.DeleteRecord(ctx, old); err != nil {
		return err
	}
	return sa.InsertRecord(ctx, updated)
}

// Query returns the rows whose text contains pattern, at most n of them, in
// index order. Rows appear once even when the pattern occurs several times.
//
// Candidates are confirmed one by one and the scan stops at the first that does
// not match: matching suffixes are contiguous in the skip list.
func (sa *SuffixArray) Query(ctx context.Context, pattern string, n int) ([]RowID, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, n)
	}
	defer sa.track(ctx)()

	p := Normalize(pattern)
	keys, err := sa.skiplist.NextKeys(ctx, p, n)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", pattern, err)
	}

	results := make([]RowID, 0, len(keys))
	for _, key := range keys {
		ok, err := sa.match(ctx, p, key)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", pattern, err)
		}
		if !ok {
			break
		}
		results = append(results, key.Row)
	}
	return results, nil
}

// QueryBitmap is Query with the rows collected in a bitmap.
func (sa *SuffixArray) QueryBitmap(ctx context.Context, pattern string, n int) (*roaring.Bitmap, error) {
	rows, err := sa.Query(ctx, pattern, n)
	if err != nil {
		return nil, err
	}
	return roaring.BitmapOf(rows...), nil
}

// match confirms that the suffix at key really begins with pattern.
func (sa *SuffixArray) match(ctx context.Context, pattern []rune, key Key) (bool, error) {
	return sa.skiplist.HasPrefix(ctx, key, pattern)
}

// ═══════════════════════════════════════════════════════════════════════════════
// SYNC CURSOR
// ═══════════════════════════════════════════════════════════════════════════════
// A feeder that indexes a table in row order records the last row it finished,
// so a restart resumes there. The cursor is a node of its own under the
// reserved Cursor id, which keeps it in whatever store holds the index.

// LastRow returns the row recorded by SetLastRow. ok is false when the store
// has no cursor yet.
func (sa *SuffixArray) LastRow(ctx context.Context) (row RowID, ok bool, err error) {
	node, err := sa.store.GetNode(ctx, Cursor)
	if errors.Is(err, ErrNodeNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read last row: %w", err)
	}
	return node.Key.Row, true, nil
}

// SetLastRow overwrites the cursor.
func (sa *SuffixArray) SetLastRow(ctx context.Context, row RowID) error {
	node := &Node{ID: Cursor, Key: Key{Row: row, Col: EndOfRecord}}
	if err := sa.store.SetNode(ctx, node); err != nil {
		return fmt.Errorf("write last row: %w", err)
	}
	return nil
}
