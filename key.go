package sufdex

// RowID identifies a record. It is 32 bits wide so result sets fit in a roaring bitmap.
type RowID = uint32

// EndOfRecord is the column of a record's terminal key.
const EndOfRecord = -1

// ═══════════════════════════════════════════════════════════════════════════════
// KEY: One character of one suffix
// ═══════════════════════════════════════════════════════════════════════════════
// A record "cat" (row 7) is stored as four keys, each pointing at the node
// holding the next character of the same suffix:
//
//	[c 7:0] ──> [a 7:1] ──> [t 7:2] ──> [∅ 7:-1]
//
// Key [a 7:1] therefore stands for the whole suffix "at", and the terminal key
// [∅ 7:-1] (Char "", Next = NoNode) ends every suffix of the record.
// ═══════════════════════════════════════════════════════════════════════════════

// Key is the unit ordered by the skip list.
type Key struct {
	Char string `json:"char"` // One character; "" for the terminal key
	Row  RowID  `json:"id"`   // Record this suffix belongs to
	Col  int    `json:"col"`  // Rune offset of Char in the record, EndOfRecord for the terminal
	Next NodeID `json:"next"` // Node holding the next character, NoNode when terminal
}

// EndOfRecordKey returns the terminal key of a record.
func EndOfRecordKey(row RowID) Key {
	return Key{Row: row, Col: EndOfRecord, Next: NoNode}
}

// IsTerminal reports whether the key ends its suffix chain.
func (k Key) IsTerminal() bool {
	return k.Next.IsNone()
}

// SameKey reports whether two keys denote the same index entry.
// Identity is (row, col); content is not compared since entries are never updated in place.
func SameKey(a, b Key) bool {
	return a.Row == b.Row && a.Col == b.Col
}

// Node is the persisted unit: a key plus one forward link per level.
type Node struct {
	ID      NodeID   `json:"id"`
	Key     Key      `json:"key"`
	Forward []NodeID `json:"forward"`
}

// Level returns the height of the node's tower.
func (n *Node) Level() int {
	return len(n.Forward)
}

// Clone returns a deep copy so stores never share forward slices with callers.
func (n *Node) Clone() *Node {
	c := *n
	c.Forward = append([]NodeID(nil), n.Forward...)
	return &c
}
