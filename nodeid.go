package sufdex

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ═══════════════════════════════════════════════════════════════════════════════
// NODE IDENTITY
// ═══════════════════════════════════════════════════════════════════════════════
// Every "pointer" in the index is a NodeID resolved through a NodeStore.
// Two ids are reserved for the skip list's sentinels:
//
//	HEAD  - the node every descent starts from
//	TAIL  - the unconditional upper bound that ends every level
//
// A third value, NoNode, marks "no link" (the continuation of a terminal key).
// Cursor names the node holding the index's last-row sync cursor; it is never
// linked into the list.
//
// Real ids carry their own kind tag, so no ordinal handed out by a store can
// ever be mistaken for a sentinel.
// ═══════════════════════════════════════════════════════════════════════════════

var ErrInvalidNodeID = errors.New("invalid node id")

type nodeKind uint8

const (
	kindNone nodeKind = iota
	kindHead
	kindTail
	kindRef
	kindCursor
)

// NodeID identifies a skip list node in a NodeStore.
type NodeID struct {
	kind nodeKind
	ord  uint64
}

var (
	NoNode = NodeID{}                 // No link (zero value)
	Head   = NodeID{kind: kindHead}   // Sentinel: start of every level
	Tail   = NodeID{kind: kindTail}   // Sentinel: end of every level
	Cursor = NodeID{kind: kindCursor} // Last-row cursor, outside the list
)

// RefID returns the id of a regular node with ordinal n.
func RefID(n uint64) NodeID {
	return NodeID{kind: kindRef, ord: n}
}

func (id NodeID) IsNone() bool { return id.kind == kindNone }
func (id NodeID) IsHead() bool { return id.kind == kindHead }
func (id NodeID) IsTail() bool { return id.kind == kindTail }
func (id NodeID) IsRef() bool  { return id.kind == kindRef }

// Ordinal returns the store ordinal of a regular id and false for anything else.
func (id NodeID) Ordinal() (uint64, bool) {
	if id.kind != kindRef {
		return 0, false
	}
	return id.ord, true
}

// String renders the id as a stable storage key.
func (id NodeID) String() string {
	switch id.kind {
	case kindHead:
		return "head"
	case kindTail:
		return "tail"
	case kindCursor:
		return "cursor"
	case kindRef:
		return strconv.FormatUint(id.ord, 10)
	default:
		return "none"
	}
}

// ParseNodeID is the inverse of String.
func ParseNodeID(s string) (NodeID, error) {
	switch s {
	case "head":
		return Head, nil
	case "tail":
		return Tail, nil
	case "cursor":
		return Cursor, nil
	case "none", "":
		return NoNode, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return NoNode, fmt.Errorf("%w: %q", ErrInvalidNodeID, s)
	}
	return RefID(n), nil
}

// MarshalJSON encodes regular ids as numbers, sentinels as strings and NoNode as null.
func (id NodeID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case kindRef:
		return []byte(strconv.FormatUint(id.ord, 10)), nil
	case kindNone:
		return []byte("null"), nil
	default:
		return json.Marshal(id.String())
	}
}

func (id *NodeID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = NoNode
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != "head" && s != "tail" && s != "cursor" {
			return fmt.Errorf("%w: %q", ErrInvalidNodeID, s)
		}
		parsed, _ := ParseNodeID(s)
		*id = parsed
		return nil
	}
	n, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidNodeID, data)
	}
	*id = RefID(n)
	return nil
}
