package sufdex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ═══════════════════════════════════════════════════════════════════════════════
// NODE SERIALIZATION FORMAT
// ═══════════════════════════════════════════════════════════════════════════════
// Byte-oriented stores (redis, postgres bytea) keep one node per value:
//
// ┌─────────────────────────────────────────────────────────────────────────┐
// │ VERSION (1 byte)                                                        │
// │ ID            kind (1 byte) + ordinal (8 bytes)                         │
// │ KEY                                                                     │
// │   Row         uint32                                                    │
// │   Col         int32                                                     │
// │   Char        length (uint16) + UTF-8 bytes                             │
// │   Next        kind (1 byte) + ordinal (8 bytes)                         │
// │ FORWARD       count (uint16) + count × (kind + ordinal)                 │
// └─────────────────────────────────────────────────────────────────────────┘
//
// All integers are little-endian.
// ═══════════════════════════════════════════════════════════════════════════════

const nodeFormatVersion = 1

var ErrCorruptNode = errors.New("corrupt node encoding")

// MarshalBinary encodes the node in the format above.
func (n *Node) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(32 + len(n.Key.Char) + 9*len(n.Forward))

	buf.WriteByte(nodeFormatVersion)
	writeNodeID(buf, n.ID)
	if err := n.encodeKey(buf); err != nil {
		return nil, err
	}
	if len(n.Forward) > 0xFFFF {
		return nil, fmt.Errorf("node %s: %d forward links do not fit the format", n.ID, len(n.Forward))
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(n.Forward))); err != nil {
		return nil, err
	}
	for _, id := range n.Forward {
		writeNodeID(buf, id)
	}
	return buf.Bytes(), nil
}

func (n *Node) encodeKey(buf *bytes.Buffer) error {
	if err := binary.Write(buf, binary.LittleEndian, n.Key.Row); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, int32(n.Key.Col)); err != nil {
		return err
	}
	char := []byte(n.Key.Char)
	if len(char) > 0xFFFF {
		return fmt.Errorf("node %s: key char too long", n.ID)
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(char))); err != nil {
		return err
	}
	buf.Write(char)
	writeNodeID(buf, n.Key.Next)
	return nil
}

func writeNodeID(buf *bytes.Buffer, id NodeID) {
	var b [9]byte
	b[0] = byte(id.kind)
	binary.LittleEndian.PutUint64(b[1:], id.ord)
	buf.Write(b[:])
}

// UnmarshalBinary decodes a node written by MarshalBinary.
func (n *Node) UnmarshalBinary(data []byte) error {
	d := nodeDecoder{data: data}

	if version := d.uint8(); d.err == nil && version != nodeFormatVersion {
		return fmt.Errorf("%w: unknown version %d", ErrCorruptNode, version)
	}
	id := d.nodeID()
	row := d.uint32()
	col := int32(d.uint32())
	char := d.bytes(int(d.uint16()))
	next := d.nodeID()
	forward := make([]NodeID, d.uint16())
	for i := range forward {
		forward[i] = d.nodeID()
	}
	if d.err != nil {
		return d.err
	}
	if d.offset != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorruptNode, len(data)-d.offset)
	}

	*n = Node{
		ID:      id,
		Key:     Key{Char: string(char), Row: row, Col: int(col), Next: next},
		Forward: forward,
	}
	return nil
}

// nodeDecoder reads fields in order and remembers the first short read.
type nodeDecoder struct {
	data   []byte
	offset int
	err    error
}

func (d *nodeDecoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.offset+n > len(d.data) {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrCorruptNode, n, d.offset, len(d.data)-d.offset)
		return nil
	}
	b := d.data[d.offset : d.offset+n]
	d.offset += n
	return b
}

func (d *nodeDecoder) uint8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *nodeDecoder) uint16() uint16 {
	if b := d.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (d *nodeDecoder) uint32() uint32 {
	if b := d.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *nodeDecoder) bytes(n int) []byte {
	return d.take(n)
}

func (d *nodeDecoder) nodeID() NodeID {
	b := d.take(9)
	if b == nil {
		return NoNode
	}
	kind := nodeKind(b[0])
	if kind > kindCursor {
		d.err = fmt.Errorf("%w: node id kind %d", ErrCorruptNode, kind)
		return NoNode
	}
	return NodeID{kind: kind, ord: binary.LittleEndian.Uint64(b[1:])}
}
