// Package kvfs defines the primitive types shared by every kvfs subpackage:
// the on-disk pointer format, block/inode sizing constants, and the error
// taxonomy. It carries no dependency on any subpackage so that kv, alloc,
// block, inode, file, dir and path can all depend on it without creating an
// import cycle back to the orchestration code in package engine.
package kvfs

import (
	"encoding/binary"
	"fmt"
)

// PtrSize is the wire size of a Pointer: u16 node | u16 boot | u32 sequence.
const PtrSize = 8

// BlockSize is the fixed size of every file data/indirect block, and the
// nominal size directory sub-blocks are derived against (see package dir).
// It must be a multiple of PtrSize.
const BlockSize = 1024

// PtrsPerBlock is how many Pointers fit in one BlockSize indirect block.
const PtrsPerBlock = BlockSize / PtrSize

func init() {
	if BlockSize%PtrSize != 0 {
		panic("kvfs: BlockSize must be a multiple of PtrSize")
	}
}

// POSIX file-type bits stored (but not further interpreted) in Inode.Mode.
const (
	S_IFDIR uint32 = 0040000
	S_IFREG uint32 = 0100000
)

// Pointer is the 8-byte big-endian opaque block/inode identifier described
// in spec §3: node_id(u16) | boot_generation(u16) | sequence(u32). The nil
// pointer has node_id == 0.
type Pointer [PtrSize]byte

// Nil is the zero-value pointer; it never resolves to a stored block.
var Nil Pointer

// NewPointer packs the three pointer fields into a Pointer.
func NewPointer(nodeID, bootGeneration uint16, sequence uint32) Pointer {
	var p Pointer
	binary.BigEndian.PutUint16(p[0:2], nodeID)
	binary.BigEndian.PutUint16(p[2:4], bootGeneration)
	binary.BigEndian.PutUint32(p[4:8], sequence)
	return p
}

// NodeID returns the pointer's node id component.
func (p Pointer) NodeID() uint16 { return binary.BigEndian.Uint16(p[0:2]) }

// BootGeneration returns the pointer's boot generation component.
func (p Pointer) BootGeneration() uint16 { return binary.BigEndian.Uint16(p[2:4]) }

// Sequence returns the pointer's sequence component.
func (p Pointer) Sequence() uint32 { return binary.BigEndian.Uint32(p[4:8]) }

// IsNil reports whether p is the nil pointer (node_id == 0).
func (p Pointer) IsNil() bool { return p.NodeID() == 0 }

// Bytes returns the pointer's 8-byte wire encoding.
func (p Pointer) Bytes() []byte {
	b := make([]byte, PtrSize)
	copy(b, p[:])
	return b
}

// PointerFromBytes decodes an 8-byte wire encoding into a Pointer.
func PointerFromBytes(b []byte) (Pointer, error) {
	var p Pointer
	if len(b) != PtrSize {
		return p, fmt.Errorf("kvfs: bad pointer length %d", len(b))
	}
	copy(p[:], b)
	return p, nil
}

func (p Pointer) String() string {
	return fmt.Sprintf("%d:%d:%d", p.NodeID(), p.BootGeneration(), p.Sequence())
}
