// Package inode implements the fixed-layout inode codec of spec §3/§6: the
// 56-byte big-endian header, and the policy for reading/writing the
// embedded-vs-indirect payload area that follows it.
package inode

import (
	"encoding/binary"
	"fmt"

	"github.com/jeffdarcy/kvfs"
)

// HeaderSize is the wire size of the fixed inode header (spec §3 table):
// mode(4) + ino(8) + dev(8) + nlink(4) + uid(4) + gid(4) + size(8) +
// atime(4) + mtime(4) + ctime(4) + tree_depth(4) = 56 bytes.
const HeaderSize = 4 + 8 + 8 + 4 + 4 + 4 + 8 + 4 + 4 + 4 + 4

// ImageSize is the full stored size of an inode value: the header plus the
// BlockSize payload area it is always padded to (spec §3: "the inode's
// value is padded to exactly BLOCK_SZ").
const ImageSize = HeaderSize + kvfs.BlockSize

// Header is the fixed inode header (spec §3 table). Fields other than
// Size and Depth are opaque to the core: stored and returned, never
// interpreted (spec's explicit non-goal on atime/mtime/ctime maintenance).
type Header struct {
	Mode  uint32
	Ino   uint64
	Dev   uint64
	Nlink uint32
	Uid   uint32
	Gid   uint32
	Size  uint64
	Atime uint32
	Mtime uint32
	Ctime uint32
	Depth uint32
}

// Marshal encodes h as the 56-byte big-endian header.
func (h Header) Marshal() []byte {
	b := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(b[0:4], h.Mode)
	binary.BigEndian.PutUint64(b[4:12], h.Ino)
	binary.BigEndian.PutUint64(b[12:20], h.Dev)
	binary.BigEndian.PutUint32(b[20:24], h.Nlink)
	binary.BigEndian.PutUint32(b[24:28], h.Uid)
	binary.BigEndian.PutUint32(b[28:32], h.Gid)
	binary.BigEndian.PutUint64(b[32:40], h.Size)
	binary.BigEndian.PutUint32(b[40:44], h.Atime)
	binary.BigEndian.PutUint32(b[44:48], h.Mtime)
	binary.BigEndian.PutUint32(b[48:52], h.Ctime)
	binary.BigEndian.PutUint32(b[52:56], h.Depth)
	return b
}

// UnmarshalHeader decodes the 56-byte header from the front of b.
func UnmarshalHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, fmt.Errorf("inode: short header (%d bytes)", len(b))
	}
	h.Mode = binary.BigEndian.Uint32(b[0:4])
	h.Ino = binary.BigEndian.Uint64(b[4:12])
	h.Dev = binary.BigEndian.Uint64(b[12:20])
	h.Nlink = binary.BigEndian.Uint32(b[20:24])
	h.Uid = binary.BigEndian.Uint32(b[24:28])
	h.Gid = binary.BigEndian.Uint32(b[28:32])
	h.Size = binary.BigEndian.Uint64(b[32:40])
	h.Atime = binary.BigEndian.Uint32(b[40:44])
	h.Mtime = binary.BigEndian.Uint32(b[44:48])
	h.Ctime = binary.BigEndian.Uint32(b[48:52])
	h.Depth = binary.BigEndian.Uint32(b[52:56])
	return h, nil
}

// NewImage builds a fresh ImageSize-byte inode value: h's header followed
// by a zeroed BlockSize payload area.
func NewImage(h Header) []byte {
	img := make([]byte, ImageSize)
	copy(img, h.Marshal())
	return img
}

// Split decodes img into its header and a reference to its payload area
// (the trailing BlockSize bytes). Mutating the returned slice mutates img.
func Split(img []byte) (Header, []byte, error) {
	if len(img) != ImageSize {
		return Header{}, nil, fmt.Errorf("inode: bad image size %d, want %d", len(img), ImageSize)
	}
	h, err := UnmarshalHeader(img)
	if err != nil {
		return Header{}, nil, err
	}
	return h, img[HeaderSize:], nil
}

// PayloadPointer reads the child pointer at slot idx of a payload area
// that is being used as an indirect pointer array (tree_depth >= 1).
func PayloadPointer(payload []byte, idx int) (kvfs.Pointer, error) {
	off := idx * kvfs.PtrSize
	if off < 0 || off+kvfs.PtrSize > len(payload) {
		return kvfs.Nil, fmt.Errorf("inode: pointer slot %d out of range", idx)
	}
	return kvfs.PointerFromBytes(payload[off : off+kvfs.PtrSize])
}

// SetPayloadPointer writes ptr into slot idx of a payload area being used
// as an indirect pointer array, returning the updated payload.
func SetPayloadPointer(payload []byte, idx int, ptr kvfs.Pointer) []byte {
	out := make([]byte, len(payload))
	copy(out, payload)
	off := idx * kvfs.PtrSize
	copy(out[off:off+kvfs.PtrSize], ptr.Bytes())
	return out
}

// RequiredDepth returns the smallest d >= 0 such that
// PtrsPerBlock^d * BlockSize >= size (spec §3 invariant 2), i.e. the
// minimum indirect-tree depth able to address a file of the given size.
// Depth 0 is returned whenever size fits in the embedded fast path.
func RequiredDepth(size uint64) uint32 {
	if size <= kvfs.BlockSize {
		return 0
	}
	blocks := (size + kvfs.BlockSize - 1) / kvfs.BlockSize
	var depth uint32
	for blocks > 1 {
		depth++
		blocks = (blocks + kvfs.PtrsPerBlock - 1) / kvfs.PtrsPerBlock
	}
	return depth
}
