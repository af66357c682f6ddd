// Package hostsurface packs inode state into attribute/statfs structures
// for tooling that inspects a kvfs image without mounting it as a real
// filesystem — spec.md's Non-goals explicitly exclude a host filesystem
// bridge, so nothing here touches an OS syscall table; it is read-only
// reporting consumed by hostsurface/debugapi, grounded on
// the teacher's pattern of a thin presentation struct alongside the
// storage layer (rest_api/stores/models.go).
package hostsurface

import (
	"context"

	"github.com/jeffdarcy/kvfs"
	"github.com/jeffdarcy/kvfs/dir"
	"github.com/jeffdarcy/kvfs/inode"
	"github.com/jeffdarcy/kvfs/kv"
)

// Attr is a POSIX-stat-shaped view of an inode.Header, the unit
// hostsurface/debugapi's /stat route returns as JSON.
type Attr struct {
	Mode  uint32 `json:"mode"`
	Ino   uint64 `json:"ino"`
	Dev   uint64 `json:"dev"`
	Nlink uint32 `json:"nlink"`
	Uid   uint32 `json:"uid"`
	Gid   uint32 `json:"gid"`
	Size  uint64 `json:"size"`
	Atime uint32 `json:"atime"`
	Mtime uint32 `json:"mtime"`
	Ctime uint32 `json:"ctime"`
	Depth uint32 `json:"depth"`
	IsDir bool   `json:"is_dir"`
}

// ToAttr packs h into the wire-facing Attr shape.
func ToAttr(h inode.Header) Attr {
	return Attr{
		Mode:  h.Mode,
		Ino:   h.Ino,
		Dev:   h.Dev,
		Nlink: h.Nlink,
		Uid:   h.Uid,
		Gid:   h.Gid,
		Size:  h.Size,
		Atime: h.Atime,
		Mtime: h.Mtime,
		Ctime: h.Ctime,
		Depth: h.Depth,
		IsDir: h.Mode&kvfs.S_IFDIR != 0,
	}
}

// DirEntry is one row of an enumeration response (hostsurface/debugapi's
// /enum route).
type DirEntry struct {
	Name   string `json:"name"`
	Cursor uint64 `json:"cursor"`
}

// Enumerator is the directory-traversal surface Enum needs: both
// *dir.Engine and *engine.FS satisfy it, so the same helper serves
// callers holding either.
type Enumerator interface {
	Enum(ctx context.Context, key kvfs.Pointer, cursor uint64, callback dir.EnumCallback) (bool, error)
}

// Enum runs d.Enum from cursor, collecting entries into a flat slice the
// debug HTTP surface can marshal directly. It stops after one Enum call
// (one RPC's worth of entries, per spec §4.6's enum contract), returning
// the cursor the caller should pass next and whether iteration is done.
func Enum(ctx context.Context, d Enumerator, key kvfs.Pointer, cursor uint64) ([]DirEntry, uint64, bool, error) {
	var entries []DirEntry
	next := cursor
	done, err := d.Enum(ctx, key, cursor, func(name string, _ kvfs.Pointer, nextCursor uint64) bool {
		entries = append(entries, DirEntry{Name: name, Cursor: nextCursor})
		next = nextCursor
		return false
	})
	if err != nil {
		return nil, cursor, false, err
	}
	return entries, next, done, nil
}

// Statfs is a read-only summary of the image's fixed layout constants,
// the kvfs equivalent of voldfs.py's statfs: it reports how the image is
// shaped, not how full it is (spec.md's Non-goals exclude quota
// enforcement, and nothing here counts live blocks).
type Statfs struct {
	BlockSize        uint32 `json:"block_size"`
	PointerSize      uint32 `json:"pointer_size"`
	PointersPerBlock uint32 `json:"pointers_per_block"`
	InodeHeaderSize  uint32 `json:"inode_header_size"`
	FileImageSize    uint32 `json:"file_image_size"`
	MaxNameLen       uint32 `json:"max_name_len"`
	DirBlockSize     uint32 `json:"dir_block_size"`
	EntriesPerBucket uint32 `json:"entries_per_bucket"`
}

// NewStatfs returns the fixed layout summary for this build of kvfs; it
// takes no store argument because every field is a compile-time constant
// of the wire format, not a per-image measurement.
func NewStatfs() Statfs {
	return Statfs{
		BlockSize:        kvfs.BlockSize,
		PointerSize:      kvfs.PtrSize,
		PointersPerBlock: kvfs.PtrsPerBlock,
		InodeHeaderSize:  inode.HeaderSize,
		FileImageSize:    inode.ImageSize,
		MaxNameLen:       dir.MaxNameLen,
		DirBlockSize:     uint32(dir.DirBlockSize),
		EntriesPerBucket: dir.EntriesPerBucket,
	}
}

// AutoMkfs reports whether store self-initializes an empty root
// directory, for /statfs to surface alongside the layout constants.
func AutoMkfs(store kv.Store) bool {
	return store.AutoMkfs()
}
