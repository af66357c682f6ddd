// Package file implements the file engine of spec §4.4/§4.5: single-block
// reads over the COW indirect-pointer tree, and the three-phase write path
// that grows the tree, short-circuits small writes into the inode's
// embedded area, and otherwise stages and links whole blocks before a
// single root-inode CAS.
package file

import (
	"context"
	"errors"

	"github.com/jeffdarcy/kvfs"
	"github.com/jeffdarcy/kvfs/alloc"
	"github.com/jeffdarcy/kvfs/block"
	"github.com/jeffdarcy/kvfs/inode"
	"github.com/jeffdarcy/kvfs/kv"
)

// Engine implements the file read/write algorithms over a KV store.
type Engine struct {
	store kv.Store
	alloc *alloc.Allocator
}

// New returns a file Engine backed by store, minting new blocks from a.
func New(store kv.Store, a *alloc.Allocator) *Engine {
	return &Engine{store: store, alloc: a}
}

// CreateInode writes a fresh inode under key with the given mode and zero
// size/depth (spec §6). The write is unconditional: key must not already
// hold a value, or it is silently overwritten.
func (e *Engine) CreateInode(ctx context.Context, key kvfs.Pointer, mode uint32) error {
	h := inode.Header{Mode: kvfs.S_IFREG | (mode & 0o777)}
	_, err := e.store.Put(ctx, key, inode.NewImage(h), nil)
	return err
}

func (e *Engine) readInode(ctx context.Context, key kvfs.Pointer) (inode.Header, []byte, kv.Version, error) {
	data, version, err := e.store.Get(ctx, key)
	if err != nil {
		return inode.Header{}, nil, nil, err
	}
	h, payload, err := inode.Split(data)
	if err != nil {
		return inode.Header{}, nil, nil, kvfs.Wrap(kvfs.CodeBadState, err)
	}
	return h, payload, version, nil
}

// GetData implements spec §4.4's single-block clamped read. Callers that
// want more than one block's worth of bytes loop, as the spec requires.
func (e *Engine) GetData(ctx context.Context, key kvfs.Pointer, offset uint64, length uint32) ([]byte, error) {
	h, payload, _, err := e.readInode(ctx, key)
	if err != nil {
		return nil, err
	}
	if offset >= h.Size {
		return []byte{}, nil
	}
	l := uint64(length)
	if rem := h.Size - offset; l > rem {
		l = rem
	}
	if inBlock := kvfs.BlockSize - (offset % kvfs.BlockSize); l > inBlock {
		l = inBlock
	}
	if h.Depth == 0 {
		out := make([]byte, l)
		copy(out, payload[offset:offset+l])
		return out, nil
	}
	blockOffset := (offset / kvfs.BlockSize) * kvfs.BlockSize
	localOff := offset % kvfs.BlockSize
	blk, err := e.readBlock(ctx, h, payload, blockOffset)
	if err != nil {
		return nil, err
	}
	out := make([]byte, l)
	copy(out, blk[localOff:localOff+l])
	return out, nil
}

// readBlock returns exactly BlockSize bytes for the block-aligned
// blockOffset, descending the indirect tree rooted at payload. A nil
// pointer or missing block anywhere on the path yields a zero-filled
// block rather than an error (spec §3 invariant 3, §4.4 step 5).
func (e *Engine) readBlock(ctx context.Context, h inode.Header, payload []byte, blockOffset uint64) ([]byte, error) {
	if h.Depth == 0 {
		out := make([]byte, kvfs.BlockSize)
		if blockOffset == 0 {
			copy(out, payload)
		}
		return out, nil
	}
	bnum := blockOffset / kvfs.BlockSize
	path := blockPath(bnum, h.Depth)
	ptr, err := inode.PayloadPointer(payload, path[0])
	if err != nil {
		return nil, kvfs.Wrap(kvfs.CodeBadState, err)
	}
	data, hole, err := e.followPath(ctx, ptr, path[1:])
	if err != nil {
		return nil, err
	}
	if hole {
		return make([]byte, kvfs.BlockSize), nil
	}
	return data, nil
}

// followPath walks ptr through the pointer-block chain indicated by rest,
// returning hole=true the instant a nil pointer or missing block is found.
func (e *Engine) followPath(ctx context.Context, ptr kvfs.Pointer, rest []int) (data []byte, hole bool, err error) {
	if ptr.IsNil() {
		return nil, true, nil
	}
	data, _, err = e.store.Get(ctx, ptr)
	if err != nil {
		if errors.Is(err, kvfs.ErrNotFound) {
			return nil, true, nil
		}
		return nil, false, err
	}
	for _, idx := range rest {
		child, perr := inode.PayloadPointer(data, idx)
		if perr != nil {
			return nil, false, kvfs.Wrap(kvfs.CodeBadState, perr)
		}
		if child.IsNil() {
			return nil, true, nil
		}
		data, _, err = e.store.Get(ctx, child)
		if err != nil {
			if errors.Is(err, kvfs.ErrNotFound) {
				return nil, true, nil
			}
			return nil, false, err
		}
	}
	return data, false, nil
}

// blockPath decomposes block number bnum into depth hash-free indices, one
// per tree level, ordered from the inode's own payload array (index 0)
// down to the final pointer slot that addresses the data block (spec
// §4.4 step 5).
func blockPath(bnum uint64, depth uint32) []int {
	path := make([]int, depth)
	for i := int(depth) - 1; i >= 0; i-- {
		path[i] = int(bnum % kvfs.PtrsPerBlock)
		bnum /= kvfs.PtrsPerBlock
	}
	return path
}

// ensureSize implements Phase A (spec §4.4): lift the tree one level per
// CAS attempt until it is deep enough to address newSize, then return the
// (possibly unchanged) current inode state. Each lift's CAS is retried
// through kvfs.RetryOnConflict, which bounds conflict retries at
// kvfs.MaxCASRetries rather than spinning forever.
func (e *Engine) ensureSize(ctx context.Context, key kvfs.Pointer, newSize uint64) (inode.Header, []byte, kv.Version, error) {
	var h inode.Header
	var payload []byte
	var version kv.Version
	for {
		sufficient := false
		err := kvfs.RetryOnConflict(ctx, func(ctx context.Context) error {
			var rerr error
			h, payload, version, rerr = e.readInode(ctx, key)
			if rerr != nil {
				return rerr
			}
			if newSize <= h.Size {
				sufficient = true
				return nil
			}
			requiredDepth := inode.RequiredDepth(newSize)
			if requiredDepth <= h.Depth {
				sufficient = true
				return nil
			}
			childKey := e.alloc.Fresh()
			if _, rerr := e.store.Put(ctx, childKey, payload, nil); rerr != nil {
				return rerr
			}
			lifted := h
			lifted.Depth = h.Depth + 1
			newPayload := make([]byte, kvfs.BlockSize)
			newPayload = inode.SetPayloadPointer(newPayload, 0, childKey)
			img := append(lifted.Marshal(), newPayload...)
			_, rerr = e.store.Put(ctx, key, img, version)
			return rerr
		})
		if err != nil {
			return inode.Header{}, nil, nil, err
		}
		if sufficient {
			return h, payload, version, nil
		}
		// Loop: re-check whether this lift sufficed, or whether another
		// is still required (spec §4.4: "repeat until depth is
		// sufficient").
	}
}

type chunk struct {
	memOff, diskOff, length uint64
	key                     kvfs.Pointer
}

// buildChunks decomposes a write of the given length starting at offset
// into chunks that never straddle a block boundary (spec §4.4 Phase C).
func buildChunks(offset uint64, length int) []chunk {
	var chunks []chunk
	memOff := uint64(0)
	diskOff := offset
	remaining := uint64(length)
	for remaining > 0 {
		inBlock := kvfs.BlockSize - (diskOff % kvfs.BlockSize)
		thisLen := remaining
		if thisLen > inBlock {
			thisLen = inBlock
		}
		chunks = append(chunks, chunk{memOff: memOff, diskOff: diskOff, length: thisLen})
		memOff += thisLen
		diskOff += thisLen
		remaining -= thisLen
	}
	return chunks
}

// linkOne is the pointer-tree COW descent of spec §4.5: it splices dest
// into the slot that path names, allocating and staging a fresh pointer
// block at every level touched, and leaves untouched subtrees alone.
func linkOne(ctx context.Context, bs *block.Set, key kvfs.Pointer, path []int, dest kvfs.Pointer) (kvfs.Pointer, error) {
	if len(path) == 0 {
		return dest, nil
	}
	var data []byte
	if key.IsNil() {
		data = make([]byte, kvfs.BlockSize)
	} else {
		b, err := bs.Get(ctx, key)
		if err != nil {
			return kvfs.Nil, err
		}
		data = append([]byte(nil), b...)
	}
	idx := path[0]
	child, err := inode.PayloadPointer(data, idx)
	if err != nil {
		return kvfs.Nil, kvfs.Wrap(kvfs.CodeBadState, err)
	}
	newChild, err := linkOne(ctx, bs, child, path[1:], dest)
	if err != nil {
		return kvfs.Nil, err
	}
	data = inode.SetPayloadPointer(data, idx, newChild)
	return bs.Put(key, data), nil
}

// PutData implements spec §4.4's write algorithm: grow the tree (Phase A),
// take the embedded fast path when possible (Phase B), or decompose into
// block-aligned chunks, stage them, link them into the tree, and publish
// under a single root CAS, retrying on conflict (Phase C).
func (e *Engine) PutData(ctx context.Context, key kvfs.Pointer, offset uint64, data []byte) (int, error) {
	newSize := offset + uint64(len(data))
	h, payload, version, err := e.ensureSize(ctx, key, newSize)
	if err != nil {
		return 0, err
	}

	embedded := false
	err = kvfs.RetryOnConflict(ctx, func(ctx context.Context) error {
		if h.Depth != 0 || newSize > kvfs.BlockSize {
			return nil
		}
		if newSize > h.Size {
			h.Size = newSize
		}
		newPayload := append([]byte(nil), payload...)
		copy(newPayload[offset:], data)
		img := append(h.Marshal(), newPayload...)
		_, err := e.store.Put(ctx, key, img, version)
		if err == nil {
			embedded = true
			return nil
		}
		if kvfs.ErrIsConflict(err) {
			var rerr error
			h, payload, version, rerr = e.readInode(ctx, key)
			if rerr != nil {
				return rerr
			}
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	if embedded {
		return len(data), nil
	}

	chunks := buildChunks(offset, len(data))
	bs := block.New(e.store, e.alloc)
	err = kvfs.RetryOnConflict(ctx, func(ctx context.Context) error {
		curPayload := append([]byte(nil), payload...)
		for i := range chunks {
			c := &chunks[i]
			var merged []byte
			if c.length == kvfs.BlockSize {
				merged = data[c.memOff : c.memOff+c.length]
			} else {
				blockStart := (c.diskOff / kvfs.BlockSize) * kvfs.BlockSize
				old, err := e.readBlock(ctx, h, curPayload, blockStart)
				if err != nil {
					return err
				}
				merged = make([]byte, kvfs.BlockSize)
				copy(merged, old)
				localOff := c.diskOff % kvfs.BlockSize
				copy(merged[localOff:], data[c.memOff:c.memOff+c.length])
			}
			c.key = bs.Put(kvfs.Nil, merged)
		}
		for _, c := range chunks {
			bnum := c.diskOff / kvfs.BlockSize
			path := blockPath(bnum, h.Depth)
			topIdx := path[0]
			oldChild, err := inode.PayloadPointer(curPayload, topIdx)
			if err != nil {
				return kvfs.Wrap(kvfs.CodeBadState, err)
			}
			newChild, err := linkOne(ctx, bs, oldChild, path[1:], c.key)
			if err != nil {
				return err
			}
			curPayload = inode.SetPayloadPointer(curPayload, topIdx, newChild)
		}
		if err := bs.Flush(ctx); err != nil {
			return err
		}
		if newSize > h.Size {
			h.Size = newSize
		}
		img := append(h.Marshal(), curPayload...)
		_, err := e.store.Put(ctx, key, img, version)
		if err != nil {
			if kvfs.ErrIsConflict(err) {
				bs.Reset()
				var rerr error
				h, payload, version, rerr = e.readInode(ctx, key)
				if rerr != nil {
					return rerr
				}
			}
			return err
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(data), nil
}
