// Package block implements the block-set: the per-operation staging
// overlay described in spec §4.3. It batches every new or modified block a
// mutating operation produces, and flushes them to the KV store in one
// shot before the caller attempts the single root-inode CAS.
package block

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/jeffdarcy/kvfs"
	"github.com/jeffdarcy/kvfs/alloc"
	"github.com/jeffdarcy/kvfs/kv"
)

// Set is an overlay used for the duration of a single mutating operation.
// It is not safe for concurrent use — one Set backs one in-flight engine
// operation (spec §5: "single-threaded per operation").
type Set struct {
	store    kv.Store
	alloc    *alloc.Allocator
	newBlock map[kvfs.Pointer][]byte
	order    []kvfs.Pointer // staged pointers in insertion order; Reset frees them
	freeList []kvfs.Pointer
}

// New returns an empty Set backed by store, minting fresh pointers from a.
func New(store kv.Store, a *alloc.Allocator) *Set {
	return &Set{
		store:    store,
		alloc:    a,
		newBlock: make(map[kvfs.Pointer][]byte),
	}
}

// Get returns the block at key, consulting the overlay first so that
// in-progress mutations see their own writes (spec §4.3).
func (s *Set) Get(ctx context.Context, key kvfs.Pointer) ([]byte, error) {
	if b, ok := s.newBlock[key]; ok {
		return b, nil
	}
	data, _, err := s.store.Get(ctx, key)
	return data, err
}

// Put stages newBytes as the replacement for oldKey and returns the
// pointer under which it is staged. If oldKey already names a block staged
// during this operation, it is updated in place and the same pointer is
// returned. Otherwise a fresh pointer is allocated: a block that existed in
// KV before this operation is never overwritten, only shadowed — this is
// the COW rule (spec §4.3).
func (s *Set) Put(oldKey kvfs.Pointer, newBytes []byte) kvfs.Pointer {
	key := oldKey
	if _, staged := s.newBlock[key]; !staged {
		key = s.allocate()
	}
	if _, exists := s.newBlock[key]; !exists {
		s.order = append(s.order, key)
	}
	s.newBlock[key] = newBytes
	return key
}

func (s *Set) allocate() kvfs.Pointer {
	if n := len(s.freeList); n > 0 {
		p := s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		return p
	}
	return s.alloc.Fresh()
}

// Reset discards every staged block, pushing their pointers onto the free
// list so the next retry attempt can reuse them instead of burning fresh
// sequence numbers on every conflict (spec §4.3, §5).
func (s *Set) Reset() {
	s.freeList = append(s.freeList, s.order...)
	s.newBlock = make(map[kvfs.Pointer][]byte)
	s.order = nil
}

// Flush writes every staged block to the KV store unconditionally (first
// writes, spec §4.2) and concurrently, joining on the first error. The
// caller performs the root-inode CAS separately, after Flush succeeds, so
// that children are always durable before the root can point at them
// (spec §4.4's ordering rationale).
func (s *Set) Flush(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for key, data := range s.newBlock {
		key, data := key, data
		g.Go(func() error {
			_, err := s.store.Put(gctx, key, data, nil)
			return err
		})
	}
	return g.Wait()
}
