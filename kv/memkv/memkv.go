// Package memkv is an in-process kv.Store: a single mutex-guarded map,
// grounded on the teacher's in_memory package. It backs the scenario tests
// in package engine and the mkfs CLI's dry-run mode (SPEC_FULL.md §4).
package memkv

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/jeffdarcy/kvfs"
	"github.com/jeffdarcy/kvfs/kv"
)

type record struct {
	data    []byte
	version uint64
}

// Store is a single-process, single-version kv.Store. It never reports
// kvfs.ErrInconsistentVersions since it has no concept of a vector-clock
// fork; that error is exercised only by backends that can actually fork
// (kv/cassandrakv).
type Store struct {
	mu      sync.Mutex
	records map[kvfs.Pointer]record
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[kvfs.Pointer]record)}
}

func encodeVersion(v uint64) kv.Version {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeVersion(v kv.Version) (uint64, bool) {
	if len(v) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(v), true
}

func (s *Store) Get(_ context.Context, key kvfs.Pointer) ([]byte, kv.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, nil, kvfs.ErrNotFound
	}
	out := make([]byte, len(rec.data))
	copy(out, rec.data)
	return out, encodeVersion(rec.version), nil
}

func (s *Store) Put(_ context.Context, key kvfs.Pointer, data []byte, version kv.Version) (kv.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, exists := s.records[key]
	if version != nil {
		want, ok := decodeVersion(version)
		if !ok || !exists || rec.version != want {
			return nil, kvfs.ErrConflict
		}
	}
	next := rec.version + 1
	stored := make([]byte, len(data))
	copy(stored, data)
	s.records[key] = record{data: stored, version: next}
	return encodeVersion(next), nil
}

// AutoMkfs reports true: memkv is meant to stand in for a freshly
// initialized backend in tests and dry runs.
func (s *Store) AutoMkfs() bool { return true }
