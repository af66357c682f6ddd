// Package alloc mints fresh kvfs.Pointer values. Per the first design note
// in spec §9, the allocator is explicit state owned by the caller (an
// engine.FS handle) rather than process-global: this package sheds the
// hidden global the reference implementation used while preserving the
// monotonic-sequence guarantee spec §4.1 requires.
package alloc

import (
	"sync/atomic"

	"github.com/jeffdarcy/kvfs"
)

// Identity is the process/boot identity folded into every pointer this
// Allocator mints: a configured node id and boot generation (spec §4.1).
type Identity struct {
	NodeID         uint16
	BootGeneration uint16
}

// Allocator mints pointers unique for the lifetime of one boot generation.
// The sequence counter is the only contended state (spec §5); it is safe
// for concurrent use.
type Allocator struct {
	identity Identity
	sequence atomic.Uint32
}

// New returns an Allocator seeded with the given identity. NodeID must be
// non-zero — node_id 0 is reserved as the nil-pointer sentinel (spec §3) —
// so a zero Identity.NodeID is promoted to 1, the same default the
// reference implementation hardcodes. BootGeneration may legitimately be 0
// (spec §4.1: "may be 0 for tests").
func New(identity Identity) *Allocator {
	if identity.NodeID == 0 {
		identity.NodeID = 1
	}
	return &Allocator{identity: identity}
}

// Fresh mints a new, never-before-returned Pointer.
func (a *Allocator) Fresh() kvfs.Pointer {
	seq := a.sequence.Add(1)
	return kvfs.NewPointer(a.identity.NodeID, a.identity.BootGeneration, seq)
}
