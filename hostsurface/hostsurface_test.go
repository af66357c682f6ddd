package hostsurface

import (
	"context"
	"testing"

	"github.com/jeffdarcy/kvfs"
	"github.com/jeffdarcy/kvfs/alloc"
	"github.com/jeffdarcy/kvfs/dir"
	"github.com/jeffdarcy/kvfs/inode"
	"github.com/jeffdarcy/kvfs/kv/memkv"
)

func TestToAttrMapsHeaderFields(t *testing.T) {
	h := inode.Header{Mode: kvfs.S_IFDIR | 0o755, Ino: 3, Size: 42, Depth: 1}
	a := ToAttr(h)
	if a.Mode != h.Mode || a.Ino != h.Ino || a.Size != h.Size || a.Depth != h.Depth {
		t.Fatalf("ToAttr = %+v, want fields matching %+v", a, h)
	}
	if !a.IsDir {
		t.Fatal("IsDir should be true for an S_IFDIR mode")
	}
}

func TestToAttrRegularFileIsNotDir(t *testing.T) {
	a := ToAttr(inode.Header{Mode: kvfs.S_IFREG | 0o644})
	if a.IsDir {
		t.Fatal("IsDir should be false for an S_IFREG mode")
	}
}

func TestNewStatfsReportsFixedConstants(t *testing.T) {
	s := NewStatfs()
	if s.BlockSize != kvfs.BlockSize {
		t.Fatalf("BlockSize = %d, want %d", s.BlockSize, kvfs.BlockSize)
	}
	if s.MaxNameLen != dir.MaxNameLen {
		t.Fatalf("MaxNameLen = %d, want %d", s.MaxNameLen, dir.MaxNameLen)
	}
	if s.InodeHeaderSize != inode.HeaderSize {
		t.Fatalf("InodeHeaderSize = %d, want %d", s.InodeHeaderSize, inode.HeaderSize)
	}
}

func TestAutoMkfsDelegatesToStore(t *testing.T) {
	if !AutoMkfs(memkv.New()) {
		t.Fatal("AutoMkfs(memkv store) should report true")
	}
}

func TestEnumCollectsOnePageOfEntries(t *testing.T) {
	store := memkv.New()
	a := alloc.New(alloc.Identity{NodeID: 1})
	d := dir.New(store, a)
	ctx := context.Background()

	root := kvfs.NewPointer(1, 0, 1)
	if err := d.Mkdir(ctx, root, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := d.Link(ctx, root, "a", kvfs.NewPointer(1, 0, 2)); err != nil {
		t.Fatal(err)
	}

	entries, _, _, err := Enum(ctx, d, root, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least the synthetic . entry on the first page")
	}
	if entries[0].Name != "." {
		t.Fatalf("first entry = %q, want .", entries[0].Name)
	}
}
