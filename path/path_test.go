package path

import (
	"context"
	"testing"

	"github.com/jeffdarcy/kvfs"
	"github.com/jeffdarcy/kvfs/alloc"
	"github.com/jeffdarcy/kvfs/dir"
	"github.com/jeffdarcy/kvfs/kv/memkv"
)

// buildTree lays out root/a/b = leaf and returns the engine plus the
// individual pointers for assertions.
func buildTree(t *testing.T) (*dir.Engine, kvfs.Pointer, kvfs.Pointer, kvfs.Pointer) {
	t.Helper()
	store := memkv.New()
	a := alloc.New(alloc.Identity{NodeID: 1})
	d := dir.New(store, a)
	ctx := context.Background()

	root := kvfs.NewPointer(1, 0, 1)
	if err := d.Mkdir(ctx, root, 0o755); err != nil {
		t.Fatal(err)
	}
	dirA := kvfs.NewPointer(1, 0, 2)
	if err := d.Mkdir(ctx, dirA, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := d.Link(ctx, root, "a", dirA); err != nil {
		t.Fatal(err)
	}
	leaf := kvfs.NewPointer(1, 0, 3)
	if err := d.Link(ctx, dirA, "b", leaf); err != nil {
		t.Fatal(err)
	}
	return d, root, dirA, leaf
}

func TestLookupEmptyPathReturnsRoot(t *testing.T) {
	d, root, _, _ := buildTree(t)
	got, err := Lookup(context.Background(), d, root, "")
	if err != nil {
		t.Fatal(err)
	}
	if got != root {
		t.Fatalf("Lookup(\"\") = %v, want root %v", got, root)
	}
}

func TestLookupSingleComponent(t *testing.T) {
	d, root, dirA, _ := buildTree(t)
	got, err := Lookup(context.Background(), d, root, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got != dirA {
		t.Fatalf("Lookup(a) = %v, want %v", got, dirA)
	}
}

func TestLookupMultiComponent(t *testing.T) {
	d, root, _, leaf := buildTree(t)
	got, err := Lookup(context.Background(), d, root, "a/b")
	if err != nil {
		t.Fatal(err)
	}
	if got != leaf {
		t.Fatalf("Lookup(a/b) = %v, want %v", got, leaf)
	}
}

func TestLookupIgnoresLeadingTrailingAndDoubledSlashes(t *testing.T) {
	d, root, _, leaf := buildTree(t)
	for _, p := range []string{"/a/b", "a/b/", "/a/b/", "a//b", "//a//b//"} {
		got, err := Lookup(context.Background(), d, root, p)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", p, err)
		}
		if got != leaf {
			t.Fatalf("Lookup(%q) = %v, want %v", p, got, leaf)
		}
	}
}

func TestLookupMissingIntermediateComponentReturnsNil(t *testing.T) {
	d, root, _, _ := buildTree(t)
	got, err := Lookup(context.Background(), d, root, "nosuch/b")
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsNil() {
		t.Fatalf("Lookup through missing component = %v, want nil", got)
	}
}

func TestLookupMissingFinalComponentReturnsNil(t *testing.T) {
	d, root, _, _ := buildTree(t)
	got, err := Lookup(context.Background(), d, root, "a/nosuch")
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsNil() {
		t.Fatalf("Lookup of missing final component = %v, want nil", got)
	}
}
