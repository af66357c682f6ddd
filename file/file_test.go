package file

import (
	"bytes"
	"context"
	"testing"

	"github.com/jeffdarcy/kvfs"
	"github.com/jeffdarcy/kvfs/alloc"
	"github.com/jeffdarcy/kvfs/kv/memkv"
)

func newTestEngine() (*Engine, kvfs.Pointer) {
	store := memkv.New()
	// Minted pointers use boot generation 1 so they never collide with the
	// hand-picked boot-generation-0 keys the tests use.
	a := alloc.New(alloc.Identity{NodeID: 1, BootGeneration: 1})
	e := New(store, a)
	key := kvfs.NewPointer(1, 0, 1)
	if err := e.CreateInode(context.Background(), key, 0o644); err != nil {
		panic(err)
	}
	return e, key
}

func TestGetDataOnFreshInodeIsEmpty(t *testing.T) {
	e, key := newTestEngine()
	got, err := e.GetData(context.Background(), key, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("GetData on empty inode = %v, want empty", got)
	}
}

func TestPutDataEmbeddedFastPath(t *testing.T) {
	e, key := newTestEngine()
	ctx := context.Background()
	payload := []byte("hello, world")

	n, err := e.PutData(ctx, key, 0, payload)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(payload) {
		t.Fatalf("PutData returned %d, want %d", n, len(payload))
	}
	got, err := e.GetData(ctx, key, 0, uint32(len(payload)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("GetData = %q, want %q", got, payload)
	}
}

func TestPutDataEmbeddedAtOffset(t *testing.T) {
	e, key := newTestEngine()
	ctx := context.Background()

	if _, err := e.PutData(ctx, key, 0, []byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PutData(ctx, key, 5, []byte("XXXXX")); err != nil {
		t.Fatal(err)
	}
	got, err := e.GetData(ctx, key, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("01234XXXXX")) {
		t.Fatalf("GetData = %q, want %q", got, "01234XXXXX")
	}
}

func TestPutDataGrowsIntoIndirectTree(t *testing.T) {
	e, key := newTestEngine()
	ctx := context.Background()

	// A write spanning more than one block forces the inode out of its
	// embedded block and into an indirect pointer tree (spec §4.4 Phase A).
	size := int(kvfs.BlockSize) + 500
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i)
	}

	n, err := e.PutData(ctx, key, 0, payload)
	if err != nil {
		t.Fatal(err)
	}
	if n != size {
		t.Fatalf("PutData returned %d, want %d", n, size)
	}

	for _, span := range []struct{ off, ln uint64 }{
		{0, 100},
		{kvfs.BlockSize - 50, 100},
		{kvfs.BlockSize, 500},
	} {
		got, err := e.GetData(ctx, key, span.off, uint32(span.ln))
		if err != nil {
			t.Fatal(err)
		}
		want := payload[span.off : span.off+uint64(len(got))]
		if !bytes.Equal(got, want) {
			t.Fatalf("GetData(off=%d) = %v, want %v", span.off, got, want)
		}
	}
}

func TestGetDataReadsHoleAsZeros(t *testing.T) {
	e, key := newTestEngine()
	ctx := context.Background()

	// Write only the second block of a two-block file; the first block is
	// never linked and must read back as a hole of zeros (spec §3
	// invariant 3).
	second := bytes.Repeat([]byte{0xAB}, int(kvfs.BlockSize))
	if _, err := e.PutData(ctx, key, kvfs.BlockSize, second); err != nil {
		t.Fatal(err)
	}

	got, err := e.GetData(ctx, key, 10, 20)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range got {
		if b != 0 {
			t.Fatalf("expected zero-filled hole region, got %v", got)
		}
	}
}

func TestGetDataClampsToEndOfFile(t *testing.T) {
	e, key := newTestEngine()
	ctx := context.Background()

	payload := []byte("short")
	if _, err := e.PutData(ctx, key, 0, payload); err != nil {
		t.Fatal(err)
	}
	got, err := e.GetData(ctx, key, 0, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("GetData clamped = %q, want %q", got, payload)
	}
}

func TestGetDataPastEndOfFileIsEmpty(t *testing.T) {
	e, key := newTestEngine()
	ctx := context.Background()

	if _, err := e.PutData(ctx, key, 0, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	got, err := e.GetData(ctx, key, 100, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("GetData past EOF = %v, want empty", got)
	}
}

func TestMultipleSequentialWritesAccumulate(t *testing.T) {
	e, key := newTestEngine()
	ctx := context.Background()

	var want []byte
	for i := 0; i < 5; i++ {
		chunk := bytes.Repeat([]byte{byte('A' + i)}, int(kvfs.BlockSize/2))
		if _, err := e.PutData(ctx, key, uint64(len(want)), chunk); err != nil {
			t.Fatal(err)
		}
		want = append(want, chunk...)
	}
	got, err := e.GetData(ctx, key, 0, uint32(kvfs.BlockSize/2))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want[:kvfs.BlockSize/2]) {
		t.Fatalf("GetData first block = %v, want %v", got[:10], want[:10])
	}
	got2, err := e.GetData(ctx, key, kvfs.BlockSize/2, uint32(kvfs.BlockSize/2))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got2, want[kvfs.BlockSize/2:kvfs.BlockSize]) {
		t.Fatal("second half of accumulated write mismatched")
	}
}

func TestBlockPathMatchesManualDecomposition(t *testing.T) {
	path := blockPath(0, 1)
	if len(path) != 1 || path[0] != 0 {
		t.Fatalf("blockPath(0,1) = %v, want [0]", path)
	}
	path2 := blockPath(uint64(kvfs.PtrsPerBlock)+3, 2)
	if len(path2) != 2 || path2[0] != 1 || path2[1] != 3 {
		t.Fatalf("blockPath(PtrsPerBlock+3, 2) = %v, want [1 3]", path2)
	}
}

func TestBuildChunksNeverStraddlesBlockBoundary(t *testing.T) {
	chunks := buildChunks(kvfs.BlockSize-10, 30)
	if len(chunks) != 2 {
		t.Fatalf("buildChunks produced %d chunks, want 2", len(chunks))
	}
	if chunks[0].length != 10 || chunks[1].length != 20 {
		t.Fatalf("chunk lengths = %d, %d, want 10, 20", chunks[0].length, chunks[1].length)
	}
	if chunks[0].diskOff+chunks[0].length != chunks[1].diskOff {
		t.Fatal("chunks are not contiguous")
	}
}
