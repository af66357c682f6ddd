package memkv

import (
	"context"
	"errors"
	"testing"

	"github.com/jeffdarcy/kvfs"
)

func TestGetMissingIsNotFound(t *testing.T) {
	s := New()
	if _, _, err := s.Get(context.Background(), kvfs.NewPointer(1, 0, 1)); !errors.Is(err, kvfs.ErrNotFound) {
		t.Fatalf("Get of missing key = %v, want ErrNotFound", err)
	}
}

func TestUnconditionalPutThenGet(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := kvfs.NewPointer(1, 0, 1)

	if _, err := s.Put(ctx, key, []byte("v1"), nil); err != nil {
		t.Fatal(err)
	}
	data, _, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v1" {
		t.Fatalf("Get = %q, want v1", data)
	}
}

func TestConditionalPutSucceedsOnMatchingVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := kvfs.NewPointer(1, 0, 1)

	_, err := s.Put(ctx, key, []byte("v1"), nil)
	if err != nil {
		t.Fatal(err)
	}
	_, ver, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, key, []byte("v2"), ver); err != nil {
		t.Fatal(err)
	}
	data, _, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v2" {
		t.Fatalf("Get after conditional put = %q, want v2", data)
	}
}

func TestConditionalPutFailsOnStaleVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := kvfs.NewPointer(1, 0, 1)

	_, err := s.Put(ctx, key, []byte("v1"), nil)
	if err != nil {
		t.Fatal(err)
	}
	_, staleVer, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	// A concurrent writer commits v2 first.
	if _, err := s.Put(ctx, key, []byte("v2"), staleVer); err != nil {
		t.Fatal(err)
	}
	// Our own put, still holding the now-stale version, must be rejected.
	if _, err := s.Put(ctx, key, []byte("v3"), staleVer); !errors.Is(err, kvfs.ErrConflict) {
		t.Fatalf("stale-version Put = %v, want ErrConflict", err)
	}
}

func TestConditionalPutOnMissingKeyConflicts(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := kvfs.NewPointer(1, 0, 1)
	fakeVersion := encodeVersion(1)
	if _, err := s.Put(ctx, key, []byte("v1"), fakeVersion); !errors.Is(err, kvfs.ErrConflict) {
		t.Fatalf("conditional Put on absent key = %v, want ErrConflict", err)
	}
}

func TestAutoMkfsTrue(t *testing.T) {
	if !New().AutoMkfs() {
		t.Fatal("memkv.Store.AutoMkfs() should report true")
	}
}
