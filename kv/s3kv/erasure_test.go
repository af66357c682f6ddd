package s3kv

import (
	"bytes"
	"context"
	"testing"

	"github.com/jeffdarcy/kvfs"
	"github.com/jeffdarcy/kvfs/kv"
	"github.com/jeffdarcy/kvfs/kv/memkv"
)

// blackhole wraps a kv.Store and makes Get always report ErrNotFound,
// standing in for an unreachable shard bucket.
type blackhole struct {
	kv.Store
}

func (b blackhole) Get(ctx context.Context, key kvfs.Pointer) ([]byte, kv.Version, error) {
	return nil, nil, kvfs.ErrNotFound
}

func newShards(n int) []kv.Store {
	shards := make([]kv.Store, n)
	for i := range shards {
		shards[i] = memkv.New()
	}
	return shards
}

func TestErasureRoundTrip(t *testing.T) {
	shards := newShards(4 + 2)
	es, err := NewErasureStore(shards, 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	key := kvfs.NewPointer(1, 0, 1)
	payload := bytes.Repeat([]byte("kvfs-erasure-coding-payload!"), 50)

	if _, err := es.Put(ctx, key, payload, nil); err != nil {
		t.Fatal(err)
	}
	got, _, err := es.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round-tripped payload mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestErasureToleratesMissingShards(t *testing.T) {
	shards := newShards(4 + 2)
	es, err := NewErasureStore(shards, 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	key := kvfs.NewPointer(1, 0, 2)
	payload := bytes.Repeat([]byte("x"), 777)

	if _, err := es.Put(ctx, key, payload, nil); err != nil {
		t.Fatal(err)
	}

	// Knock out exactly parityCount (2) shards; reconstruction must still
	// recover the original data.
	es.shards[0] = blackhole{shards[0]}
	es.shards[1] = blackhole{shards[1]}

	got, _, err := es.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload did not survive reconstruction from parity shards")
	}
}

func TestErasureFailsWhenTooManyShardsMissing(t *testing.T) {
	shards := newShards(4 + 2)
	es, err := NewErasureStore(shards, 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	key := kvfs.NewPointer(1, 0, 3)

	if _, err := es.Put(ctx, key, []byte("data"), nil); err != nil {
		t.Fatal(err)
	}

	// Knock out parityCount+1 (3) shards: beyond what 2 parity shards can
	// tolerate.
	es.shards[0] = blackhole{shards[0]}
	es.shards[1] = blackhole{shards[1]}
	es.shards[2] = blackhole{shards[2]}

	if _, _, err := es.Get(ctx, key); err == nil {
		t.Fatal("expected an error when more shards are missing than parityCount tolerates")
	}
}

func TestNewErasureStoreRejectsWrongShardCount(t *testing.T) {
	if _, err := NewErasureStore(newShards(3), 4, 2); err == nil {
		t.Fatal("expected an error when len(shardStores) != dataShards+parityShards")
	}
}

func TestErasureAutoMkfsDefersToFirstShard(t *testing.T) {
	es, err := NewErasureStore(newShards(4+2), 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !es.AutoMkfs() {
		t.Fatal("AutoMkfs should defer to shard 0 (memkv reports true)")
	}
}
