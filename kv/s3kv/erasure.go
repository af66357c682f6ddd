// Erasure-coded wrapping of Store, adapted from the teacher's fs/erasure
// package (encoder.go/decoder.go): the same shard/verify/reconstruct
// sequence, but driven here by kv.Store.Get/Put against one S3 bucket per
// shard instead of local files, so a minority of unreachable or corrupted
// buckets doesn't cost a read. Opt-in: callers that don't need the extra
// resiliency use Store directly.
package s3kv

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"fmt"

	"github.com/klauspost/reedsolomon"

	"github.com/jeffdarcy/kvfs"
	"github.com/jeffdarcy/kvfs/kv"
)

// shardMetaSize is 1 stuffed-byte-count byte + a 16-byte MD5 checksum,
// matching the teacher's erasure.MetaDataSize.
const shardMetaSize = 1 + md5.Size

// ErasureStore spreads each record across dataShards+parityShards
// independent kv.Stores (ordinarily one per S3 bucket, via Open per
// shard), so any parityShards of them can be unreachable or corrupted
// without losing the record.
type ErasureStore struct {
	shards      []kv.Store
	dataShards  int
	parityCount int
	encoder     reedsolomon.Encoder
}

// NewErasureStore builds an erasure-coded view over shardStores, one
// kv.Store per shard in order. len(shardStores) must equal
// dataShards+parityShards.
func NewErasureStore(shardStores []kv.Store, dataShards, parityShards int) (*ErasureStore, error) {
	if len(shardStores) != dataShards+parityShards {
		return nil, fmt.Errorf("s3kv: need %d shard stores, got %d", dataShards+parityShards, len(shardStores))
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	return &ErasureStore{
		shards:      shardStores,
		dataShards:  dataShards,
		parityCount: parityShards,
		encoder:     enc,
	}, nil
}

func shardMetadata(dataShards int, dataSize int, shard []byte) []byte {
	checksum := md5.Sum(shard)
	meta := make([]byte, shardMetaSize)
	if dataSize%dataShards != 0 {
		meta[0] = byte(dataShards - dataSize%dataShards)
	}
	copy(meta[1:], checksum[:])
	return meta
}

// Put encodes data into shards (each carrying its own checksum-and-padding
// metadata prefix) and writes one shard per underlying store, keyed
// identically to key in every shard store. version, if non-nil, must have
// come from a prior Get on this ErasureStore; it is passed through
// unchanged to every shard's Put, so a conflict on any one shard store
// surfaces as kvfs.ErrConflict for the whole record.
func (e *ErasureStore) Put(ctx context.Context, key kvfs.Pointer, data []byte, version kv.Version) (kv.Version, error) {
	rawShards, err := e.encoder.Split(data)
	if err != nil {
		return nil, kvfs.Wrap(kvfs.CodeBackend, err)
	}
	if err := e.encoder.Encode(rawShards); err != nil {
		return nil, kvfs.Wrap(kvfs.CodeBackend, err)
	}

	var newVersion kv.Version
	for i, shard := range rawShards {
		meta := shardMetadata(e.dataShards, len(data), shard)
		payload := append(append([]byte(nil), meta...), shard...)
		v, err := e.shards[i].Put(ctx, key, payload, version)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			newVersion = v
		}
	}
	return newVersion, nil
}

// Get reads every shard store, reconstructing from parity when up to
// parityCount shards are missing or fail their embedded checksum, then
// rejoins and trims the original data, mirroring the teacher's
// Decode/reconstructMissingShards/detectBadShardsThenReconstruct sequence.
func (e *ErasureStore) Get(ctx context.Context, key kvfs.Pointer) ([]byte, kv.Version, error) {
	shards := make([][]byte, len(e.shards))
	metas := make([][]byte, len(e.shards))
	var version kv.Version
	var missing int
	for i, s := range e.shards {
		payload, v, err := s.Get(ctx, key)
		if err != nil || len(payload) < shardMetaSize {
			missing++
			continue
		}
		metas[i] = payload[:shardMetaSize]
		shards[i] = payload[shardMetaSize:]
		if version == nil {
			version = v
		}
	}
	if missing > e.parityCount {
		return nil, nil, kvfs.Wrap(kvfs.CodeBackend, fmt.Errorf("s3kv: %d of %d shards unavailable, can tolerate %d", missing, len(e.shards), e.parityCount))
	}

	if err := e.encoder.ReconstructSome(shards, missingMask(shards)); err != nil {
		return nil, nil, kvfs.Wrap(kvfs.CodeBackend, err)
	}
	if ok, _ := e.encoder.Verify(shards); !ok {
		if err := e.reconstructCorrupted(shards, metas); err != nil {
			return nil, nil, kvfs.Wrap(kvfs.CodeBadState, err)
		}
	}

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := e.encoder.Join(w, shards, len(shards[0])*e.dataShards); err != nil {
		return nil, nil, kvfs.Wrap(kvfs.CodeBackend, err)
	}
	w.Flush()
	// Every shard carries the same padding count; take it from any shard
	// that was read, since shard 0 may be one of the missing ones.
	pad := 0
	for _, m := range metas {
		if m != nil {
			pad = int(m[0])
			break
		}
	}
	out := make([]byte, buf.Len()-pad)
	copy(out, buf.Bytes())
	return out, version, nil
}

func missingMask(shards [][]byte) []bool {
	mask := make([]bool, len(shards))
	for i, s := range shards {
		mask[i] = s == nil
	}
	return mask
}

func (e *ErasureStore) reconstructCorrupted(shards [][]byte, metas [][]byte) error {
	var bad int
	for i := range shards {
		if metas[i] == nil {
			continue
		}
		got := md5.Sum(shards[i])
		if !bytes.Equal(metas[i][1:], got[:]) {
			shards[i] = nil
			bad++
		}
	}
	if bad == 0 {
		return fmt.Errorf("s3kv: shards failed verification but all checksums matched")
	}
	if err := e.encoder.Reconstruct(shards); err != nil {
		return err
	}
	if ok, err := e.encoder.Verify(shards); !ok {
		if err != nil {
			return err
		}
		return fmt.Errorf("s3kv: shards still fail verification after reconstruction")
	}
	return nil
}

// AutoMkfs defers to the first shard store; every shard store in a single
// ErasureStore is expected to agree.
func (e *ErasureStore) AutoMkfs() bool {
	if len(e.shards) == 0 {
		return false
	}
	return e.shards[0].AutoMkfs()
}
