// Package kv defines the uniform get/put-with-version contract (spec §4.2,
// §6) that every backend adapter implements, and that the block, file and
// dir engines consume. Adapters live in sibling packages (memkv, rediskv,
// cassandrakv, s3kv, localkv) so that package kv itself stays free of any
// particular driver dependency.
package kv

import (
	"context"

	"github.com/jeffdarcy/kvfs"
)

// Version is an opaque version token a Store hands back from Get and
// accepts on a conditional Put. Its shape is backend-specific — a Cassandra
// adapter might encode a row timestamp, a Redis adapter a WATCH token — the
// core never inspects it, only round-trips it.
type Version []byte

// Options selects and configures a backend by name. The concrete factory
// that turns Options into a Store lives in package engine, not here:
// package kv is imported by every backend adapter (memkv, rediskv,
// cassandrakv, s3kv, localkv), so kv itself cannot import them back
// without a cycle. See engine.OpenStore.
type Options struct {
	// Backend selects the adapter: "memory", "redis", "cassandra", "s3"
	// or "local".
	Backend string

	RedisAddress  string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string

	CassandraHosts   []string
	CassandraKeyspace string
	CassandraTable    string

	S3Endpoint string
	S3Region   string
	S3Username string
	S3Password string
	S3Bucket   string

	LocalDir string
}

// Store is the KV abstraction of spec §4.2/§6.
type Store interface {
	// Get returns the current value and version for key, or kvfs.ErrNotFound
	// if no value exists, or kvfs.ErrInconsistentVersions if the backend
	// reports more than one live version (a vector-clock fork).
	Get(ctx context.Context, key kvfs.Pointer) ([]byte, Version, error)

	// Put writes data under key. When version is non-nil the write is
	// conditional: it fails with kvfs.ErrConflict if key's current version
	// does not match. When version is nil the write is unconditional (used
	// only for first writes). On success it returns the value's new version.
	Put(ctx context.Context, key kvfs.Pointer, data []byte, version Version) (Version, error)

	// AutoMkfs reports whether this backend self-initializes an empty root
	// directory, per spec §6. When true, the engine lazily calls Mkdir on
	// the configured root pointer the first time root lookup misses.
	AutoMkfs() bool
}
