// Command mkfs is a thin wrapper that opens a configured KV backend and
// ensures a root directory exists at the configured root pointer,
// grounded on the teacher's flag-driven cmd/* tools (ai/cmd/prepare) but
// with no domain logic of its own: every step below just calls into
// package engine.
package main

import (
	"context"
	"flag"
	"fmt"
	log "log/slog"
	"os"

	"github.com/jeffdarcy/kvfs"
	"github.com/jeffdarcy/kvfs/alloc"
	"github.com/jeffdarcy/kvfs/engine"
	"github.com/jeffdarcy/kvfs/kv"
)

func main() {
	backend := flag.String("backend", "memory", "kv backend: memory|redis|cassandra|s3|local")
	nodeID := flag.Uint("node-id", 1, "this process's node id, folded into minted pointers")
	bootGen := flag.Uint("boot-generation", 0, "this process's boot generation")
	rootNode := flag.Uint("root-node-id", 1, "node id component of the root pointer")
	rootBoot := flag.Uint("root-boot-generation", 0, "boot generation component of the root pointer")
	rootSeq := flag.Uint("root-sequence", 1, "sequence component of the root pointer")
	mode := flag.Uint("mode", 0o755, "permission bits for a freshly created root")

	redisAddr := flag.String("redis-address", "localhost:6379", "redis backend: server address")
	cassandraHosts := flag.String("cassandra-hosts", "localhost:9042", "cassandra backend: comma-separated contact points")
	cassandraKeyspace := flag.String("cassandra-keyspace", "kvfs", "cassandra backend: keyspace")
	s3Endpoint := flag.String("s3-endpoint", "", "s3 backend: custom endpoint URL (empty for real AWS)")
	s3Region := flag.String("s3-region", "us-east-1", "s3 backend: region")
	s3Bucket := flag.String("s3-bucket", "kvfs", "s3 backend: bucket name")
	localDir := flag.String("local-dir", "", "local backend: directory to hold one file per record")
	flag.Parse()

	opts := kv.Options{
		Backend:           *backend,
		RedisAddress:      *redisAddr,
		CassandraHosts:    []string{*cassandraHosts},
		CassandraKeyspace: *cassandraKeyspace,
		S3Endpoint:        *s3Endpoint,
		S3Region:          *s3Region,
		S3Bucket:          *s3Bucket,
		LocalDir:          *localDir,
	}

	ctx := context.Background()
	store, err := engine.OpenStore(ctx, opts)
	if err != nil {
		log.Error("open kv backend failed", "backend", *backend, "err", err)
		os.Exit(1)
	}

	root := kvfs.NewPointer(uint16(*rootNode), uint16(*rootBoot), uint32(*rootSeq))
	identity := alloc.Identity{NodeID: uint16(*nodeID), BootGeneration: uint16(*bootGen)}

	fs, err := engine.Open(ctx, store, identity, root, uint32(*mode))
	if err != nil {
		log.Error("mkfs failed", "root", root.String(), "err", err)
		os.Exit(1)
	}
	if err := fs.EnsureMkfs(ctx, uint32(*mode)); err != nil {
		log.Error("mkfs failed", "root", root.String(), "err", err)
		os.Exit(1)
	}
	fmt.Printf("kvfs image ready: backend=%s root=%s\n", *backend, fs.Root().String())
}
