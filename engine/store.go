package engine

import (
	"context"
	"fmt"

	"github.com/jeffdarcy/kvfs/kv"
	"github.com/jeffdarcy/kvfs/kv/cassandrakv"
	"github.com/jeffdarcy/kvfs/kv/localkv"
	"github.com/jeffdarcy/kvfs/kv/memkv"
	"github.com/jeffdarcy/kvfs/kv/rediskv"
	"github.com/jeffdarcy/kvfs/kv/s3kv"
)

// OpenStore builds a kv.Store from opts.Backend. This is kvfs's
// equivalent of voldfs.py's VOLDFS_DB-driven backend selection
// (SPEC_FULL.md §4), generalized to a struct instead of an environment
// variable; it lives in package engine rather than package kv because kv
// is imported by every one of these adapters, so kv itself cannot import
// them back without an import cycle.
func OpenStore(ctx context.Context, opts kv.Options) (kv.Store, error) {
	switch opts.Backend {
	case "", "memory":
		return memkv.New(), nil

	case "redis":
		return rediskv.Open(rediskv.Options{
			Address:   opts.RedisAddress,
			Password:  opts.RedisPassword,
			DB:        opts.RedisDB,
			KeyPrefix: opts.KeyPrefix,
		}), nil

	case "cassandra":
		conn, err := cassandrakv.OpenConnection(cassandrakv.Config{
			ClusterHosts: opts.CassandraHosts,
			Keyspace:     opts.CassandraKeyspace,
			Table:        opts.CassandraTable,
		})
		if err != nil {
			return nil, err
		}
		return cassandrakv.New(conn), nil

	case "s3":
		client := s3kv.Connect(s3kv.Config{
			HostEndpointURL: opts.S3Endpoint,
			Region:          opts.S3Region,
			Username:        opts.S3Username,
			Password:        opts.S3Password,
			Bucket:          opts.S3Bucket,
		})
		return s3kv.Open(client, opts.S3Bucket), nil

	case "local":
		if opts.LocalDir == "" {
			return nil, fmt.Errorf("engine: local backend requires Options.LocalDir")
		}
		return localkv.New(opts.LocalDir), nil

	default:
		return nil, fmt.Errorf("engine: unknown kv backend %q", opts.Backend)
	}
}
