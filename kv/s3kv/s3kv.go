// Package s3kv is a kv.Store backed by an S3-compatible object store,
// grounded on the teacher's aws_s3 package (Config/Connect shape, and
// manage_bucket.go's bucket lifecycle calls) but restructured around S3's
// conditional-write headers so Put can implement spec.md §5's CAS contract
// instead of the teacher's cache-then-ETag-poll read path.
package s3kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"

	"github.com/jeffdarcy/kvfs"
	"github.com/jeffdarcy/kvfs/kv"
)

// Config configures the S3 (or S3-compatible, e.g. MinIO) endpoint this
// Store talks to, mirroring the teacher's aws_s3.Config.
type Config struct {
	HostEndpointURL string
	Region          string
	Username        string
	Password        string
	Bucket          string
}

// Connect builds an s3.Client from config, pointed at a custom endpoint
// when HostEndpointURL is set (minio, localstack, etc).
func Connect(config Config) *s3.Client {
	return s3.NewFromConfig(aws.Config{Region: config.Region}, func(o *s3.Options) {
		if config.HostEndpointURL != "" {
			o.BaseEndpoint = aws.String(config.HostEndpointURL)
		}
		if config.Username != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(config.Username, config.Password, "")
		}
	})
}

// Store is a kv.Store over a single S3 bucket. Versions are the object's
// ETag: a Get's returned version is its current ETag, and Put uses it as
// an If-Match precondition, so a concurrent writer's commit causes ours
// to fail with kvfs.ErrConflict rather than clobbering it.
type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// Open wraps client for bucket, using manager.Uploader for the write path
// so payloads larger than a single PutObject call are chunked
// automatically (the file engine's blocks are small, but the directory
// and inode images and any larger embedded writes benefit uniformly).
func Open(client *s3.Client, bucket string) *Store {
	return &Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
	}
}

// CreateBucket provisions the backing bucket. Nothing in this module calls
// it, cmd/mkfs included.
func (s *Store) CreateBucket(ctx context.Context, region string) error {
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
		CreateBucketConfiguration: &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		},
	})
	if err != nil {
		return fmt.Errorf("s3kv: create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func objectKey(key kvfs.Pointer) string { return key.String() }

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound"
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

// Get fetches the object's bytes and current ETag.
func (s *Store) Get(ctx context.Context, key kvfs.Pointer) ([]byte, kv.Version, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(key)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil, kvfs.ErrNotFound
		}
		return nil, nil, kvfs.Wrap(kvfs.CodeBackend, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, nil, kvfs.Wrap(kvfs.CodeBackend, err)
	}
	if out.ETag == nil {
		return nil, nil, kvfs.Wrap(kvfs.CodeBadState, fmt.Errorf("s3kv: object %s has no ETag", objectKey(key)))
	}
	return data, kv.Version(*out.ETag), nil
}

// Put uploads data. When version is non-nil it is supplied as an If-Match
// precondition, so the object store itself rejects a write racing a
// concurrent updater (surfaced here as kvfs.ErrConflict). version == nil
// means unconditional, matching kv/memkv's contract: no precondition
// header is sent.
func (s *Store) Put(ctx context.Context, key kvfs.Pointer, data []byte, version kv.Version) (kv.Version, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(key)),
		Body:   bytes.NewReader(data),
	}
	if version != nil {
		input.IfMatch = aws.String(string(version))
	}
	out, err := s.uploader.Upload(ctx, input)
	if err != nil {
		if isPreconditionFailed(err) {
			return nil, kvfs.ErrConflict
		}
		return nil, kvfs.Wrap(kvfs.CodeBackend, err)
	}
	if out.ETag == nil || *out.ETag == "" {
		// Some S3-compatible backends (older MinIO) omit the ETag from a
		// multipart upload's completion response; fall back to a Get.
		_, ver, getErr := s.Get(ctx, key)
		if getErr != nil {
			return nil, getErr
		}
		return ver, nil
	}
	return kv.Version(*out.ETag), nil
}

// AutoMkfs reports false: a provisioned bucket is assumed to already hold
// (or not hold) a root, never lazily created on first miss.
func (s *Store) AutoMkfs() bool { return false }
