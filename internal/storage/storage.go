// Package storage provides the object storage gateway used for presentation
// sources, per-slide artifacts, and rendered videos.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Bucket names. A job's artifacts live under presentations/{jobID}/...;
// uploads land in ingest, rendered videos in output, voice samples in voices.
const (
	BucketIngest        = "ingest"
	BucketPresentations = "presentations"
	BucketOutput        = "output"
	BucketVoices        = "voices"
)

var ErrObjectNotFound = errors.New("object not found")

// Gateway is the object storage interface. References are "bucket/key" strings
// so they can be persisted in job and slide-task rows as-is.
// Never construct a storage client inside a component — always inject this
// interface so tests can substitute a fake.
type Gateway interface {
	Put(ctx context.Context, bucket, key string, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	GetStream(ctx context.Context, ref string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, ref string) error
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// Ref builds a storage reference from bucket and key.
func Ref(bucket, key string) string {
	return bucket + "/" + key
}

// ParseRef splits a "bucket/key" reference. A leading slash is tolerated
// because older records stored references as "/bucket/key".
func ParseRef(ref string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(ref, "/")
	bucket, key, ok := strings.Cut(trimmed, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed storage reference %q", ref)
	}
	return bucket, key, nil
}
