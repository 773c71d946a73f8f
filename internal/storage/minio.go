package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/slidecast/slidecast/internal/config"
)

// MinioGateway implements Gateway against a MinIO (or any S3-compatible) server.
type MinioGateway struct {
	client *minio.Client
}

// NewMinioGateway connects to the configured endpoint and ensures the
// well-known buckets exist.
func NewMinioGateway(ctx context.Context, cfg config.StorageConfig) (*MinioGateway, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	g := &MinioGateway{client: client}
	for _, bucket := range []string{BucketIngest, BucketPresentations, BucketOutput, BucketVoices} {
		if err := g.ensureBucket(ctx, bucket); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *MinioGateway) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := g.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := g.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

func (g *MinioGateway) Put(ctx context.Context, bucket, key string, data []byte) (string, error) {
	_, err := g.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return Ref(bucket, key), nil
}

func (g *MinioGateway) Get(ctx context.Context, ref string) ([]byte, error) {
	rc, _, err := g.GetStream(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	return data, nil
}

func (g *MinioGateway) GetStream(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	bucket, key, err := ParseRef(ref)
	if err != nil {
		return nil, 0, err
	}

	obj, err := g.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", ref, err)
	}

	// GetObject is lazy; Stat forces the first request so missing objects
	// surface here instead of on the first Read.
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, 0, fmt.Errorf("%w: %s", ErrObjectNotFound, ref)
		}
		return nil, 0, fmt.Errorf("stat %s: %w", ref, err)
	}
	return obj, info.Size, nil
}

func (g *MinioGateway) Delete(ctx context.Context, ref string) error {
	bucket, key, err := ParseRef(ref)
	if err != nil {
		return err
	}
	if err := g.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	return nil
}

func (g *MinioGateway) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var refs []string
	for obj := range g.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, obj.Err)
		}
		refs = append(refs, Ref(bucket, obj.Key))
	}
	return refs, nil
}

// Compile-time check that MinioGateway implements Gateway.
var _ Gateway = (*MinioGateway)(nil)
