package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
)

// maxDocumentBytes bounds configuration documents read into memory.
const maxDocumentBytes = 4 << 20

// Reader exposes the read-only object operations the evaluation workflow needs.
type Reader struct {
	client *minio.Client
}

func NewReader(client *minio.Client) (*Reader, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	return &Reader{client: client}, nil
}

// ReadObject returns the object body. An empty versionID reads the latest version.
func (r *Reader) ReadObject(ctx context.Context, bucket, key, versionID string) ([]byte, error) {
	if r == nil || r.client == nil {
		return nil, errors.New("object reader not initialized")
	}
	obj, err := r.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{VersionID: versionID})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	defer func() { _ = obj.Close() }()

	body, err := io.ReadAll(io.LimitReader(obj, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}
	if len(body) > maxDocumentBytes {
		return nil, fmt.Errorf("object %s/%s exceeds %d bytes", bucket, key, maxDocumentBytes)
	}
	return body, nil
}

// ListKeys returns up to maxKeys object keys under prefix in listing order.
func (r *Reader) ListKeys(ctx context.Context, bucket, prefix string, maxKeys int) ([]string, error) {
	if r == nil || r.client == nil {
		return nil, errors.New("object reader not initialized")
	}
	if maxKeys <= 0 {
		return nil, fmt.Errorf("max keys must be positive, got %d", maxKeys)
	}

	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	keys := make([]string, 0, min(maxKeys, 128))
	for info := range r.client.ListObjects(listCtx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
		MaxKeys:   maxKeys,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list %s: %w", bucket, info.Err)
		}
		if info.Key == "" {
			continue
		}
		keys = append(keys, info.Key)
		if len(keys) >= maxKeys {
			break
		}
	}
	return keys, nil
}
