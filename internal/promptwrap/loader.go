package promptwrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ObjectReader reads one object version; an empty version means latest.
type ObjectReader interface {
	ReadObject(ctx context.Context, bucket, key, versionID string) ([]byte, error)
}

// Pointer names the rule document a deployment should use.
type Pointer struct {
	Bucket  string `json:"bucket"`
	Key     string `json:"key"`
	Version string `json:"version,omitempty"`
}

// ObjectStoreLoader resolves a versioned pointer object to the rule document it
// names and returns that document.
type ObjectStoreLoader struct {
	Reader        ObjectReader
	PointerBucket string
	PointerKey    string
}

func (l ObjectStoreLoader) Load(ctx context.Context) ([]byte, error) {
	if l.Reader == nil {
		return nil, errors.New("object reader is required")
	}
	raw, err := l.Reader.ReadObject(ctx, l.PointerBucket, l.PointerKey, "")
	if err != nil {
		return nil, fmt.Errorf("read rule pointer: %w", err)
	}
	var ptr Pointer
	if err := json.Unmarshal(raw, &ptr); err != nil {
		return nil, fmt.Errorf("decode rule pointer: %w", err)
	}
	if strings.TrimSpace(ptr.Key) == "" {
		return nil, errors.New("rule pointer key is required")
	}
	bucket := strings.TrimSpace(ptr.Bucket)
	if bucket == "" {
		bucket = l.PointerBucket
	}
	doc, err := l.Reader.ReadObject(ctx, bucket, ptr.Key, strings.TrimSpace(ptr.Version))
	if err != nil {
		return nil, fmt.Errorf("read rules %s/%s: %w", bucket, ptr.Key, err)
	}
	return doc, nil
}

// FileLoader reads the rule document from a local file.
type FileLoader struct {
	Path string
}

func (l FileLoader) Load(ctx context.Context) ([]byte, error) {
	raw, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return raw, nil
}
