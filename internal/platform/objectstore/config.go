package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/modelgate/internal/platform/env"
)

// Config locates the S3-compatible store holding evaluation datasets and the
// prompt-wrapping rule documents. Both buckets are read-only to this service.
type Config struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
	BucketDatasets string
	BucketConfig   string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("ANIMUS_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:       env.String("ANIMUS_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:      env.String("ANIMUS_MINIO_ACCESS_KEY", "animus"),
		SecretKey:      env.String("ANIMUS_MINIO_SECRET_KEY", "animusminio"),
		Region:         env.String("ANIMUS_MINIO_REGION", "us-east-1"),
		UseSSL:         useSSL,
		BucketDatasets: env.String("EVALGATE_DATASET_BUCKET", "eval-datasets"),
		BucketConfig:   env.String("EVALGATE_CONFIG_BUCKET", "eval-config"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("access key and secret key are required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketDatasets) == "" {
		return errors.New("datasets bucket is required")
	}
	if strings.TrimSpace(c.BucketConfig) == "" {
		return errors.New("config bucket is required")
	}
	return nil
}
