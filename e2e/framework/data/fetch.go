package data

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/splunk/browser-e2e/e2e/framework/objectstore"
)

// ProviderFactory opens an object store client.
type ProviderFactory func(ctx context.Context, cfg objectstore.Config) (objectstore.Provider, error)

// Fetcher turns a test data source into a local path. Object URLs
// (s3://, gs://, az://, minio://) are downloaded once into the cache; plain
// paths are returned unchanged.
type Fetcher struct {
	cache       *Cache
	base        objectstore.Config
	newProvider ProviderFactory
	logger      *zap.Logger
}

// NewFetcher returns a Fetcher. base supplies credentials and endpoints;
// provider and bucket come from each URL.
func NewFetcher(cache *Cache, base objectstore.Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{cache: cache, base: base, newProvider: objectstore.NewProvider, logger: logger}
}

// WithProviderFactory replaces how providers are created.
func (f *Fetcher) WithProviderFactory(factory ProviderFactory) *Fetcher {
	f.newProvider = factory
	return f
}

// Fetch returns a local path for source.
func (f *Fetcher) Fetch(ctx context.Context, source string) (string, error) {
	loc, ok := objectstore.ParseURL(source)
	if !ok {
		return source, nil
	}
	if loc.Key == "" {
		return "", errors.Errorf("test data url %s has no object key", source)
	}
	if entry, hit := f.cache.Get(source); hit {
		f.logger.Debug("test data cache hit", zap.String("source", source), zap.String("path", entry.Path))
		return entry.Path, nil
	}

	cfg := f.base
	cfg.Provider = loc.Provider
	cfg.Bucket = loc.Bucket
	cfg.Prefix = ""
	if loc.Provider == "s3" && strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = firstEnv("S3_REGION", "AWS_REGION", "AWS_DEFAULT_REGION")
	}
	provider, err := f.newProvider(ctx, cfg)
	if err != nil {
		return "", errors.Wrapf(err, "open %s provider", loc.Provider)
	}
	defer provider.Close()

	tmp, err := os.MkdirTemp(f.cache.Dir(), "fetch-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmp)
	download := filepath.Join(tmp, filepath.Base(loc.Key))
	if _, err := provider.Download(ctx, loc.Key, download); err != nil {
		return "", errors.Wrapf(err, "download %s", source)
	}
	entry, err := f.cache.Put(source, download)
	if err != nil {
		return "", err
	}
	f.logger.Info("test data fetched", zap.String("source", source), zap.Int64("size", entry.Size), zap.String("checksum", entry.Checksum))
	return entry.Path, nil
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}
