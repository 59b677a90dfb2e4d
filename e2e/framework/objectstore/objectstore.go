// Package objectstore uploads run artifacts to, and fetches test data from,
// S3, MinIO, GCS or Azure Blob storage.
package objectstore

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/splunk/browser-e2e/e2e/framework/config"
)

// Config describes how to connect to an object store provider.
type Config struct {
	Provider           string
	Bucket             string
	Prefix             string
	Region             string
	Endpoint           string
	AccessKey          string
	SecretKey          string
	SessionToken       string
	S3PathStyle        bool
	GCPProject         string
	GCPCredentialsFile string
	GCPCredentialsJSON string
	AzureAccount       string
	AzureKey           string
	AzureEndpoint      string
	AzureSASToken      string
}

// FromConfig extracts object store settings from the run configuration.
func FromConfig(cfg *config.Config) Config {
	return Config{
		Provider:           cfg.ObjectStoreProvider,
		Bucket:             cfg.ObjectStoreBucket,
		Prefix:             cfg.ObjectStorePrefix,
		Region:             cfg.ObjectStoreRegion,
		Endpoint:           cfg.ObjectStoreEndpoint,
		AccessKey:          cfg.ObjectStoreAccessKey,
		SecretKey:          cfg.ObjectStoreSecretKey,
		SessionToken:       cfg.ObjectStoreSessionToken,
		S3PathStyle:        cfg.ObjectStoreS3PathStyle,
		GCPProject:         cfg.ObjectStoreGCPProject,
		GCPCredentialsFile: cfg.ObjectStoreGCPCredentialsFile,
		GCPCredentialsJSON: cfg.ObjectStoreGCPCredentialsJSON,
		AzureAccount:       cfg.ObjectStoreAzureAccount,
		AzureKey:           cfg.ObjectStoreAzureKey,
		AzureEndpoint:      cfg.ObjectStoreAzureEndpoint,
		AzureSASToken:      cfg.ObjectStoreAzureSASToken,
	}
}

// ObjectInfo captures metadata about a remote object.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

// Provider is a generic object store client.
type Provider interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Upload(ctx context.Context, key string, localPath string) (ObjectInfo, error)
	Download(ctx context.Context, key string, localPath string) (ObjectInfo, error)
	Close() error
}

// NewProvider creates a provider client based on config.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	provider := NormalizeProvider(cfg.Provider)
	if provider == "" {
		return nil, fmt.Errorf("objectstore provider is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("objectstore bucket is required")
	}
	cfg.Provider = provider
	switch provider {
	case "s3":
		return newS3Provider(ctx, cfg)
	case "minio":
		return newMinioProvider(cfg)
	case "gcs":
		return newGCSProvider(ctx, cfg)
	case "azure":
		return newAzureProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported objectstore provider: %s", cfg.Provider)
	}
}

// NormalizeProvider maps known aliases to provider names.
func NormalizeProvider(value string) string {
	switch provider := strings.ToLower(strings.TrimSpace(value)); provider {
	case "aws", "s3":
		return "s3"
	case "gcp", "gcs", "gs":
		return "gcs"
	case "azure", "blob", "az":
		return "azure"
	default:
		return provider
	}
}

// ResolveKey joins a base prefix with a key without introducing double slashes.
func ResolveKey(prefix string, key string) string {
	cleanPrefix := strings.Trim(prefix, "/")
	cleanKey := strings.TrimPrefix(key, "/")
	if cleanPrefix == "" {
		return cleanKey
	}
	if cleanKey == "" {
		return cleanPrefix
	}
	return cleanPrefix + "/" + cleanKey
}

// Location is a parsed object URL such as s3://bucket/path/to/key.
type Location struct {
	Provider string
	Bucket   string
	Key      string
}

// ParseURL recognises s3://, minio://, gs:// and az:// object URLs.
func ParseURL(raw string) (Location, bool) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return Location{}, false
	}
	switch provider := NormalizeProvider(parsed.Scheme); provider {
	case "s3", "minio", "gcs", "azure":
		return Location{Provider: provider, Bucket: parsed.Host, Key: strings.TrimPrefix(parsed.Path, "/")}, true
	default:
		return Location{}, false
	}
}

// ContentType guesses a MIME type from the file extension.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Publish uploads files (paths relative to root) under prefix. Every file is
// attempted; failures are combined.
func Publish(ctx context.Context, provider Provider, root string, files []string, prefix string) ([]ObjectInfo, error) {
	uploaded := make([]ObjectInfo, 0, len(files))
	var errs error
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return uploaded, multierr.Append(errs, err)
		}
		key := path.Join(strings.Trim(prefix, "/"), filepath.ToSlash(rel))
		info, err := provider.Upload(ctx, key, filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("upload %s: %w", rel, err))
			continue
		}
		uploaded = append(uploaded, info)
	}
	return uploaded, errs
}
