package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

type minioProvider struct {
	cfg    Config
	client *minio.Client
}

// newMinioProvider accepts an endpoint with or without scheme; http:// turns
// TLS off.
func newMinioProvider(cfg Config) (Provider, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	secure := true
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		secure = parsed.Scheme != "http"
		endpoint = parsed.Host
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create minio client")
	}
	return &minioProvider{cfg: cfg, client: client}, nil
}

func (p *minioProvider) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	opts := minio.ListObjectsOptions{Prefix: ResolveKey(p.cfg.Prefix, prefix), Recursive: true}
	var objects []ObjectInfo
	for object := range p.client.ListObjects(ctx, p.cfg.Bucket, opts) {
		if object.Err != nil {
			return nil, object.Err
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			ETag:         object.ETag,
			LastModified: object.LastModified,
		})
	}
	return objects, nil
}

func (p *minioProvider) Upload(ctx context.Context, key string, localPath string) (ObjectInfo, error) {
	remoteKey := ResolveKey(p.cfg.Prefix, key)
	info, err := p.client.FPutObject(ctx, p.cfg.Bucket, remoteKey, localPath, minio.PutObjectOptions{
		ContentType: ContentType(localPath),
	})
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: remoteKey, Size: info.Size, ETag: info.ETag}, nil
}

func (p *minioProvider) Download(ctx context.Context, key string, localPath string) (ObjectInfo, error) {
	remoteKey := ResolveKey(p.cfg.Prefix, key)
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return ObjectInfo{}, err
	}
	if err := p.client.FGetObject(ctx, p.cfg.Bucket, remoteKey, localPath, minio.GetObjectOptions{}); err != nil {
		return ObjectInfo{}, err
	}
	stat, err := os.Stat(localPath)
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: remoteKey, Size: stat.Size()}, nil
}

func (p *minioProvider) Close() error {
	return nil
}
