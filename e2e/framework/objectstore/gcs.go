package objectstore

import (
	"context"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type gcsProvider struct {
	cfg    Config
	bucket *storage.BucketHandle
	client *storage.Client
}

func newGCSProvider(ctx context.Context, cfg Config) (Provider, error) {
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(cfg.GCPCredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.GCPCredentialsJSON)))
	case strings.TrimSpace(cfg.GCPCredentialsFile) != "":
		opts = append(opts, option.WithCredentialsFile(cfg.GCPCredentialsFile))
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create gcs client")
	}
	return &gcsProvider{cfg: cfg, client: client, bucket: client.Bucket(cfg.Bucket)}, nil
}

func (p *gcsProvider) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	it := p.bucket.Objects(ctx, &storage.Query{Prefix: ResolveKey(p.cfg.Prefix, prefix)})
	var objects []ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return objects, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "list gs://%s", p.cfg.Bucket)
		}
		objects = append(objects, ObjectInfo{
			Key:          attrs.Name,
			Size:         attrs.Size,
			ETag:         attrs.Etag,
			LastModified: attrs.Updated,
		})
	}
}

func (p *gcsProvider) Upload(ctx context.Context, key string, localPath string) (ObjectInfo, error) {
	remoteKey := ResolveKey(p.cfg.Prefix, key)
	file, size, err := openUpload(localPath)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer file.Close()
	writer := p.bucket.Object(remoteKey).NewWriter(ctx)
	writer.ContentType = ContentType(localPath)
	if _, err := io.Copy(writer, file); err != nil {
		_ = writer.Close()
		return ObjectInfo{}, errors.Wrapf(err, "write gs://%s/%s", p.cfg.Bucket, remoteKey)
	}
	if err := writer.Close(); err != nil {
		return ObjectInfo{}, errors.Wrapf(err, "finalize gs://%s/%s", p.cfg.Bucket, remoteKey)
	}
	return ObjectInfo{Key: remoteKey, Size: size}, nil
}

func (p *gcsProvider) Download(ctx context.Context, key string, localPath string) (ObjectInfo, error) {
	remoteKey := ResolveKey(p.cfg.Prefix, key)
	reader, err := p.bucket.Object(remoteKey).NewReader(ctx)
	if err != nil {
		return ObjectInfo{}, errors.Wrapf(err, "read gs://%s/%s", p.cfg.Bucket, remoteKey)
	}
	defer reader.Close()
	file, err := createDownload(localPath)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer file.Close()
	written, err := io.Copy(file, reader)
	if err != nil {
		return ObjectInfo{}, errors.Wrapf(err, "copy gs://%s/%s", p.cfg.Bucket, remoteKey)
	}
	return ObjectInfo{Key: remoteKey, Size: written}, nil
}

func (p *gcsProvider) Close() error {
	return p.client.Close()
}
