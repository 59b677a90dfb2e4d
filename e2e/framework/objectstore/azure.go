package objectstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/pkg/errors"
)

type azureProvider struct {
	cfg    Config
	client *container.Client
}

// newAzureProvider authenticates with, in order of preference, a SAS token,
// a shared key, or the default Azure credential chain.
func newAzureProvider(_ context.Context, cfg Config) (Provider, error) {
	containerURL, err := azureContainerURL(cfg)
	if err != nil {
		return nil, err
	}
	client, err := newAzureContainerClient(cfg, containerURL)
	if err != nil {
		return nil, errors.Wrap(err, "create azure container client")
	}
	return &azureProvider{cfg: cfg, client: client}, nil
}

func newAzureContainerClient(cfg Config, containerURL string) (*container.Client, error) {
	switch {
	case strings.TrimSpace(cfg.AzureSASToken) != "":
		return container.NewClientWithNoCredential(containerURL, nil)
	case strings.TrimSpace(cfg.AzureKey) != "":
		if strings.TrimSpace(cfg.AzureAccount) == "" {
			return nil, fmt.Errorf("azure account name is required for shared key auth")
		}
		cred, err := azblob.NewSharedKeyCredential(cfg.AzureAccount, cfg.AzureKey)
		if err != nil {
			return nil, err
		}
		return container.NewClientWithSharedKeyCredential(containerURL, cred, nil)
	default:
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, err
		}
		return container.NewClient(containerURL, cred, nil)
	}
}

func azureContainerURL(cfg Config) (string, error) {
	serviceURL := strings.TrimRight(strings.TrimSpace(cfg.AzureEndpoint), "/")
	if serviceURL == "" {
		if strings.TrimSpace(cfg.AzureAccount) == "" {
			return "", fmt.Errorf("azure endpoint or account name is required")
		}
		serviceURL = "https://" + cfg.AzureAccount + ".blob.core.windows.net"
	}
	containerURL := serviceURL + "/" + cfg.Bucket
	if token := strings.TrimPrefix(strings.TrimSpace(cfg.AzureSASToken), "?"); token != "" {
		containerURL += "?" + token
	}
	return containerURL, nil
}

func (p *azureProvider) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	opts := &container.ListBlobsFlatOptions{}
	if remotePrefix := ResolveKey(p.cfg.Prefix, prefix); remotePrefix != "" {
		opts.Prefix = &remotePrefix
	}
	var objects []ObjectInfo
	pager := p.client.NewListBlobsFlatPager(opts)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "list az://%s", p.cfg.Bucket)
		}
		if resp.Segment == nil {
			continue
		}
		for _, item := range resp.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			objects = append(objects, azureObjectInfo(item))
		}
	}
	return objects, nil
}

func azureObjectInfo(item *container.BlobItem) ObjectInfo {
	info := ObjectInfo{Key: *item.Name}
	props := item.Properties
	if props == nil {
		return info
	}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		info.LastModified = *props.LastModified
	}
	if props.ETag != nil {
		info.ETag = string(*props.ETag)
	}
	return info
}

func (p *azureProvider) Upload(ctx context.Context, key string, localPath string) (ObjectInfo, error) {
	remoteKey := ResolveKey(p.cfg.Prefix, key)
	file, size, err := openUpload(localPath)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer file.Close()
	contentType := ContentType(localPath)
	_, err = p.client.NewBlockBlobClient(remoteKey).UploadFile(ctx, file, &blockblob.UploadFileOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return ObjectInfo{}, errors.Wrapf(err, "upload az://%s/%s", p.cfg.Bucket, remoteKey)
	}
	return ObjectInfo{Key: remoteKey, Size: size}, nil
}

func (p *azureProvider) Download(ctx context.Context, key string, localPath string) (ObjectInfo, error) {
	remoteKey := ResolveKey(p.cfg.Prefix, key)
	file, err := createDownload(localPath)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer file.Close()
	written, err := p.client.NewBlockBlobClient(remoteKey).DownloadFile(ctx, file, nil)
	if err != nil {
		return ObjectInfo{}, errors.Wrapf(err, "download az://%s/%s", p.cfg.Bucket, remoteKey)
	}
	return ObjectInfo{Key: remoteKey, Size: written}, nil
}

func (p *azureProvider) Close() error {
	return nil
}
