package objectstore

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

const defaultS3Region = "us-west-2"

type s3Provider struct {
	cfg    Config
	client *s3.Client
}

func newS3Provider(ctx context.Context, cfg Config) (Provider, error) {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultS3Region
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" || cfg.SecretKey != "" || cfg.SessionToken != "" {
		static := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken)
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(static))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	})
	return &s3Provider{cfg: cfg, client: client}, nil
}

func (p *s3Provider) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(p.cfg.Bucket)}
	if remotePrefix := ResolveKey(p.cfg.Prefix, prefix); remotePrefix != "" {
		input.Prefix = aws.String(remotePrefix)
	}
	var objects []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(p.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "list s3://%s", p.cfg.Bucket)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         strings.Trim(aws.ToString(obj.ETag), "\""),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

func (p *s3Provider) Upload(ctx context.Context, key string, localPath string) (ObjectInfo, error) {
	remoteKey := ResolveKey(p.cfg.Prefix, key)
	file, size, err := openUpload(localPath)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer file.Close()
	out, err := manager.NewUploader(p.client).Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.Bucket),
		Key:         aws.String(remoteKey),
		Body:        file,
		ContentType: aws.String(ContentType(localPath)),
	})
	if err != nil {
		return ObjectInfo{}, errors.Wrapf(err, "put s3://%s/%s", p.cfg.Bucket, remoteKey)
	}
	return ObjectInfo{Key: remoteKey, Size: size, ETag: strings.Trim(aws.ToString(out.ETag), "\"")}, nil
}

func (p *s3Provider) Download(ctx context.Context, key string, localPath string) (ObjectInfo, error) {
	remoteKey := ResolveKey(p.cfg.Prefix, key)
	file, err := createDownload(localPath)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer file.Close()
	written, err := manager.NewDownloader(p.client).Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(remoteKey),
	})
	if err != nil {
		return ObjectInfo{}, errors.Wrapf(err, "get s3://%s/%s", p.cfg.Bucket, remoteKey)
	}
	return ObjectInfo{Key: remoteKey, Size: written}, nil
}

func (p *s3Provider) Close() error {
	return nil
}
