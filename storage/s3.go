package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/circleci/replay/config/secret"
)

type S3Config struct {
	Bucket string
	Key    string

	// Optional
	Region string
	// Endpoint overrides the S3 endpoint, for MinIO and friends. Path style
	// addressing is used when it is set.
	Endpoint  string
	AccessKey secret.String
	SecretKey secret.String
	// MaxElapsedTime bounds the retries of a failed save, default 10s.
	MaxElapsedTime time.Duration
}

// S3 stores a fixture as a single S3 object.
type S3 struct {
	bucket     string
	key        string
	maxElapsed time.Duration

	downloader *manager.Downloader
	uploader   *manager.Uploader
}

// NewS3 loads the default AWS configuration, overridden by any credentials,
// region or endpoint given in cfg.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" || cfg.Key == "" {
		return nil, errors.New("storage: s3 bucket and key are required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey.IsSet() {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey.Raw(), cfg.SecretKey.Raw(), "")))
	}
	if cfg.Endpoint != "" {
		region := cfg.Region
		opts = append(opts, config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, _ string, _ ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					PartitionID:       "aws",
					URL:               cfg.Endpoint,
					SigningRegion:     region,
					HostnameImmutable: true,
				}, nil
			})))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	return NewS3WithClient(s3.NewFromConfig(awsConfig), cfg), nil
}

func NewS3WithClient(client *s3.Client, cfg S3Config) *S3 {
	maxElapsed := cfg.MaxElapsedTime
	if maxElapsed == 0 {
		maxElapsed = 10 * time.Second
	}
	return &S3{
		bucket:     cfg.Bucket,
		key:        cfg.Key,
		maxElapsed: maxElapsed,
		downloader: manager.NewDownloader(client),
		uploader:   manager.NewUploader(client),
	}
}

func (s *S3) String() string {
	return "s3://" + s.bucket + "/" + s.key
}

func (s *S3) Load(ctx context.Context) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if isS3NotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", s, err)
	}
	return buf.Bytes(), nil
}

func (s *S3) Save(ctx context.Context, b []byte) error {
	return retry(ctx, "storage: s3 save", s.maxElapsed, func() error {
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.key),
			Body:        bytes.NewReader(b),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return fmt.Errorf("upload %s: %w", s, err)
		}
		return nil
	})
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}
	return false
}

// s3ConfigFromURL reads s3://bucket/key?region=&endpoint=&access_key=&secret_key=
func s3ConfigFromURL(u *url.URL) (S3Config, error) {
	q := u.Query()
	cfg := S3Config{
		Bucket:    u.Host,
		Key:       strings.TrimPrefix(u.Path, "/"),
		Region:    q.Get("region"),
		Endpoint:  q.Get("endpoint"),
		AccessKey: secret.String(q.Get("access_key")),
		SecretKey: secret.String(q.Get("secret_key")),
	}
	if cfg.Bucket == "" || cfg.Key == "" {
		return S3Config{}, fmt.Errorf("storage: s3 location needs a bucket and key: %q", u.Redacted())
	}
	return cfg, nil
}
