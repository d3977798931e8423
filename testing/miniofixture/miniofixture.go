// Package miniofixture gives each test its own bucket on a local MinIO, the
// S3 compatible store fixture files are exercised against.
package miniofixture

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"gotest.tools/v3/assert"

	"github.com/circleci/replay/config/secret"
	"github.com/circleci/replay/testing/testrand"
)

type Fixture struct {
	Client *s3.Client
	URL    string
	Key    secret.String
	Secret secret.String
	Bucket string
	Region string
}

// Default creates an empty bucket named after the test and removes it, with its
// contents, when the test ends. The test is skipped when MinIO can not be
// reached, unless running in CI. MINIO_URL overrides the local endpoint.
func Default(ctx context.Context, t testing.TB) *Fixture {
	t.Helper()
	f := &Fixture{
		URL:    "http://localhost:9123",
		Key:    "minio",
		Secret: "minio123",
		Bucket: BucketName(t),
		Region: "us-east-1",
	}
	if u := os.Getenv("MINIO_URL"); u != "" {
		f.URL = u
	}
	skipUnlessReachable(t, f.URL)

	f.Client = s3.NewFromConfig(aws.Config{
		Region:      f.Region,
		Credentials: credentials.NewStaticCredentialsProvider(f.Key.Raw(), f.Secret.Raw(), ""),
		EndpointResolverWithOptions: aws.EndpointResolverWithOptionsFunc(
			func(string, string, ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: f.URL, SigningRegion: f.Region, HostnameImmutable: true}, nil
			}),
	})

	_, err := f.Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(f.Bucket)})
	assert.Assert(t, err, "create bucket %s", f.Bucket)
	t.Cleanup(func() {
		f.remove(t)
	})
	return f
}

// Location returns the storage location of key in the fixture bucket, with the
// endpoint and credentials needed to reach MinIO.
func (f *Fixture) Location(key string) string {
	v := url.Values{}
	v.Set("endpoint", f.URL)
	v.Set("region", f.Region)
	v.Set("access_key", f.Key.Raw())
	v.Set("secret_key", f.Secret.Raw())
	return "s3://" + f.Bucket + "/" + key + "?" + v.Encode()
}

// Put writes an object straight into the bucket.
func (f *Fixture) Put(ctx context.Context, t testing.TB, key, body string) {
	t.Helper()
	_, err := f.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(f.Bucket),
		Key:    aws.String(key),
		Body:   strings.NewReader(body),
	})
	assert.Assert(t, err)
}

// Get reads an object straight from the bucket.
func (f *Fixture) Get(ctx context.Context, t testing.TB, key string) string {
	t.Helper()
	out, err := f.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.Bucket),
		Key:    aws.String(key),
	})
	assert.Assert(t, err)
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	assert.Assert(t, err)
	return string(b)
}

// BucketName returns a bucket name derived from the test name, with a random
// suffix so a bucket left behind by a failed cleanup is not reused.
func BucketName(t testing.TB) string {
	name := strings.NewReplacer("_", "-", "/", "-").Replace(strings.ToLower(t.Name()))
	// 63 characters at most
	if len(name) > 54 {
		name = name[:54]
	}
	return name + "-" + testrand.Hex(8)
}

func skipUnlessReachable(t testing.TB, endpoint string) {
	t.Helper()
	if strings.EqualFold(os.Getenv("CI"), "true") {
		return
	}
	u, err := url.Parse(endpoint)
	assert.Assert(t, err)
	conn, err := net.DialTimeout("tcp", u.Host, 2*time.Second)
	if err != nil {
		t.Skipf("MinIO is not reachable at %s", endpoint)
	}
	_ = conn.Close()
}

func (f *Fixture) remove(t testing.TB) {
	t.Helper()
	ctx := context.Background()

	var err error
	for attempt := 0; attempt < 5; attempt++ {
		if err = f.empty(ctx); err == nil {
			_, err = f.Client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(f.Bucket)})
		}
		var missing *types.NoSuchBucket
		if err == nil || errors.As(err, &missing) {
			return
		}
		time.Sleep(time.Second)
	}
	assert.NilError(t, err)
}

func (f *Fixture) empty(ctx context.Context) error {
	pages := s3.NewListObjectsV2Paginator(f.Client, &s3.ListObjectsV2Input{Bucket: aws.String(f.Bucket)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, o := range page.Contents {
			_, err := f.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(f.Bucket),
				Key:    o.Key,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
