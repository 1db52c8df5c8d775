// Package archive implements the Remote Archive component (SPEC_FULL.md
// §4.7): a low-priority periodic uploader of checkpoint + run-metrics
// snapshots to a pluggable object store. Grounded in the teacher's own
// storage-backend plurality (its go.mod carries aws-sdk-go, minio-go and
// azblob for backup-chunk storage); this package gives each of those
// three SDKs a concrete home for replication run snapshots instead of
// backup chunks. Archive failures are logged and retried on the next
// interval, never escalated (spec.md §7 explicitly excludes this
// component from the fatal-error taxonomy).
package archive

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	minio "github.com/minio/minio-go"
	"github.com/pkg/errors"
)

// Backend uploads one named blob of already-encoded bytes.
type Backend interface {
	Upload(ctx context.Context, key string, data []byte) error
}

// Open parses rawURL's scheme and returns the matching Backend:
// file://, s3://, minio://, or azblob://.
func Open(rawURL string) (Backend, error) {
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return nil, errors.Errorf("archive_url %q has no scheme", rawURL)
	}

	switch scheme {
	case "file":
		return &fileBackend{dir: rest}, nil
	case "s3":
		return newS3Backend(rest)
	case "minio":
		return newMinioBackend(rest)
	case "azblob":
		return newAzureBackend(rest)
	default:
		return nil, errors.Errorf("unsupported archive_url scheme %q", scheme)
	}
}

// fileBackend writes each blob under a local directory, for single-box
// deployments or integration tests that don't have object storage.
type fileBackend struct {
	dir string
}

func (b *fileBackend) Upload(_ context.Context, key string, data []byte) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return errors.Wrapf(err, "create archive dir %s", b.dir)
	}
	path := filepath.Join(b.dir, key)
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "write %s", path)
}

// s3Backend uploads to an AWS S3 bucket. rest is "bucket/prefix".
type s3Backend struct {
	client *s3.S3
	bucket string
	prefix string
}

func newS3Backend(rest string) (*s3Backend, error) {
	bucket, prefix := splitBucketPrefix(rest)
	sess, err := session.NewSession(aws.NewConfig())
	if err != nil {
		return nil, errors.Wrap(err, "create aws session")
	}
	return &s3Backend{client: s3.New(sess), bucket: bucket, prefix: prefix}, nil
}

func (b *s3Backend) Upload(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	return errors.Wrapf(err, "s3 put %s", key)
}

func (b *s3Backend) objectKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + key
}

// minioBackend uploads to a self-hosted S3-compatible endpoint. rest is
// "endpoint/bucket/prefix", matching the teacher's own MinIO-compatible
// storage option for on-prem deployments.
type minioBackend struct {
	client *minio.Client
	bucket string
	prefix string
}

func newMinioBackend(rest string) (*minioBackend, error) {
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 {
		return nil, errors.Errorf("minio archive_url needs endpoint/bucket[/prefix], got %q", rest)
	}
	endpoint := parts[0]
	bucket := parts[1]
	prefix := ""
	if len(parts) == 3 {
		prefix = parts[2]
	}

	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")
	client, err := minio.New(endpoint, accessKey, secretKey, true)
	if err != nil {
		return nil, errors.Wrap(err, "create minio client")
	}
	return &minioBackend{client: client, bucket: bucket, prefix: prefix}, nil
}

func (b *minioBackend) Upload(ctx context.Context, key string, data []byte) error {
	objectKey := key
	if b.prefix != "" {
		objectKey = b.prefix + "/" + key
	}
	_, err := b.client.PutObjectWithContext(ctx, b.bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return errors.Wrapf(err, "minio put %s", key)
}

// azureBackend uploads to an Azure Blob container. rest is the
// connection-string-identified account, given as "container/prefix"
// with the account connection string read from the environment, the way
// the Azure SDK's own examples wire credentials outside the URL.
type azureBackend struct {
	client    *azblob.Client
	container string
	prefix    string
}

func newAzureBackend(rest string) (*azureBackend, error) {
	parts := strings.SplitN(rest, "/", 2)
	container := parts[0]
	prefix := ""
	if len(parts) == 2 {
		prefix = parts[1]
	}

	connStr := os.Getenv("AZURE_STORAGE_CONNECTION_STRING")
	client, err := azblob.NewClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create azblob client")
	}
	return &azureBackend{client: client, container: container, prefix: prefix}, nil
}

func (b *azureBackend) Upload(ctx context.Context, key string, data []byte) error {
	objectKey := key
	if b.prefix != "" {
		objectKey = b.prefix + "/" + key
	}
	_, err := b.client.UploadBuffer(ctx, b.container, objectKey, data, nil)
	return errors.Wrapf(err, "azblob upload %s", key)
}

func splitBucketPrefix(rest string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(rest, "/")
	return bucket, prefix
}
