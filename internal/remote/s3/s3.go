// Package s3 exposes an S3 bucket as a remote drive. Object keys are item
// ids; folders are key prefixes ending in "/".
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fruitsalade/drivedeck/internal/drive"
	"github.com/fruitsalade/drivedeck/internal/logging"
	"github.com/fruitsalade/drivedeck/internal/metrics"
)

const (
	backendName = "s3"

	// FolderMIMEType is reported for prefixes.
	FolderMIMEType = "application/x-directory"

	deleteBatch = 1000
)

// Config holds the bucket connection settings.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// Backend implements drive.Opener over one bucket.
type Backend struct {
	client *s3.Client
	bucket string
}

// New creates a bucket-backed opener.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	b := &Backend{client: client, bucket: cfg.Bucket}
	if err := b.checkBucket(ctx); err != nil {
		logging.Error("bucket check failed", zap.String("bucket", cfg.Bucket), zap.Error(err))
	}
	return b, nil
}

func (b *Backend) checkBucket(ctx context.Context) error {
	start := time.Now()
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	metrics.RecordRemoteOperation(backendName, "head_bucket", time.Since(start), err == nil)
	return err
}

// Name implements drive.Opener.
func (b *Backend) Name() string {
	return backendName
}

// Open implements drive.Opener. The bucket credentials are fixed; the user's
// OAuth token only gates access.
func (b *Backend) Open(_ context.Context, cred *oauth2.Token) (drive.Remote, error) {
	if cred == nil || cred.AccessToken == "" {
		return nil, fmt.Errorf("%w: no credential", drive.ErrUnauthorized)
	}
	return &bucket{Backend: b}, nil
}

// bucket is the Backend bound to one credential.
type bucket struct {
	*Backend
}

// Stat implements drive.Remote.
func (b *bucket) Stat(ctx context.Context, id string) (*drive.Item, error) {
	if id == drive.RootID || id == "" {
		return &drive.Item{
			ID:       drive.RootID,
			Name:     drive.RootName,
			Kind:     drive.KindFolder,
			Root:     true,
			MIMEType: FolderMIMEType,
		}, nil
	}

	start := time.Now()
	if isFolderKey(id) {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(b.bucket),
			Prefix:  aws.String(id),
			MaxKeys: aws.Int32(1),
		})
		metrics.RecordRemoteOperation(backendName, "stat", time.Since(start), err == nil)
		if err != nil {
			return nil, mapError(err)
		}
		if len(out.Contents) == 0 {
			return nil, fmt.Errorf("%w: %s", drive.ErrNotFound, id)
		}
		return folderItem(id), nil
	}

	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(id),
	})
	metrics.RecordRemoteOperation(backendName, "stat", time.Since(start), err == nil)
	if err != nil {
		return nil, mapError(err)
	}
	item := fileItem(id, aws.ToInt64(out.ContentLength), aws.ToTime(out.LastModified))
	item.MIMEType = aws.ToString(out.ContentType)
	return item, nil
}

// List implements drive.Remote.
func (b *bucket) List(ctx context.Context, parentID string) ([]*drive.Item, error) {
	prefix := keyPrefix(parentID)
	start := time.Now()

	items := []*drive.Item{}
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			metrics.RecordRemoteOperation(backendName, "list", time.Since(start), false)
			return nil, mapError(err)
		}
		for _, p := range page.CommonPrefixes {
			items = append(items, folderItem(aws.ToString(p.Prefix)))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue // folder marker
			}
			items = append(items, fileItem(key, aws.ToInt64(obj.Size), aws.ToTime(obj.LastModified)))
		}
	}
	metrics.RecordRemoteOperation(backendName, "list", time.Since(start), true)
	return items, nil
}

// Create implements drive.Remote. The body is buffered so the request can
// be signed; uploads are bounded by the server's size limit.
func (b *bucket) Create(ctx context.Context, parentID, name, mimeType string, body io.Reader) (*drive.Item, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return nil, fmt.Errorf("%w: read upload: %v", drive.ErrInvalidInput, err)
	}

	key := keyPrefix(parentID) + name
	start := time.Now()
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(buf.Len())),
		ContentType:   aws.String(mimeType),
	})
	metrics.RecordRemoteOperation(backendName, "put_object", time.Since(start), err == nil)
	if err != nil {
		return nil, mapError(err)
	}

	item := fileItem(key, int64(buf.Len()), time.Now().UTC())
	item.MIMEType = mimeType
	return item, nil
}

// Open implements drive.Remote.
func (b *bucket) Open(ctx context.Context, item *drive.Item) (*drive.Content, error) {
	start := time.Now()
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(item.ID),
	})
	metrics.RecordRemoteOperation(backendName, "get_object", time.Since(start), err == nil)
	if err != nil {
		return nil, mapError(err)
	}
	return &drive.Content{
		Body:     out.Body,
		Name:     item.Name,
		MIMEType: aws.ToString(out.ContentType),
		Size:     aws.ToInt64(out.ContentLength),
	}, nil
}

// Delete implements drive.Remote. A folder is removed with every object
// under its prefix.
func (b *bucket) Delete(ctx context.Context, item *drive.Item) error {
	start := time.Now()
	if !isFolderKey(item.ID) {
		_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(item.ID),
		})
		metrics.RecordRemoteOperation(backendName, "delete_object", time.Since(start), err == nil)
		return mapError(err)
	}

	var batch []types.ObjectIdentifier
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		out, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		batch = batch[:0]
		if err != nil {
			return err
		}
		// Per-key failures come back with a 200 status.
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			code := aws.ToString(e.Code)
			return fmt.Errorf("%w: delete %s: %s: %s (%d keys failed)",
				codeError(code), aws.ToString(e.Key), code, aws.ToString(e.Message), len(out.Errors))
		}
		return nil
	}

	deleted := 0
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(item.ID),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			metrics.RecordRemoteOperation(backendName, "delete_prefix", time.Since(start), false)
			return mapError(err)
		}
		for _, obj := range page.Contents {
			batch = append(batch, types.ObjectIdentifier{Key: obj.Key})
			deleted++
			if len(batch) == deleteBatch {
				if err := flush(); err != nil {
					metrics.RecordRemoteOperation(backendName, "delete_prefix", time.Since(start), false)
					return mapError(err)
				}
			}
		}
	}
	err := flush()
	metrics.RecordRemoteOperation(backendName, "delete_prefix", time.Since(start), err == nil)
	if err != nil {
		return mapError(err)
	}
	logging.WithContext(ctx).Debug("S3 prefix deleted", zap.String("prefix", item.ID), zap.Int("objects", deleted))
	return nil
}

func isFolderKey(key string) bool {
	return strings.HasSuffix(key, "/")
}

// keyPrefix maps a folder id to the prefix its children share.
func keyPrefix(folderID string) string {
	if folderID == drive.RootID || folderID == "" {
		return ""
	}
	if !isFolderKey(folderID) {
		folderID += "/"
	}
	return folderID
}

// parentOf returns the folder id containing key.
func parentOf(key string) string {
	dir := path.Dir(strings.TrimSuffix(key, "/"))
	if dir == "." || dir == "/" {
		return drive.RootID
	}
	return dir + "/"
}

func baseName(key string) string {
	return path.Base(strings.TrimSuffix(key, "/"))
}

func folderItem(prefix string) *drive.Item {
	return &drive.Item{
		ID:       prefix,
		Name:     baseName(prefix),
		Kind:     drive.KindFolder,
		ParentID: parentOf(prefix),
		MIMEType: FolderMIMEType,
	}
}

func fileItem(key string, size int64, modified time.Time) *drive.Item {
	return &drive.Item{
		ID:       key,
		Name:     baseName(key),
		Kind:     drive.KindFile,
		ParentID: parentOf(key),
		Size:     size,
		Modified: modified,
	}
}

// mapError translates S3 API failures into façade errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	for _, known := range []error{drive.ErrUnauthorized, drive.ErrNotFound, drive.ErrInvalidInput, drive.ErrTransient} {
		if errors.Is(err, known) {
			return err
		}
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", drive.ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", codeError(apiErr.ErrorCode()), err)
}

// codeError returns the façade sentinel for an S3 error code.
func codeError(code string) error {
	switch code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return drive.ErrNotFound
	case "AccessDenied":
		return drive.ErrForbidden
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
		return drive.ErrUnauthorized
	case "InvalidArgument", "KeyTooLongError", "InvalidObjectName":
		return drive.ErrInvalidInput
	default:
		return drive.ErrTransient
	}
}

var _ drive.Opener = (*Backend)(nil)
var _ drive.Remote = (*bucket)(nil)
