// Package storage implements object store clients for the sink.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	"github.com/jittakal/kafs3sink/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Client = (*S3Client)(nil)

// minPartSize is the S3 lower bound for non-final multipart parts.
const minPartSize = 5 * 1024 * 1024

// AuthMode selects how AWS credentials are resolved.
type AuthMode string

const (
	// AuthCredentials uses the configured static access/secret key pair.
	AuthCredentials AuthMode = "Credentials"
	// AuthDefault uses the standard AWS credential chain.
	AuthDefault AuthMode = "Default"
)

// S3Config contains AWS S3 configuration.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AuthMode     AuthMode
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3Client implements storage.Client for AWS S3 and S3-compatible stores.
// Whole objects go through the multipart-aware uploader; streamed uploads
// use the multipart API directly so aborted files never become visible.
type S3Client struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	logger   *slog.Logger
}

// NewS3Client creates a new S3 object store client.
func NewS3Client(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AuthMode == AuthCredentials {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 5
	})

	logger.Info("S3 client created",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"endpoint", cfg.Endpoint,
		"auth_mode", cfg.AuthMode,
	)

	return &S3Client{
		client:   client,
		uploader: uploader,
		bucket:   cfg.Bucket,
		logger:   logger,
	}, nil
}

// Put uploads a complete object.
func (c *S3Client) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return &sinkerrors.StoreError{Operation: "put", Key: key, Err: err}
	}
	return nil
}

// List returns all object keys under the prefix.
func (c *S3Client) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var objects []storage.ObjectInfo

	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &sinkerrors.StoreError{Operation: "list", Key: prefix, Err: err}
		}
		for _, obj := range page.Contents {
			objects = append(objects, storage.ObjectInfo{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}
	}
	return objects, nil
}

// OpenStream starts a streamed upload. Small files buffer in memory and
// upload in one put on Complete; larger files spill into a multipart
// upload at the staging key and are copied server-side to the final key.
func (c *S3Client) OpenStream(ctx context.Context, stagingKey string) (storage.Stream, error) {
	return &s3Stream{ctx: ctx, client: c.client, bucket: c.bucket, stagingKey: stagingKey}, nil
}

// Close releases client resources.
func (c *S3Client) Close() error {
	return nil
}

// s3Stream accumulates bytes into multipart parts. The multipart upload
// is created lazily on the first full part, so small files never touch
// the store before Complete.
type s3Stream struct {
	ctx        context.Context
	client     *s3.Client
	bucket     string
	stagingKey string
	buf        bytes.Buffer
	uploadID   string
	parts      []types.CompletedPart
	partNum    int32
	finalized  bool
}

func (s *s3Stream) Write(p []byte) (int, error) {
	n, _ := s.buf.Write(p)
	if s.buf.Len() >= minPartSize {
		if err := s.uploadPart(s.ctx); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (s *s3Stream) uploadPart(ctx context.Context) error {
	if s.uploadID == "" {
		created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.stagingKey),
		})
		if err != nil {
			return &sinkerrors.StoreError{Operation: "create_multipart", Key: s.stagingKey, Err: err}
		}
		s.uploadID = aws.ToString(created.UploadId)
	}

	s.partNum++
	part, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.stagingKey),
		UploadId:   aws.String(s.uploadID),
		PartNumber: aws.Int32(s.partNum),
		Body:       bytes.NewReader(s.buf.Bytes()),
	})
	if err != nil {
		return &sinkerrors.StoreError{Operation: "upload_part", Key: s.stagingKey, Err: err}
	}

	s.parts = append(s.parts, types.CompletedPart{
		ETag:       part.ETag,
		PartNumber: aws.Int32(s.partNum),
	})
	s.buf.Reset()
	return nil
}

// Complete publishes the stream as one object at the final key.
func (s *s3Stream) Complete(ctx context.Context, key string) error {
	if s.uploadID == "" {
		// Everything fit below the part threshold; upload straight to the
		// final key.
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(s.buf.Bytes()),
		})
		if err != nil {
			return &sinkerrors.StoreError{Operation: "put", Key: key, Err: err}
		}
		return nil
	}

	if !s.finalized {
		if s.buf.Len() > 0 {
			if err := s.uploadPart(ctx); err != nil {
				return err
			}
		}

		_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(s.stagingKey),
			UploadId: aws.String(s.uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{
				Parts: s.parts,
			},
		})
		if err != nil {
			return &sinkerrors.StoreError{Operation: "complete_multipart", Key: s.stagingKey, Err: err}
		}
		s.finalized = true
	}

	// Server-side move from the staging key to the offset-named key.
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(key),
		CopySource: aws.String(s.bucket + "/" + s.stagingKey),
	})
	if err != nil {
		return &sinkerrors.StoreError{Operation: "copy", Key: key, Err: err}
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.stagingKey),
	}); err != nil {
		return &sinkerrors.StoreError{Operation: "delete_staging", Key: s.stagingKey, Err: err}
	}
	return nil
}

// Abort cancels the upload. No partial object becomes visible.
func (s *s3Stream) Abort(ctx context.Context) error {
	s.buf.Reset()
	if s.uploadID == "" {
		return nil
	}
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.stagingKey),
		UploadId: aws.String(s.uploadID),
	})
	if err != nil {
		return &sinkerrors.StoreError{Operation: "abort_multipart", Key: s.stagingKey, Err: err}
	}
	return nil
}
