package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	"github.com/jittakal/kafs3sink/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Client = (*GCSClient)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket               string
	ProjectID            string
	CredentialsFile      string
	CredentialsJSON      string
	Endpoint             string
	UseDefaultCredential bool
}

// GCSClient implements storage.Client for Google Cloud Storage. GCS object
// writers are already atomic (the object appears on Close), so streamed
// uploads map directly onto an object writer.
type GCSClient struct {
	client *gcs.Client
	bucket string
	logger *slog.Logger
}

// NewGCSClient creates a new Google Cloud Storage client.
func NewGCSClient(ctx context.Context, cfg GCSConfig, logger *slog.Logger) (*GCSClient, error) {
	var clientOpts []option.ClientOption
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
	}

	switch {
	case cfg.UseDefaultCredential:
		logger.Info("using default GCP credentials")
	case cfg.CredentialsJSON != "":
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		logger.Info("using GCP credentials from JSON string")
	case cfg.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info("using GCP credentials from file", "file", cfg.CredentialsFile)
	default:
		logger.Info("no explicit credentials provided, using default GCP credentials")
	}

	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	logger.Info("GCS client created", "bucket", cfg.Bucket)

	return &GCSClient{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Put uploads a complete object.
func (c *GCSClient) Put(ctx context.Context, key string, body io.Reader, _ int64) error {
	w := c.client.Bucket(c.bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, body); err != nil {
		w.Close()
		return &sinkerrors.StoreError{Operation: "put", Key: key, Err: err}
	}
	if err := w.Close(); err != nil {
		return &sinkerrors.StoreError{Operation: "put", Key: key, Err: err}
	}
	return nil
}

// List returns all object keys under the prefix.
func (c *GCSClient) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var objects []storage.ObjectInfo

	it := c.client.Bucket(c.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &sinkerrors.StoreError{Operation: "list", Key: prefix, Err: err}
		}
		objects = append(objects, storage.ObjectInfo{Key: attrs.Name, Size: attrs.Size})
	}
	return objects, nil
}

// OpenStream starts a streamed upload. Bytes stream into an object at the
// staging key and are moved server-side to the final key on Complete.
func (c *GCSClient) OpenStream(ctx context.Context, stagingKey string) (storage.Stream, error) {
	wctx, cancel := context.WithCancel(ctx)
	w := c.client.Bucket(c.bucket).Object(stagingKey).NewWriter(wctx)
	return &gcsStream{
		bucket:     c.client.Bucket(c.bucket),
		writer:     w,
		cancel:     cancel,
		stagingKey: stagingKey,
	}, nil
}

// Close releases client resources.
func (c *GCSClient) Close() error {
	return c.client.Close()
}

type gcsStream struct {
	bucket     *gcs.BucketHandle
	writer     *gcs.Writer
	cancel     context.CancelFunc
	stagingKey string
	closed     bool
}

func (s *gcsStream) Write(p []byte) (int, error) {
	return s.writer.Write(p)
}

func (s *gcsStream) Complete(ctx context.Context, key string) error {
	defer s.cancel()
	if !s.closed {
		if err := s.writer.Close(); err != nil {
			return &sinkerrors.StoreError{Operation: "complete", Key: s.stagingKey, Err: err}
		}
		s.closed = true
	}

	src := s.bucket.Object(s.stagingKey)
	if _, err := s.bucket.Object(key).CopierFrom(src).Run(ctx); err != nil {
		return &sinkerrors.StoreError{Operation: "copy", Key: key, Err: err}
	}
	if err := src.Delete(ctx); err != nil {
		return &sinkerrors.StoreError{Operation: "delete_staging", Key: s.stagingKey, Err: err}
	}
	return nil
}

func (s *gcsStream) Abort(ctx context.Context) error {
	// Cancelling the writer context discards an in-flight upload; a
	// finished staging object is deleted explicitly.
	s.cancel()
	s.writer.Close()
	if s.closed {
		if err := s.bucket.Object(s.stagingKey).Delete(ctx); err != nil {
			return &sinkerrors.StoreError{Operation: "abort", Key: s.stagingKey, Err: err}
		}
	}
	return nil
}
