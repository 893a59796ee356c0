package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	"github.com/jittakal/kafs3sink/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Client = (*AzureClient)(nil)

// AzureConfig contains Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	Endpoint      string
}

// AzureClient implements storage.Client for Azure Blob Storage. Streamed
// uploads pipe into UploadStream, which only commits the block list at the
// end, so aborted files never become visible.
type AzureClient struct {
	client    *azblob.Client
	container string
	logger    *slog.Logger
}

// NewAzureClient creates a new Azure Blob storage client.
func NewAzureClient(cfg AzureConfig, logger *slog.Logger) (*AzureClient, error) {
	var connectionString string
	if cfg.Endpoint != "" {
		connectionString = fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			cfg.AccountName, cfg.AccountKey, cfg.Endpoint)
	} else {
		connectionString = fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
			cfg.AccountName, cfg.AccountKey)
	}

	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	logger.Info("Azure client created",
		"container", cfg.ContainerName,
		"account", cfg.AccountName,
	)

	return &AzureClient{
		client:    client,
		container: cfg.ContainerName,
		logger:    logger,
	}, nil
}

// Put uploads a complete object.
func (c *AzureClient) Put(ctx context.Context, key string, body io.Reader, _ int64) error {
	if _, err := c.client.UploadStream(ctx, c.container, key, body, nil); err != nil {
		return &sinkerrors.StoreError{Operation: "put", Key: key, Err: err}
	}
	return nil
}

// List returns all object keys under the prefix.
func (c *AzureClient) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var objects []storage.ObjectInfo

	pager := c.client.NewListBlobsFlatPager(c.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, &sinkerrors.StoreError{Operation: "list", Key: prefix, Err: err}
		}
		for _, item := range page.Segment.BlobItems {
			var size int64
			if item.Properties != nil && item.Properties.ContentLength != nil {
				size = *item.Properties.ContentLength
			}
			objects = append(objects, storage.ObjectInfo{Key: *item.Name, Size: size})
		}
	}
	return objects, nil
}

// OpenStream starts a streamed upload. The blob service has no cheap
// server-side rename, so bytes buffer locally and upload in one stream to
// the final key on Complete.
func (c *AzureClient) OpenStream(_ context.Context, stagingKey string) (storage.Stream, error) {
	return &azureStream{client: c.client, container: c.container, stagingKey: stagingKey}, nil
}

// Close releases client resources.
func (c *AzureClient) Close() error {
	return nil
}

type azureStream struct {
	client     *azblob.Client
	container  string
	stagingKey string
	buf        bytes.Buffer
}

func (s *azureStream) Write(p []byte) (int, error) {
	return s.buf.Write(p)
}

func (s *azureStream) Complete(ctx context.Context, key string) error {
	if _, err := s.client.UploadStream(ctx, s.container, key, bytes.NewReader(s.buf.Bytes()), nil); err != nil {
		return &sinkerrors.StoreError{Operation: "complete", Key: key, Err: err}
	}
	return nil
}

func (s *azureStream) Abort(_ context.Context) error {
	s.buf.Reset()
	return nil
}
