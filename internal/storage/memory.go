package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	"github.com/jittakal/kafs3sink/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Client = (*MemoryClient)(nil)

// MemoryClient implements storage.Client in memory. It backs the test
// suite and doubles as a fault-injection point: FailPuts makes every
// publish attempt fail with the given error until cleared.
type MemoryClient struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failPuts error
}

// NewMemoryClient creates an empty in-memory object store.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{objects: make(map[string][]byte)}
}

// FailPuts makes subsequent publishes fail with err; pass nil to heal.
func (c *MemoryClient) FailPuts(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failPuts = err
}

// Object returns a stored object's content.
func (c *MemoryClient) Object(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.objects[key]
	return b, ok
}

// Keys returns all stored keys in sorted order.
func (c *MemoryClient) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.objects))
	for k := range c.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Put uploads a complete object.
func (c *MemoryClient) Put(_ context.Context, key string, body io.Reader, _ int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failPuts != nil {
		return &sinkerrors.StoreError{Operation: "put", Key: key, Err: c.failPuts}
	}
	c.objects[key] = data
	return nil
}

// List returns all object keys under the prefix.
func (c *MemoryClient) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var objects []storage.ObjectInfo
	for k, v := range c.objects {
		if strings.HasPrefix(k, prefix) {
			objects = append(objects, storage.ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// OpenStream starts a streamed upload buffered in memory.
func (c *MemoryClient) OpenStream(_ context.Context, _ string) (storage.Stream, error) {
	return &memoryStream{client: c}, nil
}

// Close releases client resources.
func (c *MemoryClient) Close() error {
	return nil
}

type memoryStream struct {
	client  *MemoryClient
	buf     bytes.Buffer
	aborted bool
}

func (s *memoryStream) Write(p []byte) (int, error) {
	return s.buf.Write(p)
}

func (s *memoryStream) Complete(_ context.Context, key string) error {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	if s.client.failPuts != nil {
		return &sinkerrors.StoreError{Operation: "complete", Key: key, Err: s.client.failPuts}
	}
	if s.aborted {
		return &sinkerrors.StoreError{Operation: "complete", Key: key, Err: io.ErrClosedPipe}
	}
	s.client.objects[key] = append([]byte(nil), s.buf.Bytes()...)
	return nil
}

func (s *memoryStream) Abort(_ context.Context) error {
	s.aborted = true
	s.buf.Reset()
	return nil
}
