package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	"github.com/jittakal/kafs3sink/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Client = (*FileClient)(nil)

// FileConfig contains local filesystem configuration.
type FileConfig struct {
	BasePath string
}

// FileClient implements storage.Client on the local filesystem. Object
// keys map to file paths under the base directory. Streamed uploads write
// to a hidden temp file and rename on Complete so readers never observe a
// partial object.
type FileClient struct {
	basePath string
	logger   *slog.Logger
}

// NewFileClient creates a new filesystem object store client.
func NewFileClient(cfg FileConfig, logger *slog.Logger) (*FileClient, error) {
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	logger.Info("filesystem client created", "base_path", cfg.BasePath)

	return &FileClient{basePath: cfg.BasePath, logger: logger}, nil
}

// Put writes a complete object.
func (c *FileClient) Put(_ context.Context, key string, body io.Reader, _ int64) error {
	path := filepath.Join(c.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &sinkerrors.StoreError{Operation: "put", Key: key, Err: err}
	}

	f, err := os.Create(path)
	if err != nil {
		return &sinkerrors.StoreError{Operation: "put", Key: key, Err: err}
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return &sinkerrors.StoreError{Operation: "put", Key: key, Err: err}
	}
	if err := f.Close(); err != nil {
		return &sinkerrors.StoreError{Operation: "put", Key: key, Err: err}
	}
	return nil
}

// List returns all object keys under the prefix.
func (c *FileClient) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var objects []storage.ObjectInfo

	err := filepath.WalkDir(c.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(c.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, storage.ObjectInfo{Key: key, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, &sinkerrors.StoreError{Operation: "list", Key: prefix, Err: err}
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// OpenStream starts a streamed write. Bytes accumulate in a hidden
// staging file and move to the final key on Complete.
func (c *FileClient) OpenStream(_ context.Context, stagingKey string) (storage.Stream, error) {
	tmp := filepath.Join(c.basePath, "."+strings.ReplaceAll(stagingKey, "/", "_")+".partial")
	if err := os.MkdirAll(c.basePath, 0o755); err != nil {
		return nil, &sinkerrors.StoreError{Operation: "open_stream", Key: stagingKey, Err: err}
	}
	f, err := os.Create(tmp)
	if err != nil {
		return nil, &sinkerrors.StoreError{Operation: "open_stream", Key: stagingKey, Err: err}
	}

	return &fileStream{file: f, tmp: tmp, basePath: c.basePath}, nil
}

// Close releases client resources.
func (c *FileClient) Close() error {
	return nil
}

type fileStream struct {
	file     *os.File
	tmp      string
	basePath string
}

func (s *fileStream) Write(p []byte) (int, error) {
	return s.file.Write(p)
}

func (s *fileStream) Complete(_ context.Context, key string) error {
	if err := s.file.Close(); err != nil {
		return &sinkerrors.StoreError{Operation: "complete", Key: key, Err: err}
	}
	final := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return &sinkerrors.StoreError{Operation: "complete", Key: key, Err: err}
	}
	if err := os.Rename(s.tmp, final); err != nil {
		return &sinkerrors.StoreError{Operation: "complete", Key: key, Err: err}
	}
	return nil
}

func (s *fileStream) Abort(_ context.Context) error {
	s.file.Close()
	if err := os.Remove(s.tmp); err != nil && !os.IsNotExist(err) {
		return &sinkerrors.StoreError{Operation: "abort", Key: s.tmp, Err: err}
	}
	return nil
}
