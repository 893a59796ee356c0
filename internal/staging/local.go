package staging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	"github.com/jittakal/kafs3sink/pkg/storage"
)

// Ensure implementations satisfy interfaces at compile time.
var (
	_ Factory = (*LocalFactory)(nil)
	_ Stage   = (*localStage)(nil)
)

// LocalFactory stages files on local disk and uploads them whole on
// commit.
type LocalFactory struct {
	dir    string
	client storage.Client
	logger *slog.Logger
}

// NewLocalFactory creates a BuildLocal staging factory rooted at the given
// temp directory.
func NewLocalFactory(dir string, client storage.Client, logger *slog.Logger) (*LocalFactory, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "kafs3sink")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &LocalFactory{dir: dir, client: client, logger: logger}, nil
}

func (f *LocalFactory) Mode() Mode {
	return ModeBuildLocal
}

func (f *LocalFactory) New(_ context.Context, stagingKey string) (Stage, error) {
	path := filepath.Join(f.dir, sanitize(stagingKey))
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage file: %w", err)
	}
	return &localStage{
		path:   path,
		file:   file,
		client: f.client,
		logger: f.logger,
	}, nil
}

// sanitize flattens a staging key into a single file name.
func sanitize(key string) string {
	r := strings.NewReplacer("/", "_", "(", "_", ")", "_")
	return r.Replace(key) + ".stage"
}

// localStage is a disk-backed stage. The staging file can be deleted
// externally between writes; this is detected and surfaced as stage
// corruption so the owner can drop the open file without failing the
// task.
type localStage struct {
	path   string
	file   *os.File
	client storage.Client
	logger *slog.Logger
	size   int64
}

func (s *localStage) Write(p []byte) (int, error) {
	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", sinkerrors.ErrStageCorrupted, s.path)
		}
		return 0, err
	}
	n, err := s.file.Write(p)
	s.size += int64(n)
	return n, err
}

func (s *localStage) Size() int64 {
	return s.size
}

func (s *localStage) Commit(ctx context.Context, key string) error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync stage file: %w", err)
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.file.Close()
			return fmt.Errorf("%w: %s", sinkerrors.ErrStageCorrupted, s.path)
		}
		return err
	}

	if _, err := s.file.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to rewind stage file: %w", err)
	}
	if err := s.client.Put(ctx, key, s.file, info.Size()); err != nil {
		// Keep the stage so a retried commit can re-upload it.
		return err
	}

	s.file.Close()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove stage file", "path", s.path, "error", err)
	}
	return nil
}

func (s *localStage) Discard(_ context.Context) error {
	s.file.Close()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
