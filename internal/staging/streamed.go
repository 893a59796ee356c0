package staging

import (
	"context"

	"github.com/jittakal/kafs3sink/pkg/storage"
)

// Ensure implementations satisfy interfaces at compile time.
var (
	_ Factory = (*StreamedFactory)(nil)
	_ Stage   = (*streamedStage)(nil)
)

// StreamedFactory stages files directly into streamed store uploads.
type StreamedFactory struct {
	client storage.Client
}

// NewStreamedFactory creates a Streamed staging factory.
func NewStreamedFactory(client storage.Client) *StreamedFactory {
	return &StreamedFactory{client: client}
}

func (f *StreamedFactory) Mode() Mode {
	return ModeStreamed
}

func (f *StreamedFactory) New(ctx context.Context, stagingKey string) (Stage, error) {
	stream, err := f.client.OpenStream(ctx, stagingKey)
	if err != nil {
		return nil, err
	}
	return &streamedStage{stream: stream}, nil
}

// streamedStage forwards bytes into an in-progress store upload. Nothing
// becomes visible at the final object key until Commit completes the
// upload.
type streamedStage struct {
	stream storage.Stream
	size   int64
}

func (s *streamedStage) Write(p []byte) (int, error) {
	n, err := s.stream.Write(p)
	s.size += int64(n)
	return n, err
}

func (s *streamedStage) Size() int64 {
	return s.size
}

func (s *streamedStage) Commit(ctx context.Context, key string) error {
	return s.stream.Complete(ctx, key)
}

func (s *streamedStage) Discard(ctx context.Context) error {
	return s.stream.Abort(ctx)
}
