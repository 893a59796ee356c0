package format

import (
	"fmt"
	"io"

	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	pkgformat "github.com/jittakal/kafs3sink/pkg/format"
	"github.com/jittakal/kafs3sink/pkg/sink"
)

// Ensure implementations satisfy interfaces at compile time.
var (
	_ pkgformat.Opener = (*TextOpener)(nil)
	_ pkgformat.Opener = (*BytesOpener)(nil)
)

// TextOpener creates writers that emit one line per string value.
// Non-string values are rejected.
type TextOpener struct{}

func (TextOpener) Format() pkgformat.Format {
	return pkgformat.FormatText
}

func (TextOpener) Open(w io.Writer, _ *sink.Schema) (pkgformat.Writer, error) {
	return &textWriter{out: &countingWriter{w: w}}, nil
}

type textWriter struct {
	out *countingWriter
}

func (t *textWriter) Write(value sink.Value) error {
	s, ok := value.(sink.String)
	if !ok {
		return fmt.Errorf("%w: TEXT requires string values, got %s",
			sinkerrors.ErrRecordType, kindOf(value))
	}
	if _, err := t.out.Write([]byte(s.Value)); err != nil {
		return err
	}
	_, err := t.out.Write([]byte{'\n'})
	return err
}

func (t *textWriter) CurrentSize() int64 {
	return t.out.n
}

func (t *textWriter) Close() error {
	return nil
}

// BytesOpener creates writers that emit raw value bytes back to back.
// Non-bytes values are rejected.
type BytesOpener struct{}

func (BytesOpener) Format() pkgformat.Format {
	return pkgformat.FormatBytes
}

func (BytesOpener) Open(w io.Writer, _ *sink.Schema) (pkgformat.Writer, error) {
	return &bytesWriter{out: &countingWriter{w: w}}, nil
}

type bytesWriter struct {
	out *countingWriter
}

func (b *bytesWriter) Write(value sink.Value) error {
	bv, ok := value.(sink.Bytes)
	if !ok {
		return fmt.Errorf("%w: BYTES requires byte values, got %s",
			sinkerrors.ErrRecordType, kindOf(value))
	}
	_, err := b.out.Write(bv.Value)
	return err
}

func (b *bytesWriter) CurrentSize() int64 {
	return b.out.n
}

func (b *bytesWriter) Close() error {
	return nil
}

func kindOf(v sink.Value) sink.Kind {
	if v == nil {
		return sink.KindNull
	}
	return v.Kind()
}
