package format

import (
	"encoding/json"
	"fmt"
	"io"

	pkgformat "github.com/jittakal/kafs3sink/pkg/format"
	"github.com/jittakal/kafs3sink/pkg/sink"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgformat.Opener = (*JSONOpener)(nil)

// JSONOpener creates newline-delimited JSON writers.
type JSONOpener struct{}

func (JSONOpener) Format() pkgformat.Format {
	return pkgformat.FormatJSON
}

func (JSONOpener) Open(w io.Writer, _ *sink.Schema) (pkgformat.Writer, error) {
	cw := &countingWriter{w: w}
	return &jsonWriter{out: cw, enc: json.NewEncoder(cw)}, nil
}

// jsonWriter appends one JSON document per record, newline separated.
type jsonWriter struct {
	out    *countingWriter
	enc    *json.Encoder
	closed bool
}

func (j *jsonWriter) Write(value sink.Value) error {
	if j.closed {
		return fmt.Errorf("json writer: write after close")
	}
	if err := j.enc.Encode(toNative(value)); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}

func (j *jsonWriter) CurrentSize() int64 {
	return j.out.n
}

func (j *jsonWriter) Close() error {
	j.closed = true
	return nil
}
