// Package format defines the file format abstraction used by the sink.
//
// A format writer is a streaming byte producer: records are appended one at
// a time into an underlying stage and the accumulated size is observable
// while the file is open. Closing the writer finalizes the byte stream
// (footers, compressor flush); after Close the stream is complete.
package format

import (
	"fmt"
	"io"
	"strings"

	"github.com/jittakal/kafs3sink/pkg/sink"
)

// Format identifies a storage file format.
type Format string

const (
	FormatJSON           Format = "JSON"
	FormatAvro           Format = "AVRO"
	FormatParquet        Format = "PARQUET"
	FormatCSV            Format = "CSV"
	FormatCSVWithHeaders Format = "CSV_WITHHEADERS"
	FormatText           Format = "TEXT"
	FormatBytes          Format = "BYTES_VALUEONLY"
)

// Parse resolves a KCQL STOREAS token to a Format.
func Parse(s string) (Format, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "JSON":
		return FormatJSON, nil
	case "AVRO":
		return FormatAvro, nil
	case "PARQUET":
		return FormatParquet, nil
	case "CSV":
		return FormatCSV, nil
	case "CSV_WITHHEADERS":
		return FormatCSVWithHeaders, nil
	case "TEXT":
		return FormatText, nil
	case "BYTES", "BYTES_VALUEONLY":
		return FormatBytes, nil
	default:
		return "", fmt.Errorf("unknown storage format: %q", s)
	}
}

// Extension returns the object key extension for the format.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatAvro:
		return "avro"
	case FormatParquet:
		return "parquet"
	case FormatCSV, FormatCSVWithHeaders:
		return "csv"
	case FormatText:
		return "text"
	case FormatBytes:
		return "bytes"
	default:
		return string(f)
	}
}

// Writer appends records of one schema into a single open file.
// Implementations are not safe for concurrent use; the sink serializes
// access per open file.
type Writer interface {
	// Write appends one record value. The writer enforces format-specific
	// compatibility and returns a record-type error on mismatch.
	Write(value sink.Value) error

	// CurrentSize returns a best-effort monotonic count of bytes produced
	// so far. Formats with footers may undercount until Close.
	CurrentSize() int64

	// Close finalizes the stream. After Close the underlying stage holds
	// the complete file content.
	Close() error
}

// Opener creates a format writer on top of a stage stream. The schema is
// the descriptor of the first record's value and is fixed for the file's
// lifetime.
type Opener interface {
	Open(w io.Writer, schema *sink.Schema) (Writer, error)
	Format() Format
}
