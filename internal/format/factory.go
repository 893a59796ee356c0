package format

import (
	"fmt"

	pkgformat "github.com/jittakal/kafs3sink/pkg/format"
)

// NewOpener resolves a format to its writer opener.
func NewOpener(f pkgformat.Format, compression string) (pkgformat.Opener, error) {
	switch f {
	case pkgformat.FormatJSON:
		return JSONOpener{}, nil
	case pkgformat.FormatAvro:
		return AvroOpener{Compression: compression}, nil
	case pkgformat.FormatParquet:
		return ParquetOpener{Compression: compression}, nil
	case pkgformat.FormatCSV:
		return CSVOpener{}, nil
	case pkgformat.FormatCSVWithHeaders:
		return CSVOpener{WithHeaders: true}, nil
	case pkgformat.FormatText:
		return TextOpener{}, nil
	case pkgformat.FormatBytes:
		return BytesOpener{}, nil
	default:
		return nil, fmt.Errorf("unsupported file format: %s", f)
	}
}

// SupportedCompressions returns supported compression codecs for a format.
func SupportedCompressions(f pkgformat.Format) []string {
	switch f {
	case pkgformat.FormatParquet:
		return []string{"uncompressed", "snappy", "gzip", "lz4", "zstd"}
	case pkgformat.FormatAvro:
		return []string{"null", "deflate", "snappy"}
	default:
		return nil
	}
}

// DefaultCompression returns the default compression for a format.
func DefaultCompression(f pkgformat.Format) string {
	switch f {
	case pkgformat.FormatParquet:
		return "snappy"
	case pkgformat.FormatAvro:
		return "null"
	default:
		return ""
	}
}
