package format

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	pkgformat "github.com/jittakal/kafs3sink/pkg/format"
	"github.com/jittakal/kafs3sink/pkg/sink"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgformat.Opener = (*ParquetOpener)(nil)

// ParquetOpener creates Parquet writers. The Parquet schema is derived
// from the record's schema descriptor; a new file always means a new
// writer because Parquet is not append-continuable.
type ParquetOpener struct {
	Compression string
}

func (ParquetOpener) Format() pkgformat.Format {
	return pkgformat.FormatParquet
}

func (o ParquetOpener) Open(w io.Writer, schema *sink.Schema) (pkgformat.Writer, error) {
	if schema == nil || schema.Type != sink.TypeStruct {
		return nil, fmt.Errorf("%w: PARQUET requires schema-backed struct values",
			sinkerrors.ErrRecordType)
	}

	group, err := parquetGroupOf(schema)
	if err != nil {
		return nil, err
	}
	name := schema.Name
	if name == "" {
		name = "record"
	}

	cw := &countingWriter{w: w}
	writer := parquet.NewGenericWriter[map[string]interface{}](
		cw,
		parquet.NewSchema(name, group),
		compressionCodec(o.Compression),
	)

	return &parquetWriter{out: cw, writer: writer, schema: schema}, nil
}

// compressionCodec converts a compression name to a parquet WriterOption.
func compressionCodec(compression string) parquet.WriterOption {
	switch compression {
	case "gzip", "GZIP":
		return parquet.Compression(&parquet.Gzip)
	case "lz4", "LZ4":
		return parquet.Compression(&parquet.Lz4Raw)
	case "zstd", "ZSTD":
		return parquet.Compression(&parquet.Zstd)
	case "uncompressed", "UNCOMPRESSED", "none", "NONE":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

type parquetWriter struct {
	out    *countingWriter
	writer *parquet.GenericWriter[map[string]interface{}]
	schema *sink.Schema
	closed bool
}

func (p *parquetWriter) Write(value sink.Value) error {
	if p.closed {
		return fmt.Errorf("parquet writer: write after close")
	}
	st, ok := value.(*sink.Struct)
	if !ok {
		return fmt.Errorf("%w: PARQUET requires struct values, got %s",
			sinkerrors.ErrRecordType, kindOf(value))
	}

	row, err := parquetRow(st)
	if err != nil {
		return err
	}
	if _, err := p.writer.Write([]map[string]interface{}{row}); err != nil {
		return fmt.Errorf("write parquet row: %w", err)
	}
	return nil
}

// CurrentSize reports bytes flushed to the stage. Row groups buffer
// internally, so the pre-footer estimate can trail the final object size.
func (p *parquetWriter) CurrentSize() int64 {
	return p.out.n
}

func (p *parquetWriter) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// parquetGroupOf converts a schema descriptor to a parquet group node.
func parquetGroupOf(s *sink.Schema) (parquet.Group, error) {
	group := parquet.Group{}
	for _, f := range s.Fields {
		node, err := parquetNode(f)
		if err != nil {
			return nil, err
		}
		if f.Optional {
			node = parquet.Optional(node)
		}
		group[f.Name] = node
	}
	return group, nil
}

func parquetNode(f sink.SchemaField) (parquet.Node, error) {
	switch f.Type {
	case sink.TypeString:
		return parquet.String(), nil
	case sink.TypeInt:
		return parquet.Int(32), nil
	case sink.TypeLong:
		return parquet.Int(64), nil
	case sink.TypeFloat:
		return parquet.Leaf(parquet.FloatType), nil
	case sink.TypeDouble:
		return parquet.Leaf(parquet.DoubleType), nil
	case sink.TypeBool:
		return parquet.Leaf(parquet.BooleanType), nil
	case sink.TypeBytes:
		return parquet.Leaf(parquet.ByteArrayType), nil
	case sink.TypeStruct:
		if f.Nested == nil {
			return nil, fmt.Errorf("struct field %q has no nested schema", f.Name)
		}
		return parquetGroupOf(f.Nested)
	case sink.TypeMap, sink.TypeArray:
		// Container fields are stored as JSON strings.
		return parquet.String(), nil
	default:
		return nil, fmt.Errorf("unsupported parquet field type: %s", f.Type)
	}
}

// parquetRow converts a struct value to the map row form the generic
// writer accepts.
func parquetRow(st *sink.Struct) (map[string]interface{}, error) {
	row := make(map[string]interface{}, len(st.Schema.Fields))
	for _, f := range st.Schema.Fields {
		fv, _ := st.Field(f.Name)
		if sink.IsNull(fv) {
			if !f.Optional {
				return nil, fmt.Errorf("%w: field %q is null but not optional",
					sinkerrors.ErrRecordType, f.Name)
			}
			// Omitted keys read back as null for optional columns.
			continue
		}

		switch f.Type {
		case sink.TypeStruct:
			nested, ok := fv.(*sink.Struct)
			if !ok {
				return nil, fmt.Errorf("%w: field %q is not a struct",
					sinkerrors.ErrRecordType, f.Name)
			}
			nestedRow, err := parquetRow(nested)
			if err != nil {
				return nil, err
			}
			row[f.Name] = nestedRow
		case sink.TypeMap, sink.TypeArray:
			encoded, err := json.Marshal(toNative(fv))
			if err != nil {
				return nil, fmt.Errorf("marshal container field %q: %w", f.Name, err)
			}
			row[f.Name] = string(encoded)
		default:
			row[f.Name] = toNative(fv)
		}
	}
	return row, nil
}
