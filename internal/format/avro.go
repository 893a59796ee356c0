package format

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/linkedin/goavro/v2"

	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	pkgformat "github.com/jittakal/kafs3sink/pkg/format"
	"github.com/jittakal/kafs3sink/pkg/sink"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgformat.Opener = (*AvroOpener)(nil)

// AvroOpener creates Avro OCF (Object Container File) writers. The Avro
// schema is derived from the first record's schema descriptor, so Avro
// requires schema-backed struct values.
type AvroOpener struct {
	// Compression selects the OCF block codec: "null", "deflate" or
	// "snappy". Empty means "null".
	Compression string
}

func (AvroOpener) Format() pkgformat.Format {
	return pkgformat.FormatAvro
}

func (o AvroOpener) Open(w io.Writer, schema *sink.Schema) (pkgformat.Writer, error) {
	if schema == nil || schema.Type != sink.TypeStruct {
		return nil, fmt.Errorf("%w: AVRO requires schema-backed struct values",
			sinkerrors.ErrRecordType)
	}

	avroSchema, err := avroSchemaOf(schema)
	if err != nil {
		return nil, err
	}
	schemaJSON, err := json.Marshal(avroSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal avro schema: %w", err)
	}

	codec, err := goavro.NewCodec(string(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("create avro codec: %w", err)
	}

	compression := o.Compression
	if compression == "" {
		compression = goavro.CompressionNullLabel
	}

	cw := &countingWriter{w: w}
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               cw,
		Codec:           codec,
		CompressionName: compression,
	})
	if err != nil {
		return nil, fmt.Errorf("create OCF writer: %w", err)
	}

	return &avroWriter{out: cw, ocf: ocf, schema: schema}, nil
}

type avroWriter struct {
	out    *countingWriter
	ocf    *goavro.OCFWriter
	schema *sink.Schema
}

func (a *avroWriter) Write(value sink.Value) error {
	st, ok := value.(*sink.Struct)
	if !ok {
		return fmt.Errorf("%w: AVRO requires struct values, got %s",
			sinkerrors.ErrRecordType, kindOf(value))
	}

	avroMap, err := avroNative(st)
	if err != nil {
		return err
	}
	if err := a.ocf.Append([]interface{}{avroMap}); err != nil {
		return fmt.Errorf("append avro record: %w", err)
	}
	return nil
}

func (a *avroWriter) CurrentSize() int64 {
	return a.out.n
}

func (a *avroWriter) Close() error {
	// OCF blocks are flushed on Append; nothing further to finalize.
	return nil
}

// avroSchemaOf converts a schema descriptor to an Avro record schema.
func avroSchemaOf(s *sink.Schema) (map[string]interface{}, error) {
	name := s.Name
	if name == "" {
		name = "Record"
	}

	fields := make([]map[string]interface{}, 0, len(s.Fields))
	for _, f := range s.Fields {
		ft, err := avroType(f)
		if err != nil {
			return nil, err
		}
		field := map[string]interface{}{
			"name": f.Name,
			"type": ft,
		}
		if f.Optional {
			field["type"] = []interface{}{"null", ft}
			field["default"] = nil
		}
		fields = append(fields, field)
	}

	return map[string]interface{}{
		"type":   "record",
		"name":   name,
		"fields": fields,
	}, nil
}

func avroType(f sink.SchemaField) (interface{}, error) {
	switch f.Type {
	case sink.TypeString:
		return "string", nil
	case sink.TypeInt:
		return "int", nil
	case sink.TypeLong:
		return "long", nil
	case sink.TypeFloat:
		return "float", nil
	case sink.TypeDouble:
		return "double", nil
	case sink.TypeBool:
		return "boolean", nil
	case sink.TypeBytes:
		return "bytes", nil
	case sink.TypeStruct:
		if f.Nested == nil {
			return nil, fmt.Errorf("struct field %q has no nested schema", f.Name)
		}
		return avroSchemaOf(f.Nested)
	case sink.TypeMap:
		values := "string"
		return map[string]interface{}{"type": "map", "values": values}, nil
	case sink.TypeArray:
		items := "string"
		return map[string]interface{}{"type": "array", "items": items}, nil
	default:
		return nil, fmt.Errorf("unsupported avro field type: %s", f.Type)
	}
}

// avroNative converts a struct value to goavro's native map form,
// wrapping optional non-null values in unions.
func avroNative(st *sink.Struct) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(st.Schema.Fields))
	for _, f := range st.Schema.Fields {
		fv, _ := st.Field(f.Name)
		if sink.IsNull(fv) {
			if !f.Optional {
				return nil, fmt.Errorf("%w: field %q is null but not optional",
					sinkerrors.ErrRecordType, f.Name)
			}
			out[f.Name] = nil
			continue
		}

		var native interface{}
		if f.Type == sink.TypeStruct {
			nested, ok := fv.(*sink.Struct)
			if !ok {
				return nil, fmt.Errorf("%w: field %q is not a struct",
					sinkerrors.ErrRecordType, f.Name)
			}
			nestedMap, err := avroNative(nested)
			if err != nil {
				return nil, err
			}
			native = nestedMap
		} else {
			native = toNative(fv)
		}

		if f.Optional {
			out[f.Name] = goavro.Union(avroUnionLabel(f), native)
		} else {
			out[f.Name] = native
		}
	}
	return out, nil
}

func avroUnionLabel(f sink.SchemaField) string {
	switch f.Type {
	case sink.TypeString:
		return "string"
	case sink.TypeInt:
		return "int"
	case sink.TypeLong:
		return "long"
	case sink.TypeFloat:
		return "float"
	case sink.TypeDouble:
		return "double"
	case sink.TypeBool:
		return "boolean"
	case sink.TypeBytes:
		return "bytes"
	case sink.TypeStruct:
		if f.Nested != nil && f.Nested.Name != "" {
			return f.Nested.Name
		}
		return "Record"
	case sink.TypeMap:
		return "map"
	case sink.TypeArray:
		return "array"
	default:
		return string(f.Type)
	}
}
