package sink

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// FieldType enumerates the primitive and container types a schema field
// may declare.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int32"
	TypeLong   FieldType = "int64"
	TypeFloat  FieldType = "float32"
	TypeDouble FieldType = "float64"
	TypeBool   FieldType = "boolean"
	TypeBytes  FieldType = "bytes"
	TypeStruct FieldType = "struct"
	TypeMap    FieldType = "map"
	TypeArray  FieldType = "array"
)

// SchemaField describes one declared field of a struct schema.
type SchemaField struct {
	Name     string
	Type     FieldType
	Optional bool
	// Nested is set for struct, map and array element schemas.
	Nested *Schema
}

// Schema describes the shape of a value. For primitives only Type is set;
// struct schemas carry ordered Fields.
type Schema struct {
	Name     string
	Type     FieldType
	Optional bool
	Fields   []SchemaField

	fingerprint string
}

// HasField reports whether the schema declares a field with the given name.
func (s *Schema) HasField(name string) bool {
	for _, f := range s.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Field returns the declared field, or false when absent.
func (s *Schema) Field(name string) (SchemaField, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return SchemaField{}, false
}

// Fingerprint returns a stable digest of the schema's structure. Two values
// may share a file only when their fingerprints match; a fingerprint change
// forces a schema-change roll.
func (s *Schema) Fingerprint() string {
	if s == nil {
		return ""
	}
	if s.fingerprint == "" {
		var b strings.Builder
		writeSchemaDigest(&b, s)
		sum := sha256.Sum256([]byte(b.String()))
		s.fingerprint = hex.EncodeToString(sum[:8])
	}
	return s.fingerprint
}

func writeSchemaDigest(b *strings.Builder, s *Schema) {
	b.WriteString(s.Name)
	b.WriteByte(':')
	b.WriteString(string(s.Type))
	if s.Optional {
		b.WriteString("?")
	}
	if len(s.Fields) == 0 {
		return
	}
	b.WriteByte('{')
	for _, f := range s.Fields {
		b.WriteString(f.Name)
		b.WriteByte('=')
		b.WriteString(string(f.Type))
		if f.Optional {
			b.WriteString("?")
		}
		if f.Nested != nil {
			writeSchemaDigest(b, f.Nested)
		}
		b.WriteByte(';')
	}
	b.WriteByte('}')
}

// FingerprintOf returns the schema fingerprint of a value. Schemaless
// container values hash their key set so that shape changes still roll
// files; primitives hash their kind.
func FingerprintOf(v Value) string {
	if v == nil {
		return ""
	}
	if s := v.ValueSchema(); s != nil {
		return s.Fingerprint()
	}
	switch tv := v.(type) {
	case *Map:
		keys := make([]string, 0, len(tv.Values))
		for k := range tv.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sum := sha256.Sum256([]byte("map:" + strings.Join(keys, ",")))
		return hex.EncodeToString(sum[:8])
	default:
		return v.Kind().String()
	}
}
