// Package sink defines the core record and value types shared by the
// sink pipeline.
//
// Records arrive untyped from Kafka. Values are modelled as a small tagged
// union (Value) with an optional schema descriptor carried alongside, so the
// pipeline never relies on reflection over arbitrary Go types.
package sink

import (
	"fmt"
	"strconv"
	"time"
)

// TopicPartition identifies a Kafka topic partition.
type TopicPartition struct {
	Topic     string
	Partition int32
}

// String returns a string representation in the format "topic-partition".
func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s-%d", tp.Topic, tp.Partition)
}

// Header is a single Kafka record header. The value is decoded into the
// same tagged union as record keys and values.
type Header struct {
	Name  string
	Value Value
}

// Record is one Kafka record as delivered to the sink.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       Value
	Value     Value
	Headers   []Header
	Timestamp time.Time
}

// TopicPartition returns the record's topic partition.
func (r *Record) TopicPartition() TopicPartition {
	return TopicPartition{Topic: r.Topic, Partition: r.Partition}
}

// Header returns the first header with the given name, or nil.
func (r *Record) Header(name string) Value {
	for _, h := range r.Headers {
		if h.Name == name {
			return h.Value
		}
	}
	return nil
}

// Kind enumerates the value kinds of the tagged union.
type Kind int

const (
	KindNull Kind = iota
	KindStruct
	KindMap
	KindArray
	KindString
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindBool
	KindBytes
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindStruct:
		return "struct"
	case KindMap:
		return "map"
	case KindArray:
		return "array"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Value is one member of the tagged union over record payloads.
// A nil Value and a Null value are both treated as null.
type Value interface {
	Kind() Kind
	// ValueSchema returns the schema descriptor, or nil for schemaless data.
	ValueSchema() *Schema
}

// Primitive marks values whose rendered form is a single scalar.
type Primitive interface {
	Value
	// Render returns the canonical string form: strings as-is, numbers in
	// decimal, booleans lowercased.
	Render() string
}

// Null is an explicit null. Schema is non-nil only when the declared slot
// is nullable.
type Null struct {
	Schema *Schema
}

func (v Null) Kind() Kind           { return KindNull }
func (v Null) ValueSchema() *Schema { return v.Schema }

// String is a string value.
type String struct {
	Value  string
	Schema *Schema
}

func (v String) Kind() Kind           { return KindString }
func (v String) ValueSchema() *Schema { return v.Schema }
func (v String) Render() string       { return v.Value }

// Int is a 32-bit integer value.
type Int struct {
	Value  int32
	Schema *Schema
}

func (v Int) Kind() Kind           { return KindInt }
func (v Int) ValueSchema() *Schema { return v.Schema }
func (v Int) Render() string       { return strconv.FormatInt(int64(v.Value), 10) }

// Long is a 64-bit integer value.
type Long struct {
	Value  int64
	Schema *Schema
}

func (v Long) Kind() Kind           { return KindLong }
func (v Long) ValueSchema() *Schema { return v.Schema }
func (v Long) Render() string       { return strconv.FormatInt(v.Value, 10) }

// Float is a 32-bit floating point value.
type Float struct {
	Value  float32
	Schema *Schema
}

func (v Float) Kind() Kind           { return KindFloat }
func (v Float) ValueSchema() *Schema { return v.Schema }
func (v Float) Render() string {
	return strconv.FormatFloat(float64(v.Value), 'f', -1, 32)
}

// Double is a 64-bit floating point value.
type Double struct {
	Value  float64
	Schema *Schema
}

func (v Double) Kind() Kind           { return KindDouble }
func (v Double) ValueSchema() *Schema { return v.Schema }
func (v Double) Render() string {
	return strconv.FormatFloat(v.Value, 'f', -1, 64)
}

// Bool is a boolean value.
type Bool struct {
	Value  bool
	Schema *Schema
}

func (v Bool) Kind() Kind           { return KindBool }
func (v Bool) ValueSchema() *Schema { return v.Schema }
func (v Bool) Render() string       { return strconv.FormatBool(v.Value) }

// Bytes is a raw byte value.
type Bytes struct {
	Value  []byte
	Schema *Schema
}

func (v Bytes) Kind() Kind           { return KindBytes }
func (v Bytes) ValueSchema() *Schema { return v.Schema }

// Struct is a schema-backed record value. Field order follows the schema.
type Struct struct {
	Schema *Schema
	Values map[string]Value
}

func (v *Struct) Kind() Kind           { return KindStruct }
func (v *Struct) ValueSchema() *Schema { return v.Schema }

// Field returns the value of a declared field. The second return is false
// when the field is not declared in the schema.
func (v *Struct) Field(name string) (Value, bool) {
	if v.Schema != nil && !v.Schema.HasField(name) {
		return nil, false
	}
	fv, ok := v.Values[name]
	if !ok {
		// Declared but unset fields read as null.
		return Null{}, true
	}
	return fv, true
}

// Map is a schemaless or schema-backed map value with string keys.
type Map struct {
	Schema *Schema
	Values map[string]Value
}

func (v *Map) Kind() Kind           { return KindMap }
func (v *Map) ValueSchema() *Schema { return v.Schema }

// Array is an ordered list of values.
type Array struct {
	Schema *Schema
	Values []Value
}

func (v *Array) Kind() Kind           { return KindArray }
func (v *Array) ValueSchema() *Schema { return v.Schema }

// IsNull reports whether a value is nil or an explicit null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	return v.Kind() == KindNull
}
