package format

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	pkgformat "github.com/jittakal/kafs3sink/pkg/format"
	"github.com/jittakal/kafs3sink/pkg/sink"
)

func userSchema() *sink.Schema {
	return &sink.Schema{Name: "user", Type: sink.TypeStruct, Fields: []sink.SchemaField{
		{Name: "name", Type: sink.TypeString},
		{Name: "title", Type: sink.TypeString, Optional: true},
		{Name: "salary", Type: sink.TypeDouble, Optional: true},
	}}
}

func userStruct(name, title string, salary sink.Value) *sink.Struct {
	return &sink.Struct{
		Schema: userSchema(),
		Values: map[string]sink.Value{
			"name":   sink.String{Value: name},
			"title":  sink.String{Value: title},
			"salary": salary,
		},
	}
}

func TestJSONWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := JSONOpener{}.Open(&buf, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := w.Write(userStruct("sam", "mr", sink.Double{Value: 100.43})); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Write(userStruct("tom", "", sink.Null{})); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"name":"sam"`) {
		t.Errorf("first line = %q, missing name", lines[0])
	}
	if !strings.Contains(lines[0], `"salary":100.43`) {
		t.Errorf("first line = %q, missing salary", lines[0])
	}
	if !strings.Contains(lines[1], `"salary":null`) {
		t.Errorf("second line = %q, missing null salary", lines[1])
	}

	if w.CurrentSize() != int64(buf.Len()) {
		t.Errorf("CurrentSize() = %d, want %d", w.CurrentSize(), buf.Len())
	}
}

func TestJSONWriterSizeMonotonic(t *testing.T) {
	var buf bytes.Buffer
	w, _ := JSONOpener{}.Open(&buf, nil)

	var last int64
	for i := 0; i < 3; i++ {
		if err := w.Write(userStruct("x", "y", sink.Null{})); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if w.CurrentSize() <= last {
			t.Errorf("CurrentSize() = %d not greater than %d", w.CurrentSize(), last)
		}
		last = w.CurrentSize()
	}
}

func TestTextWriter(t *testing.T) {
	var buf bytes.Buffer
	w, _ := TextOpener{}.Open(&buf, nil)

	if err := w.Write(sink.String{Value: "hello"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Write(sink.Long{Value: 1}); !errors.Is(err, sinkerrors.ErrRecordType) {
		t.Errorf("error = %v, want ErrRecordType", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if buf.String() != "hello\n" {
		t.Errorf("content = %q, want hello\\n", buf.String())
	}
}

func TestBytesWriter(t *testing.T) {
	var buf bytes.Buffer
	w, _ := BytesOpener{}.Open(&buf, nil)

	if err := w.Write(sink.Bytes{Value: []byte{0x1, 0x2}}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Write(sink.String{Value: "nope"}); !errors.Is(err, sinkerrors.ErrRecordType) {
		t.Errorf("error = %v, want ErrRecordType", err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{0x1, 0x2}) {
		t.Errorf("content = %v, want [1 2]", buf.Bytes())
	}
}

func TestCSVWriter(t *testing.T) {
	var buf bytes.Buffer
	w, _ := CSVOpener{WithHeaders: true}.Open(&buf, userSchema())

	if err := w.Write(userStruct("sam", "mr", sink.Double{Value: 100.43})); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Write(userStruct("tom", "", sink.Null{})); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3 (header + 2 rows)", len(lines))
	}
	if lines[0] != "name,title,salary" {
		t.Errorf("header = %q, want name,title,salary", lines[0])
	}
	if lines[1] != "sam,mr,100.43" {
		t.Errorf("row = %q, want sam,mr,100.43", lines[1])
	}
	if lines[2] != "tom,," {
		t.Errorf("row = %q, want tom,,", lines[2])
	}
}

func TestCSVWriterWithoutHeaders(t *testing.T) {
	var buf bytes.Buffer
	w, _ := CSVOpener{}.Open(&buf, userSchema())

	if err := w.Write(userStruct("sam", "mr", sink.Null{})); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	w.Close()

	if strings.Contains(buf.String(), "name,title") {
		t.Errorf("content = %q, unexpected header row", buf.String())
	}
}

func TestCSVWriterRejectsNonStruct(t *testing.T) {
	var buf bytes.Buffer
	w, _ := CSVOpener{}.Open(&buf, nil)
	if err := w.Write(sink.String{Value: "x"}); !errors.Is(err, sinkerrors.ErrRecordType) {
		t.Errorf("error = %v, want ErrRecordType", err)
	}
}

func TestAvroWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := AvroOpener{}.Open(&buf, userSchema())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := w.Write(userStruct("sam", "mr", sink.Double{Value: 100.43})); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Write(userStruct("tom", "", sink.Null{})); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// OCF files open with the magic bytes "Obj\x01".
	if !bytes.HasPrefix(buf.Bytes(), []byte("Obj\x01")) {
		t.Errorf("output does not start with OCF magic, got % x", buf.Bytes()[:4])
	}
	if w.CurrentSize() <= 0 {
		t.Errorf("CurrentSize() = %d, want > 0", w.CurrentSize())
	}
}

func TestAvroRequiresSchema(t *testing.T) {
	var buf bytes.Buffer
	if _, err := (AvroOpener{}).Open(&buf, nil); !errors.Is(err, sinkerrors.ErrRecordType) {
		t.Errorf("error = %v, want ErrRecordType", err)
	}
}

func TestParquetWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := ParquetOpener{}.Open(&buf, userSchema())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := w.Write(userStruct("bobo", "mr", sink.Double{Value: 100.43})); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Write(userStruct("momo", "ms", sink.Null{})); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Parquet files start and end with the PAR1 magic.
	if !bytes.HasPrefix(buf.Bytes(), []byte("PAR1")) {
		t.Errorf("output does not start with PAR1")
	}
	if !bytes.HasSuffix(buf.Bytes(), []byte("PAR1")) {
		t.Errorf("output does not end with PAR1")
	}
}

func TestParquetRequiresStruct(t *testing.T) {
	var buf bytes.Buffer
	w, err := ParquetOpener{}.Open(&buf, userSchema())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := w.Write(sink.String{Value: "x"}); !errors.Is(err, sinkerrors.ErrRecordType) {
		t.Errorf("error = %v, want ErrRecordType", err)
	}
}

func TestNewOpener(t *testing.T) {
	for _, f := range []pkgformat.Format{
		pkgformat.FormatJSON,
		pkgformat.FormatAvro,
		pkgformat.FormatParquet,
		pkgformat.FormatCSV,
		pkgformat.FormatCSVWithHeaders,
		pkgformat.FormatText,
		pkgformat.FormatBytes,
	} {
		opener, err := NewOpener(f, DefaultCompression(f))
		if err != nil {
			t.Errorf("NewOpener(%s) error = %v", f, err)
			continue
		}
		if opener.Format() != f {
			t.Errorf("Format() = %s, want %s", opener.Format(), f)
		}
	}

	if _, err := NewOpener(pkgformat.Format("BOGUS"), ""); err == nil {
		t.Error("NewOpener(BOGUS) should fail")
	}
}
