package format

import (
	"encoding/csv"
	"fmt"
	"io"

	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	pkgformat "github.com/jittakal/kafs3sink/pkg/format"
	"github.com/jittakal/kafs3sink/pkg/sink"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgformat.Opener = (*CSVOpener)(nil)

// CSVOpener creates CSV writers. Records must be structs whose fields are
// all primitives; the column order follows the schema. When WithHeaders is
// set, every new file starts with a header row.
type CSVOpener struct {
	WithHeaders bool
}

func (o CSVOpener) Format() pkgformat.Format {
	if o.WithHeaders {
		return pkgformat.FormatCSVWithHeaders
	}
	return pkgformat.FormatCSV
}

func (o CSVOpener) Open(w io.Writer, schema *sink.Schema) (pkgformat.Writer, error) {
	cw := &countingWriter{w: w}
	return &csvWriter{
		out:         cw,
		csv:         csv.NewWriter(cw),
		withHeaders: o.WithHeaders,
	}, nil
}

type csvWriter struct {
	out         *countingWriter
	csv         *csv.Writer
	withHeaders bool
	columns     []string
	wroteHeader bool
}

func (c *csvWriter) Write(value sink.Value) error {
	st, ok := value.(*sink.Struct)
	if !ok || st.Schema == nil {
		return fmt.Errorf("%w: CSV requires schema-backed struct values, got %s",
			sinkerrors.ErrRecordType, kindOf(value))
	}

	if c.columns == nil {
		c.columns = make([]string, 0, len(st.Schema.Fields))
		for _, f := range st.Schema.Fields {
			switch f.Type {
			case sink.TypeStruct, sink.TypeMap, sink.TypeArray:
				return fmt.Errorf("%w: CSV field %q is not a primitive",
					sinkerrors.ErrRecordType, f.Name)
			}
			c.columns = append(c.columns, f.Name)
		}
	}

	if c.withHeaders && !c.wroteHeader {
		if err := c.csv.Write(c.columns); err != nil {
			return fmt.Errorf("csv header: %w", err)
		}
		c.wroteHeader = true
	}

	row := make([]string, len(c.columns))
	for i, name := range c.columns {
		fv, _ := st.Field(name)
		if sink.IsNull(fv) {
			row[i] = ""
			continue
		}
		p, ok := fv.(sink.Primitive)
		if !ok {
			return fmt.Errorf("%w: CSV field %q holds a %s value",
				sinkerrors.ErrRecordType, name, fv.Kind())
		}
		row[i] = p.Render()
	}

	if err := c.csv.Write(row); err != nil {
		return fmt.Errorf("csv row: %w", err)
	}
	// Flush per record so CurrentSize stays observable.
	c.csv.Flush()
	return c.csv.Error()
}

func (c *csvWriter) CurrentSize() int64 {
	return c.out.n
}

func (c *csvWriter) Close() error {
	c.csv.Flush()
	return c.csv.Error()
}
