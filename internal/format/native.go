// Package format implements the file format writers used by the sink.
package format

import (
	"io"

	"github.com/jittakal/kafs3sink/pkg/sink"
)

// toNative converts a tagged value into the plain Go representation the
// encoding libraries accept.
func toNative(v sink.Value) interface{} {
	if sink.IsNull(v) {
		return nil
	}
	switch tv := v.(type) {
	case sink.String:
		return tv.Value
	case sink.Int:
		return tv.Value
	case sink.Long:
		return tv.Value
	case sink.Float:
		return tv.Value
	case sink.Double:
		return tv.Value
	case sink.Bool:
		return tv.Value
	case sink.Bytes:
		return tv.Value
	case *sink.Struct:
		out := make(map[string]interface{}, len(tv.Values))
		if tv.Schema != nil {
			for _, f := range tv.Schema.Fields {
				fv, _ := tv.Field(f.Name)
				out[f.Name] = toNative(fv)
			}
			return out
		}
		for k, fv := range tv.Values {
			out[k] = toNative(fv)
		}
		return out
	case *sink.Map:
		out := make(map[string]interface{}, len(tv.Values))
		for k, fv := range tv.Values {
			out[k] = toNative(fv)
		}
		return out
	case *sink.Array:
		out := make([]interface{}, len(tv.Values))
		for i, fv := range tv.Values {
			out[i] = toNative(fv)
		}
		return out
	default:
		return nil
	}
}

// countingWriter tracks bytes written through to the stage so that the
// commit policy can observe a monotonic size while the file is open.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
