// Package extract evaluates dotted field paths against record values,
// keys and headers.
package extract

import (
	"fmt"
	"strings"

	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	"github.com/jittakal/kafs3sink/pkg/sink"
)

// MissingRendered is the literal used when a referenced field is absent
// or null.
const MissingRendered = "[missing]"

// Result is the outcome of a path evaluation: either a value or missing.
type Result struct {
	Value   sink.Value
	Missing bool
}

// Render returns the canonical string form of the result. Missing renders
// as the literal "[missing]". Non-primitive results are not renderable.
func (r Result) Render() (string, error) {
	if r.Missing || sink.IsNull(r.Value) {
		return MissingRendered, nil
	}
	p, ok := r.Value.(sink.Primitive)
	if !ok {
		return "", fmt.Errorf("%w: %s value cannot be rendered as a partition value",
			sinkerrors.ErrRecordType, r.Value.Kind())
	}
	return p.Render(), nil
}

// FromValue evaluates a dotted path against the record value. An empty
// path returns the whole value. Absent struct fields and map keys are
// missing, not errors.
func FromValue(r *sink.Record, path []string) (Result, error) {
	return traverse(r.Value, path)
}

// FromKey evaluates a dotted path against the record key.
func FromKey(r *sink.Record, path []string) (Result, error) {
	return traverse(r.Key, path)
}

// FromHeader finds the named header and evaluates the sub-path against its
// value. A missing header is an error when it participates in partitioning.
func FromHeader(r *sink.Record, name string, subpath []string) (Result, error) {
	hv := r.Header(name)
	if hv == nil {
		return Result{}, fmt.Errorf("%w: header %q not present on record %s/%d@%d",
			sinkerrors.ErrHeaderNotFound, name, r.Topic, r.Partition, r.Offset)
	}
	return traverse(hv, subpath)
}

func traverse(v sink.Value, path []string) (Result, error) {
	for i, segment := range path {
		if sink.IsNull(v) {
			return Result{Missing: true}, nil
		}
		switch tv := v.(type) {
		case *sink.Struct:
			fv, declared := tv.Field(segment)
			if !declared {
				return Result{Missing: true}, nil
			}
			v = fv
		case *sink.Map:
			fv, ok := tv.Values[segment]
			if !ok {
				return Result{Missing: true}, nil
			}
			v = fv
		default:
			return Result{}, fmt.Errorf("%w: cannot traverse %q into %s value",
				sinkerrors.ErrRecordType, strings.Join(path[i:], "."), v.Kind())
		}
	}
	if sink.IsNull(v) {
		return Result{Missing: true}, nil
	}
	return Result{Value: v}, nil
}
