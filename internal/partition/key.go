package partition

import (
	"fmt"
	"strconv"
	"strings"

	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	"github.com/jittakal/kafs3sink/internal/extract"
	"github.com/jittakal/kafs3sink/pkg/sink"
)

// KeyPart is one (displayName, renderedValue) element of a logical
// partition key.
type KeyPart struct {
	Name  string
	Value string
}

// Key is the ordered logical partition identity derived from one record.
// Equality is by the ordered tuple of parts.
type Key struct {
	Parts []KeyPart
}

// ID returns a canonical string identity used as a map key.
func (k Key) ID() string {
	var b strings.Builder
	for i, p := range k.Parts {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(p.Name)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	return b.String()
}

// Empty reports whether no PARTITIONBY selectors were configured.
func (k Key) Empty() bool {
	return len(k.Parts) == 0
}

// Builder produces logical partition keys from records according to the
// configured selectors.
type Builder struct {
	fields []Field
}

// NewBuilder creates a key builder for the parsed selectors. An empty
// selector list yields empty keys (hierarchical naming).
func NewBuilder(fields []Field) *Builder {
	return &Builder{fields: fields}
}

// BuildKey derives the logical partition key for one record.
func (b *Builder) BuildKey(r *sink.Record) (Key, error) {
	if len(b.fields) == 0 {
		return Key{}, nil
	}

	parts := make([]KeyPart, 0, len(b.fields))
	for _, f := range b.fields {
		value, err := b.renderField(r, f)
		if err != nil {
			return Key{}, err
		}
		parts = append(parts, KeyPart{Name: f.DisplayName(), Value: value})
	}
	return Key{Parts: parts}, nil
}

func (b *Builder) renderField(r *sink.Record, f Field) (string, error) {
	switch f.Source {
	case SourceTopic:
		return r.Topic, nil
	case SourcePartition:
		return strconv.FormatInt(int64(r.Partition), 10), nil
	case SourceWholeKey:
		return renderKeySelector(r, f)
	case SourceHeader:
		res, err := extract.FromHeader(r, f.HeaderName, f.Path)
		if err != nil {
			return "", err
		}
		return res.Render()
	case SourceKey:
		res, err := extract.FromKey(r, f.Path)
		if err != nil {
			return "", err
		}
		return res.Render()
	default:
		res, err := extract.FromValue(r, f.Path)
		if err != nil {
			return "", err
		}
		return res.Render()
	}
}

// renderKeySelector handles _key selectors. A bare _key requires a
// primitive key; a sub-path traverses a complex key.
func renderKeySelector(r *sink.Record, f Field) (string, error) {
	if len(f.Path) == 0 {
		if sink.IsNull(r.Key) {
			return extract.MissingRendered, nil
		}
		p, ok := r.Key.(sink.Primitive)
		if !ok {
			return "", fmt.Errorf("%w: PARTITIONBY _key requires a primitive key, got %s on %s/%d@%d",
				sinkerrors.ErrNonPrimitiveKey, r.Key.Kind(), r.Topic, r.Partition, r.Offset)
		}
		return p.Render(), nil
	}

	res, err := extract.FromKey(r, f.Path)
	if err != nil {
		return "", err
	}
	return res.Render()
}
