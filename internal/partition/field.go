// Package partition derives logical partition keys from record content and
// maps committed files to object store keys.
package partition

import (
	"fmt"
	"strings"

	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
)

// FieldSource identifies where a partition selector reads from.
type FieldSource int

const (
	SourceValue FieldSource = iota
	SourceKey
	SourceHeader
	SourceWholeKey
	SourceTopic
	SourcePartition
)

// Field is one parsed PARTITIONBY selector.
type Field struct {
	Source FieldSource
	// Path is the dotted path for value/key selectors, or the sub-path
	// under a header or complex key.
	Path []string
	// HeaderName is set for header selectors.
	HeaderName string
}

// DisplayName returns the name rendered before '=' in KeysAndValues mode.
func (f Field) DisplayName() string {
	switch f.Source {
	case SourceValue, SourceKey:
		return strings.Join(f.Path, ".")
	case SourceHeader:
		if len(f.Path) == 0 {
			return f.HeaderName
		}
		return f.HeaderName + "." + strings.Join(f.Path, ".")
	case SourceWholeKey:
		if len(f.Path) > 0 {
			return strings.Join(f.Path, ".")
		}
		return "key"
	default:
		// _topic and _partition are only allowed with the Values
		// partitioner, which renders no display name.
		return ""
	}
}

// ParseField parses one PARTITIONBY selector. Slashes are rejected here so
// that rendered object keys stay unambiguous.
func ParseField(raw string) (Field, error) {
	selector := strings.TrimSpace(raw)
	if selector == "" {
		return Field{}, fmt.Errorf("%w: empty PARTITIONBY selector", sinkerrors.ErrConfig)
	}
	if strings.Contains(selector, "/") {
		return Field{}, fmt.Errorf("%w: partition path %q must not contain '/'",
			sinkerrors.ErrConfig, selector)
	}

	switch {
	case selector == "_topic":
		return Field{Source: SourceTopic}, nil
	case selector == "_partition":
		return Field{Source: SourcePartition}, nil
	case selector == "_key":
		return Field{Source: SourceWholeKey}, nil
	case strings.HasPrefix(selector, "_key."):
		return Field{Source: SourceWholeKey, Path: splitPath(selector[len("_key."):])}, nil
	case strings.HasPrefix(selector, "_header."):
		rest := selector[len("_header."):]
		if rest == "" {
			return Field{}, fmt.Errorf("%w: _header selector needs a header name", sinkerrors.ErrConfig)
		}
		// The first segment names the header, the remainder traverses its
		// structured value.
		segments := splitPath(rest)
		return Field{Source: SourceHeader, HeaderName: segments[0], Path: segments[1:]}, nil
	case strings.HasPrefix(selector, "_value."):
		return Field{Source: SourceValue, Path: splitPath(selector[len("_value."):])}, nil
	default:
		return Field{Source: SourceValue, Path: splitPath(selector)}, nil
	}
}

// ParseFields parses a comma-separated PARTITIONBY list.
func ParseFields(raw []string) ([]Field, error) {
	fields := make([]Field, 0, len(raw))
	for _, s := range raw {
		f, err := ParseField(s)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func splitPath(dotted string) []string {
	return strings.Split(dotted, ".")
}
