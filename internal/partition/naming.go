package partition

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jittakal/kafs3sink/pkg/format"
	"github.com/jittakal/kafs3sink/pkg/sink"
)

// Mode selects how logical partition path elements render.
type Mode string

const (
	// ModeKeysAndValues renders "name=value" path elements. Default.
	ModeKeysAndValues Mode = "KeysAndValues"
	// ModeValues renders bare "value" path elements.
	ModeValues Mode = "Values"
)

// ParseMode resolves a WITHPARTITIONER token.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keysandvalues":
		return ModeKeysAndValues, nil
	case "values":
		return ModeValues, nil
	default:
		return "", fmt.Errorf("unknown partitioner mode: %q", s)
	}
}

// Strategy maps a committed file to its object store key.
type Strategy interface {
	// ObjectKey computes the remote key for a file whose last record is at
	// the given offset.
	ObjectKey(key Key, tp sink.TopicPartition, offset int64, f format.Format) string

	// ListPrefix returns the prefix under which committed objects for the
	// topic partition live.
	ListPrefix(tp sink.TopicPartition) string

	// OffsetPattern returns a regex whose first capture group is the
	// offset encoded in a committed object key for the topic partition.
	OffsetPattern(tp sink.TopicPartition, f format.Format) *regexp.Regexp

	// StagingKey names the temporary location a file streams to while
	// open. Staging keys never match OffsetPattern.
	StagingKey(tp sink.TopicPartition, firstOffset int64, f format.Format) string
}

func stagingKey(prefix string, tp sink.TopicPartition, firstOffset int64, f format.Format) string {
	return fmt.Sprintf("%s/.staging/%s_%d_%d.%s.tmp",
		prefix, tp.Topic, tp.Partition, firstOffset, f.Extension())
}

// Hierarchical lays objects out as <prefix>/<topic>/<partition>/<offset>.<ext>.
// Used when no PARTITIONBY selectors are configured.
type Hierarchical struct {
	Prefix string
}

func (h Hierarchical) ObjectKey(_ Key, tp sink.TopicPartition, offset int64, f format.Format) string {
	return fmt.Sprintf("%s/%s/%d/%d.%s", h.Prefix, tp.Topic, tp.Partition, offset, f.Extension())
}

func (h Hierarchical) ListPrefix(tp sink.TopicPartition) string {
	return fmt.Sprintf("%s/%s/%d/", h.Prefix, tp.Topic, tp.Partition)
}

func (h Hierarchical) OffsetPattern(tp sink.TopicPartition, f format.Format) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`^%s/%s/%d/(\d+)\.%s$`,
		regexp.QuoteMeta(h.Prefix), regexp.QuoteMeta(tp.Topic), tp.Partition,
		regexp.QuoteMeta(f.Extension())))
}

func (h Hierarchical) StagingKey(tp sink.TopicPartition, firstOffset int64, f format.Format) string {
	return stagingKey(h.Prefix, tp, firstOffset, f)
}

// Partitioned lays objects out under content-derived directories:
// <prefix>/[name=]value/.../<topic>(<partition>_<offset>).<ext>.
type Partitioned struct {
	Prefix string
	Mode   Mode
}

func (p Partitioned) ObjectKey(key Key, tp sink.TopicPartition, offset int64, f format.Format) string {
	var b strings.Builder
	b.WriteString(p.Prefix)
	for _, part := range key.Parts {
		b.WriteByte('/')
		if p.Mode == ModeKeysAndValues && part.Name != "" {
			b.WriteString(part.Name)
			b.WriteByte('=')
		}
		b.WriteString(part.Value)
	}
	fmt.Fprintf(&b, "/%s(%d_%d).%s", tp.Topic, tp.Partition, offset, f.Extension())
	return b.String()
}

func (p Partitioned) ListPrefix(tp sink.TopicPartition) string {
	// Logical partition directories are content-derived, so recovery has
	// to scan everything under the prefix.
	return p.Prefix + "/"
}

func (p Partitioned) OffsetPattern(tp sink.TopicPartition, f format.Format) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`^%s/.+/%s\(%d_(\d+)\)\.%s$`,
		regexp.QuoteMeta(p.Prefix), regexp.QuoteMeta(tp.Topic), tp.Partition,
		regexp.QuoteMeta(f.Extension())))
}

func (p Partitioned) StagingKey(tp sink.TopicPartition, firstOffset int64, f format.Format) string {
	return stagingKey(p.Prefix, tp, firstOffset, f)
}
