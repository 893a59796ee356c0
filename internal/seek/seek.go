// Package seek recovers committed offsets from object store contents.
//
// Committed object names encode the last record offset, so the store
// itself is the ground truth: on open or rebalance the seeker lists the
// relevant prefix, parses offsets out of matching keys and reports the
// highest one per kafka partition. No local persistent state is needed
// across restarts.
package seek

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	"github.com/jittakal/kafs3sink/internal/partition"
	pkgformat "github.com/jittakal/kafs3sink/pkg/format"
	"github.com/jittakal/kafs3sink/pkg/sink"
	"github.com/jittakal/kafs3sink/pkg/storage"
)

// TopicNaming binds a topic to its naming strategy and format, mirroring
// the KCQL statement that produced its objects.
type TopicNaming struct {
	Naming partition.Strategy
	Format pkgformat.Format
}

// Seeker determines the highest committed offset per kafka partition.
type Seeker struct {
	client storage.Client
	topics map[string]TopicNaming
	logger *slog.Logger
}

// NewSeeker creates an offset seeker over the given store client.
func NewSeeker(client storage.Client, topics map[string]TopicNaming, logger *slog.Logger) *Seeker {
	return &Seeker{client: client, topics: topics, logger: logger}
}

// Seek scans the store for every given partition and returns the highest
// committed offset for those that have any. Partitions with no committed
// objects are absent from the result.
func (s *Seeker) Seek(ctx context.Context, tps []sink.TopicPartition) (map[sink.TopicPartition]int64, error) {
	committed := make(map[sink.TopicPartition]int64)

	for _, tp := range tps {
		tn, ok := s.topics[tp.Topic]
		if !ok {
			return nil, fmt.Errorf("%w: no KCQL statement for topic %q",
				sinkerrors.ErrConfig, tp.Topic)
		}

		offset, found, err := s.seekPartition(ctx, tp, tn)
		if err != nil {
			return nil, err
		}
		if found {
			committed[tp] = offset
			s.logger.Info("recovered committed offset",
				"topic", tp.Topic,
				"partition", tp.Partition,
				"offset", offset,
			)
		} else {
			s.logger.Info("no committed objects found",
				"topic", tp.Topic,
				"partition", tp.Partition,
			)
		}
	}
	return committed, nil
}

func (s *Seeker) seekPartition(ctx context.Context, tp sink.TopicPartition, tn TopicNaming) (int64, bool, error) {
	objects, err := s.client.List(ctx, tn.Naming.ListPrefix(tp))
	if err != nil {
		return 0, false, err
	}

	pattern := tn.Naming.OffsetPattern(tp, tn.Format)
	var max int64
	found := false
	for _, obj := range objects {
		m := pattern.FindStringSubmatch(obj.Key)
		if m == nil {
			continue
		}
		offset, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		if !found || offset > max {
			max = offset
			found = true
		}
	}
	return max, found, nil
}
