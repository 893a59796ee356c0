// Package kcql parses the sink's KCQL statements.
//
// One statement binds a source topic to a destination bucket and prefix
// and selects the encoding, commit thresholds, partitioning scheme and
// partitioner mode:
//
//	INSERT INTO bucket:prefix SELECT * FROM topic
//	    [PARTITIONBY sel,...] [STOREAS `FORMAT`]
//	    [WITHPARTITIONER=Values|KeysAndValues]
//	    [WITH_FLUSH_COUNT=N] [WITH_FLUSH_SIZE=N] [WITH_FLUSH_INTERVAL=SECONDS]
package kcql

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jittakal/kafs3sink/internal/commit"
	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	"github.com/jittakal/kafs3sink/internal/partition"
	"github.com/jittakal/kafs3sink/pkg/format"
)

// Statement is one parsed and validated KCQL statement.
type Statement struct {
	Bucket          string
	Prefix          string
	Topic           string
	Format          format.Format
	PartitionFields []partition.Field
	PartitionerMode partition.Mode
	Flush           commit.Config
}

// Naming returns the object naming strategy the statement implies:
// hierarchical without PARTITIONBY, partitioned with it.
func (s *Statement) Naming() partition.Strategy {
	if len(s.PartitionFields) == 0 {
		return partition.Hierarchical{Prefix: s.Prefix}
	}
	return partition.Partitioned{Prefix: s.Prefix, Mode: s.PartitionerMode}
}

// CommitPolicy builds the statement's commit policy, falling back to the
// defaults when no WITH_FLUSH_* threshold is set.
func (s *Statement) CommitPolicy() (*commit.Policy, error) {
	if s.Flush.Count == 0 && s.Flush.Bytes == 0 && s.Flush.Interval == 0 {
		return commit.Default(), nil
	}
	return commit.NewPolicy(s.Flush)
}

// ParseAll parses a semicolon-separated list of statements. Duplicate
// source topics are rejected.
func ParseAll(raw string) ([]Statement, error) {
	var statements []Statement
	seen := make(map[string]bool)

	for _, part := range strings.Split(raw, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		stmt, err := Parse(part)
		if err != nil {
			return nil, err
		}
		if seen[stmt.Topic] {
			return nil, fmt.Errorf("%w: duplicate KCQL statement for topic %q",
				sinkerrors.ErrConfig, stmt.Topic)
		}
		seen[stmt.Topic] = true
		statements = append(statements, stmt)
	}

	if len(statements) == 0 {
		return nil, fmt.Errorf("%w: no KCQL statements configured", sinkerrors.ErrConfig)
	}
	return statements, nil
}

// Parse parses and validates a single statement.
func Parse(raw string) (Statement, error) {
	tokens := strings.Fields(raw)
	stmt := Statement{
		Format:          format.FormatJSON,
		PartitionerMode: partition.ModeKeysAndValues,
	}

	i := 0
	next := func() (string, bool) {
		if i >= len(tokens) {
			return "", false
		}
		t := tokens[i]
		i++
		return t, true
	}

	expect := func(keyword string) error {
		t, ok := next()
		if !ok || !strings.EqualFold(t, keyword) {
			return fmt.Errorf("%w: expected %s in KCQL statement", sinkerrors.ErrConfig, keyword)
		}
		return nil
	}

	if err := expect("INSERT"); err != nil {
		return stmt, err
	}
	if err := expect("INTO"); err != nil {
		return stmt, err
	}

	target, ok := next()
	if !ok {
		return stmt, fmt.Errorf("%w: missing INSERT INTO target", sinkerrors.ErrConfig)
	}
	bucket, prefix, found := strings.Cut(target, ":")
	if !found || bucket == "" || prefix == "" {
		return stmt, fmt.Errorf("%w: INSERT INTO target must be bucket:prefix, got %q",
			sinkerrors.ErrConfig, target)
	}
	if strings.Contains(prefix, "/") {
		return stmt, fmt.Errorf("%w: nested prefixes are not supported: %q",
			sinkerrors.ErrConfig, prefix)
	}
	stmt.Bucket = bucket
	stmt.Prefix = prefix

	if err := expect("SELECT"); err != nil {
		return stmt, err
	}
	if err := expect("*"); err != nil {
		return stmt, err
	}
	if err := expect("FROM"); err != nil {
		return stmt, err
	}
	topic, ok := next()
	if !ok {
		return stmt, fmt.Errorf("%w: missing source topic", sinkerrors.ErrConfig)
	}
	stmt.Topic = topic

	for {
		token, ok := next()
		if !ok {
			break
		}
		upper := strings.ToUpper(token)

		switch {
		case upper == "PARTITIONBY":
			selectors := collectList(tokens, &i)
			if len(selectors) == 0 {
				return stmt, fmt.Errorf("%w: PARTITIONBY needs at least one selector",
					sinkerrors.ErrConfig)
			}
			fields, err := partition.ParseFields(selectors)
			if err != nil {
				return stmt, err
			}
			stmt.PartitionFields = fields

		case upper == "STOREAS":
			name, ok := next()
			if !ok {
				return stmt, fmt.Errorf("%w: STOREAS needs a format", sinkerrors.ErrConfig)
			}
			f, err := format.Parse(strings.Trim(name, "`"))
			if err != nil {
				return stmt, fmt.Errorf("%w: %v", sinkerrors.ErrConfig, err)
			}
			stmt.Format = f

		case strings.HasPrefix(upper, "WITHPARTITIONER="):
			mode, err := partition.ParseMode(token[len("WITHPARTITIONER="):])
			if err != nil {
				return stmt, fmt.Errorf("%w: %v", sinkerrors.ErrConfig, err)
			}
			stmt.PartitionerMode = mode

		case strings.HasPrefix(upper, "WITH_FLUSH_COUNT="):
			n, err := parseThreshold(token[len("WITH_FLUSH_COUNT="):])
			if err != nil {
				return stmt, fmt.Errorf("%w: WITH_FLUSH_COUNT: %v", sinkerrors.ErrConfig, err)
			}
			stmt.Flush.Count = int(n)

		case strings.HasPrefix(upper, "WITH_FLUSH_SIZE="):
			n, err := parseThreshold(token[len("WITH_FLUSH_SIZE="):])
			if err != nil {
				return stmt, fmt.Errorf("%w: WITH_FLUSH_SIZE: %v", sinkerrors.ErrConfig, err)
			}
			stmt.Flush.Bytes = n

		case strings.HasPrefix(upper, "WITH_FLUSH_INTERVAL="):
			n, err := parseThreshold(token[len("WITH_FLUSH_INTERVAL="):])
			if err != nil {
				return stmt, fmt.Errorf("%w: WITH_FLUSH_INTERVAL: %v", sinkerrors.ErrConfig, err)
			}
			stmt.Flush.Interval = time.Duration(n) * time.Second

		default:
			return stmt, fmt.Errorf("%w: unexpected KCQL token %q", sinkerrors.ErrConfig, token)
		}
	}

	if err := validate(&stmt); err != nil {
		return stmt, err
	}
	return stmt, nil
}

// validate applies the cross-clause constraints.
func validate(stmt *Statement) error {
	for _, f := range stmt.PartitionFields {
		if f.Source == partition.SourceTopic || f.Source == partition.SourcePartition {
			if stmt.PartitionerMode != partition.ModeValues {
				return fmt.Errorf("%w: _topic and _partition selectors require WITHPARTITIONER=Values",
					sinkerrors.ErrConfig)
			}
		}
	}
	return nil
}

func parseThreshold(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed threshold %q", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("threshold must be positive, got %d", n)
	}
	return n, nil
}

// collectList consumes the comma-separated selector list that follows
// PARTITIONBY. Selectors may be split across tokens after commas.
func collectList(tokens []string, i *int) []string {
	var joined strings.Builder
	for *i < len(tokens) {
		t := tokens[*i]
		if joined.Len() > 0 && !strings.HasSuffix(joined.String(), ",") && !strings.HasPrefix(t, ",") {
			break
		}
		joined.WriteString(t)
		*i++
	}
	var selectors []string
	for _, s := range strings.Split(joined.String(), ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			selectors = append(selectors, s)
		}
	}
	return selectors
}
