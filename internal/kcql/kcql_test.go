package kcql

import (
	"errors"
	"testing"
	"time"

	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	"github.com/jittakal/kafs3sink/internal/partition"
	"github.com/jittakal/kafs3sink/pkg/format"
)

func TestParseMinimal(t *testing.T) {
	stmt, err := Parse("INSERT INTO mybucket:backups SELECT * FROM myTopic")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if stmt.Bucket != "mybucket" {
		t.Errorf("Bucket = %q, want mybucket", stmt.Bucket)
	}
	if stmt.Prefix != "backups" {
		t.Errorf("Prefix = %q, want backups", stmt.Prefix)
	}
	if stmt.Topic != "myTopic" {
		t.Errorf("Topic = %q, want myTopic", stmt.Topic)
	}
	if stmt.Format != format.FormatJSON {
		t.Errorf("Format = %v, want JSON", stmt.Format)
	}
	if stmt.PartitionerMode != partition.ModeKeysAndValues {
		t.Errorf("PartitionerMode = %v, want KeysAndValues", stmt.PartitionerMode)
	}
	if _, ok := stmt.Naming().(partition.Hierarchical); !ok {
		t.Errorf("Naming() = %T, want Hierarchical", stmt.Naming())
	}
}

func TestParseFull(t *testing.T) {
	raw := "INSERT INTO b:p SELECT * FROM t PARTITIONBY name,title,salary STOREAS `PARQUET` " +
		"WITHPARTITIONER=Values WITH_FLUSH_COUNT=3 WITH_FLUSH_SIZE=1024 WITH_FLUSH_INTERVAL=30"
	stmt, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if stmt.Format != format.FormatParquet {
		t.Errorf("Format = %v, want PARQUET", stmt.Format)
	}
	if len(stmt.PartitionFields) != 3 {
		t.Fatalf("PartitionFields = %d, want 3", len(stmt.PartitionFields))
	}
	if stmt.PartitionerMode != partition.ModeValues {
		t.Errorf("PartitionerMode = %v, want Values", stmt.PartitionerMode)
	}
	if stmt.Flush.Count != 3 || stmt.Flush.Bytes != 1024 || stmt.Flush.Interval != 30*time.Second {
		t.Errorf("Flush = %+v, want count=3 bytes=1024 interval=30s", stmt.Flush)
	}
	if _, ok := stmt.Naming().(partition.Partitioned); !ok {
		t.Errorf("Naming() = %T, want Partitioned", stmt.Naming())
	}
}

func TestParseHeaderSelectors(t *testing.T) {
	stmt, err := Parse("INSERT INTO b:p SELECT * FROM t PARTITIONBY _header.phonePrefix,_header.region STOREAS `CSV`")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(stmt.PartitionFields) != 2 {
		t.Fatalf("PartitionFields = %d, want 2", len(stmt.PartitionFields))
	}
	if stmt.PartitionFields[0].HeaderName != "phonePrefix" {
		t.Errorf("HeaderName = %q, want phonePrefix", stmt.PartitionFields[0].HeaderName)
	}
	if stmt.Format != format.FormatCSV {
		t.Errorf("Format = %v, want CSV", stmt.Format)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"nested prefix", "INSERT INTO b:a/b SELECT * FROM t"},
		{"missing prefix", "INSERT INTO b SELECT * FROM t"},
		{"slash in partition path", "INSERT INTO b:p SELECT * FROM t PARTITIONBY a/b"},
		{"unknown format", "INSERT INTO b:p SELECT * FROM t STOREAS `XML`"},
		{"bad flush count", "INSERT INTO b:p SELECT * FROM t WITH_FLUSH_COUNT=abc"},
		{"zero flush count", "INSERT INTO b:p SELECT * FROM t WITH_FLUSH_COUNT=0"},
		{"bad partitioner", "INSERT INTO b:p SELECT * FROM t WITHPARTITIONER=Bogus"},
		{"topic selector without values mode", "INSERT INTO b:p SELECT * FROM t PARTITIONBY _topic"},
		{"not kcql", "SELECT * FROM t"},
		{"missing topic", "INSERT INTO b:p SELECT * FROM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.raw); !errors.Is(err, sinkerrors.ErrConfig) {
				t.Errorf("Parse(%q) error = %v, want ErrConfig", tt.raw, err)
			}
		})
	}
}

func TestParseTopicSelectorWithValuesMode(t *testing.T) {
	stmt, err := Parse("INSERT INTO b:p SELECT * FROM t PARTITIONBY _topic,_partition WITHPARTITIONER=Values")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(stmt.PartitionFields) != 2 {
		t.Errorf("PartitionFields = %d, want 2", len(stmt.PartitionFields))
	}
}

func TestParseAll(t *testing.T) {
	statements, err := ParseAll(
		"INSERT INTO b:one SELECT * FROM alpha; INSERT INTO b:two SELECT * FROM beta")
	if err != nil {
		t.Fatalf("ParseAll() error = %v", err)
	}
	if len(statements) != 2 {
		t.Fatalf("statements = %d, want 2", len(statements))
	}
	if statements[0].Topic != "alpha" || statements[1].Topic != "beta" {
		t.Errorf("topics = %q/%q, want alpha/beta", statements[0].Topic, statements[1].Topic)
	}
}

func TestParseAllDuplicateTopic(t *testing.T) {
	_, err := ParseAll("INSERT INTO b:one SELECT * FROM t; INSERT INTO b:two SELECT * FROM t")
	if !errors.Is(err, sinkerrors.ErrConfig) {
		t.Errorf("error = %v, want ErrConfig", err)
	}
}

func TestParseAllEmpty(t *testing.T) {
	if _, err := ParseAll("  ;  "); !errors.Is(err, sinkerrors.ErrConfig) {
		t.Errorf("error = %v, want ErrConfig", err)
	}
}

func TestCommitPolicyDefaults(t *testing.T) {
	stmt, _ := Parse("INSERT INTO b:p SELECT * FROM t")
	policy, err := stmt.CommitPolicy()
	if err != nil {
		t.Fatalf("CommitPolicy() error = %v", err)
	}
	if policy == nil {
		t.Fatal("CommitPolicy() = nil")
	}
}
