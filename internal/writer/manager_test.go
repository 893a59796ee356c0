package writer

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/jittakal/kafs3sink/internal/commit"
	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	formatimpl "github.com/jittakal/kafs3sink/internal/format"
	"github.com/jittakal/kafs3sink/internal/partition"
	"github.com/jittakal/kafs3sink/internal/staging"
	"github.com/jittakal/kafs3sink/internal/storage"
	pkgformat "github.com/jittakal/kafs3sink/pkg/format"
	"github.com/jittakal/kafs3sink/pkg/sink"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var userSchema = &sink.Schema{Name: "user", Type: sink.TypeStruct, Fields: []sink.SchemaField{
	{Name: "name", Type: sink.TypeString},
	{Name: "title", Type: sink.TypeString, Optional: true},
	{Name: "salary", Type: sink.TypeDouble, Optional: true},
}}

var staffSchema = &sink.Schema{Name: "staff", Type: sink.TypeStruct, Fields: []sink.SchemaField{
	{Name: "name", Type: sink.TypeString},
	{Name: "designation", Type: sink.TypeString, Optional: true},
	{Name: "salary", Type: sink.TypeDouble, Optional: true},
}}

func userRecord(offset int64, name, title string, salary sink.Value) sink.Record {
	return sink.Record{
		Topic:     "myTopic",
		Partition: 1,
		Offset:    offset,
		Value: &sink.Struct{
			Schema: userSchema,
			Values: map[string]sink.Value{
				"name":   sink.String{Value: name},
				"title":  sink.String{Value: title},
				"salary": salary,
			},
		},
	}
}

func staffRecord(offset int64, name string) sink.Record {
	return sink.Record{
		Topic:     "myTopic",
		Partition: 1,
		Offset:    offset,
		Value: &sink.Struct{
			Schema: staffSchema,
			Values: map[string]sink.Value{
				"name": sink.String{Value: name},
			},
		},
	}
}

type commitRecord struct {
	tp         sink.TopicPartition
	nextOffset int64
}

type testHarness struct {
	client  *storage.MemoryClient
	manager *Manager
	commits []commitRecord
}

func newHarness(t *testing.T, flush commit.Config, selectors []string) *testHarness {
	t.Helper()

	policy, err := commit.NewPolicy(flush)
	if err != nil {
		t.Fatalf("NewPolicy() error = %v", err)
	}

	var fields []partition.Field
	if len(selectors) > 0 {
		fields, err = partition.ParseFields(selectors)
		if err != nil {
			t.Fatalf("ParseFields() error = %v", err)
		}
	}

	var naming partition.Strategy = partition.Hierarchical{Prefix: "bk"}
	if len(fields) > 0 {
		naming = partition.Partitioned{Prefix: "bk", Mode: partition.ModeKeysAndValues}
	}

	opener, err := formatimpl.NewOpener(pkgformat.FormatJSON, "")
	if err != nil {
		t.Fatalf("NewOpener() error = %v", err)
	}

	h := &testHarness{client: storage.NewMemoryClient()}
	h.manager = NewManager(
		[]TopicRule{{
			Topic:   "myTopic",
			Builder: partition.NewBuilder(fields),
			Naming:  naming,
			Opener:  opener,
			Policy:  policy,
		}},
		staging.NewStreamedFactory(h.client),
		func(tp sink.TopicPartition, nextOffset int64) {
			h.commits = append(h.commits, commitRecord{tp: tp, nextOffset: nextOffset})
		},
		testLogger(),
		nil,
	)
	return h
}

func TestFlushCountOnePerRecord(t *testing.T) {
	h := newHarness(t, commit.Config{Count: 1}, nil)

	records := []sink.Record{
		userRecord(0, "sam", "mr", sink.Double{Value: 100.43}),
		userRecord(1, "laura", "ms", sink.Double{Value: 429.06}),
		userRecord(2, "tom", "", sink.Null{}),
	}
	if err := h.manager.Put(context.Background(), records); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	want := []string{"bk/myTopic/1/0.json", "bk/myTopic/1/1.json", "bk/myTopic/1/2.json"}
	got := h.client.Keys()
	if len(got) != len(want) {
		t.Fatalf("keys = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	for _, key := range want {
		data, _ := h.client.Object(key)
		if lines := strings.Count(string(data), "\n"); lines != 1 {
			t.Errorf("object %s has %d records, want 1", key, lines)
		}
	}

	if len(h.commits) != 3 {
		t.Fatalf("commits = %d, want 3", len(h.commits))
	}
	if h.commits[2].nextOffset != 3 {
		t.Errorf("last nextOffset = %d, want 3", h.commits[2].nextOffset)
	}
}

func TestFlushSizeTwoRecordsPerFile(t *testing.T) {
	h := newHarness(t, commit.Config{Bytes: 80}, nil)

	records := []sink.Record{
		userRecord(0, "sam", "mr", sink.Double{Value: 100.43}),
		userRecord(1, "laura", "ms", sink.Double{Value: 429.06}),
		userRecord(2, "tom", "", sink.Null{}),
	}
	if err := h.manager.Put(context.Background(), records); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// The first two records exceed the size threshold together; the third
	// stays open.
	keys := h.client.Keys()
	if len(keys) != 1 || keys[0] != "bk/myTopic/1/1.json" {
		t.Fatalf("keys = %v, want [bk/myTopic/1/1.json]", keys)
	}
	data, _ := h.client.Object(keys[0])
	if lines := strings.Count(string(data), "\n"); lines != 2 {
		t.Errorf("committed object has %d records, want 2", lines)
	}
	if h.manager.OpenFileCount() != 1 {
		t.Errorf("OpenFileCount() = %d, want 1", h.manager.OpenFileCount())
	}

	// Close commits the remainder regardless of policy.
	if err := h.manager.Close(context.Background(), []sink.TopicPartition{{Topic: "myTopic", Partition: 1}}); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	keys = h.client.Keys()
	if len(keys) != 2 || keys[1] != "bk/myTopic/1/2.json" {
		t.Errorf("keys after close = %v, want second object at offset 2", keys)
	}
}

func TestStopDiscardsWithoutCommit(t *testing.T) {
	h := newHarness(t, commit.Config{Bytes: 1 << 20}, nil)

	if err := h.manager.Put(context.Background(), []sink.Record{
		userRecord(0, "sam", "mr", sink.Null{}),
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	h.manager.Stop(context.Background())
	if len(h.client.Keys()) != 0 {
		t.Errorf("objects after stop = %v, want none", h.client.Keys())
	}
	if h.manager.OpenFileCount() != 0 {
		t.Errorf("OpenFileCount() = %d, want 0", h.manager.OpenFileCount())
	}
}

func TestSchemaChangeRoll(t *testing.T) {
	h := newHarness(t, commit.Config{Count: 2}, nil)

	records := []sink.Record{
		userRecord(1, "sam", "mr", sink.Double{Value: 100.43}),
		userRecord(2, "laura", "ms", sink.Double{Value: 429.06}),
		userRecord(3, "tom", "", sink.Null{}),
		staffRecord(4, "bobo"),
		staffRecord(5, "momo"),
		staffRecord(6, "coco"),
	}
	if err := h.manager.Put(context.Background(), records); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := h.manager.Close(context.Background(), []sink.TopicPartition{{Topic: "myTopic", Partition: 1}}); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Offsets 1-2 commit on count, 3 rolls on the schema change, 4-5 on
	// count, 6 on close.
	want := []string{
		"bk/myTopic/1/2.json",
		"bk/myTopic/1/3.json",
		"bk/myTopic/1/5.json",
		"bk/myTopic/1/6.json",
	}
	got := h.client.Keys()
	if len(got) != len(want) {
		t.Fatalf("keys = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPartitionedFanOut(t *testing.T) {
	h := newHarness(t, commit.Config{Count: 1}, []string{"name", "title", "salary"})

	if err := h.manager.Put(context.Background(), []sink.Record{
		{
			Topic:     "myTopic",
			Partition: 1,
			Offset:    0,
			Value: &sink.Struct{
				Schema: userSchema,
				Values: map[string]sink.Value{
					"name":  sink.String{Value: "first"},
					"title": sink.String{Value: "primary"},
				},
			},
		},
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	keys := h.client.Keys()
	want := "bk/name=first/title=primary/salary=[missing]/myTopic(1_0).json"
	if len(keys) != 1 || keys[0] != want {
		t.Errorf("keys = %v, want [%s]", keys, want)
	}
}

func TestLogicalPartitionsInterleaveOffsets(t *testing.T) {
	h := newHarness(t, commit.Config{Count: 2}, []string{"name"})

	records := []sink.Record{
		userRecord(1, "alice", "", sink.Null{}),
		userRecord(2, "bob", "", sink.Null{}),
		userRecord(3, "alice", "", sink.Null{}),
		userRecord(4, "bob", "", sink.Null{}),
	}
	if err := h.manager.Put(context.Background(), records); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got := h.client.Keys()
	want := []string{
		"bk/name=alice/myTopic(1_3).json",
		"bk/name=bob/myTopic(1_4).json",
	}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("keys = %v, want %v", got, want)
	}
}

func TestDedupBelowCommittedOffset(t *testing.T) {
	h := newHarness(t, commit.Config{Count: 1}, nil)
	tp := sink.TopicPartition{Topic: "myTopic", Partition: 1}
	h.manager.SetCommittedOffset(tp, 1)

	if err := h.manager.Put(context.Background(), []sink.Record{
		userRecord(0, "sam", "mr", sink.Null{}),
		userRecord(1, "laura", "ms", sink.Null{}),
		userRecord(2, "tom", "", sink.Null{}),
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	keys := h.client.Keys()
	if len(keys) != 1 || keys[0] != "bk/myTopic/1/2.json" {
		t.Errorf("keys = %v, want only the record above the committed offset", keys)
	}
}

func TestTimeBasedFlushOnEmptyPut(t *testing.T) {
	h := newHarness(t, commit.Config{Interval: time.Minute}, nil)

	base := time.Now()
	h.manager.clock = func() time.Time { return base }

	if err := h.manager.Put(context.Background(), []sink.Record{
		userRecord(0, "sam", "mr", sink.Null{}),
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if len(h.client.Keys()) != 0 {
		t.Fatalf("flushed before interval: %v", h.client.Keys())
	}

	h.manager.clock = func() time.Time { return base.Add(2 * time.Minute) }
	if err := h.manager.Put(context.Background(), nil); err != nil {
		t.Fatalf("empty Put() error = %v", err)
	}

	keys := h.client.Keys()
	if len(keys) != 1 || keys[0] != "bk/myTopic/1/0.json" {
		t.Errorf("keys = %v, want time-rolled object at offset 0", keys)
	}
}

func TestMixedCountAndTimeFlushesStayOrdered(t *testing.T) {
	h := newHarness(t, commit.Config{Count: 2, Interval: time.Minute}, []string{"name"})

	base := time.Now()
	h.manager.clock = func() time.Time { return base }

	// One record opens logical partition bob; not due yet.
	if err := h.manager.Put(context.Background(), []sink.Record{
		userRecord(1, "bob", "", sink.Null{}),
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if len(h.client.Keys()) != 0 {
		t.Fatalf("flushed early: %v", h.client.Keys())
	}

	// 70s later a second batch fills logical partition alice to its count
	// threshold while bob's file is now past the time threshold. Both
	// commit in the same end-of-batch pass, smaller last offset first.
	h.manager.clock = func() time.Time { return base.Add(70 * time.Second) }
	if err := h.manager.Put(context.Background(), []sink.Record{
		userRecord(5, "alice", "", sink.Null{}),
		userRecord(6, "alice", "", sink.Null{}),
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if len(h.commits) != 2 {
		t.Fatalf("commits = %d, want 2", len(h.commits))
	}
	if h.commits[0].nextOffset != 2 {
		t.Errorf("first commit nextOffset = %d, want 2 (bob's file, lastOffset 1)",
			h.commits[0].nextOffset)
	}
	if h.commits[1].nextOffset != 7 {
		t.Errorf("second commit nextOffset = %d, want 7 (alice's file, lastOffset 6)",
			h.commits[1].nextOffset)
	}

	want := []string{
		"bk/name=alice/myTopic(1_6).json",
		"bk/name=bob/myTopic(1_1).json",
	}
	got := h.client.Keys()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("keys = %v, want %v", got, want)
	}
}

func TestSchemaRollCommitsSmallerDueFileFirst(t *testing.T) {
	h := newHarness(t, commit.Config{Count: 2, Interval: time.Minute}, []string{"name"})

	base := time.Now()
	h.manager.clock = func() time.Time { return base }

	if err := h.manager.Put(context.Background(), []sink.Record{
		userRecord(1, "bob", "", sink.Null{}),
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// The schema change on alice's second record forces a mid-batch roll;
	// bob's time-expired file has the smaller last offset and must go out
	// first.
	h.manager.clock = func() time.Time { return base.Add(70 * time.Second) }
	if err := h.manager.Put(context.Background(), []sink.Record{
		userRecord(5, "alice", "", sink.Null{}),
		{
			Topic:     "myTopic",
			Partition: 1,
			Offset:    6,
			Value: &sink.Struct{
				Schema: staffSchema,
				Values: map[string]sink.Value{
					"name": sink.String{Value: "alice"},
				},
			},
		},
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if len(h.commits) < 2 {
		t.Fatalf("commits = %d, want at least 2", len(h.commits))
	}
	if h.commits[0].nextOffset != 2 {
		t.Errorf("first commit nextOffset = %d, want 2 (bob before the roll)",
			h.commits[0].nextOffset)
	}
	if h.commits[1].nextOffset != 6 {
		t.Errorf("second commit nextOffset = %d, want 6 (alice's rolled file)",
			h.commits[1].nextOffset)
	}
}

func TestTransientFailurePreservesStateAndRetries(t *testing.T) {
	h := newHarness(t, commit.Config{Count: 1}, nil)

	h.client.FailPuts(syscall.ECONNREFUSED)
	err := h.manager.Put(context.Background(), []sink.Record{
		userRecord(0, "sam", "mr", sink.Null{}),
	})
	if err == nil {
		t.Fatal("Put() should fail while the store is down")
	}
	if !sinkerrors.IsRetryable(err) {
		t.Errorf("error = %v, want retryable", err)
	}
	if len(h.client.Keys()) != 0 {
		t.Errorf("objects visible after failed commit: %v", h.client.Keys())
	}

	// Second attempt still failing.
	if err := h.manager.Put(context.Background(), nil); err == nil {
		t.Fatal("Put() should fail while the store is still down")
	}

	// Store heals; the pending file commits exactly once with the same
	// offset range.
	h.client.FailPuts(nil)
	if err := h.manager.Put(context.Background(), nil); err != nil {
		t.Fatalf("Put() after heal error = %v", err)
	}

	keys := h.client.Keys()
	if len(keys) != 1 || keys[0] != "bk/myTopic/1/0.json" {
		t.Errorf("keys = %v, want exactly one committed object", keys)
	}
	if len(h.commits) != 1 || h.commits[0].nextOffset != 1 {
		t.Errorf("commits = %v, want one commit with nextOffset 1", h.commits)
	}
}

func TestStageCorruptionDropsFileAndContinues(t *testing.T) {
	dir := t.TempDir()
	client := storage.NewMemoryClient()
	factory, err := staging.NewLocalFactory(dir, client, testLogger())
	if err != nil {
		t.Fatalf("NewLocalFactory() error = %v", err)
	}

	policy, _ := commit.NewPolicy(commit.Config{Count: 2})
	opener, _ := formatimpl.NewOpener(pkgformat.FormatJSON, "")
	m := NewManager(
		[]TopicRule{{
			Topic:   "myTopic",
			Builder: partition.NewBuilder(nil),
			Naming:  partition.Hierarchical{Prefix: "bk"},
			Opener:  opener,
			Policy:  policy,
		}},
		factory,
		nil,
		testLogger(),
		nil,
	)

	if err := m.Put(context.Background(), []sink.Record{
		userRecord(0, "sam", "mr", sink.Null{}),
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Delete the stage file out from under the open writer.
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		os.Remove(dir + "/" + e.Name())
	}

	// The next append hits the corruption; the task must keep going.
	if err := m.Put(context.Background(), []sink.Record{
		userRecord(1, "laura", "ms", sink.Null{}),
	}); err != nil {
		t.Fatalf("Put() after corruption error = %v", err)
	}

	// Subsequent records open a fresh file and commit normally.
	if err := m.Put(context.Background(), []sink.Record{
		userRecord(2, "tom", "", sink.Null{}),
		userRecord(3, "ann", "", sink.Null{}),
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	keys := client.Keys()
	if len(keys) != 1 || keys[0] != "bk/myTopic/1/3.json" {
		t.Errorf("keys = %v, want recovered commit at offset 3", keys)
	}
}

func TestUnknownTopicFails(t *testing.T) {
	h := newHarness(t, commit.Config{Count: 1}, nil)
	err := h.manager.Put(context.Background(), []sink.Record{{Topic: "other", Partition: 0, Offset: 0}})
	if err == nil {
		t.Error("Put() with unconfigured topic should fail")
	}
}
