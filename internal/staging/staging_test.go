package staging

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	"github.com/jittakal/kafs3sink/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		raw     string
		want    Mode
		wantErr bool
	}{
		{"", ModeStreamed, false},
		{"Streamed", ModeStreamed, false},
		{"BuildLocal", ModeBuildLocal, false},
		{"buildlocal", ModeBuildLocal, false},
		{"bogus", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestLocalStageCommit(t *testing.T) {
	client := storage.NewMemoryClient()
	factory, err := NewLocalFactory(t.TempDir(), client, testLogger())
	if err != nil {
		t.Fatalf("NewLocalFactory() error = %v", err)
	}

	stage, err := factory.New(context.Background(), "bk/.staging/t_1_0.json.tmp")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := stage.Write([]byte("hello ")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := stage.Write([]byte("world")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if stage.Size() != 11 {
		t.Errorf("Size() = %d, want 11", stage.Size())
	}

	if err := stage.Commit(context.Background(), "bk/t/1/1.json"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	data, ok := client.Object("bk/t/1/1.json")
	if !ok {
		t.Fatal("object not published")
	}
	if string(data) != "hello world" {
		t.Errorf("object content = %q, want hello world", data)
	}
}

func TestLocalStageCommitRetry(t *testing.T) {
	client := storage.NewMemoryClient()
	factory, _ := NewLocalFactory(t.TempDir(), client, testLogger())
	stage, _ := factory.New(context.Background(), "k")
	stage.Write([]byte("data"))

	client.FailPuts(errors.New("unavailable"))
	if err := stage.Commit(context.Background(), "bk/t/1/0.json"); err == nil {
		t.Fatal("Commit() should fail while puts fail")
	}

	// Stage survives a failed upload; a retried commit succeeds.
	client.FailPuts(nil)
	if err := stage.Commit(context.Background(), "bk/t/1/0.json"); err != nil {
		t.Fatalf("retried Commit() error = %v", err)
	}
	if data, ok := client.Object("bk/t/1/0.json"); !ok || string(data) != "data" {
		t.Errorf("object = %q, %v; want data, true", data, ok)
	}
}

func TestLocalStageCorruption(t *testing.T) {
	dir := t.TempDir()
	client := storage.NewMemoryClient()
	factory, _ := NewLocalFactory(dir, client, testLogger())
	stage, _ := factory.New(context.Background(), "key")
	stage.Write([]byte("x"))

	// Simulate external deletion of the staging file between writes.
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one stage file, got %v (%v)", entries, err)
	}
	os.Remove(filepath.Join(dir, entries[0].Name()))

	_, err = stage.Write([]byte("y"))
	if !errors.Is(err, sinkerrors.ErrStageCorrupted) {
		t.Errorf("Write() error = %v, want ErrStageCorrupted", err)
	}
}

func TestLocalStageDiscard(t *testing.T) {
	dir := t.TempDir()
	client := storage.NewMemoryClient()
	factory, _ := NewLocalFactory(dir, client, testLogger())
	stage, _ := factory.New(context.Background(), "key")
	stage.Write([]byte("x"))

	if err := stage.Discard(context.Background()); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("stage directory not empty after discard: %v", entries)
	}
	if len(client.Keys()) != 0 {
		t.Errorf("objects published after discard: %v", client.Keys())
	}
}

func TestStreamedStage(t *testing.T) {
	client := storage.NewMemoryClient()
	factory := NewStreamedFactory(client)

	stage, err := factory.New(context.Background(), "bk/.staging/t_0_0.json.tmp")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	stage.Write([]byte("abc"))
	if stage.Size() != 3 {
		t.Errorf("Size() = %d, want 3", stage.Size())
	}

	// Nothing visible before commit.
	if len(client.Keys()) != 0 {
		t.Errorf("objects visible before commit: %v", client.Keys())
	}

	if err := stage.Commit(context.Background(), "bk/t/0/0.json"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if data, ok := client.Object("bk/t/0/0.json"); !ok || string(data) != "abc" {
		t.Errorf("object = %q, %v; want abc", data, ok)
	}
}

func TestStreamedStageAbort(t *testing.T) {
	client := storage.NewMemoryClient()
	factory := NewStreamedFactory(client)
	stage, _ := factory.New(context.Background(), "staging")
	stage.Write([]byte("abc"))

	if err := stage.Discard(context.Background()); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if len(client.Keys()) != 0 {
		t.Errorf("objects visible after abort: %v", client.Keys())
	}
}
