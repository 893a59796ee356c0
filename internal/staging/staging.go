// Package staging accumulates file bytes between open and commit.
//
// Two modes exist: BuildLocal stages the file on local disk and uploads it
// as a single put on commit; Streamed writes directly into a streamed
// store upload that only becomes visible on commit.
package staging

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Mode selects the staging strategy.
type Mode string

const (
	ModeBuildLocal Mode = "BuildLocal"
	ModeStreamed   Mode = "Streamed"
)

// ParseMode resolves a write-mode config token.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "streamed":
		return ModeStreamed, nil
	case "buildlocal":
		return ModeBuildLocal, nil
	default:
		return "", fmt.Errorf("unknown write mode: %q", s)
	}
}

// Stage is the byte accumulator behind one open file. It is exclusively
// owned by that file while open. The final object key encodes the last
// record offset and so only exists at commit time; stages are therefore
// opened against a staging location and published on Commit.
type Stage interface {
	io.Writer

	// Size returns the number of bytes accepted so far.
	Size() int64

	// Commit publishes the complete object at the given key and reclaims
	// staging resources.
	Commit(ctx context.Context, key string) error

	// Discard drops the stage without publishing anything.
	Discard(ctx context.Context) error
}

// Factory opens stages for new files.
type Factory interface {
	// New opens a stage. stagingKey names the temporary location while
	// the file is open.
	New(ctx context.Context, stagingKey string) (Stage, error)

	// Mode reports the staging strategy.
	Mode() Mode
}
