// Package commit decides when an open file is flushed to the object store.
package commit

import (
	"fmt"
	"time"
)

// FileState is the observable state of one open file, sampled on every
// put invocation.
type FileState struct {
	RecordCount int
	SizeBytes   int64
	OpenedAt    time.Time
}

// Policy triggers a flush when any configured threshold is met.
// At least one threshold must be set.
type Policy struct {
	maxCount    int
	maxBytes    int64
	maxInterval time.Duration
}

// Config configures a commit policy. Zero values leave the corresponding
// threshold unset.
type Config struct {
	Count    int
	Bytes    int64
	Interval time.Duration
}

// NewPolicy creates a commit policy from the parsed flush settings.
func NewPolicy(cfg Config) (*Policy, error) {
	if cfg.Count < 0 || cfg.Bytes < 0 || cfg.Interval < 0 {
		return nil, fmt.Errorf("flush thresholds must not be negative")
	}
	if cfg.Count == 0 && cfg.Bytes == 0 && cfg.Interval == 0 {
		return nil, fmt.Errorf("at least one flush threshold is required")
	}
	return &Policy{
		maxCount:    cfg.Count,
		maxBytes:    cfg.Bytes,
		maxInterval: cfg.Interval,
	}, nil
}

// Default returns the policy applied when a KCQL statement sets no
// WITH_FLUSH_* thresholds.
func Default() *Policy {
	p, _ := NewPolicy(Config{Count: 50_000, Bytes: 500 * 1024 * 1024, Interval: time.Hour})
	return p
}

// ShouldFlush returns true if any configured threshold is met. Time-based
// evaluation uses the caller-supplied clock so that empty puts drive
// wall-clock rolls.
func (p *Policy) ShouldFlush(state FileState, now time.Time) bool {
	if p.maxCount > 0 && state.RecordCount >= p.maxCount {
		return true
	}
	if p.maxBytes > 0 && state.SizeBytes >= p.maxBytes {
		return true
	}
	if p.maxInterval > 0 && !state.OpenedAt.IsZero() && now.Sub(state.OpenedAt) >= p.maxInterval {
		return true
	}
	return false
}

// Interval returns the configured time threshold, or zero.
func (p *Policy) Interval() time.Duration {
	return p.maxInterval
}
