// Package errors defines sink-specific error types and sentinel errors.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/aws/smithy-go"

	"github.com/jittakal/kafs3sink/pkg/sink"
)

// Sentinel errors for common conditions.
var (
	ErrConfig          = errors.New("invalid sink configuration")
	ErrRecordType      = errors.New("record type not accepted")
	ErrHeaderNotFound  = errors.New("partition header not found")
	ErrNonPrimitiveKey = errors.New("record key is not a primitive")
	ErrStageCorrupted  = errors.New("local stage corrupted")
	ErrTaskStopped     = errors.New("task is stopped")
	ErrWriterClosed    = errors.New("writer is closed")
)

// StoreError represents an object store operation failure.
type StoreError struct {
	Operation string
	Key       string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error: operation=%s key=%s: %v", e.Operation, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the underlying store failure is transient.
func (e *StoreError) IsRetryable() bool {
	return isTransient(e.Err)
}

// CommitError represents a failed file commit for a kafka partition.
type CommitError struct {
	TopicPartition sink.TopicPartition
	LastOffset     int64
	Err            error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit error: partition=%s last_offset=%d: %v",
		e.TopicPartition, e.LastOffset, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the commit can be retried with the open file
// state preserved.
func (e *CommitError) IsRetryable() bool {
	return IsRetryable(e.Err)
}

// RetriableError marks an error that should be surfaced to the upstream
// runtime as retriable: the current put is aborted, open file state is
// preserved and the batch will be redelivered after the backoff interval.
type RetriableError struct {
	Err error
}

func (e *RetriableError) Error() string {
	return fmt.Sprintf("retriable: %v", e.Err)
}

func (e *RetriableError) Unwrap() error {
	return e.Err
}

// Retryable defines an interface for errors that can indicate if they are
// retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable. It first checks the
// Retryable interface, then falls back to transient store classification.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var re *RetriableError
	if errors.As(err, &re) {
		return true
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	return isTransient(err)
}

// isTransient classifies raw store failures: connection errors, timeouts,
// throttling and 5xx responses are transient; 4xx and auth failures are
// fatal.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var httpErr interface{ HTTPStatusCode() int }
	if errors.As(err, &httpErr) {
		code := httpErr.HTTPStatusCode()
		return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "Throttling", "ThrottlingException", "RequestTimeout",
			"InternalError", "ServiceUnavailable":
			return true
		}
		return false
	}

	return false
}

// IsStageCorruption reports whether the error indicates the local staging
// file vanished between writes. The affected open file is dropped and
// processing continues.
func IsStageCorruption(err error) bool {
	return errors.Is(err, ErrStageCorrupted)
}
