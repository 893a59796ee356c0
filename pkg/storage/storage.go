// Package storage defines interfaces for object store operations.
//
// The sink writes finished files as whole objects and lists existing
// objects during offset recovery. Streamed staging additionally needs a
// byte stream that is opened before the final object key is known: the
// committed key encodes the last record offset, which only exists at
// commit time. A Stream therefore opens against a staging location and
// is published to its final key on Complete.
package storage

import (
	"context"
	"io"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Client is an object store client scoped to a single bucket.
type Client interface {
	// Put uploads a complete object at the given key.
	Put(ctx context.Context, key string, body io.Reader, size int64) error

	// List returns all object keys under the given prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// OpenStream starts a streamed upload. stagingKey names the temporary
	// location used while the stream is open; nothing ever becomes
	// visible there under the final key's naming pattern. The object
	// appears at the key passed to Complete, and only then.
	OpenStream(ctx context.Context, stagingKey string) (Stream, error)

	// Close releases client resources.
	Close() error
}

// Stream is an in-progress streamed upload.
type Stream interface {
	io.Writer

	// Complete publishes everything written as one object at the final
	// key and reclaims the staging location.
	Complete(ctx context.Context, key string) error

	// Abort cancels the upload. No partial object becomes visible.
	Abort(ctx context.Context) error
}
