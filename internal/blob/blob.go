// Package blob abstracts report file storage as a key-addressed store with
// time-limited retrieval URLs.
package blob

import (
	"context"
	"time"
)

// Store is the key -> URL blob store the export pipeline writes reports to.
type Store interface {
	// Put uploads the object under key, replacing any previous content.
	Put(ctx context.Context, key, contentType string, data []byte) error

	// PresignGet returns a time-limited URL granting read access to key
	// without further authentication, plus the URL's expiry time.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error)
}
