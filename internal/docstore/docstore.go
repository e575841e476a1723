// Package docstore adapts the object storage that holds uploaded verification
// documents. The pipeline never handles raw uploads; it works with opaque
// storage paths, temporary signed URLs for the oracle, and direct downloads
// for the deterministic parser.
package docstore

import (
	"context"
	"time"
)

// Storage is the object-storage port.
type Storage interface {
	// SignedURL issues a temporary read URL for a stored document.
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
	// Download fetches the raw document bytes.
	Download(ctx context.Context, path string) ([]byte, error)
}
