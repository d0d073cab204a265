// Package lookup resolves a content id into the display metadata a queue
// entry carries. The upstream service is fallible and slow; callers are
// expected to drop the triggering request on error rather than retry.
package lookup

import (
	"context"
	"errors"
)

// Metadata is the display data attached to a queued song.
type Metadata struct {
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// ErrBadMetadata reports an upstream response missing the fields a queue
// entry needs.
var ErrBadMetadata = errors.New("malformed video metadata")

// Resolver looks up display metadata for a content id.
type Resolver interface {
	Resolve(ctx context.Context, videoID string) (*Metadata, error)
}
