package lookup

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

const metaKeyPrefix = "ytmeta:"

// YouTubeResolver fetches video metadata from YouTube, with resolved
// entries cached in Redis so repeated adds of a popular id stay cheap.
type YouTubeResolver struct {
	client youtube.Client
	rdb    *redis.Client
	ttl    time.Duration
}

// NewYouTubeResolver creates a resolver with a Redis metadata cache. rdb
// may be nil, which disables caching.
func NewYouTubeResolver(rdb *redis.Client) *YouTubeResolver {
	return &YouTubeResolver{
		rdb: rdb,
		ttl: time.Duration(viper.GetInt("cache.metadata")) * time.Second,
	}
}

// Resolve returns title and thumbnail for videoID. A response without a
// title or thumbnail is ErrBadMetadata: unusable for a queue entry.
func (yr *YouTubeResolver) Resolve(ctx context.Context, videoID string) (*Metadata, error) {
	// Try Redis
	if yr.rdb != nil {
		cached, err := yr.rdb.Get(ctx, metaKeyPrefix+videoID).Result()
		if err == nil && cached != "" {
			var meta Metadata
			if err := json.Unmarshal([]byte(cached), &meta); err == nil {
				return &meta, nil
			}
		}
	}

	// Fetch from Youtube
	video, err := yr.client.GetVideoContext(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if video.Title == "" || len(video.Thumbnails) == 0 || video.Thumbnails[0].URL == "" {
		return nil, ErrBadMetadata
	}
	meta := &Metadata{
		Title:        video.Title,
		ThumbnailURL: video.Thumbnails[0].URL,
	}

	// Store in Redis
	if yr.rdb != nil {
		data, _ := json.Marshal(meta)
		yr.rdb.Set(ctx, metaKeyPrefix+videoID, data, yr.ttl)
	}

	return meta, nil
}
