package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Layout shared with the legacy persistence: one hash per room with the two
// list documents as fields. No TTL; an absent key means empty lists.
const (
	streamKeyPrefix = "stream:"
	fieldSongs      = "songsList"
	fieldHistory    = "songsHistory"
)

type redisBackend struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(rdb *redis.Client) Store {
	return &redisBackend{rdb: rdb}
}

func (b *redisBackend) BackendType() BackendType { return BackendRedis }

func streamKey(roomID string) string { return streamKeyPrefix + roomID }

func (b *redisBackend) Load(ctx context.Context, roomID string) ([]byte, []byte, error) {
	vals, err := b.rdb.HMGet(ctx, streamKey(roomID), fieldSongs, fieldHistory).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	var songs, history []byte
	if s, ok := vals[0].(string); ok {
		songs = []byte(s)
	}
	if h, ok := vals[1].(string); ok {
		history = []byte(h)
	}
	return songs, history, nil
}

func (b *redisBackend) SaveSongs(ctx context.Context, roomID string, data []byte) error {
	return b.rdb.HSet(ctx, streamKey(roomID), fieldSongs, string(data)).Err()
}

func (b *redisBackend) SaveHistory(ctx context.Context, roomID string, data []byte) error {
	return b.rdb.HSet(ctx, streamKey(roomID), fieldHistory, string(data)).Err()
}
