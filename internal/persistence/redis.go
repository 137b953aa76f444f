package persistence

import (
	"context"
	"fmt"

	"github.com/a-essam23/setlist-sync/pkg/state"
	"github.com/redis/go-redis/v9"
)

// Redis keeps the snapshot in a single hash, field = group id, value = song id.
type Redis struct {
	client *redis.Client
	key    string
}

var _ state.SnapshotStore = (*Redis)(nil)

func NewRedis(addr, key string) *Redis {
	return NewRedisWithClient(redis.NewClient(&redis.Options{Addr: addr}), key)
}

func NewRedisWithClient(client *redis.Client, key string) *Redis {
	return &Redis{client: client, key: key}
}

func (r *Redis) LoadActiveSongs(ctx context.Context) (map[string]string, error) {
	entries, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", r.key, err)
	}
	return entries, nil
}

// FlushActiveSongs swaps the hash contents inside MULTI/EXEC.
func (r *Redis) FlushActiveSongs(ctx context.Context, entries map[string]string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(entries) > 0 {
			fields := make([]any, 0, len(entries)*2)
			for groupID, songID := range entries {
				fields = append(fields, groupID, songID)
			}
			pipe.HSet(ctx, r.key, fields...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("flush %s: %w", r.key, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
