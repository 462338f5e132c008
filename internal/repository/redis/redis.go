package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/tuncerburak97/gozcu/internal/model"
)

// RedisRepository keeps the newest records in a capped list, newest first.
type RedisRepository struct {
	client *redis.Client
	key    string
	maxLen int64
}

func NewRedisRepository(ctx context.Context, opts *redis.Options, key string, maxLen int64) (*RedisRepository, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to connect to Redis: %w", err)
	}
	return newRedisRepository(client, key, maxLen), nil
}

func newRedisRepository(client *redis.Client, key string, maxLen int64) *RedisRepository {
	return &RedisRepository{client: client, key: key, maxLen: maxLen}
}

func (r *RedisRepository) SaveRecords(ctx context.Context, records []*model.ArchivedRecord) error {
	if len(records) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(records))
	for _, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", rec.ID, err)
		}
		values = append(values, b)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, values...)
	if r.maxLen > 0 {
		pipe.LTrim(ctx, r.key, 0, r.maxLen-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	zerolog.Ctx(ctx).Debug().Int("count", len(records)).Str("key", r.key).Msg("Saved records to Redis")
	return nil
}

// Migrate only checks connectivity; lists need no schema.
func (r *RedisRepository) Migrate(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}
