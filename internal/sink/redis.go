package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
)

const (
	DefaultStreamKey    = "purifier:snapshots"
	DefaultStreamMaxLen = 10000

	snapshotField = "snapshot"
)

// streamClient is the subset of *redis.Client the stream sink uses.
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XRevRangeN(ctx context.Context, stream, start, stop string, count int64) *redis.XMessageSliceCmd
	Close() error
}

// RedisStream appends each snapshot as JSON to a capped Redis stream so an
// external dashboard can follow the controller.
type RedisStream struct {
	client streamClient
	key    string
	maxLen int64
}

// NewRedisStream connects to url and verifies the server is reachable.
func NewRedisStream(ctx context.Context, url, key string, maxLen int64) (*RedisStream, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisStream(client, key, maxLen), nil
}

func newRedisStream(client streamClient, key string, maxLen int64) *RedisStream {
	if key == "" {
		key = DefaultStreamKey
	}
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &RedisStream{client: client, key: key, maxLen: maxLen}
}

func (r *RedisStream) Name() string { return "redis" }

func (r *RedisStream) Publish(ctx context.Context, s model.Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.key,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{snapshotField: string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", r.key, err)
	}
	return nil
}

// Latest reads back the newest snapshot on the stream.
func (r *RedisStream) Latest(ctx context.Context) (model.Snapshot, bool, error) {
	msgs, err := r.client.XRevRangeN(ctx, r.key, "+", "-", 1).Result()
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("xrevrange %s: %w", r.key, err)
	}
	if len(msgs) == 0 {
		return model.Snapshot{}, false, nil
	}

	raw, ok := msgs[0].Values[snapshotField].(string)
	if !ok {
		return model.Snapshot{}, false, fmt.Errorf("stream entry %s has no %s field", msgs[0].ID, snapshotField)
	}
	var s model.Snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("decode stream entry %s: %w", msgs[0].ID, err)
	}
	return s, true, nil
}

func (r *RedisStream) Close() error {
	return r.client.Close()
}
