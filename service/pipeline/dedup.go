package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper reports whether a message key was already seen, marking it
// seen as a side effect. Release gives a claimed key back so a failed
// ingest can be retried.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisDeduper claims keys with SET NX so the first writer wins across
// every server and worker sharing the Redis instance.
type RedisDeduper struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewRedisDeduper(client redis.Cmdable, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl, prefix: "tajiri:sms:"}
}

func (d *RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	claimed, err := d.client.SetNX(ctx, d.prefix+key, 1, d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !claimed, nil
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, d.prefix+key).Err()
}

// MessageKey hashes the fields that identify a delivered SMS.
func MessageKey(phone, sender, text string) string {
	h := sha256.New()
	h.Write([]byte(phone))
	h.Write([]byte{0})
	h.Write([]byte(sender))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
