package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	logx "pathsched/pkg/logx"

	"github.com/redis/go-redis/v9"
)

// replaceScript sets a hash field only if it already exists.
var replaceScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
  return 1
end
return 0
`)

// replaceIfScript sets a hash field only while it holds ARGV[2].
var replaceIfScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[1]) == ARGV[2] then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
  return 1
end
return 0
`)

// removeIfScript deletes a hash field only while it holds ARGV[2].
var removeIfScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[1]) == ARGV[2] then
  redis.call('HDEL', KEYS[1], ARGV[1])
  return 1
end
return 0
`)

// redisBackend stores each collection as one hash at <prefix>:<collection>.
type redisBackend struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Backend, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisBackend(client, cfg.Prefix, log), nil
}

func newRedisBackend(client *redis.Client, prefix string, log logx.Logger) *redisBackend {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "pathsched"
	}
	return &redisBackend{client: client, prefix: prefix, log: log}
}

func (r *redisBackend) hash(c Collection) string { return r.prefix + ":" + string(c) }

func (r *redisBackend) Close() error { return r.client.Close() }

func (r *redisBackend) Get(ctx context.Context, c Collection, key string) ([]byte, bool, error) {
	b, err := r.client.HGet(ctx, r.hash(c), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *redisBackend) Put(ctx context.Context, c Collection, key string, value []byte) error {
	return r.client.HSet(ctx, r.hash(c), key, value).Err()
}

func (r *redisBackend) PutIfAbsent(ctx context.Context, c Collection, key string, value []byte) (bool, error) {
	return r.client.HSetNX(ctx, r.hash(c), key, value).Result()
}

func (r *redisBackend) ReplaceIf(ctx context.Context, c Collection, key string, expected, value []byte) (bool, error) {
	n, err := replaceIfScript.Run(ctx, r.client, []string{r.hash(c)}, key, expected, value).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *redisBackend) RemoveIf(ctx context.Context, c Collection, key string, expected []byte) (bool, error) {
	n, err := removeIfScript.Run(ctx, r.client, []string{r.hash(c)}, key, expected).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *redisBackend) Replace(ctx context.Context, c Collection, key string, value []byte) (bool, error) {
	n, err := replaceScript.Run(ctx, r.client, []string{r.hash(c)}, key, value).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *redisBackend) Remove(ctx context.Context, c Collection, key string) (bool, error) {
	n, err := r.client.HDel(ctx, r.hash(c), key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *redisBackend) Len(ctx context.Context, c Collection) (int, error) {
	n, err := r.client.HLen(ctx, r.hash(c)).Result()
	return int(n), err
}

func (r *redisBackend) Entries(ctx context.Context, c Collection) ([]Entry, error) {
	m, err := r.client.HGetAll(ctx, r.hash(c)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(m))
	for k, v := range m {
		out = append(out, Entry{Key: k, Value: []byte(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
