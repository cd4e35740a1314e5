package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	logx "songbot/pkg/logx"
)

const defaultAuditLimit = 5000

// redisStore keeps the subscriber set as one JSON value so a save replaces
// it atomically. Markers live in a hash and audit entries in a capped list.
type redisStore struct {
	client     *redis.Client
	log        logx.Logger
	prefix     string
	auditLimit int64
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: 4,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable("redis ping", err)
	}
	return newRedisStore(client, cfg, log), nil
}

func newRedisStore(client *redis.Client, cfg Config, log logx.Logger) *redisStore {
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "songbot:"
	}
	limit := int64(cfg.AuditLimit)
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	return &redisStore{client: client, log: log, prefix: prefix, auditLimit: limit}
}

func (s *redisStore) key(name string) string { return s.prefix + name }

func (s *redisStore) LoadSubscribers(ctx context.Context) ([]int64, error) {
	raw, err := s.client.Get(ctx, s.key("subscribers")).Bytes()
	if errors.Is(err, redis.Nil) {
		return []int64{}, nil
	}
	if err != nil {
		return nil, unavailable("redis get subscribers", err)
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, unavailable("decode subscribers", err)
	}
	return ids, nil
}

func (s *redisStore) SaveSubscribers(ctx context.Context, ids []int64) error {
	out := append([]int64{}, ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	b, err := json.Marshal(out)
	if err != nil {
		return unavailable("encode subscribers", err)
	}
	return unavailable("redis set subscribers", s.client.Set(ctx, s.key("subscribers"), b, 0).Err())
}

func (s *redisStore) GetMarker(ctx context.Context, key string) (time.Time, bool, error) {
	raw, err := s.client.HGet(ctx, s.key("markers"), key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, unavailable("redis get marker", err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, unavailable("parse marker", err)
	}
	return at, true, nil
}

func (s *redisStore) PutMarker(ctx context.Context, key string, at time.Time) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	err := s.client.HSet(ctx, s.key("markers"), key, at.UTC().Format(time.RFC3339Nano)).Err()
	return unavailable("redis put marker", err)
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return unavailable("encode audit", err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key("audit"), b)
	pipe.LTrim(ctx, s.key("audit"), -s.auditLimit, -1)
	_, err = pipe.Exec(ctx)
	return unavailable("redis append audit", err)
}

func (s *redisStore) Close() error { return s.client.Close() }
