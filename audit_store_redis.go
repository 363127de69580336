package apisec

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const auditRedisKey = "aud:entries"

// redisAuditStore keeps entries in a sorted set scored by event timestamp,
// bounded to max members. Identifying fields are already anonymized by the
// logger before they reach the store.
type redisAuditStore struct {
	redis  redis.UniversalClient
	prefix string
	max    int
}

// NewRedisAuditStore creates an [AuditStore] backed by Redis. prefix
// namespaces the keys (empty means "apisec"); max bounds retained entries.
func NewRedisAuditStore(client redis.UniversalClient, prefix string, max int) AuditStore {
	if prefix == "" {
		prefix = "apisec"
	}
	if max <= 0 {
		max = 100000
	}
	return &redisAuditStore{redis: client, prefix: prefix, max: max}
}

func (s *redisAuditStore) key() string {
	return s.prefix + ":" + auditRedisKey
}

func (s *redisAuditStore) Append(ctx context.Context, entry AuditEntry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.ZAdd(ctx, s.key(), redis.Z{
		Score:  float64(entry.Timestamp.UnixNano()),
		Member: encoded,
	})
	// Keep only the newest max members.
	pipe.ZRemRangeByRank(ctx, s.key(), 0, int64(-s.max-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (s *redisAuditStore) Query(ctx context.Context, q AuditQuery) ([]AuditEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	min, max := "-inf", "+inf"
	if !q.From.IsZero() {
		min = strconv.FormatInt(q.From.UnixNano(), 10)
	}
	if !q.To.IsZero() {
		max = strconv.FormatInt(q.To.UnixNano(), 10)
	}

	raw, err := s.redis.ZRevRangeByScore(ctx, s.key(), &redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	out := make([]AuditEntry, 0, limit)
	for _, member := range raw {
		var entry AuditEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			continue
		}
		if !matchesQuery(entry, q) {
			continue
		}
		out = append(out, entry)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *redisAuditStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	raw, err := s.redis.ZRangeByScore(ctx, s.key(), &redis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	var expired []interface{}
	for _, member := range raw {
		var entry AuditEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			expired = append(expired, member)
			continue
		}
		if entry.RetentionExpiresAt.Before(now) {
			expired = append(expired, member)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	if err := s.redis.ZRem(ctx, s.key(), expired...).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return len(expired), nil
}
