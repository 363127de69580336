package apisec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisCredentialStore keeps one JSON record per credential hash plus an
// owner index set and a global index set, all under a configurable prefix.
type redisCredentialStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisCredentialStore creates a [CredentialStore] backed by Redis.
// prefix namespaces the keys (empty means "apisec").
func NewRedisCredentialStore(client redis.UniversalClient, prefix string) CredentialStore {
	if prefix == "" {
		prefix = "apisec"
	}
	return &redisCredentialStore{redis: client, prefix: prefix}
}

func (s *redisCredentialStore) recordKey(hash string) string {
	return s.prefix + ":cred:" + hash
}

func (s *redisCredentialStore) ownerKey(ownerID string) string {
	return s.prefix + ":credowner:" + ownerID
}

func (s *redisCredentialStore) indexKey() string {
	return s.prefix + ":credindex"
}

func (s *redisCredentialStore) Save(ctx context.Context, rec CredentialRecord) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.recordKey(rec.Hash), encoded, 0)
	pipe.SAdd(ctx, s.ownerKey(rec.OwnerID), rec.Hash)
	pipe.SAdd(ctx, s.indexKey(), rec.Hash)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (s *redisCredentialStore) Get(ctx context.Context, hash string) (*CredentialRecord, error) {
	raw, err := s.redis.Get(ctx, s.recordKey(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	var rec CredentialRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: corrupt record: %v", ErrStorage, err)
	}
	return &rec, nil
}

func (s *redisCredentialStore) Update(ctx context.Context, rec CredentialRecord) error {
	exists, err := s.redis.Exists(ctx, s.recordKey(rec.Hash)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.recordKey(rec.Hash), encoded, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (s *redisCredentialStore) Delete(ctx context.Context, hash string) error {
	rec, err := s.Get(ctx, hash)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, s.recordKey(hash))
	pipe.SRem(ctx, s.ownerKey(rec.OwnerID), hash)
	pipe.SRem(ctx, s.indexKey(), hash)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (s *redisCredentialStore) ListByOwner(ctx context.Context, ownerID string) ([]CredentialRecord, error) {
	hashes, err := s.redis.SMembers(ctx, s.ownerKey(ownerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return s.collect(ctx, hashes)
}

func (s *redisCredentialStore) List(ctx context.Context) ([]CredentialRecord, error) {
	hashes, err := s.redis.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return s.collect(ctx, hashes)
}

func (s *redisCredentialStore) collect(ctx context.Context, hashes []string) ([]CredentialRecord, error) {
	out := make([]CredentialRecord, 0, len(hashes))
	for _, hash := range hashes {
		rec, err := s.Get(ctx, hash)
		if err != nil {
			return nil, err
		}
		// Index entries can outlive records briefly; skip the gap.
		if rec == nil {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}
