package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/models"
)

// blob writes retry this often when a concurrent writer touched the vault
// between WATCH and EXEC
const maxTxRetries = 5

// RedisStore keeps each user's verifier in a string key and the blobs in a
// hash keyed by record id. The user id is wrapped in a hash tag so both keys
// land in the same cluster slot and MULTI/EXEC can span them. Every blob
// write rewrites the verifier with a bumped revision in the same EXEC.
type RedisStore struct {
	rdb redis.UniversalClient
}

func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func verifierKey(userID string) string { return fmt.Sprintf("medvault:{%s}:verifier", userID) }
func blobsKey(userID string) string    { return fmt.Sprintf("medvault:{%s}:blobs", userID) }

func (s *RedisStore) GetVerifier(ctx context.Context, userID string) (*models.Verifier, error) {
	return loadVerifier(ctx, s.rdb, userID)
}

func (s *RedisStore) CreateVerifier(ctx context.Context, v *models.Verifier) error {
	now := time.Now().UTC()
	v.CreatedAt, v.UpdatedAt = now, now
	v.Revision = 0

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode verifier: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, verifierKey(v.UserID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx verifier: %w", err)
	}
	if !ok {
		return common.ErrorAlreadyExists
	}
	return nil
}

// Snapshot reads both keys inside one MULTI/EXEC.
func (s *RedisStore) Snapshot(ctx context.Context, userID string) (*models.Verifier, []models.Blob, error) {
	var (
		vCmd *redis.StringCmd
		bCmd *redis.MapStringStringCmd
	)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		vCmd = pipe.Get(ctx, verifierKey(userID))
		bCmd = pipe.HGetAll(ctx, blobsKey(userID))
		return nil
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil, common.ErrorNotFound
		}
		return nil, nil, fmt.Errorf("redis snapshot: %w", err)
	}

	v, err := decodeVerifier([]byte(vCmd.Val()))
	if err != nil {
		return nil, nil, err
	}
	blobs, err := decodeBlobs(userID, bCmd.Val())
	if err != nil {
		return nil, nil, err
	}
	return v, blobs, nil
}

func (s *RedisStore) ListBlobs(ctx context.Context, userID string) ([]models.Blob, error) {
	all, err := s.rdb.HGetAll(ctx, blobsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall blobs: %w", err)
	}
	return decodeBlobs(userID, all)
}

func (s *RedisStore) GetBlob(ctx context.Context, userID, id string) (*models.Blob, error) {
	raw, err := s.rdb.HGet(ctx, blobsKey(userID), id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("redis hget blob: %w", err)
	}
	return decodeBlob(userID, id, raw)
}

func (s *RedisStore) PutBlob(ctx context.Context, keyID string, blob *models.Blob) error {
	vKey, bKey := verifierKey(blob.UserID), blobsKey(blob.UserID)

	return s.watchRetry(ctx, func(tx *redis.Tx) error {
		v, err := loadVerifier(ctx, tx, blob.UserID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrorConflict
			}
			return err
		}
		if v.KeyID != keyID {
			return common.ErrorConflict
		}

		raw, err := tx.HGet(ctx, bKey, blob.ID).Bytes()
		switch {
		case err == nil:
			existing, err := decodeBlob(blob.UserID, blob.ID, raw)
			if err != nil {
				return err
			}
			blob.CreatedAt = existing.CreatedAt
		case !errors.Is(err, redis.Nil):
			return fmt.Errorf("redis hget blob: %w", err)
		}
		if blob.CreatedAt.IsZero() {
			blob.CreatedAt = time.Now().UTC()
		}

		bRaw, err := json.Marshal(blob)
		if err != nil {
			return fmt.Errorf("encode blob: %w", err)
		}
		v.Revision++
		vRaw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode verifier: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, bKey, blob.ID, bRaw)
			pipe.Set(ctx, vKey, vRaw, 0)
			return nil
		})
		return err
	}, vKey, bKey)
}

func (s *RedisStore) DeleteBlob(ctx context.Context, userID, id string) error {
	vKey, bKey := verifierKey(userID), blobsKey(userID)

	return s.watchRetry(ctx, func(tx *redis.Tx) error {
		ok, err := tx.HExists(ctx, bKey, id).Result()
		if err != nil {
			return fmt.Errorf("redis hexists blob: %w", err)
		}
		if !ok {
			return common.ErrorNotFound
		}

		var vRaw []byte
		v, err := loadVerifier(ctx, tx, userID)
		switch {
		case err == nil:
			v.Revision++
			if vRaw, err = json.Marshal(v); err != nil {
				return fmt.Errorf("encode verifier: %w", err)
			}
		case !errors.Is(err, common.ErrorNotFound):
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, bKey, id)
			if vRaw != nil {
				pipe.Set(ctx, vKey, vRaw, 0)
			}
			return nil
		})
		return err
	}, vKey, bKey)
}

// Rekey watches both keys and writes the new verifier and all blobs in one
// MULTI/EXEC. It refuses with common.ErrorConflict when the stored key id
// or revision moved past base, and a change racing the EXEC aborts it with
// redis.TxFailedErr, also reported as a conflict.
func (s *RedisStore) Rekey(ctx context.Context, base, next *models.Verifier, blobs []models.Blob) error {
	vKey, bKey := verifierKey(base.UserID), blobsKey(base.UserID)

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := loadVerifier(ctx, tx, base.UserID)
		if err != nil {
			return err
		}
		if current.KeyID != base.KeyID || current.Revision != base.Revision {
			return common.ErrorConflict
		}

		updated := *next
		updated.UserID = base.UserID
		updated.Revision = current.Revision + 1
		updated.CreatedAt = current.CreatedAt
		updated.UpdatedAt = time.Now().UTC()
		vRaw, err := json.Marshal(updated)
		if err != nil {
			return err
		}

		fields, err := blobFields(base.UserID, blobs)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, vKey, vRaw, 0)
			if len(fields) > 0 {
				pipe.HSet(ctx, bKey, fields...)
			}
			return nil
		})
		if err == nil {
			*next = updated
		}
		return err
	}, vKey, bKey)
	if errors.Is(err, redis.TxFailedErr) {
		err = fmt.Errorf("%w: %w", common.ErrorConflict, err)
	}
	if err != nil {
		return fmt.Errorf("rekey %s: %w", base.UserID, err)
	}
	return nil
}

func (s *RedisStore) Restore(ctx context.Context, v *models.Verifier, blobs []models.Blob) error {
	vKey, bKey := verifierKey(v.UserID), blobsKey(v.UserID)

	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, vKey).Result()
		if err != nil {
			return fmt.Errorf("redis exists verifier: %w", err)
		}
		if n > 0 {
			return common.ErrorAlreadyExists
		}

		restored := *v
		restored.Revision = 0
		restored.UpdatedAt = time.Now().UTC()
		if restored.CreatedAt.IsZero() {
			restored.CreatedAt = restored.UpdatedAt
		}
		vRaw, err := json.Marshal(restored)
		if err != nil {
			return fmt.Errorf("encode verifier: %w", err)
		}
		fields, err := blobFields(v.UserID, blobs)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, bKey)
			if len(fields) > 0 {
				pipe.HSet(ctx, bKey, fields...)
			}
			pipe.Set(ctx, vKey, vRaw, 0)
			return nil
		})
		if err == nil {
			*v = restored
		}
		return err
	}, vKey, bKey)
}

func (s *RedisStore) DeleteUser(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, verifierKey(userID), blobsKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis del user: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// watchRetry runs fn under WATCH keys and retries when EXEC was aborted by
// another writer.
func (s *RedisStore) watchRetry(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = s.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", common.ErrorConflict, err)
}

func loadVerifier(ctx context.Context, c redis.Cmdable, userID string) (*models.Verifier, error) {
	raw, err := c.Get(ctx, verifierKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("redis get verifier: %w", err)
	}
	return decodeVerifier(raw)
}

func decodeVerifier(raw []byte) (*models.Verifier, error) {
	v := &models.Verifier{}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("decode verifier: %w", err)
	}
	return v, nil
}

func blobFields(userID string, blobs []models.Blob) ([]any, error) {
	fields := make([]any, 0, 2*len(blobs))
	for i := range blobs {
		if blobs[i].UserID != userID {
			return nil, fmt.Errorf("blob %s belongs to another user", blobs[i].ID)
		}
		raw, err := json.Marshal(blobs[i])
		if err != nil {
			return nil, err
		}
		fields = append(fields, blobs[i].ID, raw)
	}
	return fields, nil
}

func decodeBlobs(userID string, all map[string]string) ([]models.Blob, error) {
	result := make([]models.Blob, 0, len(all))
	for id, raw := range all {
		b, err := decodeBlob(userID, id, []byte(raw))
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func decodeBlob(userID, id string, raw []byte) (*models.Blob, error) {
	b := &models.Blob{}
	if err := json.Unmarshal(raw, b); err != nil {
		return nil, fmt.Errorf("decode blob %s: %w", id, err)
	}
	b.UserID = userID
	b.ID = id
	return b, nil
}
