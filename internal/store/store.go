// Package store implements per-user persistence of PIN verifiers and
// encrypted record blobs over SQL databases or Redis.
package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrijs2005/medvault/internal/config"
	"github.com/dmitrijs2005/medvault/internal/dbx"
	"github.com/dmitrijs2005/medvault/internal/filex"
	"github.com/dmitrijs2005/medvault/internal/models"
	"github.com/dmitrijs2005/medvault/internal/repositories/repomanager"
)

// Store is the persistence contract of the vault. Every method is scoped to
// one user id. Missing rows are reported as common.ErrorNotFound, writes
// that lost a race as common.ErrorConflict.
type Store interface {
	GetVerifier(ctx context.Context, userID string) (*models.Verifier, error)
	// CreateVerifier fails with common.ErrorAlreadyExists if a verifier exists.
	CreateVerifier(ctx context.Context, v *models.Verifier) error
	// Snapshot reads the verifier and every blob of userID as of one
	// instant, so both always belong to the same key.
	Snapshot(ctx context.Context, userID string) (*models.Verifier, []models.Blob, error)
	ListBlobs(ctx context.Context, userID string) ([]models.Blob, error)
	GetBlob(ctx context.Context, userID, id string) (*models.Blob, error)
	// PutBlob writes blob only while the stored verifier carries keyID.
	PutBlob(ctx context.Context, keyID string, blob *models.Blob) error
	DeleteBlob(ctx context.Context, userID, id string) error
	// Rekey replaces the verifier with next and writes every blob
	// atomically, provided nothing was written since base was read.
	Rekey(ctx context.Context, base, next *models.Verifier, blobs []models.Blob) error
	// Restore writes a verifier and its blobs into an empty vault in one
	// step; common.ErrorAlreadyExists if a verifier exists.
	Restore(ctx context.Context, v *models.Verifier, blobs []models.Blob) error
	// DeleteUser removes the verifier and all blobs of userID.
	DeleteUser(ctx context.Context, userID string) error
	Close() error
}

// Open connects the backend selected by cfg.Driver and prepares its schema.
func Open(ctx context.Context, cfg config.Storage) (Store, error) {
	switch cfg.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return NewRedisStore(client), nil

	case "sqlite", "postgres":
		rm, err := repomanager.New(cfg.Driver)
		if err != nil {
			return nil, err
		}
		if cfg.Driver == "sqlite" {
			if err := filex.EnsureParentDir(cfg.DSN); err != nil {
				return nil, err
			}
		}
		db, err := dbx.Open(ctx, rm.DriverName(), cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := rm.RunMigrations(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return NewSQLStore(db, rm), nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
