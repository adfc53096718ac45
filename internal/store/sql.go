package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/dbx"
	"github.com/dmitrijs2005/medvault/internal/models"
	"github.com/dmitrijs2005/medvault/internal/repositories/repomanager"
)

// SQLStore composes the verifier and blob repositories of one dialect.
// Every blob write bumps the verifier row in the same transaction, which
// serializes it against a concurrent Rekey.
type SQLStore struct {
	db *sql.DB
	rm repomanager.RepositoryManager
}

func NewSQLStore(db *sql.DB, rm repomanager.RepositoryManager) *SQLStore {
	return &SQLStore{db: db, rm: rm}
}

func (s *SQLStore) GetVerifier(ctx context.Context, userID string) (*models.Verifier, error) {
	return s.rm.Verifiers(s.db).Get(ctx, userID)
}

func (s *SQLStore) CreateVerifier(ctx context.Context, v *models.Verifier) error {
	return s.rm.Verifiers(s.db).Create(ctx, v)
}

func (s *SQLStore) Snapshot(ctx context.Context, userID string) (*models.Verifier, []models.Blob, error) {
	var (
		v     *models.Verifier
		blobs []models.Blob
	)
	err := dbx.WithTx(ctx, s.db, s.rm.SnapshotTxOptions(), func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		if v, err = s.rm.Verifiers(tx).Get(ctx, userID); err != nil {
			return err
		}
		blobs, err = s.rm.Blobs(tx).List(ctx, userID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return v, blobs, nil
}

func (s *SQLStore) ListBlobs(ctx context.Context, userID string) ([]models.Blob, error) {
	return s.rm.Blobs(s.db).List(ctx, userID)
}

func (s *SQLStore) GetBlob(ctx context.Context, userID, id string) (*models.Blob, error) {
	return s.rm.Blobs(s.db).Get(ctx, userID, id)
}

func (s *SQLStore) PutBlob(ctx context.Context, keyID string, blob *models.Blob) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.rm.Verifiers(tx).Bump(ctx, blob.UserID, keyID); err != nil {
			return err
		}
		return s.rm.Blobs(tx).Put(ctx, blob)
	})
}

func (s *SQLStore) DeleteBlob(ctx context.Context, userID, id string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		vr := s.rm.Verifiers(tx)
		v, err := vr.Get(ctx, userID)
		switch {
		case err == nil:
			if err := vr.Bump(ctx, userID, v.KeyID); err != nil {
				return err
			}
		case !errors.Is(err, common.ErrorNotFound):
			return err
		}
		return s.rm.Blobs(tx).Delete(ctx, userID, id)
	})
}

func (s *SQLStore) Rekey(ctx context.Context, base, next *models.Verifier, blobs []models.Blob) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		vr := s.rm.Verifiers(tx)
		if _, err := vr.Get(ctx, base.UserID); err != nil {
			return err
		}
		if err := vr.Replace(ctx, base, next); err != nil {
			return err
		}
		return s.putAll(ctx, tx, base.UserID, blobs)
	})
	if err != nil {
		return fmt.Errorf("rekey %s: %w", base.UserID, err)
	}
	return nil
}

func (s *SQLStore) Restore(ctx context.Context, v *models.Verifier, blobs []models.Blob) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.rm.Verifiers(tx).Create(ctx, v); err != nil {
			return err
		}
		// leftovers of an earlier reset must not mix with the snapshot
		if err := s.rm.Blobs(tx).DeleteAll(ctx, v.UserID); err != nil {
			return err
		}
		return s.putAll(ctx, tx, v.UserID, blobs)
	})
}

func (s *SQLStore) DeleteUser(ctx context.Context, userID string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.rm.Blobs(tx).DeleteAll(ctx, userID); err != nil {
			return err
		}
		return s.rm.Verifiers(tx).Delete(ctx, userID)
	})
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) putAll(ctx context.Context, tx dbx.DBTX, userID string, blobs []models.Blob) error {
	repo := s.rm.Blobs(tx)
	for i := range blobs {
		if blobs[i].UserID != userID {
			return fmt.Errorf("blob %s belongs to another user", blobs[i].ID)
		}
		if err := repo.Put(ctx, &blobs[i]); err != nil {
			return err
		}
	}
	return nil
}
