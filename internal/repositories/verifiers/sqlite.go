package verifiers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/dbx"
	"github.com/dmitrijs2005/medvault/internal/models"
)

// SQLiteRepository stores timestamps as unix microseconds.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, userID string) (*models.Verifier, error) {
	query := `SELECT user_id, kdf, kdf_iterations, kdf_memory, kdf_threads, salt, hash, key_id, revision, created_at, updated_at
		FROM verifiers WHERE user_id = ?`

	v := &models.Verifier{}
	var created, updated int64
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&v.UserID, &v.KDF.Algorithm, &v.KDF.Iterations, &v.KDF.Memory, &v.KDF.Threads,
		&v.Salt, &v.Hash, &v.KeyID, &v.Revision, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to get verifier[%s]: %w", userID, err)
	}
	v.CreatedAt = time.UnixMicro(created).UTC()
	v.UpdatedAt = time.UnixMicro(updated).UTC()

	return v, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, v *models.Verifier) error {
	query := `INSERT INTO verifiers (user_id, kdf, kdf_iterations, kdf_memory, kdf_threads, salt, hash, key_id, revision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, query,
		v.UserID, v.KDF.Algorithm, v.KDF.Iterations, v.KDF.Memory, v.KDF.Threads,
		v.Salt, v.Hash, v.KeyID, now.UnixMicro(), now.UnixMicro())
	if err != nil {
		return fmt.Errorf("failed to create verifier[%s]: %w", v.UserID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrorAlreadyExists
	}

	v.CreatedAt, v.UpdatedAt = now, now
	v.Revision = 0
	return nil
}

func (r *SQLiteRepository) Replace(ctx context.Context, base, next *models.Verifier) error {
	query := `UPDATE verifiers
		SET kdf = ?, kdf_iterations = ?, kdf_memory = ?, kdf_threads = ?, salt = ?, hash = ?, key_id = ?,
			revision = revision + 1, updated_at = ?
		WHERE user_id = ? AND key_id = ? AND revision = ?`

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, query,
		next.KDF.Algorithm, next.KDF.Iterations, next.KDF.Memory, next.KDF.Threads, next.Salt, next.Hash, next.KeyID,
		now.UnixMicro(), base.UserID, base.KeyID, base.Revision)
	if err != nil {
		return fmt.Errorf("failed to replace verifier[%s]: %w", base.UserID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrorConflict
	}

	next.UserID = base.UserID
	next.Revision = base.Revision + 1
	next.CreatedAt = base.CreatedAt
	next.UpdatedAt = now
	return nil
}

func (r *SQLiteRepository) Bump(ctx context.Context, userID, keyID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE verifiers SET revision = revision + 1 WHERE user_id = ? AND key_id = ?`, userID, keyID)
	if err != nil {
		return fmt.Errorf("failed to bump verifier[%s]: %w", userID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrorConflict
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM verifiers WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete verifier[%s]: %w", userID, err)
	}
	return nil
}
