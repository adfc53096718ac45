package verifiers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/dbx"
	"github.com/dmitrijs2005/medvault/internal/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, userID string) (*models.Verifier, error) {
	query :=
		`SELECT user_id, kdf, kdf_iterations, kdf_memory, kdf_threads, salt, hash, key_id, revision, created_at, updated_at
		 FROM verifiers
		 WHERE user_id = $1
		 `

	v := &models.Verifier{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&v.UserID, &v.KDF.Algorithm, &v.KDF.Iterations, &v.KDF.Memory, &v.KDF.Threads,
		&v.Salt, &v.Hash, &v.KeyID, &v.Revision, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return v, nil
}

func (r *PostgresRepository) Create(ctx context.Context, v *models.Verifier) error {
	query :=
		`INSERT INTO verifiers (user_id, kdf, kdf_iterations, kdf_memory, kdf_threads, salt, hash, key_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id) DO NOTHING
		 RETURNING revision, created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		v.UserID, v.KDF.Algorithm, v.KDF.Iterations, v.KDF.Memory, v.KDF.Threads, v.Salt, v.Hash, v.KeyID,
	).Scan(&v.Revision, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Replace relies on the row lock taken by UPDATE: a concurrent Bump either
// commits first and moves the revision, or waits and then misses the new
// key id.
func (r *PostgresRepository) Replace(ctx context.Context, base, next *models.Verifier) error {
	query :=
		`UPDATE verifiers
		 SET kdf = $4, kdf_iterations = $5, kdf_memory = $6, kdf_threads = $7, salt = $8, hash = $9, key_id = $10,
		     revision = revision + 1, updated_at = now()
		 WHERE user_id = $1 AND key_id = $2 AND revision = $3
		 RETURNING revision, created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		base.UserID, base.KeyID, base.Revision,
		next.KDF.Algorithm, next.KDF.Iterations, next.KDF.Memory, next.KDF.Threads, next.Salt, next.Hash, next.KeyID,
	).Scan(&next.Revision, &next.CreatedAt, &next.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrorConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	next.UserID = base.UserID
	return nil
}

func (r *PostgresRepository) Bump(ctx context.Context, userID, keyID string) error {
	query := `UPDATE verifiers SET revision = revision + 1 WHERE user_id = $1 AND key_id = $2`
	res, err := r.db.ExecContext(ctx, query, userID, keyID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorConflict
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID string) error {
	query := `DELETE FROM verifiers WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
