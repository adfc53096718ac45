package blobs

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

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) List(ctx context.Context, userID string) ([]models.Blob, error) {
	query :=
		`SELECT id, nonce, ciphertext, created_at
		 FROM blobs
		 WHERE user_id = $1
		 ORDER BY created_at, id
		 `

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.Blob
	for rows.Next() {
		item := models.Blob{UserID: userID}
		if err := rows.Scan(&item.ID, &item.Nonce, &item.Ciphertext, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("query row scan failed: %w", err)
		}
		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID, id string) (*models.Blob, error) {
	query :=
		`SELECT nonce, ciphertext, created_at
		 FROM blobs
		 WHERE user_id = $1 AND id = $2
		 `

	item := &models.Blob{ID: id, UserID: userID}
	err := r.db.QueryRowContext(ctx, query, userID, id).Scan(&item.Nonce, &item.Ciphertext, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return item, nil
}

func (r *PostgresRepository) Put(ctx context.Context, blob *models.Blob) error {
	if blob.CreatedAt.IsZero() {
		blob.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO blobs (user_id, id, nonce, ciphertext, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, id)
		DO UPDATE SET
			nonce = EXCLUDED.nonce,
			ciphertext = EXCLUDED.ciphertext
	`
	_, err := r.db.ExecContext(ctx, query, blob.UserID, blob.ID, blob.Nonce, blob.Ciphertext, blob.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM blobs WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteAll(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM blobs WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
