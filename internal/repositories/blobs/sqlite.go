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

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) List(ctx context.Context, userID string) ([]models.Blob, error) {
	query := `SELECT id, nonce, ciphertext, created_at FROM blobs WHERE user_id = ? ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select blobs: %w", err)
	}
	defer rows.Close()

	var result []models.Blob
	for rows.Next() {
		item := models.Blob{UserID: userID}
		var created int64
		if err := rows.Scan(&item.ID, &item.Nonce, &item.Ciphertext, &created); err != nil {
			return nil, fmt.Errorf("failed to scan blob row: %w", err)
		}
		item.CreatedAt = time.UnixMicro(created).UTC()
		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate blob rows: %w", err)
	}

	return result, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, userID, id string) (*models.Blob, error) {
	query := `SELECT nonce, ciphertext, created_at FROM blobs WHERE user_id = ? AND id = ?`

	item := &models.Blob{ID: id, UserID: userID}
	var created int64
	err := r.db.QueryRowContext(ctx, query, userID, id).Scan(&item.Nonce, &item.Ciphertext, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to get blob[%s]: %w", id, err)
	}
	item.CreatedAt = time.UnixMicro(created).UTC()

	return item, nil
}

func (r *SQLiteRepository) Put(ctx context.Context, blob *models.Blob) error {
	if blob.CreatedAt.IsZero() {
		blob.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO blobs (user_id, id, nonce, ciphertext, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, id) DO UPDATE SET nonce = excluded.nonce, ciphertext = excluded.ciphertext
	`, blob.UserID, blob.ID, blob.Nonce, blob.Ciphertext, blob.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("failed to put blob[%s]: %w", blob.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM blobs WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("failed to delete blob[%s]: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) DeleteAll(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM blobs WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete blobs: %w", err)
	}
	return nil
}
