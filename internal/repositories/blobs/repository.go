// Package blobs persists encrypted records. Rows are namespaced by user id
// and never contain plaintext.
package blobs

import (
	"context"

	"github.com/dmitrijs2005/medvault/internal/models"
)

// Repository describes storage for encrypted record blobs.
type Repository interface {
	// List returns every blob of userID ordered by creation time.
	List(ctx context.Context, userID string) ([]models.Blob, error)

	// Get returns one blob or common.ErrorNotFound.
	Get(ctx context.Context, userID, id string) (*models.Blob, error)

	// Put inserts a blob or replaces nonce and ciphertext of an existing one.
	// The original creation time is kept on replace.
	Put(ctx context.Context, blob *models.Blob) error

	// Delete removes one blob; common.ErrorNotFound when nothing was deleted.
	Delete(ctx context.Context, userID, id string) error

	// DeleteAll removes every blob of userID.
	DeleteAll(ctx context.Context, userID string) error
}
