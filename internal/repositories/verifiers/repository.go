// Package verifiers persists PIN verifiers, one row per user.
package verifiers

import (
	"context"

	"github.com/dmitrijs2005/medvault/internal/models"
)

// Repository stores PIN verifiers keyed by user id.
type Repository interface {
	// Get returns the verifier for userID or common.ErrorNotFound.
	Get(ctx context.Context, userID string) (*models.Verifier, error)

	// Create inserts a verifier; common.ErrorAlreadyExists if one is present.
	Create(ctx context.Context, v *models.Verifier) error

	// Replace overwrites the verifier of base.UserID with next, but only
	// while the stored key id and revision still equal base's. Otherwise it
	// fails with common.ErrorConflict. The revision is bumped.
	Replace(ctx context.Context, base, next *models.Verifier) error

	// Bump increments the revision while the stored key id equals keyID and
	// fails with common.ErrorConflict otherwise, including when the user has
	// no verifier.
	Bump(ctx context.Context, userID, keyID string) error

	Delete(ctx context.Context, userID string) error
}
