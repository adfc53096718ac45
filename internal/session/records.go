package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/events"
)

// Record is a decrypted vault entry.
type Record struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// PutRecord encrypts v and stores it under id, or under a new id when id is
// empty. The store refuses the write once the key was replaced through
// another session, and the controller locks itself.
func (c *Controller) PutRecord(ctx context.Context, id string, v any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkWritable(); err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
	}

	blob, err := c.vault.EncryptWithID(id, v)
	if err != nil {
		return "", err
	}
	blob.UserID = c.id.UserID
	blob.CreatedAt = c.now().UTC()

	if err := c.store.PutBlob(ctx, c.keyID, blob); err != nil {
		if errors.Is(err, common.ErrorConflict) {
			return "", c.staleKey(ctx)
		}
		return "", fmt.Errorf("save record %s: %w", id, err)
	}
	c.touch()
	c.publish(ctx, events.RecordSaved, id, "")
	return id, nil
}

// GetRecord decrypts record id into v.
func (c *Controller) GetRecord(ctx context.Context, id string, v any) error {
	userID, keyID, err := c.checkReadable()
	if err != nil {
		return err
	}

	blob, err := c.store.GetBlob(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("load record %s: %w", id, err)
	}
	if err := c.vault.Decrypt(blob, v); err != nil {
		if errors.Is(err, ErrDecryption) {
			if cur, gerr := c.store.GetVerifier(ctx, userID); gerr == nil && cur.KeyID != keyID {
				return c.staleKeyIfCurrent(ctx, keyID)
			}
		}
		return err
	}
	return nil
}

// ListRecords decrypts every record of the user, oldest first.
func (c *Controller) ListRecords(ctx context.Context) ([]Record, error) {
	userID, keyID, err := c.checkReadable()
	if err != nil {
		return nil, err
	}

	v, blobs, err := c.store.Snapshot(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	if v.KeyID != keyID {
		return nil, c.staleKeyIfCurrent(ctx, keyID)
	}

	out := make([]Record, 0, len(blobs))
	for i := range blobs {
		var raw json.RawMessage
		if err := c.vault.Decrypt(&blobs[i], &raw); err != nil {
			return nil, fmt.Errorf("open record %s: %w", blobs[i].ID, err)
		}
		out = append(out, Record{ID: blobs[i].ID, CreatedAt: blobs[i].CreatedAt, Data: raw})
	}
	return out, nil
}

func (c *Controller) DeleteRecord(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkWritable(); err != nil {
		return err
	}
	cur, err := c.store.GetVerifier(ctx, c.id.UserID)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return c.staleKey(ctx)
	case err != nil:
		return fmt.Errorf("delete record %s: %w", id, err)
	case cur.KeyID != c.keyID:
		return c.staleKey(ctx)
	}
	if err := c.store.DeleteBlob(ctx, c.id.UserID, id); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	c.touch()
	c.publish(ctx, events.RecordDeleted, id, "")
	return nil
}

// checkWritable must be called with mu held.
func (c *Controller) checkWritable() error {
	if !c.state.IsUnlocked() || !c.vault.IsUnlocked() {
		return ErrVaultLocked
	}
	if c.busy {
		return ErrDerivationInProgress
	}
	return nil
}

// checkReadable returns the user id and the id of the held key.
func (c *Controller) checkReadable() (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.IsUnlocked() || !c.vault.IsUnlocked() {
		return "", "", ErrVaultLocked
	}
	c.touch()
	return c.id.UserID, c.keyID, nil
}

// staleKeyIfCurrent locks the controller unless it was relocked or
// unlocked with another key since keyID was read.
func (c *Controller) staleKeyIfCurrent(ctx context.Context, keyID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keyID != keyID {
		return ErrVaultLocked
	}
	return c.staleKey(ctx)
}
