package cli

import (
	"context"

	"github.com/dmitrijs2005/medvault/internal/session"
)

// Backup uploads the vault ciphertext. It works whether the vault is locked
// or not since nothing is decrypted.
func (a *App) Backup(ctx context.Context) error {
	if a.backups == nil {
		return a.fail(errBackupsDisabled)
	}
	key, err := a.backups.Backup(ctx, a.id.UserID)
	if err != nil {
		return a.fail(err)
	}
	a.say("Backup written: %s", key)
	return nil
}

func (a *App) Backups(ctx context.Context) error {
	if a.backups == nil {
		return a.fail(errBackupsDisabled)
	}
	keys, err := a.backups.List(ctx, a.id.UserID)
	if err != nil {
		return a.fail(err)
	}
	if len(keys) == 0 {
		a.say("No backups")
	}
	for _, k := range keys {
		a.say("%s", k)
	}
	return nil
}

// Restore loads a snapshot into an empty vault and reopens the session so
// the restored vault shows up as locked.
func (a *App) Restore(ctx context.Context) error {
	if a.backups == nil {
		return a.fail(errBackupsDisabled)
	}
	if a.vaultState() != session.NotSetup {
		return a.fail(session.ErrAlreadySetup)
	}

	key, err := GetSimpleText(a.reader, "Backup key (empty for the latest)", a.out)
	if err != nil {
		return a.fail(err)
	}
	snap, err := a.backups.Restore(ctx, a.id.UserID, key)
	if err != nil {
		return a.fail(err)
	}
	if err := a.openController(ctx); err != nil {
		return a.fail(err)
	}
	a.say("Restored %d records from %s, unlock with your PIN", len(snap.Blobs), snap.TakenAt.Format("2006-01-02 15:04:05"))
	return nil
}
