package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/medvault/internal/backup"
	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/session"
)

var errBackupsDisabled = errors.New("backups are not configured")

// describe turns an error into a message for the terminal.
func describe(err error) string {
	if d, ok := session.RetryAfter(err); ok {
		return fmt.Sprintf("Too many failed attempts, try again in %s", d.Round(time.Second))
	}

	switch {
	case errors.Is(err, session.ErrPinTooShort):
		return "PIN is too short"
	case errors.Is(err, session.ErrPinMismatch):
		return "PINs do not match"
	case errors.Is(err, session.ErrInvalidPin):
		return "Incorrect PIN"
	case errors.Is(err, session.ErrInvalidOtp):
		return "Incorrect verification code"
	case errors.Is(err, session.ErrOtpExpired):
		return "Verification code expired, request a new one"
	case errors.Is(err, session.ErrOtpDispatch):
		reason := strings.TrimPrefix(err.Error(), session.ErrOtpDispatch.Error()+": ")
		return "Could not send the verification code: " + reason
	case errors.Is(err, session.ErrVaultMustBeUnlockedToChangePin):
		return "Unlock the vault before changing the PIN"
	case errors.Is(err, session.ErrVaultLocked):
		return "Vault is locked, run unlock"
	case errors.Is(err, session.ErrNotSetup):
		return "Vault is not set up yet, run setup"
	case errors.Is(err, session.ErrAlreadySetup):
		return "Vault is already set up"
	case errors.Is(err, session.ErrDerivationInProgress):
		return "Another PIN operation is still running"
	case errors.Is(err, session.ErrInvalidState):
		return "Not available right now"
	case errors.Is(err, session.ErrKeyDerivation):
		return "Could not derive the vault key, try again"
	case errors.Is(err, session.ErrVaultChanged):
		return "Records changed while re-encrypting, run change-pin again"
	case errors.Is(err, session.ErrDecryption):
		return "A record could not be decrypted"
	case errors.Is(err, backup.ErrNoSnapshot):
		return "No backups found"
	case errors.Is(err, backup.ErrVaultNotEmpty):
		return "Restore needs an empty vault, run reset first"
	case errors.Is(err, backup.ErrSnapshotInvalid):
		return "Backup is damaged or belongs to another user"
	case errors.Is(err, errBackupsDisabled):
		return "Backups are not configured, set an S3 bucket"
	case errors.Is(err, common.ErrorNotFound):
		return "Record not found"
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
