package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medvault/internal/vault"
)

var (
	ErrPinTooShort                    = errors.New("pin too short")
	ErrPinMismatch                    = errors.New("pins do not match")
	ErrInvalidPin                     = errors.New("invalid pin")
	ErrInvalidOtp                     = errors.New("invalid verification code")
	ErrOtpExpired                     = errors.New("verification code expired")
	ErrOtpDispatch                    = errors.New("failed to send verification code")
	ErrVaultMustBeUnlockedToChangePin = errors.New("vault must be unlocked to change pin")
	ErrAlreadySetup                   = errors.New("vault is already set up")
	ErrNotSetup                       = errors.New("vault is not set up")
	ErrInvalidState                   = errors.New("operation not allowed in current state")
	ErrTooManyAttempts                = errors.New("too many failed attempts")
	ErrVaultChanged                   = errors.New("vault changed during operation, try again")

	ErrKeyDerivation        = vault.ErrKeyDerivation
	ErrEncryption           = vault.ErrEncryption
	ErrDecryption           = vault.ErrDecryption
	ErrDerivationInProgress = vault.ErrDerivationInProgress
	ErrVaultLocked          = vault.ErrVaultLocked

	errKeyChanged = errors.New("key changed")
	errStaleKey   = fmt.Errorf("%w: pin changed in another session", ErrVaultLocked)
)

// TooManyAttemptsError is returned while unlock attempts are throttled.
// It matches ErrTooManyAttempts with errors.Is.
type TooManyAttemptsError struct {
	RetryAfter time.Duration
}

func (e *TooManyAttemptsError) Error() string {
	return fmt.Sprintf("%s, retry in %s", ErrTooManyAttempts, e.RetryAfter.Round(time.Second))
}

func (e *TooManyAttemptsError) Unwrap() error { return ErrTooManyAttempts }

// RetryAfter extracts the throttling delay from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var tm *TooManyAttemptsError
	if errors.As(err, &tm) {
		return tm.RetryAfter, true
	}
	return 0, false
}
