package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/session"
)

// maxConfirmAttempts bounds how often Setup asks to confirm the first PIN.
const maxConfirmAttempts = 3

// Setup asks for a new PIN, then for its confirmation until it matches,
// and creates the vault.
func (a *App) Setup(ctx context.Context) error {
	c := a.controller()

	pin, err := GetPIN(a.out, "Choose a PIN: ")
	if err != nil {
		return a.fail(err)
	}
	defer common.WipeByteArray(pin)

	if err := c.BeginSetup(ctx, pin); err != nil {
		return a.fail(err)
	}

	for attempt := 1; ; attempt++ {
		confirm, err := GetPIN(a.out, "Confirm PIN: ")
		if err != nil {
			_ = c.CancelSetup(ctx)
			return a.fail(err)
		}

		a.say("Deriving key...")
		err = c.ConfirmSetup(ctx, confirm)
		common.WipeByteArray(confirm)
		switch {
		case err == nil:
			a.say("Vault created and unlocked")
			return nil
		case errors.Is(err, session.ErrPinMismatch) && attempt < maxConfirmAttempts:
			a.say("PINs do not match, try again")
		case errors.Is(err, session.ErrPinMismatch):
			_ = c.CancelSetup(ctx)
			return a.fail(err)
		default:
			return a.fail(err)
		}
	}
}

func (a *App) Unlock(ctx context.Context) error {
	pin, err := GetPIN(a.out, "Enter PIN: ")
	if err != nil {
		return a.fail(err)
	}
	defer common.WipeByteArray(pin)

	if err := a.controller().Unlock(ctx, pin); err != nil {
		return a.fail(err)
	}
	a.say("Vault unlocked")
	return nil
}

func (a *App) Lock(ctx context.Context) error {
	a.controller().Lock(ctx)
	a.say("Vault locked")
	return nil
}

func (a *App) Status(ctx context.Context) error {
	st := a.controller().Status()
	a.say("User: %s", st.UserID)
	a.say("State: %s", st.State)
	if st.State.IsUnlocked() {
		a.say("Idle for: %s", st.IdleFor.Round(time.Second))
	}
	if st.RetryAfter > 0 {
		a.say("Unlock available in: %s", st.RetryAfter.Round(time.Second))
	}
	if a.backups == nil {
		a.say("Backups: disabled")
	} else {
		a.say("Backups: s3://%s/%s", a.config.S3.Bucket, a.config.S3.Prefix)
	}
	return nil
}

// ChangePin runs the whole verification flow: a code is sent, the user types
// it in, then chooses the new PIN. An empty answer at any prompt cancels.
func (a *App) ChangePin(ctx context.Context) error {
	c := a.controller()

	if err := c.RequestPinChange(ctx); err != nil {
		return a.fail(err)
	}
	a.say("A verification code was sent to %s", a.id.Email)

	for {
		code, err := GetSimpleText(a.reader, "Enter verification code (empty to cancel)", a.out)
		if err != nil || code == "" {
			_ = c.CancelPinChange(ctx)
			a.say("PIN change cancelled")
			return err
		}
		err = c.VerifyOtp(ctx, code)
		if err == nil {
			break
		}
		_ = a.fail(err)
		if c.State() != session.PinChangePendingOTP {
			return err
		}
	}

	pin, err := GetPIN(a.out, "New PIN: ")
	if err != nil {
		_ = c.CancelPinChange(ctx)
		return a.fail(err)
	}
	defer common.WipeByteArray(pin)

	confirm, err := GetPIN(a.out, "Confirm new PIN: ")
	if err != nil {
		_ = c.CancelPinChange(ctx)
		return a.fail(err)
	}
	defer common.WipeByteArray(confirm)

	if !bytes.Equal(pin, confirm) {
		_ = c.CancelPinChange(ctx)
		return a.fail(session.ErrPinMismatch)
	}

	a.say("Re-encrypting records...")
	if err := c.ChangePin(ctx, pin); err != nil {
		return a.fail(err)
	}
	a.say("PIN changed")
	return nil
}

// Reset deletes the vault after an explicit confirmation.
func (a *App) Reset(ctx context.Context) error {
	answer, err := GetSimpleText(a.reader, "This deletes every record for good. Type RESET to confirm", a.out)
	if err != nil {
		return a.fail(err)
	}
	if strings.TrimSpace(answer) != "RESET" {
		a.say("Reset cancelled")
		return nil
	}
	if err := a.controller().Reset(ctx); err != nil {
		return a.fail(err)
	}
	a.say("Vault deleted")
	return nil
}

var errAborted = errors.New("aborted")

func (a *App) confirm(prompt string) error {
	answer, err := GetSimpleText(a.reader, fmt.Sprintf("%s [y/N]", prompt), a.out)
	if err != nil {
		return err
	}
	if strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes") {
		return nil
	}
	return errAborted
}
