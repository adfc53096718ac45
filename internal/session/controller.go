// Package session drives the PIN lifecycle of one user's vault: setup,
// unlock, lock, OTP-gated PIN change with re-encryption, reset and idle
// auto-lock.
package session

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/cryptox"
	"github.com/dmitrijs2005/medvault/internal/events"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/mail"
	"github.com/dmitrijs2005/medvault/internal/models"
	"github.com/dmitrijs2005/medvault/internal/vault"
)

// Store persists the verifier and the encrypted blobs of each user.
type Store interface {
	GetVerifier(ctx context.Context, userID string) (*models.Verifier, error)
	CreateVerifier(ctx context.Context, v *models.Verifier) error
	Snapshot(ctx context.Context, userID string) (*models.Verifier, []models.Blob, error)
	GetBlob(ctx context.Context, userID, id string) (*models.Blob, error)
	PutBlob(ctx context.Context, keyID string, blob *models.Blob) error
	DeleteBlob(ctx context.Context, userID, id string) error
	Rekey(ctx context.Context, base, next *models.Verifier, blobs []models.Blob) error
	DeleteUser(ctx context.Context, userID string) error
}

// Status is a point-in-time view of a controller.
type Status struct {
	UserID     string        `json:"user_id"`
	State      State         `json:"state"`
	IdleFor    time.Duration `json:"idle_for"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Controller owns the vault of one user. State changes are serialized by mu,
// which is released while a key is being derived; slow operations remember
// the epoch they started in and give up if a Lock, Reset or Close bumped it
// in the meantime.
//
// keyID names the key the controller unlocked with. Writes are conditional
// on it, so a PIN change made through another controller locks this one
// instead of leaving records no PIN can open.
type Controller struct {
	opts   Options
	store  Store
	mailer mail.Mailer
	events events.Publisher
	log    logging.Logger
	vault  *vault.Service
	now    func() time.Time
	newOtp func() (string, error)

	mu         sync.Mutex
	id         models.Identity
	state      State
	pendingPin []byte
	otp        *otpChallenge
	limiter    *unlockLimiter
	keyID      string
	lastActive time.Time
	busy       bool
	epoch      uint64
}

// NewController loads the user's verifier to decide between NotSetup and
// Locked.
func NewController(ctx context.Context, id models.Identity, deps Deps, opts Options) (*Controller, error) {
	return newController(ctx, id, deps, opts, nil)
}

// newController shares limiter with earlier controllers of the same user
// when it is not nil.
func newController(ctx context.Context, id models.Identity, deps Deps, opts Options, limiter *unlockLimiter) (*Controller, error) {
	if id.UserID == "" {
		return nil, fmt.Errorf("%w: empty user id", common.ErrorUnauthorized)
	}
	if deps.Store == nil {
		return nil, errors.New("session: nil store")
	}
	deps = deps.withDefaults()
	opts = opts.withDefaults()
	if err := opts.KDF.Validate(); err != nil {
		return nil, err
	}
	if limiter == nil {
		limiter = newUnlockLimiter(opts.FreeAttempts, opts.BackoffInitial, opts.BackoffMax)
	}

	c := &Controller{
		opts:    opts,
		store:   deps.Store,
		mailer:  deps.Mailer,
		events:  deps.Events,
		log:     deps.Log.With("user_id", id.UserID),
		vault:   vault.NewService(opts.KDF, vault.WithDeriveTimeout(opts.DeriveTimeout)),
		now:     opts.Now,
		newOtp:  generateOtp,
		id:      id,
		limiter: limiter,
	}
	c.lastActive = c.now()

	_, err := c.store.GetVerifier(ctx, id.UserID)
	switch {
	case err == nil:
		c.state = Locked
	case errors.Is(err, common.ErrorNotFound):
		c.state = NotSetup
	default:
		return nil, fmt.Errorf("load verifier: %w", err)
	}
	return c, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Identity() models.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// SetIdentity refreshes the contact details used for OTP delivery.
func (c *Controller) SetIdentity(id models.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id.UserID == c.id.UserID {
		c.id = id
	}
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	return Status{
		UserID:     c.id.UserID,
		State:      c.state,
		IdleFor:    now.Sub(c.lastActive),
		RetryAfter: c.limiter.retryAfter(now),
	}
}

// BeginSetup caches the first PIN entry. It fails with ErrAlreadySetup when a
// verifier is already stored.
func (c *Controller) BeginSetup(ctx context.Context, pin []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy {
		return ErrDerivationInProgress
	}
	if c.state != NotSetup && c.state != AwaitingPinConfirm {
		return ErrAlreadySetup
	}
	if utf8.RuneCount(pin) < c.opts.MinPinLength {
		return ErrPinTooShort
	}

	_, err := c.store.GetVerifier(ctx, c.id.UserID)
	switch {
	case err == nil:
		c.wipePending()
		c.state = Locked
		return ErrAlreadySetup
	case !errors.Is(err, common.ErrorNotFound):
		return fmt.Errorf("load verifier: %w", err)
	}

	c.wipePending()
	c.pendingPin = append([]byte(nil), pin...)
	c.state = AwaitingPinConfirm
	c.touch()
	return nil
}

// ConfirmSetup compares pin with the cached entry, stores a new verifier and
// unlocks the vault. On mismatch the first entry is kept and the controller
// waits for another confirmation; CancelSetup starts over.
func (c *Controller) ConfirmSetup(ctx context.Context, pin []byte) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrDerivationInProgress
	}
	if c.state != AwaitingPinConfirm {
		c.mu.Unlock()
		return ErrInvalidState
	}
	if subtle.ConstantTimeCompare(c.pendingPin, pin) != 1 {
		c.touch()
		c.mu.Unlock()
		return ErrPinMismatch
	}
	c.wipePending()
	epoch := c.begin()
	c.mu.Unlock()

	key, v, err := c.deriveNew(ctx, pin)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false

	if err != nil {
		if c.epoch == epoch {
			c.state = NotSetup
		}
		c.log.Error(ctx, "vault setup failed", "error", err)
		return err
	}
	if c.epoch != epoch || c.state != AwaitingPinConfirm {
		key.Wipe()
		return ErrInvalidState
	}

	if err := c.store.CreateVerifier(ctx, v); err != nil {
		key.Wipe()
		if errors.Is(err, common.ErrorAlreadyExists) {
			c.state = Locked
			return ErrAlreadySetup
		}
		c.state = NotSetup
		return fmt.Errorf("save verifier: %w", err)
	}

	c.vault.Unlock(key)
	c.keyID = v.KeyID
	c.state = Unlocked
	c.limiter.reset()
	c.touch()
	c.log.Info(ctx, "vault set up")
	c.publish(ctx, events.VaultSetup, "", "")
	return nil
}

func (c *Controller) CancelSetup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != AwaitingPinConfirm {
		return ErrInvalidState
	}
	c.epoch++
	c.wipePending()
	c.state = NotSetup
	return nil
}

// Unlock checks pin against the stored verifier and installs the derived key.
func (c *Controller) Unlock(ctx context.Context, pin []byte) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrDerivationInProgress
	}
	switch c.state {
	case Locked:
	case NotSetup, AwaitingPinConfirm:
		c.mu.Unlock()
		return ErrNotSetup
	default:
		c.mu.Unlock()
		return ErrInvalidState
	}
	if wait := c.limiter.retryAfter(c.now()); wait > 0 {
		c.mu.Unlock()
		return &TooManyAttemptsError{RetryAfter: wait}
	}
	epoch := c.begin()
	c.mu.Unlock()

	key, keyID, err := c.verifyAndDerive(ctx, pin)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false

	if err != nil {
		if c.epoch != epoch {
			return err
		}
		switch {
		case errors.Is(err, ErrInvalidPin):
			failures := c.limiter.fail(c.now())
			c.log.Warn(ctx, "unlock rejected", "failures", failures)
			c.publish(ctx, events.VaultUnlockFailed, "", "invalid pin")
		case errors.Is(err, ErrNotSetup):
			c.state = NotSetup
		default:
			c.log.Error(ctx, "unlock failed", "error", err)
		}
		return err
	}
	if c.epoch != epoch || c.state != Locked {
		key.Wipe()
		return ErrInvalidState
	}

	c.vault.Unlock(key)
	c.keyID = keyID
	c.state = Unlocked
	c.limiter.reset()
	c.touch()
	c.log.Info(ctx, "vault unlocked")
	c.publish(ctx, events.VaultUnlocked, "", "")
	return nil
}

// Lock wipes the key and drops any PIN change in progress. Locking a vault
// that is not unlocked only cancels in-flight work.
func (c *Controller) Lock(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lock(ctx, "manual")
}

// RequestPinChange mails a one-time code to the user. The state only moves
// to PinChangePendingOTP once the mail went out.
func (c *Controller) RequestPinChange(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.busy:
		c.mu.Unlock()
		return ErrDerivationInProgress
	case c.state == PinChangePendingOTP || c.state == PinChangeActive:
		c.mu.Unlock()
		return ErrInvalidState
	case c.state != Unlocked || !c.vault.IsUnlocked():
		c.mu.Unlock()
		return ErrVaultMustBeUnlockedToChangePin
	}
	id := c.id
	epoch := c.epoch
	c.mu.Unlock()

	code, err := c.newOtp()
	if err == nil {
		if id.Email == "" {
			err = errors.New("no email address on file")
		} else {
			err = c.mailer.SendPinResetOtp(ctx, id.Email, id.Name, code)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.log.Error(ctx, "failed to send verification code", "error", err)
		return fmt.Errorf("%w: %w", ErrOtpDispatch, err)
	}
	if c.epoch != epoch || c.state != Unlocked {
		if c.state == PinChangePendingOTP || c.state == PinChangeActive {
			return ErrInvalidState
		}
		return ErrVaultMustBeUnlockedToChangePin
	}

	c.otp = newOtpChallenge(code, id.Email, c.now(), c.opts.OtpTTL)
	c.state = PinChangePendingOTP
	c.touch()
	c.log.Info(ctx, "pin change requested")
	c.publish(ctx, events.PinChangeRequested, "", "")
	return nil
}

// VerifyOtp consumes the pending challenge when code matches.
func (c *Controller) VerifyOtp(ctx context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case PinChangePendingOTP:
	case NotSetup, AwaitingPinConfirm, Locked:
		return ErrVaultMustBeUnlockedToChangePin
	default:
		return ErrInvalidState
	}

	ch := c.otp
	if ch == nil {
		c.state = Unlocked
		return ErrInvalidState
	}
	if ch.expired(c.now()) {
		c.otp = nil
		c.state = Unlocked
		return ErrOtpExpired
	}
	if !ch.matches(code) {
		ch.attempts++
		if ch.attempts >= c.opts.OtpMaxAttempts {
			c.otp = nil
			c.state = Unlocked
			c.log.Warn(ctx, "verification code attempt limit reached")
			return fmt.Errorf("%w: attempt limit reached", ErrInvalidOtp)
		}
		return ErrInvalidOtp
	}

	c.otp = nil
	c.state = PinChangeActive
	c.touch()
	return nil
}

func (c *Controller) CancelPinChange(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != PinChangePendingOTP && c.state != PinChangeActive {
		return ErrInvalidState
	}
	if c.busy {
		return ErrDerivationInProgress
	}
	c.otp = nil
	c.state = Unlocked
	c.touch()
	return nil
}

// ChangePin re-encrypts every record under a key derived from newPin and
// replaces the verifier in one store transaction. On any failure the old
// key and verifier stay in force and the state returns to Unlocked. A
// record written in the meantime aborts the commit with ErrVaultChanged.
func (c *Controller) ChangePin(ctx context.Context, newPin []byte) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrDerivationInProgress
	}
	switch c.state {
	case PinChangeActive:
	case NotSetup, AwaitingPinConfirm, Locked:
		c.mu.Unlock()
		return ErrVaultMustBeUnlockedToChangePin
	default:
		c.mu.Unlock()
		return ErrInvalidState
	}
	if utf8.RuneCount(newPin) < c.opts.MinPinLength {
		c.mu.Unlock()
		return ErrPinTooShort
	}
	if !c.vault.IsUnlocked() {
		c.mu.Unlock()
		return ErrVaultMustBeUnlockedToChangePin
	}
	keyID := c.keyID
	epoch := c.begin()
	c.mu.Unlock()

	key, base, v, blobs, err := c.reencrypt(ctx, keyID, newPin)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false

	if err != nil {
		if c.epoch != epoch {
			return err
		}
		if errors.Is(err, errKeyChanged) {
			return c.staleKey(ctx)
		}
		c.state = Unlocked
		c.log.Error(ctx, "pin change aborted", "error", err)
		return err
	}
	if c.epoch != epoch || c.state != PinChangeActive {
		key.Wipe()
		return ErrVaultMustBeUnlockedToChangePin
	}

	if err := c.store.Rekey(ctx, base, v, blobs); err != nil {
		key.Wipe()
		if errors.Is(err, common.ErrorConflict) {
			if cur, gerr := c.store.GetVerifier(ctx, c.id.UserID); gerr != nil || cur.KeyID != c.keyID {
				return c.staleKey(ctx)
			}
			c.state = Unlocked
			c.log.Warn(ctx, "pin change aborted, records changed meanwhile")
			return ErrVaultChanged
		}
		c.state = Unlocked
		c.log.Error(ctx, "pin change aborted", "error", err)
		return fmt.Errorf("rekey: %w", err)
	}

	c.vault.Unlock(key)
	c.keyID = v.KeyID
	c.state = Unlocked
	c.touch()
	c.log.Info(ctx, "pin changed", "records", len(blobs))
	c.publish(ctx, events.PinChanged, "", "")
	return nil
}

// Reset deletes the verifier and every record of the user.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.DeleteUser(ctx, c.id.UserID); err != nil {
		return fmt.Errorf("reset vault: %w", err)
	}
	c.epoch++
	c.vault.Lock()
	c.wipePending()
	c.otp = nil
	c.keyID = ""
	c.limiter.reset()
	c.state = NotSetup
	c.touch()
	c.log.Warn(ctx, "vault reset")
	c.publish(ctx, events.VaultReset, "", "")
	return nil
}

// Close wipes the key and any cached PIN material.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lock(context.Background(), "closed")
}

// Touch records user activity.
func (c *Controller) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
}

func (c *Controller) IdleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Sub(c.lastActive)
}

// LockIfIdle locks an unlocked vault that saw no activity for timeout. It
// leaves a vault alone while a derivation or re-encryption is running.
func (c *Controller) LockIfIdle(ctx context.Context, timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy || !c.state.IsUnlocked() {
		return false
	}
	if c.now().Sub(c.lastActive) < timeout {
		return false
	}
	c.lock(ctx, "idle")
	return true
}

// lock must be called with mu held.
func (c *Controller) lock(ctx context.Context, reason string) {
	c.epoch++
	c.otp = nil
	c.keyID = ""
	c.vault.Lock()
	switch c.state {
	case Unlocked, PinChangePendingOTP, PinChangeActive:
		c.state = Locked
		c.log.Info(ctx, "vault locked", "reason", reason)
		c.publish(ctx, events.VaultLocked, "", reason)
	case AwaitingPinConfirm:
		c.wipePending()
		c.state = NotSetup
	}
}

// staleKey locks a controller whose key was replaced through another
// session. It must be called with mu held.
func (c *Controller) staleKey(ctx context.Context) error {
	c.lock(ctx, "pin changed elsewhere")
	return errStaleKey
}

// begin must be called with mu held.
func (c *Controller) begin() uint64 {
	c.busy = true
	return c.epoch
}

func (c *Controller) touch() {
	c.lastActive = c.now()
}

func (c *Controller) wipePending() {
	common.WipeByteArray(c.pendingPin)
	c.pendingPin = nil
}

func (c *Controller) keySalt() []byte {
	return []byte(c.opts.AppSalt + ":" + c.id.UserID)
}

func (c *Controller) publish(ctx context.Context, t events.Type, recordID, reason string) {
	c.events.Publish(ctx, events.Event{
		Type:     t,
		UserID:   c.id.UserID,
		RecordID: recordID,
		Reason:   reason,
		At:       c.now().UTC(),
	})
}

// deriveNew derives a key and a fresh verifier for pin under the current
// parameters.
func (c *Controller) deriveNew(ctx context.Context, pin []byte) (*cryptox.Key, *models.Verifier, error) {
	params := c.vault.Params()
	key, err := c.vault.DeriveKeyWith(ctx, pin, c.keySalt(), params)
	if err != nil {
		return nil, nil, err
	}
	salt, hash, err := c.vault.NewVerifier(ctx, pin, params)
	if err != nil {
		key.Wipe()
		return nil, nil, err
	}
	now := c.now().UTC()
	return key, &models.Verifier{
		UserID:    c.id.UserID,
		KeyID:     uuid.NewString(),
		KDF:       params,
		Salt:      salt,
		Hash:      hash,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// verifyAndDerive derives the key with the parameters the vault was created
// with, so changing the configured KDF does not lock existing users out. It
// also returns the id of the key it derived.
func (c *Controller) verifyAndDerive(ctx context.Context, pin []byte) (*cryptox.Key, string, error) {
	v, err := c.store.GetVerifier(ctx, c.id.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, "", ErrNotSetup
		}
		return nil, "", fmt.Errorf("load verifier: %w", err)
	}

	ok, err := c.vault.CheckVerifier(ctx, pin, v.KDF, v.Salt, v.Hash)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", ErrInvalidPin
	}
	key, err := c.vault.DeriveKeyWith(ctx, pin, c.keySalt(), v.KDF)
	if err != nil {
		return nil, "", err
	}
	return key, v.KeyID, nil
}

// reencrypt opens every blob under the held key and seals it again under a
// key derived from newPin. Nothing is written; the returned base is the
// verifier the blobs were read with.
func (c *Controller) reencrypt(ctx context.Context, keyID string, newPin []byte) (*cryptox.Key, *models.Verifier, *models.Verifier, []models.Blob, error) {
	base, old, err := c.store.Snapshot(ctx, c.id.UserID)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("list records: %w", err)
	}
	if base.KeyID != keyID {
		return nil, nil, nil, nil, errKeyChanged
	}

	plain := make([][]byte, len(old))
	defer func() {
		for _, p := range plain {
			common.WipeByteArray(p)
		}
	}()
	for i := range old {
		var raw json.RawMessage
		if err := c.vault.Decrypt(&old[i], &raw); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("open record %s: %w", old[i].ID, err)
		}
		plain[i] = raw
	}

	key, v, err := c.deriveNew(ctx, newPin)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	blobs := make([]models.Blob, len(old))
	for i, b := range old {
		nonce, ct, err := cryptox.Seal(key, json.RawMessage(plain[i]))
		if err != nil {
			key.Wipe()
			return nil, nil, nil, nil, fmt.Errorf("seal record %s: %w", b.ID, err)
		}
		blobs[i] = models.Blob{
			ID:         b.ID,
			UserID:     c.id.UserID,
			Nonce:      nonce,
			Ciphertext: ct,
			CreatedAt:  b.CreatedAt,
		}
	}
	return key, base, v, blobs, nil
}
