// Package vault holds the derived key of one unlocked vault and performs
// authenticated encryption of records with it.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/cryptox"
	"github.com/dmitrijs2005/medvault/internal/models"
)

// DefaultDeriveTimeout bounds a single key derivation.
const DefaultDeriveTimeout = 10 * time.Second

// seams for tests
type (
	deriveFunc        func(pin, salt []byte, params cryptox.KDFParams) (*cryptox.Key, error)
	newVerifierFunc   func(pin []byte, params cryptox.KDFParams) (salt, hash []byte, err error)
	checkVerifierFunc func(pin []byte, params cryptox.KDFParams, salt, hash []byte) (bool, error)
)

// Service owns at most one key at a time. It is safe for concurrent use.
type Service struct {
	params  cryptox.KDFParams
	timeout time.Duration

	derive        deriveFunc
	newVerifier   newVerifierFunc
	checkVerifier checkVerifierFunc

	// one derivation at a time; a second caller fails fast
	sem *semaphore.Weighted

	mu  sync.RWMutex
	key *cryptox.Key
}

type Option func(*Service)

func WithDeriveTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewService(params cryptox.KDFParams, opts ...Option) *Service {
	s := &Service{
		params:  params,
		timeout: DefaultDeriveTimeout,
		sem:     semaphore.NewWeighted(1),

		derive:        cryptox.DeriveKey,
		newVerifier:   cryptox.NewVerifier,
		checkVerifier: cryptox.CheckVerifier,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Params returns the derivation parameters used for new keys and verifiers.
func (s *Service) Params() cryptox.KDFParams { return s.params }

// DeriveKey runs the slow KDF with the service parameters without touching
// the held key. It fails with ErrDerivationInProgress if another derivation
// is running and with ErrKeyDerivation on KDF failure, timeout or
// cancellation. A result that arrives after the deadline is wiped.
func (s *Service) DeriveKey(ctx context.Context, pin, salt []byte) (*cryptox.Key, error) {
	return s.DeriveKeyWith(ctx, pin, salt, s.params)
}

// DeriveKeyWith is DeriveKey with explicit parameters, used to re-derive
// keys for vaults created under older settings.
func (s *Service) DeriveKeyWith(ctx context.Context, pin, salt []byte, params cryptox.KDFParams) (*cryptox.Key, error) {
	saltCopy := append([]byte(nil), salt...)
	derive := s.derive
	return bounded(ctx, s, pin, func(pin []byte) (*cryptox.Key, error) {
		return derive(pin, saltCopy, params)
	}, func(k *cryptox.Key) {
		if k != nil {
			k.Wipe()
		}
	})
}

// NewVerifier draws a salt and hashes pin for a fresh verifier. It shares
// the single-flight slot and deadline of DeriveKey.
func (s *Service) NewVerifier(ctx context.Context, pin []byte, params cryptox.KDFParams) (salt, hash []byte, err error) {
	type verifier struct{ salt, hash []byte }

	newVerifier := s.newVerifier
	v, err := bounded(ctx, s, pin, func(pin []byte) (verifier, error) {
		salt, hash, err := newVerifier(pin, params)
		return verifier{salt: salt, hash: hash}, err
	}, nil)
	if err != nil {
		return nil, nil, err
	}
	return v.salt, v.hash, nil
}

// CheckVerifier reports whether pin matches hash. It shares the
// single-flight slot and deadline of DeriveKey.
func (s *Service) CheckVerifier(ctx context.Context, pin []byte, params cryptox.KDFParams, salt, hash []byte) (bool, error) {
	saltCopy := append([]byte(nil), salt...)
	hashCopy := append([]byte(nil), hash...)
	checkVerifier := s.checkVerifier
	return bounded(ctx, s, pin, func(pin []byte) (bool, error) {
		return checkVerifier(pin, params, saltCopy, hashCopy)
	}, nil)
}

// bounded runs fn on a copy of pin in its own goroutine, holding the
// service semaphore until fn returns and giving up after the derive
// timeout. A result that arrives after the caller gave up is passed to
// discard, if set.
func bounded[T any](ctx context.Context, s *Service, pin []byte, fn func(pin []byte) (T, error), discard func(T)) (T, error) {
	var zero T
	if !s.sem.TryAcquire(1) {
		return zero, ErrDerivationInProgress
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)

	// copied so callers may wipe theirs as soon as we return
	pinCopy := append([]byte(nil), pin...)

	go func() {
		v, err := fn(pinCopy)
		common.WipeByteArray(pinCopy)
		s.sem.Release(1)
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, ErrKeyDerivation) {
				return zero, r.err
			}
			return zero, fmt.Errorf("%w: %v", ErrKeyDerivation, r.err)
		}
		return r.val, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil && discard != nil {
				discard(r.val)
			}
		}()
		return zero, fmt.Errorf("%w: %w", ErrKeyDerivation, ctx.Err())
	}
}

// Unlock installs key, wiping any key held before.
func (s *Service) Unlock(key *cryptox.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil && s.key != key {
		s.key.Wipe()
	}
	s.key = key
}

// Lock wipes and drops the held key.
func (s *Service) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil {
		s.key.Wipe()
		s.key = nil
	}
}

func (s *Service) IsUnlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key != nil && !s.key.IsWiped()
}

// Encrypt seals v under the held key into a new blob with a fresh id.
func (s *Service) Encrypt(v any) (*models.Blob, error) {
	return s.EncryptWithID(uuid.NewString(), v)
}

// EncryptWithID seals v under the held key into a blob with the given id.
func (s *Service) EncryptWithID(id string, v any) (*models.Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return nil, ErrEncryption
	}

	nonce, ct, err := cryptox.Seal(s.key, v)
	if err != nil {
		return nil, err
	}
	return &models.Blob{
		ID:         id,
		Nonce:      nonce,
		Ciphertext: ct,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Decrypt authenticates blob and unmarshals its plaintext into v.
func (s *Service) Decrypt(blob *models.Blob, v any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return ErrVaultLocked
	}
	if blob == nil {
		return ErrDecryption
	}
	return cryptox.Open(s.key, blob.Nonce, blob.Ciphertext, v)
}
