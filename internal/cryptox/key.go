package cryptox

import (
	"crypto/subtle"
	"log/slog"
	"sync"

	"github.com/dmitrijs2005/medvault/internal/common"
)

const redacted = "[REDACTED]"

// Key is a derived symmetric key. It lives in memory only; String and
// LogValue never reveal the bytes.
type Key struct {
	mu sync.RWMutex
	b  []byte
}

// NewKey copies raw into a new Key. raw must be KeySize bytes long.
func NewKey(raw []byte) (*Key, error) {
	if len(raw) != KeySize {
		return nil, ErrKeyDerivation
	}
	b := make([]byte, KeySize)
	copy(b, raw)
	return &Key{b: b}, nil
}

// Wipe zeroes the key bytes. A wiped key can no longer seal or open.
func (k *Key) Wipe() {
	if k == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	common.WipeByteArray(k.b)
	k.b = nil
}

func (k *Key) IsWiped() bool {
	if k == nil {
		return true
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.b == nil
}

// Equal reports whether both keys hold the same bytes, in constant time.
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return false
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()
	return k.b != nil && subtle.ConstantTimeCompare(k.b, other.b) == 1
}

func (k *Key) String() string { return redacted }

func (k *Key) LogValue() slog.Value { return slog.StringValue(redacted) }

// use runs fn with the raw bytes under a read lock.
func (k *Key) use(fn func(b []byte) error) error {
	if k == nil {
		return ErrEncryption
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.b == nil {
		return ErrEncryption
	}
	return fn(k.b)
}
