// Package cryptox holds the vault's cryptographic primitives: PIN key
// derivation, the in-memory Key, AES-GCM sealing and PIN verifiers.
package cryptox

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KeySize is the length of every derived key in bytes (AES-256).
const KeySize = 32

// Supported key derivation functions.
const (
	KDFPBKDF2   = "pbkdf2-sha256"
	KDFArgon2id = "argon2id"
)

const (
	DefaultPBKDF2Iterations = 100_000
	DefaultArgon2Time       = 1
	DefaultArgon2Memory     = 64 * 1024
	DefaultArgon2Threads    = 4
)

var (
	ErrKeyDerivation = errors.New("key derivation failed")
	ErrEncryption    = errors.New("encryption failed")
	ErrDecryption    = errors.New("invalid key or corrupted data")
)

// KDFParams selects the slow derivation function and its cost.
// For pbkdf2 Iterations is the iteration count; for argon2id it is the time
// parameter and Memory is expressed in KiB.
type KDFParams struct {
	Algorithm  string `json:"algorithm" yaml:"algorithm"`
	Iterations uint32 `json:"iterations" yaml:"iterations"`
	Memory     uint32 `json:"memory,omitempty" yaml:"memory,omitempty"`
	Threads    uint8  `json:"threads,omitempty" yaml:"threads,omitempty"`
}

func DefaultKDFParams() KDFParams {
	return KDFParams{Algorithm: KDFPBKDF2, Iterations: DefaultPBKDF2Iterations}
}

func DefaultArgon2Params() KDFParams {
	return KDFParams{
		Algorithm:  KDFArgon2id,
		Iterations: DefaultArgon2Time,
		Memory:     DefaultArgon2Memory,
		Threads:    DefaultArgon2Threads,
	}
}

func (p KDFParams) Validate() error {
	switch p.Algorithm {
	case KDFPBKDF2:
		if p.Iterations == 0 {
			return fmt.Errorf("%s: iterations must be positive", p.Algorithm)
		}
	case KDFArgon2id:
		if p.Iterations == 0 || p.Memory == 0 || p.Threads == 0 {
			return fmt.Errorf("%s: time, memory and threads must be positive", p.Algorithm)
		}
	default:
		return fmt.Errorf("unsupported kdf %q", p.Algorithm)
	}
	return nil
}

// DeriveKey runs the slow KDF over pin and salt. The same inputs always
// produce the same key.
func DeriveKey(pin, salt []byte, params KDFParams) (*Key, error) {
	raw, err := derive(pin, salt, params)
	if err != nil {
		return nil, err
	}
	return &Key{b: raw}, nil
}

func derive(pin, salt []byte, params KDFParams) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: empty salt", ErrKeyDerivation)
	}

	switch params.Algorithm {
	case KDFArgon2id:
		return argon2.IDKey(pin, salt, params.Iterations, params.Memory, params.Threads, KeySize), nil
	default:
		return pbkdf2.Key(pin, salt, int(params.Iterations), KeySize, sha256.New), nil
	}
}
