package cryptox

import (
	"crypto/subtle"

	"github.com/dmitrijs2005/medvault/internal/common"
)

// VerifierSaltSize is the length of the random salt stored with a verifier.
const VerifierSaltSize = 16

// verifierLabel separates verifier derivations from key derivations, so the
// stored hash is never equal to a usable key even if the salts collided.
var verifierLabel = []byte("medvault/pin-verifier/v1:")

// NewVerifier derives a PIN verifier under a fresh random salt.
func NewVerifier(pin []byte, params KDFParams) (salt, hash []byte, err error) {
	salt = common.GenerateRandByteArray(VerifierSaltSize)
	hash, err = verifierHash(pin, salt, params)
	if err != nil {
		return nil, nil, err
	}
	return salt, hash, nil
}

// CheckVerifier recomputes the verifier for pin and compares it with hash in
// constant time.
func CheckVerifier(pin []byte, params KDFParams, salt, hash []byte) (bool, error) {
	got, err := verifierHash(pin, salt, params)
	if err != nil {
		return false, err
	}
	defer common.WipeByteArray(got)
	return subtle.ConstantTimeCompare(got, hash) == 1, nil
}

func verifierHash(pin, salt []byte, params KDFParams) ([]byte, error) {
	if len(salt) == 0 {
		return nil, ErrKeyDerivation
	}
	labelled := make([]byte, 0, len(verifierLabel)+len(salt))
	labelled = append(labelled, verifierLabel...)
	labelled = append(labelled, salt...)
	return derive(pin, labelled, params)
}
