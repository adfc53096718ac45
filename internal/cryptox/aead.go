package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/medvault/internal/common"
)

// NonceSize is the AES-GCM nonce length used for every blob.
const NonceSize = 12

// Seal serializes v to JSON and encrypts it with AES-256-GCM under a fresh
// random nonce.
func Seal(key *Key, v any) (nonce, ciphertext []byte, err error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	defer common.WipeByteArray(plaintext)

	err = key.use(func(b []byte) error {
		aesgcm, err := newGCM(b)
		if err != nil {
			return err
		}
		nonce = common.GenerateRandByteArray(NonceSize)
		ciphertext = aesgcm.Seal(nil, nonce, plaintext, nil)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrEncryption) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	return nonce, ciphertext, nil
}

// Open authenticates and decrypts ciphertext, then unmarshals the JSON into v.
// A wrong key and tampered data are reported the same way, as ErrDecryption.
func Open(key *Key, nonce, ciphertext []byte, v any) error {
	if len(nonce) != NonceSize {
		return ErrDecryption
	}

	var plaintext []byte
	err := key.use(func(b []byte) error {
		aesgcm, err := newGCM(b)
		if err != nil {
			return err
		}
		plaintext, err = aesgcm.Open(nil, nonce, ciphertext, nil)
		return err
	})
	if err != nil {
		return ErrDecryption
	}
	defer common.WipeByteArray(plaintext)

	if err := json.Unmarshal(plaintext, v); err != nil {
		return ErrDecryption
	}
	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
