// Package models defines the persisted shapes of vault data. Nothing here
// carries plaintext: a Verifier is a slow hash of the PIN and a Blob is
// AES-GCM ciphertext.
package models

import (
	"time"

	"github.com/dmitrijs2005/medvault/internal/cryptox"
)

// Verifier lets the vault check a PIN without storing it or the key.
type Verifier struct {
	UserID    string            `json:"user_id" cbor:"1,keyasint"`
	KDF       cryptox.KDFParams `json:"kdf" cbor:"2,keyasint"`
	Salt      []byte            `json:"salt" cbor:"3,keyasint"`
	Hash      []byte            `json:"hash" cbor:"4,keyasint"`
	CreatedAt time.Time         `json:"created_at" cbor:"5,keyasint"`
	UpdatedAt time.Time         `json:"updated_at" cbor:"6,keyasint"`

	// KeyID names the key the records are sealed under and changes with
	// every PIN change. Writers still holding an older key are refused.
	KeyID string `json:"key_id" cbor:"7,keyasint"`
	// Revision counts record writes. A rekey only commits over the revision
	// its records were read at.
	Revision int64 `json:"revision" cbor:"8,keyasint"`
}
