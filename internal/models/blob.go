package models

import "time"

// Blob is one encrypted record. Byte fields travel as base64 in JSON.
type Blob struct {
	ID         string    `json:"id" cbor:"1,keyasint"`
	UserID     string    `json:"-" cbor:"2,keyasint"`
	Nonce      []byte    `json:"nonce" cbor:"3,keyasint"`
	Ciphertext []byte    `json:"ciphertext" cbor:"4,keyasint"`
	CreatedAt  time.Time `json:"created_at" cbor:"5,keyasint"`
}
