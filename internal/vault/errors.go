package vault

import (
	"errors"

	"github.com/dmitrijs2005/medvault/internal/cryptox"
)

var (
	ErrKeyDerivation = cryptox.ErrKeyDerivation
	ErrEncryption    = cryptox.ErrEncryption
	ErrDecryption    = cryptox.ErrDecryption

	// ErrDerivationInProgress is returned when another derivation is running.
	ErrDerivationInProgress = errors.New("key derivation already in progress")

	// ErrVaultLocked is returned by Decrypt when no key is held.
	ErrVaultLocked = errors.New("vault is locked")
)
