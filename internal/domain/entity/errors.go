package entity

import "errors"

var (
	// Session errors
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrSessionNotFound  = errors.New("session not found")
	ErrNotOwner         = errors.New("session belongs to another user")
	ErrBadMessageIndex  = errors.New("message index out of range")

	// Job errors
	ErrJobNotFound = errors.New("job not found")

	// Vault errors
	ErrVaultLocked   = errors.New("vault is locked")
	ErrVaultMissing  = errors.New("vault file does not exist")
	ErrKeyNotFound   = errors.New("key not found in vault")
	ErrBadVaultMagic = errors.New("unrecognized vault format version")
)
