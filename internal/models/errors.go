package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeAuth          = "AUTH_ERROR"
	ErrCodeVaultNotFound = "VAULT_NOT_FOUND"
	ErrCodeVaultExists   = "VAULT_EXISTS"
	ErrCodeCorrupt       = "CORRUPT_VAULT"
	ErrCodeLocked        = "VAULT_LOCKED"
	ErrCodeEntry         = "ENTRY_ERROR"
	ErrCodePolicy        = "POLICY_ERROR"
	ErrCodeStorage       = "STORAGE_ERROR"
	ErrCodeState         = "STATE_ERROR"
	ErrCodeConfig        = "CONFIG_ERROR"
)

// Sentinel errors
var (
	ErrVaultNotFound  = errors.New("vault not found")
	ErrVaultExists    = errors.New("vault already exists")
	ErrCorruptVault   = errors.New("vault file is corrupted")
	ErrAuthentication = errors.New("wrong password or corrupted vault")
	ErrVaultLocked    = errors.New("vault is locked")
	ErrVaultClosed    = errors.New("no vault open")
	ErrDuplicateTitle = errors.New("an entry with this title already exists")
	ErrEntryNotFound  = errors.New("entry not found")
	ErrInvalidEntry   = errors.New("invalid entry")
	ErrWeakPassword   = errors.New("master password too short")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// VaultError carries the operation and file behind a vault failure.
// Reason is for logs only and never shown to the user.
type VaultError struct {
	Code   string
	Op     string
	Path   string
	Reason string
	Err    error
}

func (e *VaultError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("vault %s [%s]: %s: %v", e.Op, e.Code, e.Path, e.Err)
	}
	return fmt.Sprintf("vault %s [%s]: %v", e.Op, e.Code, e.Err)
}

func (e *VaultError) Unwrap() error {
	return e.Err
}

// EntryError reports a credential store failure for one title.
type EntryError struct {
	Op    string
	Title string
	Err   error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Title, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// CodeOf maps an error onto its error code. Unknown errors map to
// ErrCodeStorage.
func CodeOf(err error) string {
	var ve *VaultError
	if errors.As(err, &ve) && ve.Code != "" {
		return ve.Code
	}

	switch {
	case errors.Is(err, ErrAuthentication):
		return ErrCodeAuth
	case errors.Is(err, ErrVaultNotFound):
		return ErrCodeVaultNotFound
	case errors.Is(err, ErrVaultExists):
		return ErrCodeVaultExists
	case errors.Is(err, ErrCorruptVault):
		return ErrCodeCorrupt
	case errors.Is(err, ErrVaultLocked), errors.Is(err, ErrVaultClosed):
		return ErrCodeLocked
	case errors.Is(err, ErrDuplicateTitle), errors.Is(err, ErrEntryNotFound), errors.Is(err, ErrInvalidEntry):
		return ErrCodeEntry
	case errors.Is(err, ErrWeakPassword):
		return ErrCodePolicy
	case errors.Is(err, ErrInvalidConfig):
		return ErrCodeConfig
	default:
		return ErrCodeStorage
	}
}

// UserMessage returns the message a front-end shows for err. Wrong
// passwords and tampered files share one message.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthentication):
		return "Wrong password or corrupted vault."
	case errors.Is(err, ErrVaultNotFound):
		return "Vault file not found. Create a new vault with 'keyvault init'."
	case errors.Is(err, ErrCorruptVault):
		return "The vault file is corrupted."
	case errors.Is(err, ErrVaultExists):
		return "A vault already exists at this location."
	case errors.Is(err, ErrVaultLocked):
		return "The vault is locked."
	case errors.Is(err, ErrVaultClosed):
		return "No vault is open."
	case errors.Is(err, ErrDuplicateTitle):
		return "An entry with this title already exists."
	case errors.Is(err, ErrEntryNotFound):
		return "Entry not found."
	case errors.Is(err, ErrWeakPassword):
		return "The master password is too short."
	default:
		return err.Error()
	}
}
