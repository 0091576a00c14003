package models

import (
	"fmt"
	"strings"
	"time"
)

// VaultRecord remembers a vault file the user has opened. It never holds
// secrets, only the path and activity timestamps.
type VaultRecord struct {
	Path          string    `json:"path"`
	LastOpened    time.Time `json:"last_opened"`
	LastUnlocked  time.Time `json:"last_unlocked,omitempty"`
	LastBackup    time.Time `json:"last_backup,omitempty"`
	FailedUnlocks int       `json:"failed_unlocks"`
}

// VaultEvent is an activity recorded against a VaultRecord.
type VaultEvent string

const (
	EventOpened       VaultEvent = "opened"
	EventUnlocked     VaultEvent = "unlocked"
	EventUnlockFailed VaultEvent = "unlock_failed"
	EventBackedUp     VaultEvent = "backed_up"
)

// NewVaultRecord creates a record for path.
func NewVaultRecord(path string) *VaultRecord {
	return &VaultRecord{Path: path}
}

// Apply records event at time at.
func (r *VaultRecord) Apply(event VaultEvent, at time.Time) error {
	switch event {
	case EventOpened:
		r.LastOpened = at
	case EventUnlocked:
		r.LastUnlocked = at
		r.FailedUnlocks = 0
		if r.LastOpened.IsZero() {
			r.LastOpened = at
		}
	case EventUnlockFailed:
		r.FailedUnlocks++
	case EventBackedUp:
		r.LastBackup = at
	default:
		return fmt.Errorf("unknown vault event %q", event)
	}
	return nil
}

// LastActive returns the later of the open and unlock times.
func (r *VaultRecord) LastActive() time.Time {
	if r.LastUnlocked.After(r.LastOpened) {
		return r.LastUnlocked
	}
	return r.LastOpened
}

// Validate checks the record structure.
func (r *VaultRecord) Validate() error {
	if strings.TrimSpace(r.Path) == "" {
		return fmt.Errorf("vault path is required")
	}
	if r.FailedUnlocks < 0 {
		return fmt.Errorf("failed unlocks cannot be negative")
	}
	return nil
}

// Clone creates a copy of the record.
func (r *VaultRecord) Clone() *VaultRecord {
	c := *r
	return &c
}
