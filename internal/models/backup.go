package models

import "time"

// BackupKind distinguishes manual snapshots from the rolling save copy.
type BackupKind string

const (
	BackupManual BackupKind = "manual"
	BackupAuto   BackupKind = "auto"
)

// BackupInfo describes one backup of an encrypted vault file.
type BackupInfo struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Kind          BackupKind `json:"kind"`
	OriginalVault string     `json:"original_vault"`
	CreatedAt     time.Time  `json:"created_at"`
	Size          int64      `json:"size"`
	SHA256        string     `json:"sha256"`
}

// BackupStats summarizes the backups held by one target.
type BackupStats struct {
	Count       int         `json:"count"`
	TotalSize   int64       `json:"total_size"`
	Latest      *BackupInfo `json:"latest,omitempty"`
	AutoEnabled bool        `json:"auto_enabled"`
}
