// Package backup copies encrypted vault files to a backup target and
// restores them. Backups are never decrypted.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TheMichaelB/keyvault/internal/events"
	"github.com/TheMichaelB/keyvault/internal/models"
	"github.com/TheMichaelB/keyvault/internal/storage"
)

const (
	backupExt   = ".bak"
	infoExt     = ".info.json"
	stampLayout = "20060102_150405"
)

// Files reads and writes vault files on the local machine.
type Files interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	Exists(path string) (bool, error)
	Copy(src, dst string) error
}

// Recorder is notified after a backup was written.
type Recorder interface {
	Record(path string, event models.VaultEvent, at time.Time) error
}

// Manager creates, lists and restores backups on one Target.
type Manager struct {
	target   Target
	files    Files
	logger   *events.Logger
	now      func() time.Time
	recorder Recorder

	autoEnabled bool
	keep        int
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRecorder reports backups to r.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithAutoBackup marks on-save backups as enabled in Stats.
func WithAutoBackup(enabled bool) Option {
	return func(m *Manager) { m.autoEnabled = enabled }
}

// WithKeep prunes manual backups beyond keep after each Create. Zero keeps
// everything.
func WithKeep(keep int) Option {
	return func(m *Manager) { m.keep = keep }
}

// NewManager creates a backup manager.
func NewManager(target Target, files Files, logger *events.Logger, opts ...Option) *Manager {
	m := &Manager{
		target: target,
		files:  files,
		logger: logger.WithFields(map[string]interface{}{
			"component": "backup",
			"target":    target.String(),
		}),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// log adds the session and vault carried by ctx to the manager's fields.
func (m *Manager) log(ctx context.Context) *events.Logger {
	fields := make(map[string]interface{}, 2)
	if id := events.GetSessionID(ctx); id != "" {
		fields["session_id"] = id
	}
	if path := events.GetVaultPath(ctx); path != "" {
		fields["vault_path"] = path
	}
	if len(fields) == 0 {
		return m.logger
	}
	return m.logger.WithFields(fields)
}

// Target returns the backup location.
func (m *Manager) Target() Target {
	return m.target
}

// Create writes a timestamped copy of the vault file.
func (m *Manager) Create(ctx context.Context, vaultPath string) (*models.BackupInfo, error) {
	now := m.now()
	base := fmt.Sprintf("%s_backup_%s", stem(vaultPath), now.Format(stampLayout))

	name, err := m.uniqueName(ctx, base)
	if err != nil {
		return nil, err
	}

	info, err := m.write(ctx, vaultPath, name, models.BackupManual, now)
	if err != nil {
		return nil, err
	}

	if m.keep > 0 {
		if _, err := m.Prune(ctx, m.keep); err != nil {
			m.log(ctx).WithError(err).Warn("Prune after backup failed")
		}
	}
	return info, nil
}

// CreateAuto replaces the single rolling backup of the vault file.
func (m *Manager) CreateAuto(ctx context.Context, vaultPath string) (*models.BackupInfo, error) {
	name := stem(vaultPath) + "_auto" + backupExt
	return m.write(ctx, vaultPath, name, models.BackupAuto, m.now())
}

// AfterSave returns a hook that refreshes the rolling backup. Failures are
// logged only; a save never fails because of its backup.
func (m *Manager) AfterSave() func(path string) {
	return func(path string) {
		ctx := events.WithVaultPath(context.Background(), path)
		if _, err := m.CreateAuto(ctx, path); err != nil {
			m.log(ctx).WithError(err).Warn("Automatic backup failed")
		}
	}
}

func (m *Manager) uniqueName(ctx context.Context, base string) (string, error) {
	name := base + backupExt
	for i := 2; ; i++ {
		_, err := m.target.Stat(ctx, name)
		if errors.Is(err, ErrBackupNotFound) {
			return name, nil
		}
		if err != nil {
			return "", err
		}
		name = fmt.Sprintf("%s_%d%s", base, i, backupExt)
	}
}

func (m *Manager) write(ctx context.Context, vaultPath, name string, kind models.BackupKind, now time.Time) (*models.BackupInfo, error) {
	data, err := m.files.ReadFile(vaultPath)
	if err != nil {
		return nil, fmt.Errorf("read vault: %w", err)
	}
	if _, _, err := storage.DecodeContainer(data); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	info := &models.BackupInfo{
		ID:            uuid.NewString(),
		Name:          name,
		Kind:          kind,
		OriginalVault: vaultPath,
		CreatedAt:     now.UTC(),
		Size:          int64(len(data)),
		SHA256:        hex.EncodeToString(sum[:]),
	}

	if err := m.target.Put(ctx, name, data); err != nil {
		return nil, fmt.Errorf("write backup: %w", err)
	}

	meta, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal backup info: %w", err)
	}
	if err := m.target.Put(ctx, name+infoExt, meta); err != nil {
		return nil, fmt.Errorf("write backup info: %w", err)
	}

	if m.recorder != nil {
		if err := m.recorder.Record(vaultPath, models.EventBackedUp, now); err != nil {
			m.log(ctx).WithError(err).Warn("Record backup failed")
		}
	}

	m.log(ctx).WithFields(map[string]interface{}{
		"backup": name,
		"kind":   string(kind),
		"size":   info.Size,
	}).Info("Backup created")

	return info, nil
}

// List returns every backup, newest first.
func (m *Manager) List(ctx context.Context) ([]*models.BackupInfo, error) {
	objects, err := m.target.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	var backups []*models.BackupInfo
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Name, backupExt) {
			continue
		}
		backups = append(backups, m.describe(ctx, obj))
	}

	sort.SliceStable(backups, func(i, j int) bool {
		if !backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].CreatedAt.After(backups[j].CreatedAt)
		}
		return backups[i].Name > backups[j].Name
	})
	return backups, nil
}

// describe reads the info sidecar, falling back to object metadata.
func (m *Manager) describe(ctx context.Context, obj Object) *models.BackupInfo {
	if data, err := m.target.Get(ctx, obj.Name+infoExt); err == nil {
		var info models.BackupInfo
		if err := json.Unmarshal(data, &info); err == nil && info.Name == obj.Name {
			return &info
		}
		m.log(ctx).WithField("backup", obj.Name).Warn("Ignoring unreadable backup info")
	}

	kind := models.BackupManual
	if strings.HasSuffix(obj.Name, "_auto"+backupExt) {
		kind = models.BackupAuto
	}
	return &models.BackupInfo{
		Name:      obj.Name,
		Kind:      kind,
		CreatedAt: obj.ModTime.UTC(),
		Size:      obj.Size,
	}
}

// Delete removes a backup and its info sidecar.
func (m *Manager) Delete(ctx context.Context, name string) error {
	if err := m.target.Delete(ctx, name); err != nil {
		return err
	}
	if err := m.target.Delete(ctx, name+infoExt); err != nil && !errors.Is(err, ErrBackupNotFound) {
		m.log(ctx).WithError(err).Warn("Delete backup info failed")
	}

	m.log(ctx).WithField("backup", name).Info("Backup deleted")
	return nil
}

// Restore replaces targetPath with the named backup. An existing file at
// targetPath is first copied aside; the copy's path is returned, or "" if
// there was nothing to keep.
func (m *Manager) Restore(ctx context.Context, name, targetPath string) (string, error) {
	data, err := m.target.Get(ctx, name)
	if err != nil {
		return "", err
	}
	if _, _, err := storage.DecodeContainer(data); err != nil {
		return "", fmt.Errorf("backup %s: %w", name, err)
	}

	if meta, err := m.target.Get(ctx, name+infoExt); err == nil {
		var info models.BackupInfo
		if err := json.Unmarshal(meta, &info); err == nil && info.SHA256 != "" {
			sum := sha256.Sum256(data)
			if hex.EncodeToString(sum[:]) != info.SHA256 {
				return "", fmt.Errorf("%w: backup %s checksum mismatch", models.ErrCorruptVault, name)
			}
		}
	}

	var saved string
	exists, err := m.files.Exists(targetPath)
	if err != nil {
		return "", err
	}
	if exists {
		saved = fmt.Sprintf("%s.pre_restore_%s", targetPath, m.now().Format(stampLayout))
		if err := m.files.Copy(targetPath, saved); err != nil {
			return "", fmt.Errorf("keep current vault: %w", err)
		}
	}

	if err := m.files.WriteFile(targetPath, data); err != nil {
		return saved, fmt.Errorf("restore vault: %w", err)
	}

	m.log(ctx).WithFields(map[string]interface{}{
		"backup":     name,
		"vault_path": targetPath,
		"saved":      saved,
	}).Info("Backup restored")

	return saved, nil
}

// Stats summarizes the backups on the target.
func (m *Manager) Stats(ctx context.Context) (*models.BackupStats, error) {
	backups, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.BackupStats{
		Count:       len(backups),
		AutoEnabled: m.autoEnabled,
	}
	for _, b := range backups {
		stats.TotalSize += b.Size
	}
	if len(backups) > 0 {
		stats.Latest = backups[0]
	}
	return stats, nil
}

// Prune deletes manual backups beyond the newest keep. Rolling auto
// backups are never pruned. It returns the deleted names.
func (m *Manager) Prune(ctx context.Context, keep int) ([]string, error) {
	if keep < 0 {
		return nil, fmt.Errorf("keep must not be negative")
	}

	backups, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	var deleted []string
	kept := 0
	for _, b := range backups {
		if b.Kind != models.BackupManual {
			continue
		}
		if kept < keep {
			kept++
			continue
		}
		if err := m.Delete(ctx, b.Name); err != nil {
			return deleted, err
		}
		deleted = append(deleted, b.Name)
	}
	return deleted, nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
