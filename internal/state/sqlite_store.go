package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/keyvault/internal/events"
	"github.com/TheMichaelB/keyvault/internal/models"
)

// SQLiteStore implements SQLite-based vault record storage.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLiteStore creates a SQLite state store.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Serializes Record's read-modify-write
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_state_store"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables and indexes.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS vault_records (
        path TEXT PRIMARY KEY,
        last_opened TIMESTAMP,
        last_unlocked TIMESTAMP,
        last_backup TIMESTAMP,
        failed_unlocks INTEGER NOT NULL DEFAULT 0,
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `

	if _, err := s.db.Exec(schema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.VaultRecord, error) {
	var (
		r                            models.VaultRecord
		opened, unlocked, lastBackup sql.NullTime
	)
	if err := row.Scan(&r.Path, &opened, &unlocked, &lastBackup, &r.FailedUnlocks); err != nil {
		return nil, err
	}
	if opened.Valid {
		r.LastOpened = opened.Time
	}
	if unlocked.Valid {
		r.LastUnlocked = unlocked.Time
	}
	if lastBackup.Valid {
		r.LastBackup = lastBackup.Time
	}
	return &r, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

const selectRecord = `
    SELECT path, last_opened, last_unlocked, last_backup, failed_unlocks
    FROM vault_records`

// Load retrieves the record for path.
func (s *SQLiteStore) Load(path string) (*models.VaultRecord, error) {
	key, err := normalizePath(path)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("vault_path", key).Debug("Loading vault record from SQLite")

	r, err := scanRecord(s.db.QueryRow(selectRecord+` WHERE path = ?`, key))
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}
	return r, nil
}

// Save upserts record.
func (s *SQLiteStore) Save(record *models.VaultRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	key, err := normalizePath(record.Path)
	if err != nil {
		return err
	}

	r := record.Clone()
	r.Path = key
	return s.upsert(s.db, r)
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLiteStore) upsert(db execer, r *models.VaultRecord) error {
	_, err := db.Exec(`
        INSERT INTO vault_records (path, last_opened, last_unlocked, last_backup, failed_unlocks, updated_at)
        VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(path) DO UPDATE SET
            last_opened = excluded.last_opened,
            last_unlocked = excluded.last_unlocked,
            last_backup = excluded.last_backup,
            failed_unlocks = excluded.failed_unlocks,
            updated_at = CURRENT_TIMESTAMP
    `, r.Path, nullTime(r.LastOpened), nullTime(r.LastUnlocked), nullTime(r.LastBackup), r.FailedUnlocks)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Record applies event to the record for path in one transaction.
func (s *SQLiteStore) Record(path string, event models.VaultEvent, at time.Time) error {
	key, err := normalizePath(path)
	if err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"vault_path": key,
		"event":      string(event),
	}).Debug("Recording vault activity")

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	r, err := scanRecord(tx.QueryRow(selectRecord+` WHERE path = ?`, key))
	switch {
	case err == sql.ErrNoRows:
		r = models.NewVaultRecord(key)
	case err != nil:
		return fmt.Errorf("query record: %w", err)
	}

	if err := r.Apply(event, at); err != nil {
		return err
	}
	if err := s.upsert(tx, r); err != nil {
		return err
	}

	return tx.Commit()
}

// Reset removes the record for path.
func (s *SQLiteStore) Reset(path string) error {
	key, err := normalizePath(path)
	if err != nil {
		return err
	}

	s.logger.WithField("vault_path", key).Info("Forgetting vault")

	if _, err := s.db.Exec("DELETE FROM vault_records WHERE path = ?", key); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// List returns records, most recent first.
func (s *SQLiteStore) List(limit int) ([]*models.VaultRecord, error) {
	rows, err := s.db.Query(selectRecord)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []*models.VaultRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return sortRecent(records, limit), nil
}

// Migrate transfers all records to another store.
func (s *SQLiteStore) Migrate(target Store) error {
	return migrate(s, target, s.logger)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
