// Package session implements the lock/unlock lifecycle of one vault file:
// key derivation, decryption into a credential store, atomic saves and
// master password rotation.
package session

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TheMichaelB/keyvault/internal/credstore"
	"github.com/TheMichaelB/keyvault/internal/crypto"
	"github.com/TheMichaelB/keyvault/internal/events"
	"github.com/TheMichaelB/keyvault/internal/models"
	"github.com/TheMichaelB/keyvault/internal/storage"
)

// DefaultMinPasswordLength applies to new and rotated master passwords.
const DefaultMinPasswordLength = 8

// State is the lifecycle state of a Session.
type State int

const (
	Closed State = iota
	Locked
	Unlocked
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// Recorder receives vault activity, such as the recent vault registry.
type Recorder interface {
	Record(path string, event models.VaultEvent, at time.Time) error
}

// Session owns one vault file. All methods are safe for concurrent use;
// a single mutex serializes them.
type Session struct {
	mu sync.Mutex

	id    string
	state State
	path  string
	salt  []byte
	key   *crypto.DerivedKey
	store *credstore.Store

	containers storage.ContainerStore
	provider   crypto.Provider
	logger     *events.Logger
	now        func() time.Time

	minPasswordLength int
	validateSecret    func(string) error
	recorder          Recorder
	afterSave         []func(path string)
	beforeRotate      []func(path string) error

	lastActivity time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *events.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithMinPasswordLength sets the master password length policy.
func WithMinPasswordLength(n int) Option {
	return func(s *Session) {
		s.minPasswordLength = n
	}
}

// WithSecretValidator checks TOTP secrets on add and update.
func WithSecretValidator(fn func(string) error) Option {
	return func(s *Session) {
		s.validateSecret = fn
	}
}

// WithRecorder reports open and unlock activity.
func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		s.recorder = r
	}
}

// WithAfterSave registers a hook run after every successful write.
func WithAfterSave(fn func(path string)) Option {
	return func(s *Session) {
		s.afterSave = append(s.afterSave, fn)
	}
}

// WithBeforeRotate registers a hook run before a master password change
// writes the re-keyed file. Hook errors are logged, not fatal.
func WithBeforeRotate(fn func(path string) error) Option {
	return func(s *Session) {
		s.beforeRotate = append(s.beforeRotate, fn)
	}
}

// New creates a closed session.
func New(containers storage.ContainerStore, provider crypto.Provider, opts ...Option) *Session {
	s := &Session{
		id:                uuid.NewString(),
		state:             Closed,
		containers:        containers,
		provider:          provider,
		logger:            events.NewNopLogger(),
		now:               time.Now,
		minPasswordLength: DefaultMinPasswordLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithFields(map[string]interface{}{
		"component":  "session",
		"session_id": s.id,
	})
	return s
}

// ID identifies the session in logs.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Path returns the vault file path, empty when closed.
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Touch records user activity for the auto-lock timer.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()
}

// Create writes a new empty vault at path and leaves it unlocked.
func (s *Session) Create(path, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "create"
	logger := s.logger.WithField("vault_path", path)

	exists, err := s.containers.Exists(path)
	if err != nil {
		return s.fail(op, path, "", err)
	}
	if exists {
		return s.fail(op, path, "", models.ErrVaultExists)
	}
	if err := s.checkPolicy(password); err != nil {
		return s.fail(op, path, "", err)
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return s.fail(op, path, "", err)
	}
	key, err := s.provider.DeriveKey(password, salt)
	if err != nil {
		return s.fail(op, path, "", err)
	}

	store := credstore.New(credstore.WithClock(s.now))
	if err := s.write(path, salt, key, store); err != nil {
		key.Destroy()
		return s.fail(op, path, "", err)
	}

	s.closeLocked()
	s.path = path
	s.salt = salt
	s.key = key
	s.store = store
	s.state = Unlocked
	s.lastActivity = s.now()

	s.record(models.EventUnlocked)
	logger.Info("Vault created")
	return nil
}

// Open selects an existing vault file. The vault stays locked.
func (s *Session) Open(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "open"

	exists, err := s.containers.Exists(path)
	if err != nil {
		return s.fail(op, path, "", err)
	}
	if !exists {
		return s.fail(op, path, "", models.ErrVaultNotFound)
	}

	s.closeLocked()
	s.path = path
	s.state = Locked

	s.record(models.EventOpened)
	s.logger.WithField("vault_path", path).Debug("Vault opened")
	return nil
}

// Unlock derives the key from password and decrypts the vault. A wrong
// password and a tampered file both return models.ErrAuthentication and
// leave the session locked.
func (s *Session) Unlock(password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "unlock"

	switch s.state {
	case Closed:
		return s.fail(op, "", "", models.ErrVaultClosed)
	case Unlocked:
		s.lockLocked()
	}

	salt, ciphertext, err := s.containers.Read(s.path)
	if err != nil {
		return s.fail(op, s.path, "", err)
	}

	key, err := s.provider.DeriveKey(password, salt)
	if err != nil {
		return s.fail(op, s.path, "", err)
	}

	store, reason, err := s.decrypt(key, ciphertext)
	if err != nil {
		key.Destroy()
		if reason != "" {
			s.record(models.EventUnlockFailed)
			s.logger.WithField("reason", reason).Warn("Unlock failed")
		}
		return s.fail(op, s.path, reason, err)
	}

	s.salt = salt
	s.key = key
	s.store = store
	s.state = Unlocked
	s.lastActivity = s.now()

	s.record(models.EventUnlocked)
	s.logger.WithField("entries", store.Len()).Info("Vault unlocked")
	return nil
}

// decrypt opens ciphertext into a store. reason is set for failures that
// count as authentication failures.
func (s *Session) decrypt(key *crypto.DerivedKey, ciphertext []byte) (*credstore.Store, string, error) {
	plaintext, err := s.provider.Decrypt(key, ciphertext)
	if err != nil {
		if errors.Is(err, crypto.ErrInvalidCiphertext) {
			return nil, "", fmt.Errorf("%w: %v", models.ErrCorruptVault, err)
		}
		return nil, "decrypt", models.ErrAuthentication
	}
	defer crypto.Wipe(plaintext)

	doc, err := models.UnmarshalDocument(plaintext)
	if err != nil {
		return nil, "decode", models.ErrAuthentication
	}

	store, err := credstore.FromDocument(doc, credstore.WithClock(s.now))
	if err != nil {
		return nil, "decode", models.ErrAuthentication
	}
	return store, "", nil
}

// Save re-encrypts the store under the current key and salt.
func (s *Session) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("save"); err != nil {
		return err
	}
	return s.saveLocked()
}

func (s *Session) saveLocked() error {
	if err := s.write(s.path, s.salt, s.key, s.store); err != nil {
		s.logger.WithError(err).Error("Save failed")
		return s.fail("save", s.path, "", err)
	}

	s.lastActivity = s.now()
	s.logger.WithField("entries", s.store.Len()).Debug("Vault saved")
	s.runAfterSave()
	return nil
}

func (s *Session) write(path string, salt []byte, key *crypto.DerivedKey, store *credstore.Store) error {
	plaintext, err := models.MarshalDocument(store.ToDocument())
	if err != nil {
		return err
	}
	defer crypto.Wipe(plaintext)

	ciphertext, err := s.provider.Encrypt(key, plaintext)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}

	return s.containers.Write(path, salt, ciphertext)
}

func (s *Session) runAfterSave() {
	for _, fn := range s.afterSave {
		fn(s.path)
	}
}

// Lock wipes the key and decrypted entries. Locking a locked or closed
// session does nothing.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Unlocked {
		s.lockLocked()
		s.logger.Info("Vault locked")
	}
}

// Close locks the session and forgets the vault path.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) lockLocked() {
	if s.store != nil {
		s.store.Wipe()
		s.store = nil
	}
	s.key.Destroy()
	s.key = nil
	crypto.Wipe(s.salt)
	s.salt = nil
	if s.state == Unlocked {
		s.state = Locked
	}
}

func (s *Session) closeLocked() {
	s.lockLocked()
	s.path = ""
	s.state = Closed
}

// lockIfIdle locks when the session has been inactive for timeout.
func (s *Session) lockIfIdle(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Unlocked || now.Sub(s.lastActivity) < timeout {
		return false
	}
	s.lockLocked()
	s.logger.WithField("idle", now.Sub(s.lastActivity).String()).Info("Vault auto-locked")
	return true
}

// idle reports inactivity time while unlocked.
func (s *Session) idle(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Unlocked {
		return 0, false
	}
	return now.Sub(s.lastActivity), true
}

// ChangeMasterPassword re-encrypts the vault under a new password and a
// fresh salt. The old file is only replaced once the new ciphertext has
// been verified; on any failure the old password stays valid.
func (s *Session) ChangeMasterPassword(oldPassword, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "change_password"

	if err := s.requireUnlocked(op); err != nil {
		return err
	}

	oldKey, err := s.provider.DeriveKey(oldPassword, s.salt)
	if err != nil {
		return s.fail(op, s.path, "", err)
	}
	match := oldKey.Equal(s.key)
	oldKey.Destroy()
	if !match {
		s.logger.WithField("reason", "old password mismatch").Warn("Password change rejected")
		return s.fail(op, s.path, "verify", models.ErrAuthentication)
	}

	if err := s.checkPolicy(newPassword); err != nil {
		return s.fail(op, s.path, "", err)
	}

	newSalt, err := crypto.GenerateSalt()
	if err != nil {
		return s.fail(op, s.path, "", err)
	}
	newKey, err := s.provider.DeriveKey(newPassword, newSalt)
	if err != nil {
		return s.fail(op, s.path, "", err)
	}

	if err := s.rekey(newSalt, newKey); err != nil {
		newKey.Destroy()
		s.logger.WithError(err).Error("Password change failed")
		return s.fail(op, s.path, "", err)
	}

	s.key.Destroy()
	s.key = newKey
	crypto.Wipe(s.salt)
	s.salt = newSalt
	s.lastActivity = s.now()

	s.logger.Info("Master password changed")
	s.runAfterSave()
	return nil
}

func (s *Session) rekey(salt []byte, key *crypto.DerivedKey) error {
	plaintext, err := models.MarshalDocument(s.store.ToDocument())
	if err != nil {
		return err
	}
	defer crypto.Wipe(plaintext)

	ciphertext, err := s.provider.Encrypt(key, plaintext)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}

	check, err := s.provider.Decrypt(key, ciphertext)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	same := bytes.Equal(check, plaintext)
	crypto.Wipe(check)
	if !same {
		return errors.New("verify: round trip mismatch")
	}

	for _, fn := range s.beforeRotate {
		if err := fn(s.path); err != nil {
			s.logger.WithError(err).Warn("Pre-rotation hook failed")
		}
	}

	return s.containers.Write(s.path, salt, ciphertext)
}

func (s *Session) checkPolicy(password string) error {
	if len([]rune(password)) < s.minPasswordLength {
		return fmt.Errorf("%w: need at least %d characters", models.ErrWeakPassword, s.minPasswordLength)
	}
	return nil
}

func (s *Session) requireUnlocked(op string) error {
	switch s.state {
	case Unlocked:
		return nil
	case Closed:
		return s.fail(op, "", "", models.ErrVaultClosed)
	default:
		return s.fail(op, s.path, "", models.ErrVaultLocked)
	}
}

func (s *Session) record(event models.VaultEvent) {
	if s.recorder == nil || s.path == "" {
		return
	}
	if err := s.recorder.Record(s.path, event, s.now()); err != nil {
		s.logger.WithError(err).Warn("Record vault activity failed")
	}
}

// fail wraps err as a VaultError unless it already is one.
func (s *Session) fail(op, path, reason string, err error) error {
	var ve *models.VaultError
	if errors.As(err, &ve) {
		return err
	}
	return &models.VaultError{
		Code:   models.CodeOf(err),
		Op:     op,
		Path:   path,
		Reason: reason,
		Err:    err,
	}
}
