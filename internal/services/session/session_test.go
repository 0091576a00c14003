package session_test

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/keyvault/internal/crypto"
	"github.com/TheMichaelB/keyvault/internal/events"
	"github.com/TheMichaelB/keyvault/internal/models"
	"github.com/TheMichaelB/keyvault/internal/services/session"
	"github.com/TheMichaelB/keyvault/internal/storage"
)

const (
	masterPassword = "correct horse battery staple"
	vaultPath      = "/vaults/test.enc"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

type recordedEvent struct {
	path  string
	event models.VaultEvent
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *fakeRecorder) Record(path string, event models.VaultEvent, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{path, event})
	return nil
}

func (r *fakeRecorder) Events() []models.VaultEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.VaultEvent, len(r.events))
	for i, e := range r.events {
		out[i] = e.event
	}
	return out
}

func newSession(t *testing.T, store storage.ContainerStore, opts ...session.Option) *session.Session {
	t.Helper()
	return session.New(store, crypto.NewProvider(), opts...)
}

func createVault(t *testing.T, store storage.ContainerStore) *session.Session {
	t.Helper()
	s := newSession(t, store)
	require.NoError(t, s.Create(vaultPath, masterPassword))
	return s
}

func TestSession_GitHubScenario(t *testing.T) {
	store := storage.NewMockStore()
	s := createVault(t, store)
	assert.Equal(t, session.Unlocked, s.State())

	require.NoError(t, s.AddEntry(models.Entry{
		Title:    "GitHub",
		Username: "alice",
		Password: "s3cret",
		URL:      "https://github.com",
	}))
	s.Lock()
	assert.Equal(t, session.Locked, s.State())

	reopened := newSession(t, store)
	require.NoError(t, reopened.Open(vaultPath))
	assert.Equal(t, session.Locked, reopened.State())
	require.NoError(t, reopened.Unlock(masterPassword))

	entries, err := reopened.ListEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "GitHub", entries[0].Title)
	assert.Equal(t, "alice", entries[0].Username)
	assert.Equal(t, "s3cret", entries[0].Password)
	assert.Equal(t, "https://github.com", entries[0].URL)
	assert.Equal(t, models.DefaultCategory, entries[0].Category)
}

func TestSession_WrongPassword(t *testing.T) {
	store := storage.NewMockStore()
	s := createVault(t, store)
	require.NoError(t, s.AddEntry(models.Entry{Title: "GitHub", Password: "s3cret"}))
	s.Close()

	require.NoError(t, s.Open(vaultPath))
	err := s.Unlock("wrong")
	assert.ErrorIs(t, err, models.ErrAuthentication)
	assert.Equal(t, session.Locked, s.State())

	var ve *models.VaultError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "decrypt", ve.Reason)

	_, err = s.ListEntries()
	assert.ErrorIs(t, err, models.ErrVaultLocked)

	// The right password still works afterwards
	require.NoError(t, s.Unlock(masterPassword))
	entries, err := s.ListEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSession_TamperedFile(t *testing.T) {
	store := storage.NewMockStore()
	s := createVault(t, store)
	require.NoError(t, s.AddEntry(models.Entry{Title: "GitHub"}))
	s.Close()

	raw := store.Raw(vaultPath)
	raw[len(raw)-1] ^= 0x01
	require.NoError(t, store.WriteFile(vaultPath, raw))

	require.NoError(t, s.Open(vaultPath))
	err := s.Unlock(masterPassword)
	assert.ErrorIs(t, err, models.ErrAuthentication)
	assert.Equal(t, models.UserMessage(err), models.UserMessage(&models.VaultError{Err: models.ErrAuthentication}))
	assert.Equal(t, session.Locked, s.State())
}

func TestSession_TamperedSalt(t *testing.T) {
	store := storage.NewMockStore()
	s := createVault(t, store)
	s.Close()

	raw := store.Raw(vaultPath)
	raw[0] ^= 0x80
	require.NoError(t, store.WriteFile(vaultPath, raw))

	require.NoError(t, s.Open(vaultPath))
	assert.ErrorIs(t, s.Unlock(masterPassword), models.ErrAuthentication)
}

func TestSession_UndecodableDocument(t *testing.T) {
	store := storage.NewMockStore()
	provider := crypto.NewProvider()

	salt, err := crypto.GenerateSalt()
	require.NoError(t, err)
	key, err := provider.DeriveKey(masterPassword, salt)
	require.NoError(t, err)
	ct, err := provider.Encrypt(key, []byte("this is not json"))
	require.NoError(t, err)
	require.NoError(t, store.Write(vaultPath, salt, ct))

	s := newSession(t, store)
	require.NoError(t, s.Open(vaultPath))
	err = s.Unlock(masterPassword)
	assert.ErrorIs(t, err, models.ErrAuthentication)

	var ve *models.VaultError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "decode", ve.Reason)
}

func TestSession_CorruptFile(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"truncated to 10 bytes", make([]byte, 10)},
		{"empty", nil},
		{"salt only", make([]byte, crypto.SaltSize)},
		{"salt and partial nonce", make([]byte, crypto.SaltSize+crypto.NonceSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMockStore()
			require.NoError(t, store.WriteFile(vaultPath, tt.data))

			s := newSession(t, store)
			require.NoError(t, s.Open(vaultPath))

			err := s.Unlock(masterPassword)
			assert.ErrorIs(t, err, models.ErrCorruptVault)
			assert.NotErrorIs(t, err, models.ErrAuthentication)
			assert.Equal(t, session.Locked, s.State())
		})
	}
}

func TestSession_TruncatedRealVault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.enc")
	store := storage.NewLocalStore(events.NewNopLogger())

	s := newSession(t, store)
	require.NoError(t, s.Create(path, masterPassword))
	s.Close()

	require.NoError(t, os.Truncate(path, 10))

	require.NoError(t, s.Open(path))
	assert.ErrorIs(t, s.Unlock(masterPassword), models.ErrCorruptVault)
}

func TestSession_OpenMissing(t *testing.T) {
	s := newSession(t, storage.NewMockStore())

	err := s.Open("/nowhere.enc")
	assert.ErrorIs(t, err, models.ErrVaultNotFound)
	assert.Equal(t, session.Closed, s.State())
}

func TestSession_VaultRemovedAfterOpen(t *testing.T) {
	store := storage.NewMockStore()
	s := createVault(t, store)
	s.Lock()
	require.NoError(t, store.Remove(vaultPath))

	assert.ErrorIs(t, s.Unlock(masterPassword), models.ErrVaultNotFound)
}

func TestSession_CreatePolicy(t *testing.T) {
	store := storage.NewMockStore()

	s := newSession(t, store)
	err := s.Create(vaultPath, "short")
	assert.ErrorIs(t, err, models.ErrWeakPassword)
	assert.Equal(t, session.Closed, s.State())
	assert.Nil(t, store.Raw(vaultPath))

	require.NoError(t, s.Create(vaultPath, masterPassword))

	other := newSession(t, store)
	assert.ErrorIs(t, other.Create(vaultPath, masterPassword), models.ErrVaultExists)

	custom := newSession(t, storage.NewMockStore(), session.WithMinPasswordLength(20))
	assert.ErrorIs(t, custom.Create(vaultPath, "only-sixteen-chr"), models.ErrWeakPassword)
}

func TestSession_CreateWriteFailure(t *testing.T) {
	store := storage.NewMockStore()
	store.SetWriteErr(errors.New("disk full"))

	s := newSession(t, store)
	err := s.Create(vaultPath, masterPassword)
	require.Error(t, err)
	assert.Equal(t, session.Closed, s.State())
}

func TestSession_StateErrors(t *testing.T) {
	s := newSession(t, storage.NewMockStore())

	assert.ErrorIs(t, s.Unlock(masterPassword), models.ErrVaultClosed)
	assert.ErrorIs(t, s.Save(), models.ErrVaultClosed)
	assert.ErrorIs(t, s.AddEntry(models.Entry{Title: "x"}), models.ErrVaultClosed)
	assert.ErrorIs(t, s.ChangeMasterPassword(masterPassword, "another-password"), models.ErrVaultClosed)
	_, err := s.ListEntries()
	assert.ErrorIs(t, err, models.ErrVaultClosed)

	// Lock and Close on a closed session are no-ops
	s.Lock()
	s.Close()
	assert.Equal(t, session.Closed, s.State())
}

func TestSession_LockIsIdempotent(t *testing.T) {
	s := createVault(t, storage.NewMockStore())

	s.Lock()
	s.Lock()
	assert.Equal(t, session.Locked, s.State())
	assert.Equal(t, vaultPath, s.Path())

	_, _, err := s.FindEntry("x")
	assert.ErrorIs(t, err, models.ErrVaultLocked)

	s.Close()
	assert.Equal(t, session.Closed, s.State())
	assert.Empty(t, s.Path())
}

func TestSession_UnlockWhileUnlocked(t *testing.T) {
	s := createVault(t, storage.NewMockStore())
	require.NoError(t, s.AddEntry(models.Entry{Title: "GitHub"}))

	assert.ErrorIs(t, s.Unlock("wrong password"), models.ErrAuthentication)
	assert.Equal(t, session.Locked, s.State())

	require.NoError(t, s.Unlock(masterPassword))
	_, ok, err := s.FindEntry("github")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSession_EntryOperations(t *testing.T) {
	store := storage.NewMockStore()
	s := createVault(t, store)
	writes := store.Writes()

	require.NoError(t, s.AddEntry(models.Entry{Title: "GitHub", Username: "alice", Category: "Dev"}))
	require.NoError(t, s.AddEntry(models.Entry{Title: "Bank", Category: "Finance"}))
	assert.Equal(t, writes+2, store.Writes(), "each mutation saves")

	t.Run("duplicate title", func(t *testing.T) {
		err := s.AddEntry(models.Entry{Title: "github"})
		assert.ErrorIs(t, err, models.ErrDuplicateTitle)
		assert.False(t, s.TryAdd(models.Entry{Title: "GITHUB"}))

		entries, err := s.ListEntries()
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("update", func(t *testing.T) {
		require.NoError(t, s.UpdateEntry("GitHub", models.EntryUpdate{Password: models.String("new")}))
		e, ok, err := s.FindEntry("github")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "new", e.Password)
		assert.Equal(t, "alice", e.Username)

		assert.True(t, s.TryUpdate("Bank", models.EntryUpdate{Notes: models.String("joint")}))
		assert.False(t, s.TryUpdate("Missing", models.EntryUpdate{Notes: models.String("x")}))
	})

	t.Run("delete nonexistent", func(t *testing.T) {
		before, err := s.ListEntries()
		require.NoError(t, err)

		err = s.DeleteEntry("nonexistent")
		assert.ErrorIs(t, err, models.ErrEntryNotFound)
		assert.False(t, s.TryDelete("nonexistent"))

		after, err := s.ListEntries()
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("categories and search", func(t *testing.T) {
		cats, err := s.Categories()
		require.NoError(t, err)
		require.Len(t, cats, 2)
		assert.Equal(t, "Dev", cats[0].Name)

		dev, err := s.EntriesByCategory("Dev")
		require.NoError(t, err)
		assert.Len(t, dev, 1)

		all, err := s.EntriesByCategory(models.AllCategories)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		found, err := s.Search("ALICE")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "GitHub", found[0].Title)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.DeleteEntry("bank"))
		assert.True(t, s.TryDelete("GitHub"))

		entries, err := s.ListEntries()
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestSession_EntryTextSurvivesRoundTrip(t *testing.T) {
	store := storage.NewMockStore()
	s := createVault(t, store)
	writes := store.Writes()

	err := s.AddEntry(models.Entry{Title: "bin", Password: "p\xffq", Notes: "\xc3"})
	assert.ErrorIs(t, err, models.ErrInvalidEntry)
	assert.Equal(t, writes, store.Writes())

	want := models.Entry{Title: "Café", Username: "zoë", Password: "пароль🔑\t\"q\"", Notes: "line1\nline2"}
	require.NoError(t, s.AddEntry(want))
	assert.ErrorIs(t, s.UpdateEntry("Café", models.EntryUpdate{Password: models.String("\x80")}), models.ErrInvalidEntry)

	s.Lock()
	require.NoError(t, s.Unlock(masterPassword))

	got, ok, err := s.FindEntry("café")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Username, got.Username)
	assert.Equal(t, want.Password, got.Password)
	assert.Equal(t, want.Notes, got.Notes)

	_, ok, err = s.FindEntry("bin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSession_FailedSaveRollsBack(t *testing.T) {
	store := storage.NewMockStore()
	s := createVault(t, store)
	require.NoError(t, s.AddEntry(models.Entry{Title: "GitHub", Password: "p1"}))
	onDisk := store.Raw(vaultPath)

	store.SetWriteErr(errors.New("disk full"))

	assert.Error(t, s.AddEntry(models.Entry{Title: "Bank"}))
	assert.Error(t, s.UpdateEntry("GitHub", models.EntryUpdate{Password: models.String("p2")}))
	assert.Error(t, s.DeleteEntry("GitHub"))

	entries, err := s.ListEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "p1", entries[0].Password)
	assert.Equal(t, onDisk, store.Raw(vaultPath))

	// Explicit save fails the same way and keeps the session usable
	assert.Error(t, s.Save())
	assert.Equal(t, session.Unlocked, s.State())

	store.SetWriteErr(nil)
	require.NoError(t, s.Save())
}

func TestSession_ChangeMasterPassword(t *testing.T) {
	store := storage.NewMockStore()
	s := createVault(t, store)
	require.NoError(t, s.AddEntry(models.Entry{Title: "GitHub", Password: "s3cret"}))
	oldSalt := store.Raw(vaultPath)[:crypto.SaltSize]

	const newPassword = "a whole new master password"
	require.NoError(t, s.ChangeMasterPassword(masterPassword, newPassword))
	assert.Equal(t, session.Unlocked, s.State())
	assert.NotEqual(t, oldSalt, store.Raw(vaultPath)[:crypto.SaltSize], "salt is rotated")

	// Session keeps working with the new key
	require.NoError(t, s.AddEntry(models.Entry{Title: "Bank"}))
	s.Close()

	fresh := newSession(t, store)
	require.NoError(t, fresh.Open(vaultPath))
	assert.ErrorIs(t, fresh.Unlock(masterPassword), models.ErrAuthentication)
	require.NoError(t, fresh.Unlock(newPassword))

	entries, err := fresh.ListEntries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "s3cret", entries[0].Password)
}

func TestSession_ChangeMasterPasswordWrongOld(t *testing.T) {
	store := storage.NewMockStore()
	s := createVault(t, store)
	before := store.Raw(vaultPath)
	writes := store.Writes()

	err := s.ChangeMasterPassword("not the password", "a whole new master password")
	assert.ErrorIs(t, err, models.ErrAuthentication)
	assert.Equal(t, before, store.Raw(vaultPath))
	assert.Equal(t, writes, store.Writes())
	assert.Equal(t, session.Unlocked, s.State())
}

func TestSession_ChangeMasterPasswordWeakNew(t *testing.T) {
	s := createVault(t, storage.NewMockStore())
	assert.ErrorIs(t, s.ChangeMasterPassword(masterPassword, "short"), models.ErrWeakPassword)
}

func TestSession_ChangeMasterPasswordWriteFailure(t *testing.T) {
	store := storage.NewMockStore()
	s := createVault(t, store)
	require.NoError(t, s.AddEntry(models.Entry{Title: "GitHub"}))
	before := store.Raw(vaultPath)

	store.SetWriteErr(errors.New("disk full"))
	err := s.ChangeMasterPassword(masterPassword, "a whole new master password")
	require.Error(t, err)
	assert.Equal(t, before, store.Raw(vaultPath))

	// The in-memory key is still the old one
	store.SetWriteErr(nil)
	require.NoError(t, s.Save())
	s.Close()

	fresh := newSession(t, store)
	require.NoError(t, fresh.Open(vaultPath))
	require.NoError(t, fresh.Unlock(masterPassword))
}

func TestSession_ChangeMasterPasswordLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.enc")
	store := storage.NewLocalStore(events.NewNopLogger())

	var rotated []string
	s := newSession(t, store, session.WithBeforeRotate(func(p string) error {
		rotated = append(rotated, p)
		return store.Copy(p, p+".backup_before_password_change")
	}))
	require.NoError(t, s.Create(path, masterPassword))
	require.NoError(t, s.AddEntry(models.Entry{Title: "GitHub"}))
	require.NoError(t, s.ChangeMasterPassword(masterPassword, "a whole new master password"))

	assert.Equal(t, []string{path}, rotated)
	assert.FileExists(t, path+".backup_before_password_change")

	// The pre-rotation copy opens with the old password
	old := newSession(t, store)
	require.NoError(t, old.Open(path+".backup_before_password_change"))
	require.NoError(t, old.Unlock(masterPassword))
}

func TestSession_Hooks(t *testing.T) {
	store := storage.NewMockStore()
	rec := &fakeRecorder{}
	var saves []string

	s := newSession(t, store,
		session.WithRecorder(rec),
		session.WithAfterSave(func(p string) { saves = append(saves, p) }),
	)
	require.NoError(t, s.Create(vaultPath, masterPassword))
	require.NoError(t, s.AddEntry(models.Entry{Title: "GitHub"}))
	assert.Equal(t, []string{vaultPath}, saves)

	s.Close()
	require.NoError(t, s.Open(vaultPath))
	assert.Error(t, s.Unlock("wrong password"))
	require.NoError(t, s.Unlock(masterPassword))

	assert.Equal(t, []models.VaultEvent{
		models.EventUnlocked,
		models.EventOpened,
		models.EventUnlockFailed,
		models.EventUnlocked,
	}, rec.Events())
}

func TestSession_SecretValidator(t *testing.T) {
	validator := func(secret string) error {
		if secret != "VALIDSECRET" {
			return errors.New("bad secret")
		}
		return nil
	}
	s := newSession(t, storage.NewMockStore(), session.WithSecretValidator(validator))
	require.NoError(t, s.Create(vaultPath, masterPassword))

	assert.ErrorIs(t, s.AddEntry(models.Entry{Title: "A", TOTPSecret: "nope"}), models.ErrInvalidEntry)
	require.NoError(t, s.AddEntry(models.Entry{Title: "A", TOTPSecret: "VALIDSECRET"}))
	require.NoError(t, s.AddEntry(models.Entry{Title: "B"}))

	err := s.UpdateEntry("B", models.EntryUpdate{TOTPSecret: models.String("nope")})
	assert.ErrorIs(t, err, models.ErrInvalidEntry)

	// Clearing a secret is always allowed
	require.NoError(t, s.UpdateEntry("A", models.EntryUpdate{TOTPSecret: models.String("")}))
}

func TestSession_LogsNeverContainSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	store := storage.NewMockStore()
	s := newSession(t, store, session.WithLogger(logger))
	require.NoError(t, s.Create(vaultPath, masterPassword))
	require.NoError(t, s.AddEntry(models.Entry{Title: "GitHub", Password: "entry-password-xyz"}))
	s.Lock()
	_ = s.Unlock("wrong-guess-abc")
	require.NoError(t, s.Unlock(masterPassword))

	out := buf.String()
	assert.Contains(t, out, s.ID())
	assert.NotContains(t, out, masterPassword)
	assert.NotContains(t, out, "entry-password-xyz")
	assert.NotContains(t, out, "wrong-guess-abc")
}

func TestSession_ConcurrentMutations(t *testing.T) {
	store := storage.NewMockStore()
	s := createVault(t, store)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, s.AddEntry(models.Entry{Title: fmt.Sprintf("entry-%d", n)}))
		}(i)
	}
	wg.Wait()

	entries, err := s.ListEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 20)

	s.Close()
	fresh := newSession(t, store)
	require.NoError(t, fresh.Open(vaultPath))
	require.NoError(t, fresh.Unlock(masterPassword))
	entries, err = fresh.ListEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", session.Closed.String())
	assert.Equal(t, "locked", session.Locked.String())
	assert.Equal(t, "unlocked", session.Unlocked.String())
	assert.Equal(t, "unknown", session.State(42).String())
}
