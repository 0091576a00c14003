package session

import (
	"fmt"
	"strings"

	"github.com/TheMichaelB/keyvault/internal/credstore"
	"github.com/TheMichaelB/keyvault/internal/models"
)

// ListEntries returns every entry in insertion order.
func (s *Session) ListEntries() ([]models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("list"); err != nil {
		return nil, err
	}
	s.lastActivity = s.now()
	return s.store.List(), nil
}

// FindEntry looks up an entry by title, ignoring case.
func (s *Session) FindEntry(title string) (models.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("find"); err != nil {
		return models.Entry{}, false, err
	}
	s.lastActivity = s.now()
	e, ok := s.store.Find(title)
	return e, ok, nil
}

// Categories returns entry counts per category.
func (s *Session) Categories() ([]credstore.CategoryCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("categories"); err != nil {
		return nil, err
	}
	s.lastActivity = s.now()
	return s.store.SortedCategories(), nil
}

// EntriesByCategory returns the entries of one category, or all of them
// for models.AllCategories.
func (s *Session) EntriesByCategory(category string) ([]models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("list"); err != nil {
		return nil, err
	}
	s.lastActivity = s.now()
	return s.store.ByCategory(category), nil
}

// Search matches query against the non-secret fields of every entry.
func (s *Session) Search(query string) ([]models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("search"); err != nil {
		return nil, err
	}
	s.lastActivity = s.now()
	return s.store.Search(query), nil
}

// AddEntry adds entry and saves. If the save fails the entry is removed
// again so memory matches the file.
func (s *Session) AddEntry(entry models.Entry) error {
	return s.mutate("add", entry.TOTPSecret, func(store *credstore.Store) error {
		return store.Add(entry)
	})
}

// UpdateEntry applies update to the entry titled title and saves.
func (s *Session) UpdateEntry(title string, update models.EntryUpdate) error {
	secret := ""
	if update.TOTPSecret != nil {
		secret = *update.TOTPSecret
	}
	return s.mutate("update", secret, func(store *credstore.Store) error {
		return store.Update(title, update)
	})
}

// DeleteEntry removes the entry titled title and saves.
func (s *Session) DeleteEntry(title string) error {
	return s.mutate("delete", "", func(store *credstore.Store) error {
		return store.Delete(title)
	})
}

// TryAdd reports whether AddEntry succeeded.
func (s *Session) TryAdd(entry models.Entry) bool {
	return s.AddEntry(entry) == nil
}

// TryUpdate reports whether UpdateEntry succeeded.
func (s *Session) TryUpdate(title string, update models.EntryUpdate) bool {
	return s.UpdateEntry(title, update) == nil
}

// TryDelete reports whether DeleteEntry succeeded.
func (s *Session) TryDelete(title string) bool {
	return s.DeleteEntry(title) == nil
}

func (s *Session) mutate(op, totpSecret string, fn func(*credstore.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(op); err != nil {
		return err
	}

	if strings.TrimSpace(totpSecret) != "" && s.validateSecret != nil {
		if err := s.validateSecret(totpSecret); err != nil {
			return fmt.Errorf("%w: %v", models.ErrInvalidEntry, err)
		}
	}

	snapshot := s.store.List()
	if err := fn(s.store); err != nil {
		return err
	}

	if err := s.saveLocked(); err != nil {
		s.store.Restore(snapshot)
		return err
	}
	return nil
}
