// Package credstore holds the decrypted credential entries of an unlocked
// vault. It has no locking of its own; the session serializes access.
package credstore

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/TheMichaelB/keyvault/internal/models"
)

// Store is an ordered collection of entries with unique titles under
// Unicode case folding.
type Store struct {
	entries []models.Entry
	created time.Time
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for timestamping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		entries: []models.Entry{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.created = s.now().UTC()
	return s
}

// FromDocument builds a store from a decoded document. Titles that collide
// under case folding mean the document was not written by this store.
func FromDocument(doc models.Document, opts ...Option) (*Store, error) {
	s := New(opts...)
	seen := make(map[string]bool, len(doc.Entries))
	if !doc.Created.IsZero() {
		s.created = doc.Created
	}

	for _, e := range doc.Entries {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrCorruptVault, err)
		}
		key := foldTitle(e.Title)
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate title %q", models.ErrCorruptVault, e.Title)
		}
		seen[key] = true

		if e.Category == "" {
			e.Category = models.DefaultCategory
		}
		s.entries = append(s.entries, e)
	}

	return s, nil
}

// ToDocument snapshots the store for encryption.
func (s *Store) ToDocument() models.Document {
	return models.Document{
		Version: models.DocumentVersion,
		Created: s.created,
		Entries: s.List(),
	}
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// List returns copies of all entries in insertion order.
func (s *Store) List() []models.Entry {
	out := make([]models.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Find looks up an entry by title, ignoring case.
func (s *Store) Find(title string) (models.Entry, bool) {
	i := s.indexOf(title)
	if i < 0 {
		return models.Entry{}, false
	}
	return s.entries[i], true
}

// Add appends entry. Timestamps are set to now and an empty category
// becomes models.DefaultCategory.
func (s *Store) Add(entry models.Entry) error {
	if err := entry.Validate(); err != nil {
		return &models.EntryError{Op: "add", Title: entry.Title, Err: err}
	}
	if s.indexOf(entry.Title) >= 0 {
		return &models.EntryError{Op: "add", Title: entry.Title, Err: models.ErrDuplicateTitle}
	}

	now := s.now().UTC()
	entry.Created = now
	entry.Modified = now
	if strings.TrimSpace(entry.Category) == "" {
		entry.Category = models.DefaultCategory
	}

	s.entries = append(s.entries, entry)
	return nil
}

// Update applies the non-nil fields of update to the entry titled title.
// Renaming onto another entry's title fails without changing anything.
func (s *Store) Update(title string, update models.EntryUpdate) error {
	i := s.indexOf(title)
	if i < 0 {
		return &models.EntryError{Op: "update", Title: title, Err: models.ErrEntryNotFound}
	}

	updated := update.Apply(s.entries[i])
	if err := updated.Validate(); err != nil {
		return &models.EntryError{Op: "update", Title: title, Err: err}
	}
	if update.Title != nil {
		if j := s.indexOf(updated.Title); j >= 0 && j != i {
			return &models.EntryError{Op: "update", Title: updated.Title, Err: models.ErrDuplicateTitle}
		}
	}
	if strings.TrimSpace(updated.Category) == "" {
		updated.Category = models.DefaultCategory
	}

	updated.Modified = s.now().UTC()
	if updated.Modified.Before(updated.Created) {
		updated.Modified = updated.Created
	}

	s.entries[i] = updated
	return nil
}

// Delete removes the entry titled title.
func (s *Store) Delete(title string) error {
	i := s.indexOf(title)
	if i < 0 {
		return &models.EntryError{Op: "delete", Title: title, Err: models.ErrEntryNotFound}
	}

	copy(s.entries[i:], s.entries[i+1:])
	s.entries[len(s.entries)-1] = models.Entry{}
	s.entries = s.entries[:len(s.entries)-1]
	return nil
}

// Restore replaces the full entry list. The session uses it to roll back
// a mutation whose save failed.
func (s *Store) Restore(entries []models.Entry) {
	s.entries = make([]models.Entry, len(entries))
	copy(s.entries, entries)
}

// Categories counts entries per category.
func (s *Store) Categories() map[string]int {
	counts := make(map[string]int)
	for _, e := range s.entries {
		counts[e.CategoryOrDefault()]++
	}
	return counts
}

// CategoryCount is one row of SortedCategories.
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// SortedCategories returns category counts ordered by name.
func (s *Store) SortedCategories() []CategoryCount {
	counts := s.Categories()
	out := make([]CategoryCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, CategoryCount{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ByCategory returns the entries in category, or every entry for
// models.AllCategories.
func (s *Store) ByCategory(category string) []models.Entry {
	if category == models.AllCategories {
		return s.List()
	}

	var out []models.Entry
	for _, e := range s.entries {
		if e.CategoryOrDefault() == category {
			out = append(out, e)
		}
	}
	return out
}

// Search returns entries whose title, username, URL, notes or category
// contain query, ignoring case. Passwords and TOTP secrets are not searched.
func (s *Store) Search(query string) []models.Entry {
	q := foldTitle(strings.TrimSpace(query))
	if q == "" {
		return s.List()
	}

	var out []models.Entry
	for _, e := range s.entries {
		for _, field := range []string{e.Title, e.Username, e.URL, e.Notes, e.Category} {
			if strings.Contains(foldTitle(field), q) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Wipe drops every entry. Backing arrays are cleared so the secrets are
// no longer reachable through the store.
func (s *Store) Wipe() {
	for i := range s.entries {
		s.entries[i] = models.Entry{}
	}
	s.entries = s.entries[:0]
}

func (s *Store) indexOf(title string) int {
	key := foldTitle(title)
	for i := range s.entries {
		if foldTitle(s.entries[i].Title) == key {
			return i
		}
	}
	return -1
}

// foldTitle maps a title onto its case-insensitive comparison key.
func foldTitle(title string) string {
	return cases.Fold().String(title)
}
