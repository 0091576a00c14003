package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultCategory is assigned to entries saved without a category.
const DefaultCategory = "Other"

// AllCategories selects every entry in category lookups.
const AllCategories = "All"

// Entry is one stored credential.
type Entry struct {
	Title      string    `json:"title"`
	Username   string    `json:"username"`
	Password   string    `json:"password"`
	URL        string    `json:"url"`
	Notes      string    `json:"notes"`
	TOTPSecret string    `json:"totp_secret"`
	Category   string    `json:"category"`
	Created    time.Time `json:"created"`
	Modified   time.Time `json:"modified"`
}

// HasTOTP reports whether a TOTP secret is attached.
func (e Entry) HasTOTP() bool {
	return strings.TrimSpace(e.TOTPSecret) != ""
}

// CategoryOrDefault returns the category, falling back to DefaultCategory.
func (e Entry) CategoryOrDefault() string {
	if strings.TrimSpace(e.Category) == "" {
		return DefaultCategory
	}
	return e.Category
}

// Validate validates the entry structure and data.
func (e *Entry) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidEntry)
	}

	// JSON would replace invalid bytes with U+FFFD on save.
	for name, value := range map[string]string{
		"title":       e.Title,
		"username":    e.Username,
		"password":    e.Password,
		"url":         e.URL,
		"notes":       e.Notes,
		"totp_secret": e.TOTPSecret,
		"category":    e.Category,
	} {
		if !utf8.ValidString(value) {
			return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidEntry, name)
		}
	}

	if !e.Created.IsZero() && !e.Modified.IsZero() && e.Modified.Before(e.Created) {
		return fmt.Errorf("%w: modified cannot be before created", ErrInvalidEntry)
	}

	return nil
}

// String redacts secrets so entries are safe to log.
func (e Entry) String() string {
	return fmt.Sprintf("Entry{Title:%q Username:%q Category:%q TOTP:%t}",
		e.Title, e.Username, e.CategoryOrDefault(), e.HasTOTP())
}

// EntryUpdate is a partial update. Nil fields are left unchanged.
type EntryUpdate struct {
	Title      *string
	Username   *string
	Password   *string
	URL        *string
	Notes      *string
	TOTPSecret *string
	Category   *string
}

// IsEmpty reports whether the update changes nothing.
func (u EntryUpdate) IsEmpty() bool {
	return u.Title == nil && u.Username == nil && u.Password == nil &&
		u.URL == nil && u.Notes == nil && u.TOTPSecret == nil && u.Category == nil
}

// Apply returns a copy of e with the non-nil fields replaced. Timestamps
// are the caller's concern.
func (u EntryUpdate) Apply(e Entry) Entry {
	if u.Title != nil {
		e.Title = *u.Title
	}
	if u.Username != nil {
		e.Username = *u.Username
	}
	if u.Password != nil {
		e.Password = *u.Password
	}
	if u.URL != nil {
		e.URL = *u.URL
	}
	if u.Notes != nil {
		e.Notes = *u.Notes
	}
	if u.TOTPSecret != nil {
		e.TOTPSecret = *u.TOTPSecret
	}
	if u.Category != nil {
		e.Category = *u.Category
	}
	return e
}

// String returns a pointer to s for building updates.
func String(s string) *string {
	return &s
}
