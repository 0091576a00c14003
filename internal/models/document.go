package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DocumentVersion is written into every saved document.
const DocumentVersion = "1.0"

// Document is the plaintext that gets encrypted into the vault file.
type Document struct {
	Version string    `json:"version"`
	Created time.Time `json:"created"`
	Entries []Entry   `json:"entries"`
}

// MarshalDocument encodes doc as JSON.
func MarshalDocument(doc Document) ([]byte, error) {
	if doc.Version == "" {
		doc.Version = DocumentVersion
	}
	if doc.Entries == nil {
		doc.Entries = []Entry{}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// UnmarshalDocument decodes a document. Missing optional entry fields get
// their defaults; an unknown major version is reported as corruption.
func UnmarshalDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: decode document: %v", ErrCorruptVault, err)
	}

	if doc.Version == "" {
		doc.Version = DocumentVersion
	}
	if major, _, _ := strings.Cut(doc.Version, "."); major != "1" {
		return Document{}, fmt.Errorf("%w: unsupported document version %q", ErrCorruptVault, doc.Version)
	}

	now := time.Now().UTC()
	for i := range doc.Entries {
		e := &doc.Entries[i]
		if e.Category == "" {
			e.Category = DefaultCategory
		}
		if e.Created.IsZero() {
			e.Created = now
		}
		if e.Modified.IsZero() || e.Modified.Before(e.Created) {
			e.Modified = e.Created
		}
	}
	if doc.Entries == nil {
		doc.Entries = []Entry{}
	}

	return doc, nil
}
