// Package memorial defines the typed metadata record carried inside an
// anchored bundle's manifest.
package memorial

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Subject identifies who the memorial is for.
type Subject struct {
	FullName  string `json:"fullName"`
	BirthDate string `json:"birthDate"`
	DeathDate string `json:"deathDate"`
	Epitaph   string `json:"epitaph,omitempty"`
}

// Content is the memorial body: a narrative plus image references. Image
// references name bundle assets by leaf name or full path, or are absolute
// URLs for externally hosted media.
type Content struct {
	BioMarkdown string   `json:"bioMarkdown,omitempty"`
	MainImage   string   `json:"mainImage,omitempty"`
	Gallery     []string `json:"gallery,omitempty"`
}

// Provenance records how and when this bundle was produced and, once known,
// where it is anchored.
type Provenance struct {
	Version    string `json:"version"`
	ExportedAt string `json:"exportedAt,omitempty"`
	TxID       string `json:"txid,omitempty"`
	Explorer   string `json:"explorer,omitempty"`
}

// Record is the manifest document stored as metadata.json inside a bundle.
type Record struct {
	Subject    Subject    `json:"subject"`
	Content    Content    `json:"content"`
	Provenance Provenance `json:"provenance"`
}

// ManifestVersion is written into newly packed bundles.
const ManifestVersion = "1.0.0"

// Parse decodes and validates a manifest document.
func Parse(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("memorial: malformed manifest: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks the fields a well-formed manifest must carry.
func (r *Record) Validate() error {
	if r == nil {
		return errors.New("memorial: nil record")
	}
	if r.Subject.FullName == "" {
		return errors.New("memorial: subject full name is required")
	}
	if r.Subject.BirthDate == "" || r.Subject.DeathDate == "" {
		return errors.New("memorial: subject birth and death dates are required")
	}
	return nil
}

// Marshal renders the manifest as indented JSON, the form written into
// bundles.
func (r *Record) Marshal() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.MarshalIndent(r, "", "  ")
}
