// Package story defines the domain types for book generation runs: the
// story row itself, its progress record, and the artifacts produced along
// the way (bible, arc, chapters, feedback, cost records).
// This package has no dependencies on other fable packages.
package story

import (
	"encoding/json"
	"time"
)

// Status values for a story row.
const (
	StatusActive    = "active"
	StatusError     = "error"
	StatusCompleted = "completed"
)

// TotalChapters is the fixed length of a finished book.
const TotalChapters = 12

// InitialBatchEnd is the last chapter of the opening batch; everything after
// it is gated on reader feedback.
const InitialBatchEnd = 3

// Story is one book-sized generation run bound to a single owner and
// premise selection.
type Story struct {
	ID            string
	Owner         string
	OwnerName     string
	NameConfirmed bool
	Title         string
	Genre         string
	Premise       string
	PremiseRef    string
	AgeRange      string
	Preferences   Preferences
	Flags         FeatureFlags
	Model         string
	Status        string
	Progress      Progress
	BibleRef      string
	CoverRef      string
	CoverURL      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Preferences captures what the reader told us they like before the run
// started. All fields optional.
type Preferences struct {
	Genres        []string `json:"genres,omitempty"`
	Themes        []string `json:"themes,omitempty"`
	ReadingLevel  string   `json:"reading_level,omitempty"`
	BelovedTitles []string `json:"beloved_titles,omitempty"`
	Request       string   `json:"request,omitempty"`
}

// FeatureFlags holds per-story overrides for the optional chapter
// post-processing passes. A nil field means "use the configured default".
type FeatureFlags struct {
	AdaptivePreferences *bool `json:"adaptive_preferences,omitempty"`
	CharacterLedger     *bool `json:"character_ledger,omitempty"`
	EntityValidation    *bool `json:"entity_validation,omitempty"`
	VoiceReview         *bool `json:"voice_review,omitempty"`
}

// Resolve returns the effective value of a flag given the configured default.
func Resolve(override *bool, def bool) bool {
	if override != nil {
		return *override
	}
	return def
}

// MarshalJSONString is a small helper for encoding a value into the JSON
// string columns the store uses.
func MarshalJSONString(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
