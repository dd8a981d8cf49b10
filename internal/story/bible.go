package story

import (
	"encoding/json"
	"time"
)

// BibleRecord is the persisted wrapper around a Bible document.
type BibleRecord struct {
	ID        string
	StoryID   string
	Version   int
	Content   Bible
	Model     string
	CreatedAt time.Time
}

// BibleFields are the required top-level keys of a bible document. The
// bible stage refuses to persist a response missing any of them.
var BibleFields = []string{
	"world_rules",
	"protagonist",
	"antagonist",
	"supporting_characters",
	"central_conflict",
	"stakes",
	"themes",
	"key_locations",
	"timeline",
}

// Bible is the structured world + character + stakes document produced once
// per story. Unknown top-level keys are preserved in Extras so a newer
// prompt revision can carry fields an older binary does not know about.
type Bible struct {
	WorldRules      []string    `json:"world_rules"`
	Protagonist     Protagonist `json:"protagonist"`
	Antagonist      Antagonist  `json:"antagonist"`
	SupportingCast  []Character `json:"supporting_characters"`
	CentralConflict string      `json:"central_conflict"`
	Stakes          string      `json:"stakes"`
	Themes          []string    `json:"themes"`
	KeyLocations    []Location  `json:"key_locations"`
	Timeline        string      `json:"timeline"`

	Extras map[string]json.RawMessage `json:"-"`
}

// Protagonist carries the psychological scaffolding the chapter prompts
// lean on.
type Protagonist struct {
	Name                  string `json:"name"`
	Description           string `json:"description,omitempty"`
	InternalContradiction string `json:"internal_contradiction"`
	FalseBelief           string `json:"false_belief"`
	VoiceNotes            string `json:"voice_notes"`
}

// Antagonist must have a sympathetic element or the middle chapters go flat.
type Antagonist struct {
	Name               string `json:"name"`
	Description        string `json:"description,omitempty"`
	SympatheticElement string `json:"sympathetic_element"`
}

// Character is a supporting cast member.
type Character struct {
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	Description string `json:"description,omitempty"`
}

// Location is a named place from the bible.
type Location struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// bibleAlias avoids recursing into UnmarshalJSON.
type bibleAlias Bible

// UnmarshalJSON decodes the known fields and stashes unknown top-level keys
// in Extras.
func (b *Bible) UnmarshalJSON(data []byte) error {
	var alias bibleAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := map[string]bool{}
	for _, f := range BibleFields {
		known[f] = true
	}
	for k := range raw {
		if known[k] {
			delete(raw, k)
		}
	}
	if len(raw) > 0 {
		alias.Extras = raw
	}

	*b = Bible(alias)
	return nil
}

// MarshalJSON re-emits known fields plus any preserved extras.
func (b Bible) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(bibleAlias(b))
	if err != nil {
		return nil, err
	}
	if len(b.Extras) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range b.Extras {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// CastNames returns every named character in the bible: protagonist,
// antagonist and supporting cast. Used by the continuity validator.
func (b Bible) CastNames() []string {
	names := make([]string, 0, len(b.SupportingCast)+2)
	if b.Protagonist.Name != "" {
		names = append(names, b.Protagonist.Name)
	}
	if b.Antagonist.Name != "" {
		names = append(names, b.Antagonist.Name)
	}
	for _, c := range b.SupportingCast {
		if c.Name != "" {
			names = append(names, c.Name)
		}
	}
	return names
}
