package story

import "time"

// Progress is the structured record attached to a story that makes the
// pipeline resumable. It is stored as a JSON document; timestamps are
// RFC3339 strings so partial merges stay encoding-stable.
type Progress struct {
	BibleComplete      bool     `json:"bible_complete"`
	ArcComplete        bool     `json:"arc_complete"`
	ChaptersGenerated  int      `json:"chapters_generated"`
	CurrentStep        string   `json:"current_step"`
	LastUpdated        string   `json:"last_updated,omitempty"`
	LastError          string   `json:"last_error,omitempty"`
	LastErrorAt        string   `json:"last_error_at,omitempty"`
	RetryCount         int      `json:"retry_count,omitempty"`
	HealthCheckRetries int      `json:"health_check_retries,omitempty"`
	RecoveryStarted    string   `json:"recovery_started,omitempty"`
	BatchStart         int      `json:"batch_start,omitempty"`
	BatchEnd           int      `json:"batch_end,omitempty"`
	ErrorLogs          []string `json:"error_logs,omitempty"`
	RepeatedError      bool     `json:"repeated_error,omitempty"`
}

// HasBatch reports whether a feedback-triggered batch is in flight.
func (p Progress) HasBatch() bool {
	return p.BatchStart > 0 && p.BatchEnd >= p.BatchStart
}

// RecoveryLockedAt parses the recovery lease timestamp. Returns the zero
// time when no lock is held or the value does not parse.
func (p Progress) RecoveryLockedAt() time.Time {
	if p.RecoveryStarted == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, p.RecoveryStarted)
	if err != nil {
		return time.Time{}
	}
	return t
}

// RecoveryLocked reports whether the recovery lease is still live at now
// given the lock duration.
func (p Progress) RecoveryLocked(now time.Time, lockDuration time.Duration) bool {
	locked := p.RecoveryLockedAt()
	if locked.IsZero() {
		return false
	}
	return now.Sub(locked) < lockDuration
}

// LastUpdatedTime parses last_updated. Returns the zero time when unset or
// unparseable, which callers treat as "stale".
func (p Progress) LastUpdatedTime() time.Time {
	if p.LastUpdated == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, p.LastUpdated)
	if err != nil {
		return time.Time{}
	}
	return t
}
