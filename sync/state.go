package sync

import (
	"time"

	"github.com/google/go-cmp/cmp"
)

// StateTimestampFormat matches the ISO-8601 form the orchestrator has always
// stored in last_updated (millisecond precision, UTC, trailing Z).
const StateTimestampFormat = "2006-01-02T15:04:05.000Z"

// EpochStart is the watermark used for a first-ever sync.
var EpochStart = time.Unix(0, 0).UTC().Format(StateTimestampFormat)

// State is the cursor persisted by the orchestrator between invocations.
// It is passed by value: nothing in this package holds on to a caller's State.
type State struct {
	// LastUpdated is the watermark of the most recent fully synced moment.
	LastUpdated string `json:"last_updated,omitempty"`
	// Continue is the upstream continuation token, set only while a
	// multi-page pass is in progress.
	Continue string `json:"continue,omitempty"`
}

// HasContinue reports whether a multi-page pass is in progress.
func (s State) HasContinue() bool {
	return s.Continue != ""
}

// Initialised returns s with LastUpdated defaulted to EpochStart when empty.
func (s State) Initialised() State {
	if s.LastUpdated == "" {
		s.LastUpdated = EpochStart
	}
	return s
}

// Watermark parses LastUpdated. Timestamps written by older versions without
// milliseconds are accepted too.
func (s State) Watermark() (time.Time, error) {
	t, err := time.Parse(StateTimestampFormat, s.LastUpdated)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s.LastUpdated)
	}
	return t, err
}

// withPendingContinue records a continuation marker, leaving the watermark untouched.
func (s State) withPendingContinue(marker string) State {
	s.Continue = marker
	return s
}

// withCompletedPass clears the continuation token and advances the watermark
// to callTimestamp. The watermark never moves backwards, even if the local
// clock is behind the stored value.
func (s State) withCompletedPass(callTimestamp time.Time) State {
	next := callTimestamp.UTC()
	if current, err := s.Watermark(); err == nil && current.After(next) {
		next = current
	}
	s.Continue = ""
	s.LastUpdated = next.Format(StateTimestampFormat)
	return s
}

// StateDiff returns a human readable diff between two states, or "" if they
// are structurally equal.
func StateDiff(before, after State) string {
	if cmp.Equal(before, after) {
		return ""
	}
	return cmp.Diff(before, after)
}
