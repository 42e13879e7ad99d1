package session

import (
	"fmt"
	"math"
	"sync"
)

// SeekResult is the outcome of a playback position update.
type SeekResult struct {
	Allowed bool    `json:"allowed"`
	SnapTo  float64 `json:"snap_to,omitempty"` // position to return to when not allowed
	Warning string  `json:"warning,omitempty"`
}

// Tracker restricts forward seeking to the furthest watched position plus a tolerance.
type Tracker struct {
	mu         sync.Mutex
	maxWatched float64
	tolerance  float64 // seconds
	bypass     bool
}

func NewTracker(toleranceSeconds float64, bypass bool) *Tracker {
	return &Tracker{tolerance: math.Max(toleranceSeconds, 0), bypass: bypass}
}

// Seek checks a new playback position. Accepted positions extend the watched range.
func (t *Tracker) Seek(position float64) SeekResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	if position < 0 || math.IsNaN(position) {
		position = 0
	}
	if !t.bypass && position > t.maxWatched+t.tolerance {
		return SeekResult{
			Allowed: false,
			SnapTo:  t.maxWatched,
			Warning: fmt.Sprintf("you cannot skip ahead of %s", formatPosition(t.maxWatched)),
		}
	}
	if position > t.maxWatched {
		t.maxWatched = position
	}
	return SeekResult{Allowed: true}
}

// MaxWatched returns the furthest accepted position, in seconds.
func (t *Tracker) MaxWatched() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxWatched
}

func (t *Tracker) Bypassed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bypass
}

// Unrestrict lifts the seek restriction, eg: once the video has been watched.
func (t *Tracker) Unrestrict() {
	t.mu.Lock()
	t.bypass = true
	t.mu.Unlock()
}

func formatPosition(seconds float64) string {
	s := int(seconds)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
