// Package retention implements windowed snapshot retention.
//
// A replica's retention policy is an ordered list of windows. Each window is
// a requirement: among snapshots younger than its max age, at least one
// snapshot per period must survive. Windows are a union of requirements, not
// an override chain; a snapshot needed by any window that covers it is kept.
package retention

import (
	"fmt"
	"time"

	"zam/internal/snapshot"
)

// Window is one retention tier. A nil MaxAge means the tier covers
// snapshots of any age.
type Window struct {
	MaxAge *time.Duration
	Period time.Duration
}

func (w Window) String() string {
	if w.MaxAge == nil {
		return fmt.Sprintf("window(forever, one per %s)", w.Period)
	}
	return fmt.Sprintf("window(last %s, one per %s)", *w.MaxAge, w.Period)
}

// maxAgeOrInf sorts windows without a max age after every bounded one.
func maxAgeOrInf(w Window) time.Duration {
	if w.MaxAge == nil {
		return time.Duration(1<<63 - 1)
	}
	return *w.MaxAge
}

// ValidateWindows rejects policies whose tiers do not get coarser with age:
// max ages must be ascending and periods non-decreasing, otherwise the
// policy demands finer-grained retention for older snapshots than it allows
// for recent ones, which is unsatisfiable.
func ValidateWindows(windows []Window) error {
	if len(windows) == 0 {
		return fmt.Errorf("at least one retention window is required")
	}
	for i, w := range windows {
		if w.Period <= 0 {
			return fmt.Errorf("window %d: period must be positive", i)
		}
		if w.MaxAge != nil && *w.MaxAge <= 0 {
			return fmt.Errorf("window %d: max_age must be positive", i)
		}
		if i == 0 {
			continue
		}
		prev := windows[i-1]
		if maxAgeOrInf(w) < maxAgeOrInf(prev) {
			return fmt.Errorf("windows are not sorted by ascending max_age: %s before %s", prev, w)
		}
		if w.Period < prev.Period {
			return fmt.Errorf("window periods are not monotonically increasing: %s before %s", prev, w)
		}
	}
	return nil
}

// Plan returns the snapshots that may be deleted at time now, oldest first.
// snaps must be sorted ascending by timestamp.
//
// The newest snapshot is never deleted: it is the live edge of the chain and
// the base of any future incremental transfer. Every other snapshot survives
// if some window covering its age requires it. A snapshot no window needs,
// including one that has aged out of every bounded window, is returned for
// deletion.
func Plan(snaps []snapshot.Snapshot, windows []Window, now time.Time) []snapshot.Snapshot {
	if len(snaps) < 2 || len(windows) == 0 {
		return nil
	}

	required := make([]bool, len(snaps))
	for _, w := range windows {
		// Oldest snapshot still covered by this window.
		start := len(snaps)
		for i, s := range snaps {
			if w.MaxAge == nil || now.Sub(s.Time) <= *w.MaxAge {
				start = i
				break
			}
		}
		if start == len(snaps) {
			continue
		}

		// Walk oldest to newest, keeping one snapshot per period.
		required[start] = true
		lastKept := snaps[start].Time
		for i := start + 1; i < len(snaps); i++ {
			if snaps[i].Time.Sub(lastKept) >= w.Period {
				required[i] = true
				lastKept = snaps[i].Time
			}
		}
	}

	var doomed []snapshot.Snapshot
	for i := 0; i < len(snaps)-1; i++ {
		if !required[i] {
			doomed = append(doomed, snaps[i])
		}
	}
	return doomed
}
