// Package snapshot defines the point-in-time snapshot value and its naming
// rule.
package snapshot

import (
	"fmt"
	"time"
)

// Snapshot is a single point-in-time view of a dataset, identified solely by
// its UTC timestamp. Its on-disk name is derived, never stored.
type Snapshot struct {
	Time time.Time
}

// At constructs a snapshot observed at now. A timestamp after now is
// rejected: it would indicate clock skew between this process and the
// storage system.
func At(t, now time.Time) (Snapshot, error) {
	if t.After(now) {
		return Snapshot{}, fmt.Errorf("snapshot dated %s is in the future (now %s)",
			t.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	return Snapshot{Time: t}, nil
}

// Name renders the snapshot's short name under the given prefix and time
// layout.
func (s Snapshot) Name(prefix, layout string) string {
	return prefix + s.Time.UTC().Format(layout)
}

// Before reports whether s was taken strictly before other.
func (s Snapshot) Before(other Snapshot) bool {
	return s.Time.Before(other.Time)
}

// Equal reports whether two snapshots denote the same point in time.
func (s Snapshot) Equal(other Snapshot) bool {
	return s.Time.Equal(other.Time)
}

func (s Snapshot) String() string {
	return fmt.Sprintf("snapshot(%s)", s.Time.UTC().Format(time.RFC3339))
}
