package replica

import (
	"context"
	"fmt"
	"time"

	"zam/internal/snapshot"
)

// Dataset is the unit of management: one source replica, its destinations,
// the three maintenance cadences and the recursion flag. It is built once
// from configuration and immutable for the process lifetime.
type Dataset struct {
	Source       *Replica
	Destinations []*Replica

	SnapshotPeriod    time.Duration
	ReplicationPeriod time.Duration
	PrunePeriod       time.Duration

	Recursive         bool
	PruneDestinations bool
}

// NewDataset enforces the cadence invariant: there is no point in
// replicating or pruning more often than snapshots are created.
func NewDataset(source *Replica, destinations []*Replica, snapshotPeriod, replicationPeriod, prunePeriod time.Duration, recursive, pruneDestinations bool) (*Dataset, error) {
	if snapshotPeriod <= 0 || replicationPeriod <= 0 || prunePeriod <= 0 {
		return nil, fmt.Errorf("dataset %s: all periods must be positive", source.Endpoint())
	}
	if snapshotPeriod > replicationPeriod || snapshotPeriod > prunePeriod {
		return nil, fmt.Errorf("dataset %s: snapshot period exceeds a dependent period", source.Endpoint())
	}
	return &Dataset{
		Source:            source,
		Destinations:      destinations,
		SnapshotPeriod:    snapshotPeriod,
		ReplicationPeriod: replicationPeriod,
		PrunePeriod:       prunePeriod,
		Recursive:         recursive,
		PruneDestinations: pruneDestinations,
	}, nil
}

// TakeSnapshot creates a new snapshot on the source, dated now.
func (d *Dataset) TakeSnapshot(ctx context.Context) (snapshot.Snapshot, error) {
	now := time.Now().UTC()
	s, err := snapshot.At(now, now)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	src := d.Source
	if err := src.backend.CreateSnapshot(ctx, src.FullName(s), d.Recursive); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("replica %s: %w", src.Endpoint(), err)
	}
	return s, nil
}
