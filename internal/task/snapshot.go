// Package task implements the three maintenance activities run by the
// scheduler: snapshot creation, replication and pruning. Each task holds a
// non-owning reference to its managed dataset and queries backend state
// fresh on every run.
package task

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"zam/internal/replica"
)

// Snapshot keeps the age of the newest source snapshot below the dataset's
// snapshot period.
type Snapshot struct {
	ds  *replica.Dataset
	log *zap.Logger
}

func NewSnapshot(ds *replica.Dataset, log *zap.Logger) *Snapshot {
	return &Snapshot{ds: ds, log: log}
}

func (t *Snapshot) Name() string {
	return "snapshot " + t.ds.Source.Endpoint()
}

func (t *Snapshot) Run(ctx context.Context) error {
	snaps, err := t.ds.Source.List(ctx)
	if err != nil {
		return err
	}
	if len(snaps) > 0 && time.Now().UTC().Sub(snaps[len(snaps)-1].Time) <= t.ds.SnapshotPeriod {
		t.log.Debug("newest snapshot is fresh enough",
			zap.String("replica", t.ds.Source.Endpoint()),
			zap.Time("newest", snaps[len(snaps)-1].Time))
		return nil
	}

	t.log.Info("taking snapshot",
		zap.String("replica", t.ds.Source.Endpoint()),
		zap.Bool("recursive", t.ds.Recursive))
	s, err := t.ds.TakeSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("taking snapshot: %w", err)
	}
	t.log.Debug("snapshot created", zap.Time("timestamp", s.Time))
	return nil
}

// NextDue is the newest known snapshot time plus the snapshot period, or
// immediately when no snapshot exists yet.
func (t *Snapshot) NextDue(ctx context.Context) (time.Time, bool, error) {
	snaps, err := t.ds.Source.List(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	if len(snaps) == 0 {
		return time.Now().UTC(), true, nil
	}
	return snaps[len(snaps)-1].Time.Add(t.ds.SnapshotPeriod), true, nil
}
