package task

import (
	"context"
	"time"

	"go.uber.org/zap"

	"zam/internal/replica"
	"zam/internal/retention"
	"zam/internal/snapshot"
)

// Prune deletes snapshots that no retention window requires, on the source
// and, when enabled, on each destination. It never deletes a snapshot a
// future incremental transfer still depends on.
type Prune struct {
	ds  *replica.Dataset
	log *zap.Logger
}

func NewPrune(ds *replica.Dataset, log *zap.Logger) *Prune {
	return &Prune{ds: ds, log: log}
}

func (t *Prune) Name() string {
	return "prune " + t.ds.Source.Endpoint()
}

func (t *Prune) Run(ctx context.Context) error {
	srcSnaps, err := t.ds.Source.List(ctx)
	if err != nil {
		return err
	}

	if err := t.pruneSource(ctx, srcSnaps); err != nil {
		return err
	}
	if !t.ds.PruneDestinations {
		return nil
	}
	// The source set just shrank; destinations are reconciled against the
	// fresh one.
	srcSnaps, err = t.ds.Source.List(ctx)
	if err != nil {
		return err
	}
	for _, dest := range t.ds.Destinations {
		if err := t.pruneDestination(ctx, dest, srcSnaps); err != nil {
			return err
		}
	}
	return nil
}

func (t *Prune) pruneSource(ctx context.Context, srcSnaps []snapshot.Snapshot) error {
	src := t.ds.Source
	doomed := retention.Plan(srcSnaps, src.Windows(), time.Now().UTC())
	if len(doomed) == 0 {
		return nil
	}

	// Re-check each destination before deleting: the newest snapshot a
	// destination shares with the source is the anchor of its next
	// incremental transfer, and a destination that does not exist yet will
	// be seeded from the oldest source snapshot.
	anchors := make(map[time.Time]bool)
	for _, dest := range t.ds.Destinations {
		exists, err := dest.Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			anchors[srcSnaps[0].Time] = true
			continue
		}
		destSnaps, err := dest.List(ctx)
		if err != nil {
			return err
		}
		present := make(map[time.Time]bool, len(destSnaps))
		for _, s := range destSnaps {
			present[s.Time] = true
		}
		for i := len(srcSnaps) - 1; i >= 0; i-- {
			if present[srcSnaps[i].Time] {
				anchors[srcSnaps[i].Time] = true
				break
			}
		}
	}

	return t.destroy(ctx, src, doomed, anchors)
}

// pruneDestination applies the destination's own windows, but never deletes
// a snapshot the source still holds: replication walks every consecutive
// source pair and expects each one to be present here.
func (t *Prune) pruneDestination(ctx context.Context, dest *replica.Replica, srcSnaps []snapshot.Snapshot) error {
	destSnaps, err := dest.List(ctx)
	if err != nil {
		return err
	}
	doomed := retention.Plan(destSnaps, dest.Windows(), time.Now().UTC())
	if len(doomed) == 0 {
		return nil
	}
	protected := make(map[time.Time]bool, len(srcSnaps))
	for _, s := range srcSnaps {
		protected[s.Time] = true
	}
	return t.destroy(ctx, dest, doomed, protected)
}

func (t *Prune) destroy(ctx context.Context, r *replica.Replica, doomed []snapshot.Snapshot, protected map[time.Time]bool) error {
	for _, s := range doomed {
		if protected[s.Time] {
			t.log.Debug("keeping chain anchor",
				zap.String("replica", r.Endpoint()),
				zap.Time("snapshot", s.Time))
			continue
		}
		t.log.Info("pruning snapshot",
			zap.String("replica", r.Endpoint()),
			zap.Time("snapshot", s.Time))
		if err := r.Destroy(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// NextDue is one prune period from now.
func (t *Prune) NextDue(ctx context.Context) (time.Time, bool, error) {
	return time.Now().UTC().Add(t.ds.PrunePeriod), true, nil
}
