package task

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"zam/internal/replica"
	"zam/internal/snapshot"
)

// Replicate reconciles every destination's snapshot set against the
// source's, keeping each destination connected by an unbroken incremental
// chain.
type Replicate struct {
	ds  *replica.Dataset
	log *zap.Logger
}

func NewReplicate(ds *replica.Dataset, log *zap.Logger) *Replicate {
	return &Replicate{ds: ds, log: log}
}

func (t *Replicate) Name() string {
	return "replicate " + t.ds.Source.Endpoint()
}

func (t *Replicate) Run(ctx context.Context) error {
	src := t.ds.Source
	srcSnaps, err := src.List(ctx)
	if err != nil {
		return err
	}
	if len(srcSnaps) == 0 {
		// The snapshot task always runs first on a fresh dataset; an empty
		// source here means the model's invariants no longer hold.
		return fmt.Errorf("source %s has no snapshots to replicate", src.Endpoint())
	}

	for _, dest := range t.ds.Destinations {
		if err := t.reconcile(ctx, src, dest, srcSnaps); err != nil {
			// Progress on earlier destinations stands; the rest of this run
			// is abandoned.
			return err
		}
	}
	return nil
}

// reconcile brings one destination up to date with the source.
func (t *Replicate) reconcile(ctx context.Context, src, dest *replica.Replica, srcSnaps []snapshot.Snapshot) error {
	exists, err := dest.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		// Seed the chain with a full transfer of the oldest snapshot.
		oldest := srcSnaps[0]
		t.log.Info("initializing destination",
			zap.String("source", src.Endpoint()),
			zap.String("destination", dest.Endpoint()),
			zap.Time("snapshot", oldest.Time))
		if err := src.CloneTo(ctx, dest, nil, oldest); err != nil {
			return err
		}
	}

	destSnaps, err := dest.List(ctx)
	if err != nil {
		return err
	}
	present := make(map[time.Time]bool, len(destSnaps))
	for _, s := range destSnaps {
		present[s.Time] = true
	}

	for i := 1; i < len(srcSnaps); i++ {
		previous, current := srcSnaps[i-1], srcSnaps[i]
		if !present[previous.Time] {
			// The bootstrap or an earlier pair should have guaranteed this.
			return fmt.Errorf("replication chain to %s is broken: %s is missing",
				dest.Endpoint(), previous)
		}
		if present[current.Time] {
			continue
		}
		t.log.Info("cloning snapshot",
			zap.String("source", src.Endpoint()),
			zap.String("destination", dest.Endpoint()),
			zap.Time("from", previous.Time),
			zap.Time("to", current.Time))
		if err := src.CloneTo(ctx, dest, &previous, current); err != nil {
			return err
		}
		// Later pairs in this run see the transfer without re-querying.
		present[current.Time] = true
	}
	return nil
}

// NextDue is one replication period from now, regardless of how much work
// the run did.
func (t *Replicate) NextDue(ctx context.Context) (time.Time, bool, error) {
	return time.Now().UTC().Add(t.ds.ReplicationPeriod), true, nil
}
