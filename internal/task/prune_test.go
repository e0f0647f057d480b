package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"zam/internal/config"
	"zam/internal/replica"
)

func weeklyWindow() config.Window {
	return config.Window{Period: config.Duration(7 * 24 * time.Hour)}
}

func pruneDataset(t *testing.T, source *replica.Replica, pruneDestinations bool, destinations ...*replica.Replica) *replica.Dataset {
	t.Helper()
	ds, err := replica.NewDataset(source, destinations,
		time.Hour, 2*time.Hour, 24*time.Hour, false, pruneDestinations)
	require.NoError(t, err)
	return ds
}

func TestPruneDeletesRedundantSourceSnapshots(t *testing.T) {
	backend := newFakeBackend()
	// Ten daily snapshots; one-per-week retention keeps ages 9 and 2, plus
	// the newest.
	for i := 9; i >= 0; i-- {
		backend.addDataset("tank/data", fullName("tank/data", daysAgo(i)))
	}

	src := testReplica(t, backend, "tank", "data", weeklyWindow())
	ds := pruneDataset(t, src, false)

	task := NewPrune(ds, zap.NewNop())
	require.NoError(t, task.Run(context.Background()))

	remaining, err := src.List(context.Background())
	require.NoError(t, err)
	var ages []int
	for _, s := range remaining {
		ages = append(ages, int(time.Now().UTC().Sub(s.Time)/(24*time.Hour)))
	}
	assert.Equal(t, []int{9, 2, 0}, ages)
}

func TestPruneProtectsDestinationChainAnchor(t *testing.T) {
	backend := newFakeBackend()
	for i := 9; i >= 0; i-- {
		backend.addDataset("tank/data", fullName("tank/data", daysAgo(i)))
	}
	// The destination lags: its newest shared snapshot (age 4) is the base
	// of its next incremental, even though retention would delete it.
	for i := 9; i >= 4; i-- {
		backend.addDataset("backup/data", fullName("backup/data", daysAgo(i)))
	}

	src := testReplica(t, backend, "tank", "data", weeklyWindow())
	dest := testReplica(t, backend, "backup", "data", weeklyWindow())
	ds := pruneDataset(t, src, false, dest)

	task := NewPrune(ds, zap.NewNop())
	require.NoError(t, task.Run(context.Background()))

	remaining, err := src.List(context.Background())
	require.NoError(t, err)
	var ages []int
	for _, s := range remaining {
		ages = append(ages, int(time.Now().UTC().Sub(s.Time)/(24*time.Hour)))
	}
	assert.Equal(t, []int{9, 4, 2, 0}, ages)

	// The destination itself was left alone.
	destSnaps, err := dest.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, destSnaps, 6)
}

func TestPruneProtectsOldestWhenDestinationAbsent(t *testing.T) {
	backend := newFakeBackend()
	// A hair over three days so the age-3 snapshot is not lost to the
	// instants elapsed since the fixture was built.
	maxAge := config.Duration(3*24*time.Hour + time.Hour)
	for i := 9; i >= 0; i-- {
		backend.addDataset("tank/data", fullName("tank/data", daysAgo(i)))
	}

	// Only the last 3 days are retained; everything older has aged out. But
	// the destination does not exist yet, and its bootstrap transfer will be
	// seeded from the oldest source snapshot.
	src := testReplica(t, backend, "tank", "data",
		config.Window{MaxAge: &maxAge, Period: config.Duration(24 * time.Hour)})
	dest := testReplica(t, backend, "backup", "data", weeklyWindow())
	ds := pruneDataset(t, src, false, dest)

	task := NewPrune(ds, zap.NewNop())
	require.NoError(t, task.Run(context.Background()))

	remaining, err := src.List(context.Background())
	require.NoError(t, err)
	var ages []int
	for _, s := range remaining {
		ages = append(ages, int(time.Now().UTC().Sub(s.Time)/(24*time.Hour)))
	}
	assert.Equal(t, []int{9, 3, 2, 1, 0}, ages)
}

func TestPruneDestinationsKeepsSnapshotsSourceStillHolds(t *testing.T) {
	backend := newFakeBackend()
	// Source holds four daily snapshots; a fine-grained window keeps them
	// all.
	for i := 3; i >= 0; i-- {
		backend.addDataset("tank/data", fullName("tank/data", daysAgo(i)))
	}
	// The destination carries older history too.
	for _, i := range []int{20, 13, 12, 3, 2, 1, 0} {
		backend.addDataset("backup/data", fullName("backup/data", daysAgo(i)))
	}

	src := testReplica(t, backend, "tank", "data",
		config.Window{Period: config.Duration(24 * time.Hour)})
	dest := testReplica(t, backend, "backup", "data", weeklyWindow())
	ds := pruneDataset(t, src, true, dest)

	task := NewPrune(ds, zap.NewNop())
	require.NoError(t, task.Run(context.Background()))

	// Weekly retention dooms ages 12, 2 and 1, but 2 and 1 are still on the
	// source and replication expects to find them here.
	destSnaps, err := dest.List(context.Background())
	require.NoError(t, err)
	var ages []int
	for _, s := range destSnaps {
		ages = append(ages, int(time.Now().UTC().Sub(s.Time)/(24*time.Hour)))
	}
	assert.Equal(t, []int{20, 13, 3, 2, 1, 0}, ages)
}

func TestPruneSkipsDestinationsByDefault(t *testing.T) {
	backend := newFakeBackend()
	for i := 9; i >= 0; i-- {
		backend.addDataset("tank/data", fullName("tank/data", daysAgo(i)))
		backend.addDataset("backup/data", fullName("backup/data", daysAgo(i)))
	}

	src := testReplica(t, backend, "tank", "data",
		config.Window{Period: config.Duration(24 * time.Hour)})
	dest := testReplica(t, backend, "backup", "data", weeklyWindow())
	ds := pruneDataset(t, src, false, dest)

	task := NewPrune(ds, zap.NewNop())
	require.NoError(t, task.Run(context.Background()))

	destSnaps, err := dest.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, destSnaps, 10)
}

func TestPruneNextDue(t *testing.T) {
	backend := newFakeBackend()
	backend.addDataset("tank/data")
	src := testReplica(t, backend, "tank", "data")
	ds := pruneDataset(t, src, false)

	task := NewPrune(ds, zap.NewNop())
	due, ok, err := task.NextDue(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().UTC().Add(24*time.Hour), due, time.Minute)
}
