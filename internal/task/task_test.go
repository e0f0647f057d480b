package task

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"zam/internal/config"
	"zam/internal/replica"
	"zam/internal/zfs"
)

const testLayout = "2006-01-02T15:04:05"

// fakeBackend keeps datasets and their snapshot names in memory. A single
// instance backs both ends of a transfer so sends land on the receiving
// dataset the way they would on a real backend.
type fakeBackend struct {
	datasets  map[string][]string // full dataset name -> full snapshot names
	created   []string
	recursive []bool
	destroyed []string
	transfers []transfer
}

type transfer struct {
	from string // empty for a full transfer
	to   string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{datasets: make(map[string][]string)}
}

func (f *fakeBackend) addDataset(name string, snapshots ...string) {
	f.datasets[name] = append(f.datasets[name], snapshots...)
}

func (f *fakeBackend) ListDatasets(ctx context.Context) ([]string, error) {
	var names []string
	for name := range f.datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeBackend) ListSnapshots(ctx context.Context, dataset string) ([]string, error) {
	snaps, ok := f.datasets[dataset]
	if !ok {
		return nil, fmt.Errorf("cannot open %q: %w", dataset, zfs.ErrDatasetNotFound)
	}
	return append([]string(nil), snaps...), nil
}

func (f *fakeBackend) CreateSnapshot(ctx context.Context, name string, recursive bool) error {
	dataset, _, _ := strings.Cut(name, "@")
	f.datasets[dataset] = append(f.datasets[dataset], name)
	f.created = append(f.created, name)
	f.recursive = append(f.recursive, recursive)
	return nil
}

func (f *fakeBackend) DestroySnapshot(ctx context.Context, name string) error {
	dataset, _, _ := strings.Cut(name, "@")
	kept := f.datasets[dataset][:0]
	for _, s := range f.datasets[dataset] {
		if s != name {
			kept = append(kept, s)
		}
	}
	f.datasets[dataset] = kept
	f.destroyed = append(f.destroyed, name)
	return nil
}

type fakeStream struct {
	from string
}

func (s *fakeStream) Read(p []byte) (int, error) { return 0, io.EOF }
func (s *fakeStream) Wait() error                { return nil }
func (s *fakeStream) Close() error               { return nil }

func (f *fakeBackend) Send(ctx context.Context, to, from string) (zfs.Stream, error) {
	return &fakeStream{from: from}, nil
}

func (f *fakeBackend) Receive(ctx context.Context, into string, stream io.Reader) error {
	fs := stream.(*fakeStream)
	dataset, _, _ := strings.Cut(into, "@")
	f.datasets[dataset] = append(f.datasets[dataset], into)
	f.transfers = append(f.transfers, transfer{from: fs.from, to: into})
	return nil
}

func testReplica(t *testing.T, backend zfs.Backend, pool, dataset string, windows ...config.Window) *replica.Replica {
	t.Helper()
	if len(windows) == 0 {
		windows = []config.Window{{Period: config.Duration(24 * time.Hour)}}
	}
	r, err := replica.New(config.Replica{
		Pool:            pool,
		Dataset:         dataset,
		Windows:         windows,
		SnapshotPrefix:  "ZAM-",
		TimestampFormat: testLayout,
	}, backend, zap.NewNop())
	require.NoError(t, err)
	return r
}

func testDataset(t *testing.T, source *replica.Replica, destinations ...*replica.Replica) *replica.Dataset {
	t.Helper()
	ds, err := replica.NewDataset(source, destinations,
		time.Hour, 2*time.Hour, 24*time.Hour, false, false)
	require.NoError(t, err)
	return ds
}

func fullName(dataset string, tm time.Time) string {
	return dataset + "@ZAM-" + tm.UTC().Format(testLayout)
}

// daysAgo returns a whole-second timestamp n days in the past, so rendered
// names round-trip exactly.
func daysAgo(n int) time.Time {
	return time.Now().UTC().Truncate(time.Second).Add(-time.Duration(n) * 24 * time.Hour)
}
