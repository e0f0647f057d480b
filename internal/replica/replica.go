// Package replica models one dataset endpoint participating in replication.
// A replica owns the snapshot naming convention for its endpoint and wraps
// every storage call with name parsing and formatting.
package replica

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"zam/internal/config"
	"zam/internal/retention"
	"zam/internal/snapshot"
	"zam/internal/zfs"
)

type Replica struct {
	transport zfs.Transport
	pool      string
	dataset   string
	prefix    string
	layout    string
	windows   []retention.Window

	backend zfs.Backend
	log     *zap.Logger
}

// New builds a replica from its configuration. The retention windows are
// validated here; a contradictory policy is rejected before the daemon
// starts.
func New(cfg config.Replica, backend zfs.Backend, log *zap.Logger) (*Replica, error) {
	windows := make([]retention.Window, len(cfg.Windows))
	for i, w := range cfg.Windows {
		windows[i] = retention.Window{Period: w.Period.Std()}
		if w.MaxAge != nil {
			age := w.MaxAge.Std()
			windows[i].MaxAge = &age
		}
	}
	r := &Replica{
		transport: zfs.Transport{Host: cfg.Host, Port: cfg.Port, IdentityFile: cfg.IdentityFile},
		pool:      cfg.Pool,
		dataset:   cfg.Dataset,
		prefix:    cfg.SnapshotPrefix,
		layout:    cfg.TimestampFormat,
		windows:   windows,
		backend:   backend,
		log:       log,
	}
	if err := retention.ValidateWindows(windows); err != nil {
		return nil, fmt.Errorf("replica %s: %w", r.Endpoint(), err)
	}
	return r, nil
}

// Endpoint identifies the replica in logs and errors.
func (r *Replica) Endpoint() string {
	return fmt.Sprintf("%s:%s", r.transport, r.DatasetName())
}

// DatasetName is the full dataset path, pool included.
func (r *Replica) DatasetName() string {
	return r.pool + "/" + r.dataset
}

// FullName renders a snapshot's complete on-disk name for this endpoint.
func (r *Replica) FullName(s snapshot.Snapshot) string {
	return r.DatasetName() + "@" + s.Name(r.prefix, r.layout)
}

// Windows returns the replica's retention policy.
func (r *Replica) Windows() []retention.Window {
	return r.windows
}

// Exists reports whether the dataset is present on the backend at all.
func (r *Replica) Exists(ctx context.Context) (bool, error) {
	datasets, err := r.backend.ListDatasets(ctx)
	if err != nil {
		return false, fmt.Errorf("replica %s: %w", r.Endpoint(), err)
	}
	name := r.DatasetName()
	for _, d := range datasets {
		if d == name {
			return true, nil
		}
	}
	return false, nil
}

// List returns the managed snapshots of this replica, ascending by
// timestamp. Snapshots under a foreign prefix are skipped; a malformed name
// under our own prefix is an error, not something to guess around. A
// missing dataset yields an empty list: "no dataset yet" is a normal state,
// distinct from a listing failure.
func (r *Replica) List(ctx context.Context) ([]snapshot.Snapshot, error) {
	names, err := r.backend.ListSnapshots(ctx, r.DatasetName())
	if err != nil {
		if errors.Is(err, zfs.ErrDatasetNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("replica %s: %w", r.Endpoint(), err)
	}

	datasetPrefix := r.DatasetName() + "@"
	now := time.Now().UTC()
	var snaps []snapshot.Snapshot
	for _, full := range names {
		if !strings.HasPrefix(full, datasetPrefix) {
			return nil, fmt.Errorf("replica %s: snapshot %q belongs to another dataset", r.Endpoint(), full)
		}
		name := strings.TrimPrefix(full, datasetPrefix)
		if !strings.HasPrefix(name, r.prefix) {
			// Not ours; some other tool's snapshot.
			continue
		}
		t, err := time.Parse(r.layout, strings.TrimPrefix(name, r.prefix))
		if err != nil {
			return nil, fmt.Errorf("replica %s: malformed managed snapshot name %q: %w", r.Endpoint(), full, err)
		}
		s, err := snapshot.At(t, now)
		if err != nil {
			return nil, fmt.Errorf("replica %s: %w", r.Endpoint(), err)
		}
		if rendered := r.FullName(s); rendered != full {
			return nil, fmt.Errorf("replica %s: snapshot name %q does not round-trip (rendered %q)", r.Endpoint(), full, rendered)
		}
		snaps = append(snaps, s)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Before(snaps[j]) })
	return snaps, nil
}

// CloneTo transfers the snapshot to onto dest, incrementally from from when
// non-nil. It joins both sides of the transfer: the send stream's producer
// and the receiving process must each report success. A failed receive
// aborts the send side before the join, which would otherwise block on the
// unread stream.
func (r *Replica) CloneTo(ctx context.Context, dest *Replica, from *snapshot.Snapshot, to snapshot.Snapshot) error {
	var fromName string
	if from != nil {
		fromName = r.FullName(*from)
	}
	stream, err := r.backend.Send(ctx, r.FullName(to), fromName)
	if err != nil {
		return fmt.Errorf("replica %s: %w", r.Endpoint(), err)
	}
	recvErr := dest.backend.Receive(ctx, dest.FullName(to), stream)
	if recvErr != nil {
		stream.Close()
	}
	sendErr := stream.Wait()
	if recvErr != nil {
		return fmt.Errorf("replica %s: %w", dest.Endpoint(), recvErr)
	}
	if sendErr != nil {
		return fmt.Errorf("replica %s: %w", r.Endpoint(), sendErr)
	}
	return nil
}

// Destroy deletes a single managed snapshot on this endpoint.
func (r *Replica) Destroy(ctx context.Context, s snapshot.Snapshot) error {
	if err := r.backend.DestroySnapshot(ctx, r.FullName(s)); err != nil {
		return fmt.Errorf("replica %s: %w", r.Endpoint(), err)
	}
	return nil
}
