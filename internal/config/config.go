// Package config defines the daemon configuration and its validation rules.
package config

import (
	"fmt"
)

const (
	// DefaultSnapshotPrefix marks snapshots as managed by this daemon;
	// snapshots under any other prefix are never touched.
	DefaultSnapshotPrefix = "ZAM-"
	// DefaultTimestampFormat is the Go reference layout snapshots are named
	// with.
	DefaultTimestampFormat = "2006-01-02T15:04:05"
)

type Config struct {
	ManagedDatasets []ManagedDataset `yaml:"managed_datasets"`
}

// ManagedDataset binds one source replica to its destinations, the three
// maintenance cadences and the recursion flag.
type ManagedDataset struct {
	Source       Replica   `yaml:"source"`
	Destinations []Replica `yaml:"destinations"`

	SnapshotPeriod    Duration `yaml:"snapshot_period"`
	ReplicationPeriod Duration `yaml:"replication_period"`
	PrunePeriod       Duration `yaml:"prune_period"`

	// Recursive also snapshots all descendant datasets. Defaults to true.
	Recursive *bool `yaml:"recursive"`

	// PruneDestinations extends pruning to the destination replicas.
	// Defaults to false: destinations are archives.
	PruneDestinations bool `yaml:"prune_destinations"`
}

// Replica describes one dataset endpoint. An empty host means the local
// machine; otherwise every storage command is tunneled over ssh.
type Replica struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	IdentityFile string `yaml:"identity_file"`

	Pool    string `yaml:"pool"`
	Dataset string `yaml:"dataset"`

	Windows []Window `yaml:"windows"`

	SnapshotPrefix  string `yaml:"snapshot_prefix"`
	TimestampFormat string `yaml:"timestamp_format"`
}

// Window is one retention tier: keep at most one snapshot per Period among
// snapshots younger than MaxAge. A nil MaxAge means the tier never expires.
type Window struct {
	MaxAge *Duration `yaml:"max_age"`
	Period Duration  `yaml:"period"`
}

func (c *Config) applyDefaults() {
	for i := range c.ManagedDatasets {
		md := &c.ManagedDatasets[i]
		if md.Recursive == nil {
			recursive := true
			md.Recursive = &recursive
		}
		md.Source.applyDefaults()
		for j := range md.Destinations {
			md.Destinations[j].applyDefaults()
		}
	}
}

func (r *Replica) applyDefaults() {
	if r.SnapshotPrefix == "" {
		r.SnapshotPrefix = DefaultSnapshotPrefix
	}
	if r.TimestampFormat == "" {
		r.TimestampFormat = DefaultTimestampFormat
	}
}

// Validate rejects incomplete or contradictory configurations. It runs at
// startup; the process refuses to start on any error.
func (c *Config) Validate() error {
	if len(c.ManagedDatasets) == 0 {
		return fmt.Errorf("managed_datasets must not be empty")
	}
	for i, md := range c.ManagedDatasets {
		if err := md.validate(); err != nil {
			return fmt.Errorf("managed_datasets[%d]: %w", i, err)
		}
	}
	return nil
}

func (m *ManagedDataset) validate() error {
	if err := m.Source.validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	for i, dest := range m.Destinations {
		if err := dest.validate(); err != nil {
			return fmt.Errorf("destinations[%d]: %w", i, err)
		}
	}
	if m.SnapshotPeriod <= 0 {
		return fmt.Errorf("snapshot_period is required and must be positive")
	}
	if m.ReplicationPeriod <= 0 {
		return fmt.Errorf("replication_period is required and must be positive")
	}
	if m.PrunePeriod <= 0 {
		return fmt.Errorf("prune_period is required and must be positive")
	}
	// Replicating or pruning more often than snapshots appear is pointless.
	if m.SnapshotPeriod > m.ReplicationPeriod {
		return fmt.Errorf("snapshot_period (%s) exceeds replication_period (%s)",
			m.SnapshotPeriod.Std(), m.ReplicationPeriod.Std())
	}
	if m.SnapshotPeriod > m.PrunePeriod {
		return fmt.Errorf("snapshot_period (%s) exceeds prune_period (%s)",
			m.SnapshotPeriod.Std(), m.PrunePeriod.Std())
	}
	return nil
}

func (r *Replica) validate() error {
	if r.Pool == "" {
		return fmt.Errorf("pool is required")
	}
	if r.Dataset == "" {
		return fmt.Errorf("dataset is required")
	}
	if r.Port < 0 || r.Port > 65535 {
		return fmt.Errorf("port %d out of range", r.Port)
	}
	if r.Host == "" && (r.Port != 0 || r.IdentityFile != "") {
		return fmt.Errorf("port and identity_file require a host")
	}
	if len(r.Windows) == 0 {
		return fmt.Errorf("windows must not be empty")
	}
	for i, w := range r.Windows {
		if w.Period <= 0 {
			return fmt.Errorf("windows[%d]: period is required and must be positive", i)
		}
		if w.MaxAge != nil && *w.MaxAge <= 0 {
			return fmt.Errorf("windows[%d]: max_age must be positive when set", i)
		}
	}
	return nil
}
