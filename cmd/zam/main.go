package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"zam/internal/config"
	"zam/internal/logging"
	"zam/internal/replica"
	"zam/internal/scheduler"
	"zam/internal/task"
	"zam/internal/zfs"
)

const version = "0.3.0"

// Default config locations, highest precedence first. /usr/local is for
// sysadmin-installed files; the other /usr directories come from the
// package manager.
var defaultConfigPaths = []string{
	"/etc/zam.yaml",
	"/usr/local/etc/zam.yaml",
	"/usr/etc/zam.yaml",
	"/usr/local/share/zam.yaml",
	"/usr/share/zam.yaml",
}

func main() {
	var (
		configPath string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:           "zam",
		Short:         "ZFS snapshot, replication and pruning daemon",
		Long:          `zam periodically snapshots managed ZFS datasets, replicates them to their destinations via incremental send/receive, and prunes snapshots no retention window requires.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func run(configPath, logLevel string) error {
	logger, err := logging.New(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if configPath == "" {
		configPath, err = findDefaultConfig()
		if err != nil {
			return err
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Debug("configuration loaded",
		zap.String("path", configPath),
		zap.Int("managed_datasets", len(cfg.ManagedDatasets)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(logger)
	for i, md := range cfg.ManagedDatasets {
		ds, err := buildDataset(md, logger)
		if err != nil {
			return fmt.Errorf("managed_datasets[%d]: %w", i, err)
		}
		tasks := []scheduler.Task{
			task.NewSnapshot(ds, logger),
			task.NewReplicate(ds, logger),
			task.NewPrune(ds, logger),
		}
		for _, t := range tasks {
			if err := sched.Add(ctx, t); err != nil {
				return err
			}
		}
	}

	logger.Info("starting scheduler", zap.Int("managed_datasets", len(cfg.ManagedDatasets)))
	if err := sched.Run(ctx); err != nil {
		logger.Error("scheduler stopped", zap.Error(err))
		return err
	}
	return nil
}

func buildDataset(md config.ManagedDataset, logger *zap.Logger) (*replica.Dataset, error) {
	source, err := buildReplica(md.Source, logger)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	destinations := make([]*replica.Replica, len(md.Destinations))
	for i, rc := range md.Destinations {
		destinations[i], err = buildReplica(rc, logger)
		if err != nil {
			return nil, fmt.Errorf("destinations[%d]: %w", i, err)
		}
	}
	return replica.NewDataset(
		source,
		destinations,
		md.SnapshotPeriod.Std(),
		md.ReplicationPeriod.Std(),
		md.PrunePeriod.Std(),
		*md.Recursive,
		md.PruneDestinations,
	)
}

func buildReplica(rc config.Replica, logger *zap.Logger) (*replica.Replica, error) {
	backend := zfs.New(zfs.Transport{
		Host:         rc.Host,
		Port:         rc.Port,
		IdentityFile: rc.IdentityFile,
	})
	return replica.New(rc, backend, logger)
}

func findDefaultConfig() (string, error) {
	for _, path := range defaultConfigPaths {
		if st, err := os.Stat(path); err == nil && st.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", fmt.Errorf("no config file given and none of the default locations exist (%v)", defaultConfigPaths)
}
