package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/temcen/hybrec/internal/app"
	"github.com/temcen/hybrec/internal/config"
	"github.com/temcen/hybrec/internal/messaging"
	"github.com/temcen/hybrec/internal/ml"
)

type snapshotPublisher interface {
	Publish(ctx context.Context, version, path string) (messaging.SnapshotEvent, error)
	Close() error
}

var newPublisher = func(cfg config.KafkaConfig, logger *logrus.Logger) snapshotPublisher {
	return messaging.NewSnapshotPublisher(cfg, logger)
}

var loadConfig = config.Load

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "snapshotctl",
		Short: "Inspect and roll out model snapshots",
		Long: `snapshotctl validates model snapshot directories and announces them to the
recommendation servers.

Example usage:
  snapshotctl validate ./models/2024-06-01
  snapshotctl publish ./models/2024-06-01`,
		SilenceUsage: true,
	}

	root.AddCommand(newValidateCmd(), newPublishCmd())
	return root
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Load a snapshot directory and print its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := ml.LoadSnapshot(args[0])
			if err != nil {
				return err
			}
			printInfo(cmd, snapshot.Info())
			return nil
		},
	}
}

func newPublishCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "publish <dir>",
		Short: "Validate a snapshot directory and announce it on Kafka",
		Long: `publish loads the snapshot first so that a broken artifact is never announced.
The absolute path is announced, so every server must be able to read the
directory at that location.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", args[0], err)
			}

			snapshot, err := ml.LoadSnapshot(dir)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if len(cfg.Kafka.Brokers) == 0 {
				return errors.New("no Kafka brokers configured (set KAFKA_BROKERS or kafka.brokers)")
			}

			publisher := newPublisher(cfg.Kafka, app.NewLogger(cfg.Logging))
			defer publisher.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			event, err := publisher.Publish(ctx, snapshot.Version(), dir)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "published %s (event %s)\n", event.Version, event.EventID)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "publish timeout")
	return cmd
}

func printInfo(cmd *cobra.Command, info ml.SnapshotInfo) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "version:  %s\n", info.Version)
	fmt.Fprintf(out, "users:    %d\n", info.Users)
	fmt.Fprintf(out, "items:    %d\n", info.Items)
	fmt.Fprintf(out, "factors:  %d\n", info.Factors)
	if !info.TrainedOn.IsZero() {
		fmt.Fprintf(out, "trained:  %s\n", info.TrainedOn.Format(time.RFC3339))
	}
}
