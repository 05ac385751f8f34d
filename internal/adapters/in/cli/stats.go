package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alemelgarejo/docker-database-manager/internal/app"
	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

type statsClient interface {
	CollectStats(ctx context.Context, containerID string) (*domain.ContainerStats, error)
	CollectAllStats(ctx context.Context) ([]domain.ContainerStats, error)
}

type metricsServer interface {
	ServeMetrics(ctx context.Context, listen string) error
}

func newStatsCmd(withEngine engineRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [container]",
		Short: "Sample resource usage of one or every running database container",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			containerID := ""
			if len(args) == 1 {
				containerID = args[0]
			}
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runStats(ctx, e, containerID, out)
			})
		},
	}
}

func newMetricsCmd(withEngine engineRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Expose Prometheus metrics",
	}

	var listen string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /metrics and sample containers until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, _ io.Writer) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				return runMetricsServe(ctx, e, listen)
			})
		},
	}
	serveCmd.Flags().StringVar(&listen, "listen", "", "Listen address (default: metrics.listen)")
	cmd.AddCommand(serveCmd)

	return cmd
}

func runStats(ctx context.Context, client statsClient, containerID string, out io.Writer) error {
	if containerID != "" {
		stats, err := client.CollectStats(ctx, containerID)
		if err != nil {
			return fmt.Errorf("failed to collect stats: %w", err)
		}
		return cliWriteJSON(out, stats)
	}

	all, err := client.CollectAllStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect stats: %w", err)
	}
	if all == nil {
		all = []domain.ContainerStats{}
	}
	return cliWriteJSON(out, all)
}

func runMetricsServe(ctx context.Context, server metricsServer, listen string) error {
	if err := server.ServeMetrics(ctx, listen); err != nil {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}
