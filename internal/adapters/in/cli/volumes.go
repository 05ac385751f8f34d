package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/alemelgarejo/docker-database-manager/internal/app"
	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

type volumesClient interface {
	ListVolumes(ctx context.Context) ([]domain.VolumeInfo, error)
	RemoveVolume(ctx context.Context, name string, force bool) error
	PruneVolumes(ctx context.Context) (*domain.PruneReport, error)
	BackupVolume(ctx context.Context, name, destDir string) (string, error)
	RestoreVolume(ctx context.Context, name, archivePath string) error
}

func newVolumesCmd(withEngine engineRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "volumes",
		Short: "List, remove, prune, back up and restore named volumes",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List named volumes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runVolumesList(ctx, e, out)
			})
		},
	})
	cmd.AddCommand(newVolumesRemoveCmd(withEngine))
	cmd.AddCommand(newVolumesBackupCmd(withEngine))
	cmd.AddCommand(&cobra.Command{
		Use:   "restore <name> <archive>",
		Short: "Extract a backup archive into a volume, creating it if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runVolumesRestore(ctx, e, args[0], args[1], out)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Remove every volume no container uses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runVolumesPrune(ctx, e, out)
			})
		},
	})

	return cmd
}

func newVolumesRemoveCmd(withEngine engineRunner) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a named volume",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runVolumesRemove(ctx, e, args[0], force, out)
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Remove the volume even if it is in use")

	return cmd
}

func newVolumesBackupCmd(withEngine engineRunner) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "backup <name>",
		Short: "Archive a volume's contents to a tar file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runVolumesBackup(ctx, e, args[0], dir, out)
			})
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Directory for the archive (default: the configured backup directory)")

	return cmd
}

func runVolumesList(ctx context.Context, client volumesClient, out io.Writer) error {
	volumes, err := client.ListVolumes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list volumes: %w", err)
	}
	if volumes == nil {
		volumes = []domain.VolumeInfo{}
	}
	return cliWriteJSON(out, volumes)
}

func runVolumesRemove(ctx context.Context, client volumesClient, name string, force bool, out io.Writer) error {
	if err := client.RemoveVolume(ctx, name, force); err != nil {
		return fmt.Errorf("failed to remove volume: %w", err)
	}
	return cliWriteJSON(out, statusResponse{ID: name, Status: "removed"})
}

func runVolumesBackup(ctx context.Context, client volumesClient, name, dir string, out io.Writer) error {
	path, err := client.BackupVolume(ctx, name, dir)
	if err != nil {
		return fmt.Errorf("failed to back up volume: %w", err)
	}
	return cliWriteJSON(out, map[string]string{"id": name, "path": path})
}

func runVolumesRestore(ctx context.Context, client volumesClient, name, archivePath string, out io.Writer) error {
	if err := client.RestoreVolume(ctx, name, archivePath); err != nil {
		return fmt.Errorf("failed to restore volume: %w", err)
	}
	return cliWriteJSON(out, statusResponse{ID: name, Status: "restored"})
}

func runVolumesPrune(ctx context.Context, client volumesClient, out io.Writer) error {
	report, err := client.PruneVolumes(ctx)
	if err != nil {
		return fmt.Errorf("failed to prune volumes: %w", err)
	}
	return cliWriteJSON(out, report)
}
