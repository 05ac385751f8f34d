package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/alemelgarejo/docker-database-manager/internal/app"
	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

type imagesClient interface {
	ListImages(ctx context.Context) ([]domain.ImageInfo, error)
	EnsureImage(ctx context.Context, image string) error
	PullImage(ctx context.Context, image string) error
	RemoveImage(ctx context.Context, image string, force bool) error
}

func newImagesCmd(withEngine engineRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "List, pull and remove images",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List local images, one entry per tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runImagesList(ctx, e, out)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "pull <image>",
		Short: "Pull an image even when a local copy exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runImagesPull(ctx, e, args[0], false, out)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "ensure <image>",
		Short: "Pull an image only when it is not present locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runImagesPull(ctx, e, args[0], true, out)
			})
		},
	})
	cmd.AddCommand(newImagesRemoveCmd(withEngine))

	return cmd
}

func newImagesRemoveCmd(withEngine engineRunner) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "remove <image>",
		Aliases: []string{"rm"},
		Short:   "Remove a local image",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runImagesRemove(ctx, e, args[0], force, out)
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Remove the image even if containers use it")

	return cmd
}

func runImagesList(ctx context.Context, client imagesClient, out io.Writer) error {
	images, err := client.ListImages(ctx)
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	if images == nil {
		images = []domain.ImageInfo{}
	}
	return cliWriteJSON(out, images)
}

func runImagesPull(ctx context.Context, client imagesClient, image string, onlyIfMissing bool, out io.Writer) error {
	var err error
	if onlyIfMissing {
		err = client.EnsureImage(ctx, image)
	} else {
		err = client.PullImage(ctx, image)
	}
	if err != nil {
		return err
	}
	return cliWriteJSON(out, map[string]string{"image": image, "status": "present"})
}

func runImagesRemove(ctx context.Context, client imagesClient, image string, force bool, out io.Writer) error {
	if err := client.RemoveImage(ctx, image, force); err != nil {
		return fmt.Errorf("failed to remove image: %w", err)
	}
	return cliWriteJSON(out, map[string]string{"image": image, "status": "removed"})
}
