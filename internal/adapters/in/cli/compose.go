package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alemelgarejo/docker-database-manager/internal/app"
	"github.com/alemelgarejo/docker-database-manager/internal/domain"
	"github.com/alemelgarejo/docker-database-manager/internal/usecase/compose"
)

type composeClient interface {
	GenerateCompose(ctx context.Context, containerIDs []string) (string, error)
	DeployCompose(ctx context.Context, content, project string) ([]string, error)
	ListProjects(ctx context.Context) ([]domain.ComposeProject, error)
	StopProject(ctx context.Context, project string) error
	RemoveProject(ctx context.Context, project string, removeVolumes bool) error
}

var parseManifest = compose.Parse

// readManifest reads a compose file, or stdin when path is "-".
var readManifest = func(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read compose file: %w", err)
	}
	return string(data), nil
}

func newComposeCmd(withEngine engineRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Parse, generate and deploy compose manifests",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "parse <file>",
		Short: "Validate a compose file and print its model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComposeParse(args[0], cmd.OutOrStdout())
		},
	})
	cmd.AddCommand(newComposeGenerateCmd(withEngine))
	cmd.AddCommand(newComposeDeployCmd(withEngine))
	cmd.AddCommand(&cobra.Command{
		Use:   "projects",
		Short: "List compose projects with their containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runComposeProjects(ctx, e, out)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop <project>",
		Short: "Stop every running container of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runComposeStop(ctx, e, args[0], out)
			})
		},
	})
	cmd.AddCommand(newComposeRemoveCmd(withEngine))

	return cmd
}

func newComposeGenerateCmd(withEngine engineRunner) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "generate <container>...",
		Short: "Generate a compose manifest from existing containers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runComposeGenerate(ctx, e, args, output, out)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Also write the manifest to this file")

	return cmd
}

func newComposeDeployCmd(withEngine engineRunner) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "deploy <file>",
		Short: "Create and start every service of a compose file",
		Long: `Create the project's volumes and networks, then create and start the
services in dependency order. A failure stops the deployment; services
already started are left running. Use "-" to read the manifest from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runComposeDeploy(ctx, e, args[0], project, out)
			})
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Project name (default: the file's directory name)")

	return cmd
}

func newComposeRemoveCmd(withEngine engineRunner) *cobra.Command {
	var removeVolumes bool

	cmd := &cobra.Command{
		Use:     "remove <project>",
		Aliases: []string{"rm", "down"},
		Short:   "Remove every container of a project",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runComposeRemove(ctx, e, args[0], removeVolumes, out)
			})
		},
	}

	cmd.Flags().BoolVar(&removeVolumes, "volumes", false, "Also remove the project's volumes and networks")

	return cmd
}

func runComposeParse(path string, out io.Writer) error {
	content, err := readManifest(path)
	if err != nil {
		return err
	}
	// Parsing needs no engine connection.
	cfg, err := parseManifest(content)
	if err != nil {
		return err
	}
	return cliWriteJSON(out, cfg)
}

func runComposeGenerate(ctx context.Context, client composeClient, containerIDs []string, output string, out io.Writer) error {
	manifest, err := client.GenerateCompose(ctx, containerIDs)
	if err != nil {
		return fmt.Errorf("failed to generate compose file: %w", err)
	}
	if output != "" {
		if err := os.WriteFile(output, []byte(manifest), 0o644); err != nil {
			return fmt.Errorf("failed to write compose file: %w", err)
		}
	}
	return cliWriteJSON(out, map[string]string{"compose": manifest, "path": output})
}

func runComposeDeploy(ctx context.Context, client composeClient, path, project string, out io.Writer) error {
	content, err := readManifest(path)
	if err != nil {
		return err
	}
	if project == "" {
		project = defaultProjectName(path)
	}

	ids, err := client.DeployCompose(ctx, content, project)
	if err != nil {
		return fmt.Errorf("failed to deploy project %s: %w", project, err)
	}
	return cliWriteJSON(out, map[string]any{"project": project, "containers": ids})
}

// defaultProjectName derives a project name from the manifest's directory,
// lower-cased like compose does.
func defaultProjectName(path string) string {
	if path == "-" {
		return "default"
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "default"
	}
	name := strings.ToLower(filepath.Base(filepath.Dir(abs)))
	if name == "" || name == "/" || name == "." {
		return "default"
	}
	return name
}

func runComposeProjects(ctx context.Context, client composeClient, out io.Writer) error {
	projects, err := client.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}
	if projects == nil {
		projects = []domain.ComposeProject{}
	}
	return cliWriteJSON(out, projects)
}

func runComposeStop(ctx context.Context, client composeClient, project string, out io.Writer) error {
	if err := client.StopProject(ctx, project); err != nil {
		return fmt.Errorf("failed to stop project: %w", err)
	}
	return cliWriteJSON(out, statusResponse{ID: project, Status: "stopped"})
}

func runComposeRemove(ctx context.Context, client composeClient, project string, removeVolumes bool, out io.Writer) error {
	if err := client.RemoveProject(ctx, project, removeVolumes); err != nil {
		return fmt.Errorf("failed to remove project: %w", err)
	}
	return cliWriteJSON(out, statusResponse{ID: project, Status: "removed"})
}
