// Package cli implements the CLI adapter for the database manager.
// This package provides Cobra commands that delegate to the app layer and
// print one JSON document per successful command.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/bnema/zerowrap"
	"github.com/spf13/cobra"

	"github.com/alemelgarejo/docker-database-manager/internal/app"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// globalOptions are shared by every command.
type globalOptions struct {
	ConfigPath string
	EnvFile    string
}

// engineOpener builds the engine for one command. Replaced in tests.
type engineOpener func(ctx context.Context, opts globalOptions) (context.Context, *app.Engine, func(), error)

// NewRootCmd creates the root command for the ddm CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(openEngine)
}

func newRootCmd(open engineOpener) *cobra.Command {
	var opts globalOptions

	rootCmd := &cobra.Command{
		Use:   "ddm",
		Short: "ddm - database containers on the Docker engine",
		Long: `ddm provisions, monitors and migrates database containers
(PostgreSQL, MySQL, MariaDB, MongoDB, Redis) through the Docker Engine API.

Every command prints a JSON document on success. Errors are written to
stderr and the command exits with status 1.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "Path to a .env file (default ./.env)")

	var withEngine engineRunner = func(cmd *cobra.Command, fn func(ctx context.Context, e *app.Engine, out io.Writer) error) error {
		ctx, engine, cleanup, err := open(cmd.Context(), opts)
		if err != nil {
			return err
		}
		defer cleanup()
		return fn(ctx, engine, cmd.OutOrStdout())
	}

	// Add subcommands
	rootCmd.AddCommand(newDatabaseCmd(withEngine))
	rootCmd.AddCommand(newImagesCmd(withEngine))
	rootCmd.AddCommand(newVolumesCmd(withEngine))
	rootCmd.AddCommand(newMigrateCmd(withEngine))
	rootCmd.AddCommand(newComposeCmd(withEngine))
	rootCmd.AddCommand(newStatsCmd(withEngine))
	rootCmd.AddCommand(newMetricsCmd(withEngine))
	rootCmd.AddCommand(newCheckCmd(withEngine))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// engineRunner runs fn against a freshly opened engine.
type engineRunner func(cmd *cobra.Command, fn func(ctx context.Context, e *app.Engine, out io.Writer) error) error

// openEngine loads the configuration, creates the logger and connects to the
// container engine. The returned context carries the logger.
func openEngine(ctx context.Context, opts globalOptions) (context.Context, *app.Engine, func(), error) {
	cfg, err := app.LoadConfig(opts.ConfigPath, opts.EnvFile)
	if err != nil {
		return ctx, nil, nil, err
	}

	log, closeLog, err := app.InitLogger(cfg)
	if err != nil {
		return ctx, nil, nil, err
	}
	ctx = zerowrap.WithCtx(ctx, log)

	engine, err := app.New(cfg)
	if err != nil {
		closeLog()
		return ctx, nil, nil, err
	}

	cleanup := func() {
		if err := engine.Close(); err != nil {
			log.Debug().Err(err).Msg("failed to close engine")
		}
		closeLog()
	}
	return ctx, engine, cleanup, nil
}

// newVersionCmd creates the version command.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cliWriteJSON(cmd.OutOrStdout(), map[string]string{
				"version":    Version,
				"commit":     Commit,
				"build_date": BuildDate,
			})
		},
	}
}

// newCheckCmd creates the check command.
func newCheckCmd(withEngine engineRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the Docker engine is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runCheck(ctx, e, out)
			})
		},
	}
}

type healthClient interface {
	Check(ctx context.Context) (*app.HealthReport, error)
}

func runCheck(ctx context.Context, client healthClient, out io.Writer) error {
	report, err := client.Check(ctx)
	if err != nil {
		return err
	}
	return cliWriteJSON(out, report)
}

// SetVersionInfo sets the version information for the CLI.
func SetVersionInfo(version, commit, date string) {
	if version != "" {
		Version = version
	}
	if commit != "" {
		Commit = commit
	}
	if date != "" {
		BuildDate = date
	}
}

// Execute runs the root command and returns the process exit status.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		_ = cliWriteLine(stderr, cliRenderError(err))
		return 1
	}
	return 0
}

// Main is the process entry point.
func Main() {
	os.Exit(Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
