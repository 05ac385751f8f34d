package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/alemelgarejo/docker-database-manager/internal/app"
	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

type migrationClient interface {
	Migrate(ctx context.Context, req domain.MigrationRequest) (*domain.MigrationResult, error)
	ListSourceDatabases(ctx context.Context, src domain.SourceDatabase) ([]domain.LocalDatabase, error)
	DropSourceDatabase(ctx context.Context, src domain.SourceDatabase, name string) error
	ListMigrated(ctx context.Context) []domain.MigratedDatabase
	RemoveMigrated(ctx context.Context, containerID string) error
}

type migrateRunOptions struct {
	TargetName string
	Password   string
}

func newMigrateCmd(withEngine engineRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Move PostgreSQL databases into managed containers",
		Long: `Copy a database from an external PostgreSQL server into a new managed
container. pg_dump and psql run inside helper containers, so the host needs
no client tools.

The source password defaults to $PGPASSWORD.`,
	}

	cmd.AddCommand(newMigrateRunCmd(withEngine))
	cmd.AddCommand(newMigrateSourcesCmd(withEngine))
	cmd.AddCommand(newMigrateDropCmd(withEngine))
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List databases migrated by this process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runMigrateList(ctx, e, out)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "remove <container>",
		Aliases: []string{"rm"},
		Short:   "Remove a migrated database container and its volumes",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runMigrateRemove(ctx, e, args[0], out)
			})
		},
	})

	return cmd
}

func newMigrateRunCmd(withEngine engineRunner) *cobra.Command {
	var (
		src  domain.SourceDatabase
		opts migrateRunOptions
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Migrate one database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runMigrate(ctx, e, withSourcePassword(src), opts, out)
			})
		},
	}

	addSourceFlags(cmd.Flags(), &src)
	cmd.Flags().StringVar(&opts.TargetName, "target", "", "Name of the new database container (default: the source database)")
	cmd.Flags().StringVar(&opts.Password, "target-password", "", "Superuser password of the new container (default: the source password)")
	_ = cmd.MarkFlagRequired("database")

	return cmd
}

func newMigrateSourcesCmd(withEngine engineRunner) *cobra.Command {
	var src domain.SourceDatabase

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List the databases of a source server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runMigrateSources(ctx, e, withSourcePassword(src), out)
			})
		},
	}

	addSourceFlags(cmd.Flags(), &src)

	return cmd
}

func newMigrateDropCmd(withEngine engineRunner) *cobra.Command {
	var src domain.SourceDatabase

	cmd := &cobra.Command{
		Use:   "drop <name>",
		Short: "Drop a database on the source server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runMigrateDrop(ctx, e, withSourcePassword(src), args[0], out)
			})
		},
	}

	addSourceFlags(cmd.Flags(), &src)

	return cmd
}

func addSourceFlags(fs *pflag.FlagSet, src *domain.SourceDatabase) {
	fs.StringVar(&src.Host, "host", "localhost", "Source server host")
	fs.IntVar(&src.Port, "port", 5432, "Source server port")
	fs.StringVarP(&src.Username, "user", "u", "postgres", "Source server user")
	fs.StringVarP(&src.Password, "password", "p", "", "Source server password")
	fs.StringVarP(&src.Database, "database", "d", "", "Source database")
}

func withSourcePassword(src domain.SourceDatabase) domain.SourceDatabase {
	if src.Password == "" {
		src.Password = os.Getenv("PGPASSWORD")
	}
	return src
}

func runMigrate(ctx context.Context, client migrationClient, src domain.SourceDatabase, opts migrateRunOptions, out io.Writer) error {
	result, err := client.Migrate(ctx, domain.MigrationRequest{
		Source:     src,
		TargetName: opts.TargetName,
		Password:   opts.Password,
	})
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return cliWriteJSON(out, result)
}

func runMigrateSources(ctx context.Context, client migrationClient, src domain.SourceDatabase, out io.Writer) error {
	dbs, err := client.ListSourceDatabases(ctx, src)
	if err != nil {
		return fmt.Errorf("failed to list source databases: %w", err)
	}
	if dbs == nil {
		dbs = []domain.LocalDatabase{}
	}
	return cliWriteJSON(out, dbs)
}

func runMigrateDrop(ctx context.Context, client migrationClient, src domain.SourceDatabase, name string, out io.Writer) error {
	if err := client.DropSourceDatabase(ctx, src, name); err != nil {
		return fmt.Errorf("failed to drop source database: %w", err)
	}
	return cliWriteJSON(out, statusResponse{ID: name, Status: "dropped"})
}

func runMigrateList(ctx context.Context, client migrationClient, out io.Writer) error {
	records := client.ListMigrated(ctx)
	if records == nil {
		records = []domain.MigratedDatabase{}
	}
	return cliWriteJSON(out, records)
}

func runMigrateRemove(ctx context.Context, client migrationClient, containerID string, out io.Writer) error {
	if err := client.RemoveMigrated(ctx, containerID); err != nil {
		return fmt.Errorf("failed to remove migrated database: %w", err)
	}
	return cliWriteJSON(out, statusResponse{ID: containerID, Status: "removed"})
}
