package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alemelgarejo/docker-database-manager/internal/app"
	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

type databaseClient interface {
	CreateDatabase(ctx context.Context, cfg domain.DatabaseConfig) (*domain.Container, error)
	ListDatabases(ctx context.Context) ([]*domain.Container, error)
	StartDatabase(ctx context.Context, containerID string) error
	StopDatabase(ctx context.Context, containerID string) error
	RestartDatabase(ctx context.Context, containerID string) error
	RemoveDatabase(ctx context.Context, containerID string, removeVolumes bool) error
	UpdatePort(ctx context.Context, containerID string, newPort int) (*domain.Container, error)
	Logs(ctx context.Context, containerID string, tail int) ([]domain.LogEntry, error)
	ExecSQL(ctx context.Context, containerID, database, username, sql string) (string, error)
	Backup(ctx context.Context, containerID, database, username string) (string, error)
}

var lifecycleStatus = map[string]string{
	"start":   "started",
	"stop":    "stopped",
	"restart": "restarted",
}

type databaseCreateOptions struct {
	Type          string
	Name          string
	Username      string
	Password      string
	Port          int
	Version       string
	Memory        string
	CPU           string
	Env           []string
	RestartPolicy string
}

type sqlOptions struct {
	Database string
	Username string
}

func newDatabaseCmd(withEngine engineRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "database",
		Aliases: []string{"db"},
		Short:   "Create and manage database containers",
	}

	cmd.AddCommand(newDatabaseCreateCmd(withEngine))
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List managed database containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runDatabaseList(ctx, e, out)
			})
		},
	})
	for _, action := range []string{"start", "stop", "restart"} {
		cmd.AddCommand(newDatabaseLifecycleCmd(withEngine, action))
	}
	cmd.AddCommand(newDatabaseRemoveCmd(withEngine))
	cmd.AddCommand(&cobra.Command{
		Use:   "port <container> <port>",
		Short: "Recreate a container with a new host port",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runDatabasePort(ctx, e, args[0], args[1], out)
			})
		},
	})
	cmd.AddCommand(newDatabaseLogsCmd(withEngine))
	cmd.AddCommand(newDatabaseExecCmd(withEngine))
	cmd.AddCommand(newDatabaseBackupCmd(withEngine))
	cmd.AddCommand(&cobra.Command{
		Use:   "types",
		Short: "List supported database types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// The catalog needs no engine connection.
			return cliWriteJSON(cmd.OutOrStdout(), domain.DatabaseTypes())
		},
	})

	return cmd
}

func newDatabaseCreateCmd(withEngine engineRunner) *cobra.Command {
	var opts databaseCreateOptions

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create and start a database container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runDatabaseCreate(ctx, e, opts, out)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Type, "type", "t", string(domain.DatabasePostgreSQL), "Database type (postgresql, mysql, mariadb, mongodb, redis)")
	cmd.Flags().StringVarP(&opts.Name, "name", "n", "", "Database name")
	cmd.Flags().StringVarP(&opts.Username, "user", "u", "", "Database user (default: the type's default user)")
	cmd.Flags().StringVarP(&opts.Password, "password", "p", "", "Database password")
	cmd.Flags().IntVar(&opts.Port, "port", 0, "Host port (default: the type's default port)")
	cmd.Flags().StringVar(&opts.Version, "version", "", "Image version (default: newest supported)")
	cmd.Flags().StringVar(&opts.Memory, "memory", "", "Memory limit, e.g. 512m or 2g")
	cmd.Flags().StringVar(&opts.CPU, "cpus", "", "CPU limit, e.g. 0.5")
	cmd.Flags().StringArrayVarP(&opts.Env, "env", "e", nil, "Extra environment variable KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&opts.RestartPolicy, "restart", "unless-stopped", "Restart policy (no, always, unless-stopped, on-failure)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newDatabaseLifecycleCmd(withEngine engineRunner, action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <container>",
		Short: strings.ToUpper(action[:1]) + action[1:] + " a database container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runDatabaseLifecycle(ctx, e, action, args[0], out)
			})
		},
	}
}

func newDatabaseRemoveCmd(withEngine engineRunner) *cobra.Command {
	var removeVolumes bool

	cmd := &cobra.Command{
		Use:     "remove <container>",
		Aliases: []string{"rm"},
		Short:   "Stop and remove a database container",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runDatabaseRemove(ctx, e, args[0], removeVolumes, out)
			})
		},
	}

	cmd.Flags().BoolVar(&removeVolumes, "volumes", false, "Also remove the container's named volumes")

	return cmd
}

func newDatabaseLogsCmd(withEngine engineRunner) *cobra.Command {
	var tail int

	cmd := &cobra.Command{
		Use:   "logs <container>",
		Short: "Show the last lines of container output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runDatabaseLogs(ctx, e, args[0], tail, out)
			})
		},
	}

	cmd.Flags().IntVar(&tail, "tail", 100, "Number of lines to show")

	return cmd
}

func newDatabaseExecCmd(withEngine engineRunner) *cobra.Command {
	var opts sqlOptions

	cmd := &cobra.Command{
		Use:   "exec <container> <sql>",
		Short: "Run a statement with the database's command line client",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runDatabaseExec(ctx, e, args[0], opts, args[1], out)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Database, "database", "d", "", "Database to connect to")
	cmd.Flags().StringVarP(&opts.Username, "user", "u", "", "User to connect as")

	return cmd
}

func newDatabaseBackupCmd(withEngine engineRunner) *cobra.Command {
	var opts sqlOptions

	cmd := &cobra.Command{
		Use:   "backup <container>",
		Short: "Dump a PostgreSQL database to a file inside its container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine, out io.Writer) error {
				return runDatabaseBackup(ctx, e, args[0], opts, out)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Database, "database", "d", "", "Database to dump")
	cmd.Flags().StringVarP(&opts.Username, "user", "u", "", "User to connect as")

	return cmd
}

func runDatabaseCreate(ctx context.Context, client databaseClient, opts databaseCreateOptions, out io.Writer) error {
	cfg, err := opts.config()
	if err != nil {
		return err
	}

	ctr, err := client.CreateDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	return cliWriteJSON(out, ctr)
}

// config fills the catalog defaults the user left out.
func (o databaseCreateOptions) config() (domain.DatabaseConfig, error) {
	entry, err := domain.LookupDatabaseType(domain.DatabaseType(o.Type))
	if err != nil {
		return domain.DatabaseConfig{}, err
	}

	env, err := parseEnvPairs(o.Env)
	if err != nil {
		return domain.DatabaseConfig{}, err
	}

	cfg := domain.DatabaseConfig{
		Name:          o.Name,
		Username:      o.Username,
		Password:      o.Password,
		Port:          o.Port,
		Version:       o.Version,
		Type:          entry.Type,
		MemoryLimit:   o.Memory,
		CPULimit:      o.CPU,
		Env:           env,
		RestartPolicy: o.RestartPolicy,
	}
	if cfg.Username == "" {
		cfg.Username = entry.DefaultUser
	}
	if cfg.Port == 0 {
		cfg.Port = entry.DefaultPort
	}
	if cfg.Version == "" && len(entry.Versions) > 0 {
		cfg.Version = entry.Versions[0]
	}
	return cfg, nil
}

func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, &domain.ConfigError{Field: "env", Value: pair, Reason: "expected KEY=VALUE"}
		}
		env[key] = value
	}
	return env, nil
}

func runDatabaseList(ctx context.Context, client databaseClient, out io.Writer) error {
	containers, err := client.ListDatabases(ctx)
	if err != nil {
		return fmt.Errorf("failed to list databases: %w", err)
	}
	if containers == nil {
		containers = []*domain.Container{}
	}
	return cliWriteJSON(out, containers)
}

func runDatabaseLifecycle(ctx context.Context, client databaseClient, action, containerID string, out io.Writer) error {
	var err error
	switch action {
	case "start":
		err = client.StartDatabase(ctx, containerID)
	case "stop":
		err = client.StopDatabase(ctx, containerID)
	case "restart":
		err = client.RestartDatabase(ctx, containerID)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	if err != nil {
		return fmt.Errorf("failed to %s database: %w", action, err)
	}
	return cliWriteJSON(out, statusResponse{ID: containerID, Status: lifecycleStatus[action]})
}

func runDatabaseRemove(ctx context.Context, client databaseClient, containerID string, removeVolumes bool, out io.Writer) error {
	if err := client.RemoveDatabase(ctx, containerID, removeVolumes); err != nil {
		return fmt.Errorf("failed to remove database: %w", err)
	}
	return cliWriteJSON(out, statusResponse{ID: containerID, Status: "removed"})
}

func runDatabasePort(ctx context.Context, client databaseClient, containerID, port string, out io.Writer) error {
	newPort, err := strconv.Atoi(port)
	if err != nil {
		return &domain.ConfigError{Field: "port", Value: port, Reason: "must be a number"}
	}

	ctr, err := client.UpdatePort(ctx, containerID, newPort)
	if err != nil {
		return fmt.Errorf("failed to update port: %w", err)
	}
	return cliWriteJSON(out, ctr)
}

func runDatabaseLogs(ctx context.Context, client databaseClient, containerID string, tail int, out io.Writer) error {
	entries, err := client.Logs(ctx, containerID, tail)
	if err != nil {
		return fmt.Errorf("failed to read logs: %w", err)
	}
	if entries == nil {
		entries = []domain.LogEntry{}
	}
	return cliWriteJSON(out, entries)
}

func runDatabaseExec(ctx context.Context, client databaseClient, containerID string, opts sqlOptions, sql string, out io.Writer) error {
	output, err := client.ExecSQL(ctx, containerID, opts.Database, opts.Username, sql)
	if err != nil {
		return fmt.Errorf("failed to execute statement: %w", err)
	}
	return cliWriteJSON(out, map[string]string{"id": containerID, "output": output})
}

func runDatabaseBackup(ctx context.Context, client databaseClient, containerID string, opts sqlOptions, out io.Writer) error {
	path, err := client.Backup(ctx, containerID, opts.Database, opts.Username)
	if err != nil {
		return fmt.Errorf("failed to back up database: %w", err)
	}
	return cliWriteJSON(out, map[string]string{"id": containerID, "path": path})
}
