// Package postgres implements the source database adapter using pgx.
package postgres

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/jackc/pgx/v5"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

// DefaultConnectTimeout bounds connection establishment to a source server.
const DefaultConnectTimeout = 10 * time.Second

// maintenanceDB is connected to when no database is named, and when the
// named database is the one being dropped.
const maintenanceDB = "postgres"

const listDatabasesQuery = `
SELECT d.datname,
       pg_catalog.pg_get_userbyid(d.datdba),
       CASE WHEN pg_catalog.has_database_privilege(d.datname, 'CONNECT')
            THEN pg_catalog.pg_database_size(d.datname)
            ELSE -1
       END
FROM pg_catalog.pg_database d
WHERE NOT d.datistemplate
ORDER BY d.datname`

// Source implements the SourceDatabase interface. Each call opens and closes
// its own connection.
type Source struct {
	connectTimeout time.Duration
}

// NewSource creates a new source adapter.
func NewSource(connectTimeout time.Duration) *Source {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	return &Source{connectTimeout: connectTimeout}
}

// ServerVersion returns the raw output of SELECT version().
func (s *Source) ServerVersion(ctx context.Context, src domain.SourceDatabase) (string, error) {
	ctx = s.logCtx(ctx, "ServerVersion", src)
	log := zerowrap.FromCtx(ctx)

	conn, err := s.connect(ctx, src, src.Database)
	if err != nil {
		return "", err
	}
	defer conn.Close(context.WithoutCancel(ctx))

	var version string
	if err := conn.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		return "", log.WrapErr(err, "failed to query server version")
	}
	return version, nil
}

// ListDatabases enumerates non-template databases with owner and size. Size
// is -1 for databases the user may not connect to.
func (s *Source) ListDatabases(ctx context.Context, src domain.SourceDatabase) ([]domain.LocalDatabase, error) {
	ctx = s.logCtx(ctx, "ListDatabases", src)
	log := zerowrap.FromCtx(ctx)

	conn, err := s.connect(ctx, src, src.Database)
	if err != nil {
		return nil, err
	}
	defer conn.Close(context.WithoutCancel(ctx))

	rows, err := conn.Query(ctx, listDatabasesQuery)
	if err != nil {
		return nil, log.WrapErr(err, "failed to list databases")
	}
	dbs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[domain.LocalDatabase])
	if err != nil {
		return nil, log.WrapErr(err, "failed to read database list")
	}

	log.Debug().Int("databases", len(dbs)).Msg("databases listed")
	return dbs, nil
}

// DropDatabase drops name on the source server.
func (s *Source) DropDatabase(ctx context.Context, src domain.SourceDatabase, name string) error {
	ctx = zerowrap.CtxWithFields(s.logCtx(ctx, "DropDatabase", src), map[string]any{"database": name})
	log := zerowrap.FromCtx(ctx)

	// A session cannot drop the database it is connected to.
	dbName := src.Database
	if dbName == name {
		dbName = maintenanceDB
	}

	conn, err := s.connect(ctx, src, dbName)
	if err != nil {
		return err
	}
	defer conn.Close(context.WithoutCancel(ctx))

	if _, err := conn.Exec(ctx, dropStatement(name)); err != nil {
		return log.WrapErr(err, "failed to drop database")
	}

	log.Info().Msg("database dropped")
	return nil
}

func (s *Source) connect(ctx context.Context, src domain.SourceDatabase, database string) (*pgx.Conn, error) {
	log := zerowrap.FromCtx(ctx)

	cfg, err := pgx.ParseConfig(connString(src, database))
	if err != nil {
		return nil, &domain.ConfigError{Field: "source", Value: src.Host, Reason: err.Error()}
	}
	cfg.ConnectTimeout = s.connectTimeout

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		target := "postgres at " + net.JoinHostPort(src.Host, strconv.Itoa(src.Port))
		return nil, log.WrapErr(&domain.ConnectivityError{Target: target, Err: err}, "failed to connect to source")
	}
	return conn, nil
}

func (s *Source) logCtx(ctx context.Context, action string, src domain.SourceDatabase) context.Context {
	return zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "postgres",
		zerowrap.FieldAction:  action,
		"host":               src.Host,
		"port":               src.Port,
	})
}

// connString builds a URL connection string. The password travels in the
// userinfo so special characters are escaped.
func connString(src domain.SourceDatabase, database string) string {
	if database == "" {
		database = maintenanceDB
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(src.Host, strconv.Itoa(src.Port)),
		Path:     "/" + database,
		RawQuery: "sslmode=prefer",
	}
	if src.Password != "" {
		u.User = url.UserPassword(src.Username, src.Password)
	} else {
		u.User = url.User(src.Username)
	}
	return u.String()
}

func dropStatement(name string) string {
	return "DROP DATABASE " + pgx.Identifier{name}.Sanitize()
}
