package provision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

func catalogEntry(t *testing.T, dbType domain.DatabaseType) domain.CatalogEntry {
	t.Helper()
	entry, err := domain.LookupDatabaseType(dbType)
	require.NoError(t, err)
	return entry
}

func TestBuildSpec_PerType(t *testing.T) {
	tests := []struct {
		name      string
		cfg       domain.DatabaseConfig
		wantName  string
		wantImage string
		wantPort  int
		wantEnv   []string
		wantCmd   []string
	}{
		{
			name:      "postgresql",
			cfg:       domain.DatabaseConfig{Name: "shop", Username: "app", Password: "secret", Port: 5440, Version: "16", Type: domain.DatabasePostgreSQL},
			wantName:  "postgres-shop",
			wantImage: "postgres:16",
			wantPort:  5432,
			wantEnv:   []string{"POSTGRES_USER=app", "POSTGRES_PASSWORD=secret", "POSTGRES_DB=shop"},
		},
		{
			name:      "mysql with user",
			cfg:       domain.DatabaseConfig{Name: "blog", Username: "app", Password: "pw", Port: 3307, Version: "8.0", Type: domain.DatabaseMySQL},
			wantName:  "mysql-blog",
			wantImage: "mysql:8.0",
			wantPort:  3306,
			wantEnv:   []string{"MYSQL_ROOT_PASSWORD=pw", "MYSQL_DATABASE=blog", "MYSQL_USER=app", "MYSQL_PASSWORD=pw"},
		},
		{
			name:      "mariadb as root omits user",
			cfg:       domain.DatabaseConfig{Name: "wiki", Username: "root", Password: "pw", Port: 3308, Type: domain.DatabaseMariaDB},
			wantName:  "mariadb-wiki",
			wantImage: "mariadb:11.4",
			wantPort:  3306,
			wantEnv:   []string{"MARIADB_ROOT_PASSWORD=pw", "MARIADB_DATABASE=wiki"},
		},
		{
			name:      "mongodb with credentials",
			cfg:       domain.DatabaseConfig{Name: "events", Username: "admin", Password: "pw", Port: 27018, Version: "7.0", Type: domain.DatabaseMongoDB},
			wantName:  "mongodb-events",
			wantImage: "mongo:7.0",
			wantPort:  27017,
			wantEnv:   []string{"MONGO_INITDB_ROOT_USERNAME=admin", "MONGO_INITDB_ROOT_PASSWORD=pw", "MONGO_INITDB_DATABASE=events"},
		},
		{
			name:      "mongodb without password has no env",
			cfg:       domain.DatabaseConfig{Name: "events", Username: "admin", Port: 27018, Type: domain.DatabaseMongoDB},
			wantName:  "mongodb-events",
			wantImage: "mongo:8.0",
			wantPort:  27017,
		},
		{
			name:      "redis with password",
			cfg:       domain.DatabaseConfig{Name: "cache", Password: "pw", Port: 6380, Version: "7.2", Type: domain.DatabaseRedis},
			wantName:  "redis-cache",
			wantImage: "redis:7.2",
			wantPort:  6379,
			wantCmd:   []string{"redis-server", "--requirepass", "pw"},
		},
		{
			name:      "redis without password",
			cfg:       domain.DatabaseConfig{Name: "cache", Port: 6380, Type: domain.DatabaseRedis},
			wantName:  "redis-cache",
			wantImage: "redis:7.4",
			wantPort:  6379,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := BuildSpec(tt.cfg, catalogEntry(t, tt.cfg.Type))
			require.NoError(t, err)

			assert.Equal(t, tt.wantName, spec.Name)
			assert.Equal(t, tt.wantImage, spec.Image)
			assert.Equal(t, []domain.PortMapping{{ContainerPort: tt.wantPort, HostPort: tt.cfg.Port}}, spec.Ports)
			assert.Equal(t, tt.wantEnv, spec.Env)
			assert.Equal(t, tt.wantCmd, spec.Cmd)
			assert.Equal(t, domain.AppLabelValue, spec.Labels[domain.LabelApp])
			assert.Equal(t, tt.cfg.Name, spec.Labels[domain.LabelDatabaseName])
			assert.Equal(t, string(tt.cfg.Type), spec.Labels[domain.LabelDatabaseType])
			assert.NotEmpty(t, spec.Labels[domain.LabelDatabaseIcon])
			require.Len(t, spec.Binds, 1)
			assert.Contains(t, spec.Binds[0], tt.wantName+"-data:")
		})
	}
}

func TestBuildSpec_ExtraEnvSortedAfterTypeEnv(t *testing.T) {
	cfg := domain.DatabaseConfig{
		Name: "shop", Username: "app", Password: "pw", Port: 5440, Type: domain.DatabasePostgreSQL,
		Env: map[string]string{"TZ": "UTC", "PGDATA": "/data", "LANG": "C"},
	}

	spec, err := BuildSpec(cfg, catalogEntry(t, cfg.Type))

	require.NoError(t, err)
	assert.Equal(t, []string{
		"POSTGRES_USER=app", "POSTGRES_PASSWORD=pw", "POSTGRES_DB=shop",
		"LANG=C", "PGDATA=/data", "TZ=UTC",
	}, spec.Env)
}

func TestBuildSpec_Deterministic(t *testing.T) {
	cfg := domain.DatabaseConfig{
		Name: "shop", Password: "pw", Port: 5440, Type: domain.DatabasePostgreSQL,
		Env: map[string]string{"B": "2", "A": "1", "C": "3"}, MemoryLimit: "512m", CPULimit: "1.5",
	}
	entry := catalogEntry(t, cfg.Type)

	first, err := BuildSpec(cfg, entry)
	require.NoError(t, err)
	second, err := BuildSpec(cfg, entry)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBuildSpec_Resources(t *testing.T) {
	tests := []struct {
		name    string
		memory  string
		cpu     string
		wantMem *int64
		wantCPU *int64
		wantErr bool
	}{
		{name: "memory megabytes", memory: "256m", wantMem: ptr(int64(268435456))},
		{name: "memory gigabytes", memory: "2g", wantMem: ptr(int64(2147483648))},
		{name: "memory bare bytes", memory: "1024", wantMem: ptr(int64(1024))},
		{name: "memory long suffix", memory: "2gb", wantMem: ptr(int64(2147483648))},
		{name: "memory invalid", memory: "invalid", wantErr: true},
		{name: "cpu fractional", cpu: "0.5", wantCPU: ptr(int64(500000000))},
		{name: "cpu non-numeric omitted", cpu: "half"},
		{name: "no limits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DatabaseConfig{
				Name: "db", Password: "pw", Port: 5440, Type: domain.DatabasePostgreSQL,
				MemoryLimit: tt.memory, CPULimit: tt.cpu,
			}

			spec, err := BuildSpec(cfg, catalogEntry(t, cfg.Type))

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrValidation)
				var cfgErr *domain.ConfigError
				require.ErrorAs(t, err, &cfgErr)
				assert.Equal(t, "memory limit", cfgErr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMem, spec.MemoryBytes)
			assert.Equal(t, tt.wantCPU, spec.NanoCPUs)
		})
	}
}

func TestBuildSpec_RestartPolicy(t *testing.T) {
	base := domain.DatabaseConfig{Name: "db", Password: "pw", Port: 5440, Type: domain.DatabasePostgreSQL}
	entry := catalogEntry(t, base.Type)

	for _, policy := range []string{"no", "always", "unless-stopped", "on-failure"} {
		cfg := base
		cfg.RestartPolicy = policy
		spec, err := BuildSpec(cfg, entry)
		require.NoError(t, err, policy)
		assert.Equal(t, policy, spec.RestartPolicy)
	}

	cfg := base
	cfg.RestartPolicy = "sometimes"
	_, err := BuildSpec(cfg, entry)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func ptr[T any](v T) *T { return &v }
