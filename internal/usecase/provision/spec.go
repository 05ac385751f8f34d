package provision

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
	"github.com/alemelgarejo/docker-database-manager/pkg/bytesize"
)

var restartPolicies = map[string]bool{
	"no":             true,
	"always":         true,
	"unless-stopped": true,
	"on-failure":     true,
}

// DataVolumeName is the named volume holding a container's data directory.
func DataVolumeName(containerName string) string {
	return containerName + "-data"
}

// BuildSpec turns a database configuration into a container specification.
// It performs no I/O and returns the same spec for the same input.
//
// A CPU limit that is not a number is ignored; callers that want to report
// it can compare cfg.CPULimit with a nil NanoCPUs.
func BuildSpec(cfg domain.DatabaseConfig, entry domain.CatalogEntry) (*domain.ContainerSpec, error) {
	name := entry.ContainerName(cfg.Name)
	username := cfg.Username
	if username == "" {
		username = entry.DefaultUser
	}

	spec := &domain.ContainerSpec{
		Name:  name,
		Image: entry.ImageRef(cfg.Version),
		Ports: []domain.PortMapping{domain.TCPPort(entry.DefaultPort, cfg.Port)},
		Binds: []string{DataVolumeName(name) + ":" + entry.DataDir},
		Labels: map[string]string{
			domain.LabelApp:          domain.AppLabelValue,
			domain.LabelDatabaseName: cfg.Name,
			domain.LabelDatabaseType: string(entry.Type),
			domain.LabelDatabaseIcon: entry.Icon,
		},
	}

	switch entry.Type {
	case domain.DatabasePostgreSQL:
		spec.Env = []string{
			"POSTGRES_USER=" + username,
			"POSTGRES_PASSWORD=" + cfg.Password,
			"POSTGRES_DB=" + cfg.Name,
		}
	case domain.DatabaseMySQL:
		spec.Env = mysqlEnv("MYSQL", cfg.Name, username, cfg.Password)
	case domain.DatabaseMariaDB:
		spec.Env = mysqlEnv("MARIADB", cfg.Name, username, cfg.Password)
	case domain.DatabaseMongoDB:
		if cfg.Username != "" && cfg.Password != "" {
			spec.Env = []string{
				"MONGO_INITDB_ROOT_USERNAME=" + cfg.Username,
				"MONGO_INITDB_ROOT_PASSWORD=" + cfg.Password,
				"MONGO_INITDB_DATABASE=" + cfg.Name,
			}
		}
	case domain.DatabaseRedis:
		if cfg.Password != "" {
			spec.Cmd = []string{"redis-server", "--requirepass", cfg.Password}
		}
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownDatabaseType, entry.Type)
	}

	spec.Env = append(spec.Env, sortedEnv(cfg.Env)...)

	if cfg.MemoryLimit != "" {
		mem, err := bytesize.ParseMemory(cfg.MemoryLimit)
		if err != nil {
			return nil, &domain.ConfigError{Field: "memory limit", Value: cfg.MemoryLimit, Reason: err.Error()}
		}
		spec.MemoryBytes = &mem
	}

	if cfg.CPULimit != "" {
		if nano, ok := bytesize.ParseCPU(cfg.CPULimit); ok {
			spec.NanoCPUs = &nano
		}
	}

	if cfg.RestartPolicy != "" {
		if !restartPolicies[cfg.RestartPolicy] {
			return nil, &domain.ConfigError{
				Field:  "restart policy",
				Value:  cfg.RestartPolicy,
				Reason: "must be one of no, always, unless-stopped, on-failure",
			}
		}
		spec.RestartPolicy = cfg.RestartPolicy
	}

	return spec, nil
}

// mysqlEnv builds the environment shared by the MySQL and MariaDB images.
// The images reject <P>_USER=root, so the user pair is omitted for root.
func mysqlEnv(prefix, database, username, password string) []string {
	env := []string{
		prefix + "_ROOT_PASSWORD=" + password,
		prefix + "_DATABASE=" + database,
	}
	if username != "" && username != "root" {
		env = append(env,
			prefix+"_USER="+username,
			prefix+"_PASSWORD="+password,
		)
	}
	return env
}

func sortedEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// envValue looks up key in a KEY=VALUE list.
func envValue(env []string, key string) string {
	prefix := key + "="
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			return strings.TrimPrefix(e, prefix)
		}
	}
	return ""
}
