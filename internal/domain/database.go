package domain

import "fmt"

// DatabaseType identifies one of the supported database engines.
type DatabaseType string

const (
	DatabasePostgreSQL DatabaseType = "postgresql"
	DatabaseMySQL      DatabaseType = "mysql"
	DatabaseMariaDB    DatabaseType = "mariadb"
	DatabaseMongoDB    DatabaseType = "mongodb"
	DatabaseRedis      DatabaseType = "redis"
)

// CatalogEntry is the static metadata of one database type.
type CatalogEntry struct {
	Type        DatabaseType `json:"id"`
	DisplayName string       `json:"name"`
	Icon        string       `json:"icon"`
	Image       string       `json:"image"`
	NamePrefix  string       `json:"name_prefix"`
	DefaultPort int          `json:"default_port"`
	DefaultUser string       `json:"default_user"`
	// Versions are ordered newest first.
	Versions []string `json:"versions"`
	// DataDir is where the engine keeps its files inside the container.
	DataDir      string `json:"data_dir"`
	NeedPassword bool   `json:"need_password"`
}

// ImageRef returns the image reference for a version, falling back to the
// newest known version when v is empty.
func (e CatalogEntry) ImageRef(v string) string {
	if v == "" && len(e.Versions) > 0 {
		v = e.Versions[0]
	}
	return fmt.Sprintf("%s:%s", e.Image, v)
}

// ContainerName returns the type-prefixed container name for a database.
func (e CatalogEntry) ContainerName(name string) string {
	return e.NamePrefix + "-" + name
}

// catalog is keyed by type; entries are plain data.
var catalog = map[DatabaseType]CatalogEntry{
	DatabasePostgreSQL: {
		Type:         DatabasePostgreSQL,
		DisplayName:  "PostgreSQL",
		Icon:         "🐘",
		Image:        "postgres",
		NamePrefix:   "postgres",
		DefaultPort:  5432,
		DefaultUser:  "postgres",
		Versions:     []string{"17", "16", "15", "14", "13"},
		DataDir:      "/var/lib/postgresql/data",
		NeedPassword: true,
	},
	DatabaseMySQL: {
		Type:         DatabaseMySQL,
		DisplayName:  "MySQL",
		Icon:         "🐬",
		Image:        "mysql",
		NamePrefix:   "mysql",
		DefaultPort:  3306,
		DefaultUser:  "root",
		Versions:     []string{"8.4", "8.0", "5.7"},
		DataDir:      "/var/lib/mysql",
		NeedPassword: true,
	},
	DatabaseMariaDB: {
		Type:         DatabaseMariaDB,
		DisplayName:  "MariaDB",
		Icon:         "🦭",
		Image:        "mariadb",
		NamePrefix:   "mariadb",
		DefaultPort:  3306,
		DefaultUser:  "root",
		Versions:     []string{"11.4", "10.11", "10.6"},
		DataDir:      "/var/lib/mysql",
		NeedPassword: true,
	},
	DatabaseMongoDB: {
		Type:        DatabaseMongoDB,
		DisplayName: "MongoDB",
		Icon:        "🍃",
		Image:       "mongo",
		NamePrefix:  "mongodb",
		DefaultPort: 27017,
		DefaultUser: "admin",
		Versions:    []string{"8.0", "7.0", "6.0"},
		DataDir:     "/data/db",
	},
	DatabaseRedis: {
		Type:        DatabaseRedis,
		DisplayName: "Redis",
		Icon:        "🔴",
		Image:       "redis",
		NamePrefix:  "redis",
		DefaultPort: 6379,
		Versions:    []string{"7.4", "7.2", "6.2"},
		DataDir:     "/data",
	},
}

// catalogOrder fixes the listing order of DatabaseTypes.
var catalogOrder = []DatabaseType{
	DatabasePostgreSQL,
	DatabaseMySQL,
	DatabaseMariaDB,
	DatabaseMongoDB,
	DatabaseRedis,
}

// LookupDatabaseType returns the catalog entry for t.
func LookupDatabaseType(t DatabaseType) (CatalogEntry, error) {
	entry, ok := catalog[t]
	if !ok {
		return CatalogEntry{}, fmt.Errorf("%w: %q", ErrUnknownDatabaseType, t)
	}
	return entry, nil
}

// DatabaseTypes returns every catalog entry in display order.
func DatabaseTypes() []CatalogEntry {
	entries := make([]CatalogEntry, 0, len(catalogOrder))
	for _, t := range catalogOrder {
		entries = append(entries, catalog[t])
	}
	return entries
}

// DatabaseConfig is the input to provisioning a database container.
type DatabaseConfig struct {
	Name          string            `json:"name" validate:"required,max=63"`
	Username      string            `json:"username"`
	Password      string            `json:"password"`
	Port          int               `json:"port" validate:"required,min=1,max=65535"`
	Version       string            `json:"version"`
	Type          DatabaseType      `json:"type" validate:"required,oneof=postgresql mysql mariadb mongodb redis"`
	MemoryLimit   string            `json:"memory_limit,omitempty"`
	CPULimit      string            `json:"cpu_limit,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	RestartPolicy string            `json:"restart_policy,omitempty" validate:"omitempty,oneof=no always unless-stopped on-failure"`
}

// SourceDatabase holds the coordinates of an external PostgreSQL server.
type SourceDatabase struct {
	Host     string `json:"host" validate:"required"`
	Port     int    `json:"port" validate:"required,min=1,max=65535"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password"`
	Database string `json:"database"`
}

// LocalDatabase is a database found on a source server.
type LocalDatabase struct {
	Name      string `json:"name"`
	Owner     string `json:"owner"`
	SizeBytes int64  `json:"size_bytes"`
}
