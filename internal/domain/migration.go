package domain

import "time"

// MigrationRequest describes a migration of a PostgreSQL database from an
// external server into a managed container.
type MigrationRequest struct {
	Source SourceDatabase `json:"source"`
	// TargetName names the new database container; defaults to the source database.
	TargetName string `json:"target_name"`
	// Password for the destination superuser; defaults to the source password.
	Password string `json:"password"`
}

// MigratedDatabase tracks one completed migration. Records live in memory
// only and are lost on restart.
type MigratedDatabase struct {
	OriginalName  string    `json:"original_name"`
	ContainerID   string    `json:"container_id"`
	ContainerName string    `json:"container_name"`
	Port          int       `json:"port"`
	MigratedAt    time.Time `json:"migrated_at"`
	SizeBytes     int64     `json:"size_bytes"`
}

// MigrationResult is returned by a successful migration.
type MigrationResult struct {
	Record        MigratedDatabase `json:"record"`
	SourceVersion string           `json:"source_version"`
	TableCount    string           `json:"table_count,omitempty"`
	Warnings      []string         `json:"warnings,omitempty"`
}
