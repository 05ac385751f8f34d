package domain

// Label keys used to recognize managed containers. These labels are the only
// link between a container and the database or compose project it belongs to.
const (
	// Database containers
	LabelApp            = "app"
	LabelDatabaseName   = "database_name"
	LabelDatabaseType   = "database_type"
	LabelDatabaseIcon   = "database_icon"
	LabelMigrated       = "migrated"
	LabelOriginalSource = "original_source"

	// Compose projects
	LabelComposeProject = "com.docker.compose.project"
	LabelComposeService = "com.docker.compose.service"

	// Volumes and networks created by the manager
	LabelManaged = "ddm.managed"
)

// AppLabelValue is the value of LabelApp on every managed database container.
const AppLabelValue = "docker-db-manager"
