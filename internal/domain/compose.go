package domain

// ComposeConfig is a parsed compose manifest.
type ComposeConfig struct {
	Version  string                    `yaml:"version,omitempty" json:"version,omitempty"`
	Services map[string]ComposeService `yaml:"services" json:"services"`
	Volumes  map[string]ComposeVolume  `yaml:"volumes,omitempty" json:"volumes,omitempty"`
	Networks map[string]ComposeNetwork `yaml:"networks,omitempty" json:"networks,omitempty"`
}

// ComposeService is one service of a manifest.
type ComposeService struct {
	Image         string            `yaml:"image" json:"image"`
	ContainerName string            `yaml:"container_name,omitempty" json:"container_name,omitempty"`
	Ports         []string          `yaml:"ports,omitempty" json:"ports,omitempty"`
	Environment   map[string]string `yaml:"environment,omitempty" json:"environment,omitempty"`
	Volumes       []string          `yaml:"volumes,omitempty" json:"volumes,omitempty"`
	Networks      []string          `yaml:"networks,omitempty" json:"networks,omitempty"`
	Restart       string            `yaml:"restart,omitempty" json:"restart,omitempty"`
	DependsOn     []string          `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Command       []string          `yaml:"command,omitempty" json:"command,omitempty"`
}

// ComposeVolume is a named volume declaration. External volumes already
// exist and keep their name.
type ComposeVolume struct {
	Driver   string `yaml:"driver,omitempty" json:"driver,omitempty"`
	External bool   `yaml:"external,omitempty" json:"external,omitempty"`
}

// ComposeNetwork is a named network declaration.
type ComposeNetwork struct {
	Driver string `yaml:"driver,omitempty" json:"driver,omitempty"`
}

// ComposeProject groups containers sharing a project label. It is computed
// from the live container set on every query.
type ComposeProject struct {
	Name       string       `json:"name"`
	Services   []string     `json:"services"`
	Containers []*Container `json:"containers"`
	Running    int          `json:"running"`
}

// ProjectResourceName namespaces a volume or network name with the project.
func ProjectResourceName(project, name string) string {
	return project + "_" + name
}
