package compose

import (
	"fmt"
	"sort"
	"strings"

	"github.com/docker/go-connections/nat"
	"gopkg.in/yaml.v3"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
	"github.com/alemelgarejo/docker-database-manager/pkg/validation"
)

var restartPolicies = map[string]bool{
	"":               true,
	"no":             true,
	"always":         true,
	"unless-stopped": true,
	"on-failure":     true,
}

// rawService accepts the alternative forms compose allows for environment,
// networks, depends_on and command.
type rawService struct {
	Image         string    `yaml:"image"`
	ContainerName string    `yaml:"container_name"`
	Ports         []string  `yaml:"ports"`
	Environment   yaml.Node `yaml:"environment"`
	Volumes       []string  `yaml:"volumes"`
	Networks      yaml.Node `yaml:"networks"`
	Restart       string    `yaml:"restart"`
	DependsOn     yaml.Node `yaml:"depends_on"`
	Command       yaml.Node `yaml:"command"`
}

type rawConfig struct {
	Version  string                           `yaml:"version"`
	Services map[string]rawService            `yaml:"services"`
	Volumes  map[string]domain.ComposeVolume  `yaml:"volumes"`
	Networks map[string]domain.ComposeNetwork `yaml:"networks"`
}

// Parse decodes and validates a compose manifest.
func Parse(content string) (*domain.ComposeConfig, error) {
	var raw rawConfig
	if err := yaml.Unmarshal([]byte(content), &raw); err != nil {
		return nil, &domain.ConfigError{Field: "compose file", Reason: err.Error()}
	}

	cfg := &domain.ComposeConfig{
		Version:  raw.Version,
		Services: make(map[string]domain.ComposeService, len(raw.Services)),
		Volumes:  raw.Volumes,
		Networks: raw.Networks,
	}
	for name, rs := range raw.Services {
		svc, err := rs.normalize()
		if err != nil {
			return nil, &domain.ConfigError{Field: "service " + name, Reason: err.Error()}
		}
		cfg.Services[name] = svc
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (rs rawService) normalize() (domain.ComposeService, error) {
	env, err := decodeEnvironment(&rs.Environment)
	if err != nil {
		return domain.ComposeService{}, fmt.Errorf("environment: %w", err)
	}
	networks, err := decodeNames(&rs.Networks)
	if err != nil {
		return domain.ComposeService{}, fmt.Errorf("networks: %w", err)
	}
	deps, err := decodeNames(&rs.DependsOn)
	if err != nil {
		return domain.ComposeService{}, fmt.Errorf("depends_on: %w", err)
	}
	cmd, err := decodeCommand(&rs.Command)
	if err != nil {
		return domain.ComposeService{}, fmt.Errorf("command: %w", err)
	}

	return domain.ComposeService{
		Image:         rs.Image,
		ContainerName: rs.ContainerName,
		Ports:         rs.Ports,
		Environment:   env,
		Volumes:       rs.Volumes,
		Networks:      networks,
		Restart:       rs.Restart,
		DependsOn:     deps,
		Command:       cmd,
	}, nil
}

// decodeEnvironment accepts a mapping or a list of KEY=VALUE strings.
func decodeEnvironment(n *yaml.Node) (map[string]string, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.MappingNode:
		env := make(map[string]string, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			if val.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("value of %s must be a scalar", key.Value)
			}
			if val.Tag == "!!null" {
				env[key.Value] = ""
				continue
			}
			env[key.Value] = val.Value
		}
		return env, nil
	case yaml.SequenceNode:
		env := make(map[string]string, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("list entries must be KEY=VALUE strings")
			}
			key, val, _ := strings.Cut(item.Value, "=")
			env[key] = val
		}
		return env, nil
	}
	return nil, fmt.Errorf("must be a mapping or a list")
}

// decodeNames accepts a list of names or a mapping keyed by name, as used by
// networks and depends_on.
func decodeNames(n *yaml.Node) ([]string, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.SequenceNode:
		names := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("list entries must be names")
			}
			names = append(names, item.Value)
		}
		return names, nil
	case yaml.MappingNode:
		names := make([]string, 0, len(n.Content)/2)
		for i := 0; i < len(n.Content); i += 2 {
			names = append(names, n.Content[i].Value)
		}
		return names, nil
	}
	return nil, fmt.Errorf("must be a list or a mapping")
}

// decodeCommand accepts a list or a string, which is split on whitespace.
func decodeCommand(n *yaml.Node) ([]string, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		return strings.Fields(n.Value), nil
	case yaml.SequenceNode:
		var cmd []string
		if err := n.Decode(&cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	}
	return nil, fmt.Errorf("must be a string or a list")
}

// Validate checks a manifest for problems the engine would only report
// halfway through a deployment.
func Validate(cfg *domain.ComposeConfig) error {
	if len(cfg.Services) == 0 {
		return &domain.ConfigError{Field: "services", Reason: "at least one service is required"}
	}

	containerNames := make(map[string]string)
	for _, name := range sortedKeys(cfg.Services) {
		svc := cfg.Services[name]
		field := "service " + name

		if err := validation.ValidateContainerName(name); err != nil {
			return &domain.ConfigError{Field: field, Reason: err.Error()}
		}
		if strings.TrimSpace(svc.Image) == "" {
			return &domain.ConfigError{Field: field, Reason: "image is required"}
		}
		if svc.ContainerName != "" {
			if err := validation.ValidateContainerName(svc.ContainerName); err != nil {
				return &domain.ConfigError{Field: field, Value: svc.ContainerName, Reason: err.Error()}
			}
			if other, dup := containerNames[svc.ContainerName]; dup {
				return &domain.ConfigError{Field: field, Value: svc.ContainerName, Reason: "container_name also used by service " + other}
			}
			containerNames[svc.ContainerName] = name
		}
		for _, p := range svc.Ports {
			if _, err := nat.ParsePortSpec(p); err != nil {
				return &domain.ConfigError{Field: field + " port", Value: p, Reason: err.Error()}
			}
		}
		for _, v := range svc.Volumes {
			src, _, _ := splitVolume(v)
			if isNamedVolume(src) {
				if _, ok := cfg.Volumes[src]; !ok {
					return &domain.ConfigError{Field: field + " volume", Value: src, Reason: "refers to an undeclared volume"}
				}
			}
		}
		for _, n := range svc.Networks {
			if _, ok := cfg.Networks[n]; !ok {
				return &domain.ConfigError{Field: field + " network", Value: n, Reason: "refers to an undeclared network"}
			}
		}
		for _, dep := range svc.DependsOn {
			if dep == name {
				return &domain.ConfigError{Field: field, Value: dep, Reason: "depends on itself"}
			}
			if _, ok := cfg.Services[dep]; !ok {
				return &domain.ConfigError{Field: field, Value: dep, Reason: "depends on an unknown service"}
			}
		}
		if !restartPolicies[svc.Restart] {
			return &domain.ConfigError{Field: field + " restart", Value: svc.Restart, Reason: "must be one of no, always, unless-stopped, on-failure"}
		}
	}

	if _, err := DeployOrder(cfg); err != nil {
		return err
	}
	return nil
}

// DeployOrder sorts services so each starts after its dependencies. Services
// that become ready at the same time are ordered by name.
func DeployOrder(cfg *domain.ComposeConfig) ([]string, error) {
	indegree := make(map[string]int, len(cfg.Services))
	dependents := make(map[string][]string)
	for name, svc := range cfg.Services {
		indegree[name] = len(svc.DependsOn)
		for _, dep := range svc.DependsOn {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(cfg.Services))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		for _, d := range dependents[name] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(cfg.Services) {
		var cyclic []string
		for name, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, &domain.ConfigError{Field: "depends_on", Value: strings.Join(cyclic, ", "), Reason: "dependency cycle"}
	}
	return order, nil
}

// splitVolume splits "source:target[:mode]". A bare entry is an anonymous
// volume mounted at target.
func splitVolume(entry string) (source, target, mode string) {
	parts := strings.SplitN(entry, ":", 3)
	switch len(parts) {
	case 1:
		return "", parts[0], ""
	case 2:
		return parts[0], parts[1], ""
	default:
		return parts[0], parts[1], parts[2]
	}
}

// isNamedVolume reports whether a mount source names a volume rather than a
// host path.
func isNamedVolume(source string) bool {
	if source == "" {
		return false
	}
	return !strings.HasPrefix(source, "/") &&
		!strings.HasPrefix(source, ".") &&
		!strings.HasPrefix(source, "~")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
