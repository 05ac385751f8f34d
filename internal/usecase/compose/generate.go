package compose

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"github.com/bnema/zerowrap"
	"gopkg.in/yaml.v3"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

// GeneratedVersion is the version tag written into generated manifests.
const GeneratedVersion = "3.8"

// imageEnv are variables the official database images bake in. They are
// left out of generated manifests.
var imageEnv = map[string]bool{
	"PATH":           true,
	"HOME":           true,
	"LANG":           true,
	"PGDATA":         true,
	"GOSU_VERSION":   true,
	"JSYAML_VERSION": true,
}

// Generate inspects containers and assembles a manifest that recreates them.
// Named volumes they mount are declared external in the manifest's volumes
// section, so a deployment reuses the existing data.
func (s *Service) Generate(ctx context.Context, containerIDs []string) (string, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "Generate",
		"containers":         len(containerIDs),
	})
	log := zerowrap.FromCtx(ctx)

	if len(containerIDs) == 0 {
		return "", &domain.ConfigError{Field: "containers", Reason: "at least one container is required"}
	}

	cfg := domain.ComposeConfig{
		Version:  GeneratedVersion,
		Services: make(map[string]domain.ComposeService, len(containerIDs)),
	}

	// A container named twice, by ID or by name, becomes one service.
	seen := make(map[string]bool, len(containerIDs))
	for _, id := range containerIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		details, err := s.runtime.InspectContainer(ctx, id)
		if err != nil {
			return "", log.WrapErr(err, "failed to inspect container "+id)
		}
		if details.ID != id {
			if seen[details.ID] {
				continue
			}
			seen[details.ID] = true
		}

		name := uniqueName(cfg.Services, serviceName(details))
		svc, volumes := serviceFromDetails(details)
		cfg.Services[name] = svc

		for _, v := range volumes {
			if cfg.Volumes == nil {
				cfg.Volumes = make(map[string]domain.ComposeVolume)
			}
			cfg.Volumes[v] = domain.ComposeVolume{External: true}
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&cfg); err != nil {
		return "", log.WrapErr(err, "failed to encode compose file")
	}
	if err := enc.Close(); err != nil {
		return "", log.WrapErr(err, "failed to encode compose file")
	}

	log.Info().Int("services", len(cfg.Services)).Msg("compose file generated")
	return buf.String(), nil
}

// serviceName prefers the compose service label, then the container name
// without the database type prefix.
func serviceName(d *domain.ContainerDetails) string {
	if svc := d.Labels[domain.LabelComposeService]; svc != "" {
		return svc
	}
	name := strings.TrimPrefix(d.Name, "/")
	for _, entry := range domain.DatabaseTypes() {
		if trimmed, ok := strings.CutPrefix(name, entry.NamePrefix+"-"); ok && trimmed != "" {
			return trimmed
		}
	}
	return name
}

func uniqueName(existing map[string]domain.ComposeService, name string) string {
	if _, taken := existing[name]; !taken {
		return name
	}
	for i := 2; ; i++ {
		candidate := name + "-" + strconv.Itoa(i)
		if _, taken := existing[candidate]; !taken {
			return candidate
		}
	}
}

// serviceFromDetails returns the service and the named volumes it mounts.
func serviceFromDetails(d *domain.ContainerDetails) (domain.ComposeService, []string) {
	svc := domain.ComposeService{
		Image:         d.Image,
		ContainerName: strings.TrimPrefix(d.Name, "/"),
	}
	if d.RestartPolicy != "" && d.RestartPolicy != "no" {
		svc.Restart = d.RestartPolicy
	}

	for _, pm := range d.PortMappings {
		if pm.HostPort > 0 {
			svc.Ports = append(svc.Ports, pm.String())
		}
	}

	for _, e := range d.Env {
		key, val, _ := strings.Cut(e, "=")
		if key == "" || imageEnv[key] || strings.HasSuffix(key, "_VERSION") || strings.HasSuffix(key, "_MAJOR") {
			continue
		}
		if svc.Environment == nil {
			svc.Environment = make(map[string]string)
		}
		svc.Environment[key] = val
	}

	var volumes []string
	for _, m := range d.Mounts {
		switch {
		case m.Type == "volume" && m.Name != "":
			svc.Volumes = append(svc.Volumes, m.Name+":"+m.Destination)
			volumes = append(volumes, m.Name)
		case m.Type == "bind":
			svc.Volumes = append(svc.Volumes, m.Source+":"+m.Destination)
		}
	}

	// Only managed containers are known to set Cmd as an override.
	if d.IsManaged() && len(d.Cmd) > 0 {
		svc.Command = d.Cmd
	}

	return svc, volumes
}
