// Package compose implements the compose use case: manifest parsing,
// generation from running containers, deployment and project operations.
// Projects are never tracked; every project operation filters the live
// container set by label.
package compose

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bnema/zerowrap"
	"github.com/docker/go-connections/nat"

	"github.com/alemelgarejo/docker-database-manager/internal/boundaries/out"
	"github.com/alemelgarejo/docker-database-manager/internal/domain"
	"github.com/alemelgarejo/docker-database-manager/internal/logging"
	"github.com/alemelgarejo/docker-database-manager/internal/usecase/provision"
	"github.com/alemelgarejo/docker-database-manager/pkg/validation"
)

const pipelineName = "compose deploy"

// defaultNetwork is created for each project that has services without an
// explicit network, so services can reach each other by name.
const defaultNetwork = "default"

// Service implements the ComposeService interface.
type Service struct {
	runtime out.ContainerRuntime
	images  provision.ImageEnsurer
}

// NewService creates a new compose service.
func NewService(runtime out.ContainerRuntime, images provision.ImageEnsurer) *Service {
	return &Service{runtime: runtime, images: images}
}

// Parse decodes and validates a compose manifest.
func (s *Service) Parse(content string) (*domain.ComposeConfig, error) {
	return Parse(content)
}

// Deploy creates the project's declared volumes and networks, then creates
// and starts every service in dependency order. A failing service aborts the
// deployment; services started before it keep running.
func (s *Service) Deploy(ctx context.Context, content, project string) ([]string, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "Deploy",
		logging.FieldProject: project,
	})
	log := zerowrap.FromCtx(ctx)

	if err := validation.ValidateProjectName(project); err != nil {
		return nil, &domain.ConfigError{Field: "project", Value: project, Reason: err.Error()}
	}
	cfg, err := Parse(content)
	if err != nil {
		return nil, err
	}
	order, err := DeployOrder(cfg)
	if err != nil {
		return nil, err
	}

	labels := map[string]string{
		domain.LabelComposeProject: project,
		domain.LabelManaged:        "compose",
	}

	for _, name := range sortedKeys(cfg.Volumes) {
		if cfg.Volumes[name].External {
			continue
		}
		volName := domain.ProjectResourceName(project, name)
		if err := s.runtime.CreateVolume(ctx, volName, labels); err != nil {
			if !errors.Is(err, domain.ErrVolumeExists) {
				return nil, s.stepErr("volume "+name, err, "")
			}
			log.Debug().Str("volume", volName).Msg("volume already exists")
		}
	}

	networks := sortedKeys(cfg.Networks)
	if needsDefaultNetwork(cfg) {
		networks = append(networks, defaultNetwork)
	}
	for _, name := range networks {
		netName := domain.ProjectResourceName(project, name)
		if err := s.runtime.CreateNetwork(ctx, netName, labels); err != nil {
			if !errors.Is(err, domain.ErrNetworkExists) {
				return nil, s.stepErr("network "+name, err, "")
			}
			log.Debug().Str("network", netName).Msg("network already exists")
		}
	}

	started := make([]string, 0, len(order))
	for _, name := range order {
		svcCtx := zerowrap.CtxWithFields(ctx, map[string]any{logging.FieldStep: name})
		id, err := s.deployService(svcCtx, project, name, cfg)
		if err != nil {
			detail := fmt.Sprintf("%d of %d services started, earlier services left running", len(started), len(order))
			return started, s.stepErr("service "+name, err, detail)
		}
		started = append(started, id)
	}

	log.Info().Int("services", len(started)).Msg("project deployed")
	return started, nil
}

func (s *Service) deployService(ctx context.Context, project, name string, cfg *domain.ComposeConfig) (string, error) {
	log := zerowrap.FromCtx(ctx)
	svc := cfg.Services[name]

	if err := s.images.Ensure(ctx, svc.Image); err != nil {
		return "", err
	}

	spec, err := ServiceSpec(project, name, svc, cfg)
	if err != nil {
		return "", err
	}

	ctr, err := s.runtime.CreateContainer(ctx, spec)
	if err != nil {
		return "", log.WrapErr(err, "failed to create service container")
	}
	if err := s.runtime.StartContainer(ctx, ctr.ID); err != nil {
		return "", log.WrapErr(err, "failed to start service container")
	}

	log.Info().Str(zerowrap.FieldEntityID, ctr.ID).Str("container", spec.Name).Msg("service started")
	return ctr.ID, nil
}

// ServiceSpec translates one manifest service into a container spec with
// project-namespaced volumes and networks.
func ServiceSpec(project, name string, svc domain.ComposeService, cfg *domain.ComposeConfig) (*domain.ContainerSpec, error) {
	ctrName := svc.ContainerName
	if ctrName == "" {
		ctrName = project + "-" + name
	}

	spec := &domain.ContainerSpec{
		Name:          ctrName,
		Image:         svc.Image,
		Cmd:           svc.Command,
		RestartPolicy: svc.Restart,
		Aliases:       []string{name},
		Labels: map[string]string{
			domain.LabelComposeProject: project,
			domain.LabelComposeService: name,
		},
	}

	for _, k := range sortedKeys(svc.Environment) {
		spec.Env = append(spec.Env, k+"="+svc.Environment[k])
	}

	for _, raw := range svc.Ports {
		mappings, err := nat.ParsePortSpec(raw)
		if err != nil {
			return nil, &domain.ConfigError{Field: "port", Value: raw, Reason: err.Error()}
		}
		for _, m := range mappings {
			pm := domain.PortMapping{ContainerPort: m.Port.Int(), HostIP: m.Binding.HostIP}
			if proto := m.Port.Proto(); proto != "tcp" {
				pm.Protocol = proto
			}
			if m.Binding.HostPort != "" {
				hostPort, err := strconv.Atoi(m.Binding.HostPort)
				if err != nil {
					return nil, &domain.ConfigError{Field: "port", Value: raw, Reason: "host port must be a single number"}
				}
				pm.HostPort = hostPort
			}
			spec.Ports = append(spec.Ports, pm)
		}
	}

	for _, v := range svc.Volumes {
		src, dst, mode := splitVolume(v)
		if vol, declared := cfg.Volumes[src]; declared && !vol.External {
			src = domain.ProjectResourceName(project, src)
		}
		bind := dst
		if src != "" {
			bind = src + ":" + dst
		}
		if mode != "" {
			bind += ":" + mode
		}
		spec.Binds = append(spec.Binds, bind)
	}

	networks := svc.Networks
	if len(networks) == 0 {
		networks = []string{defaultNetwork}
	}
	for _, n := range networks {
		spec.Networks = append(spec.Networks, domain.ProjectResourceName(project, n))
	}
	spec.NetworkMode = spec.Networks[0]

	return spec, nil
}

func needsDefaultNetwork(cfg *domain.ComposeConfig) bool {
	for _, svc := range cfg.Services {
		if len(svc.Networks) == 0 {
			return true
		}
	}
	return false
}

func (s *Service) stepErr(step string, err error, detail string) error {
	return &domain.StepError{Pipeline: pipelineName, Step: step, Err: err, Detail: detail}
}

// ListProjects groups all containers carrying a project label.
func (s *Service) ListProjects(ctx context.Context) ([]domain.ComposeProject, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "ListProjects",
	})
	log := zerowrap.FromCtx(ctx)

	containers, err := s.runtime.ListContainers(ctx, true, nil)
	if err != nil {
		return nil, log.WrapErr(err, "failed to list containers")
	}

	byName := make(map[string]*domain.ComposeProject)
	services := make(map[string]map[string]struct{})
	for _, c := range containers {
		name := c.Labels[domain.LabelComposeProject]
		if name == "" {
			continue
		}
		p, ok := byName[name]
		if !ok {
			p = &domain.ComposeProject{Name: name}
			byName[name] = p
			services[name] = make(map[string]struct{})
		}
		p.Containers = append(p.Containers, c)
		if c.IsRunning() {
			p.Running++
		}
		if svc := c.Labels[domain.LabelComposeService]; svc != "" {
			services[name][svc] = struct{}{}
		}
	}

	projects := make([]domain.ComposeProject, 0, len(byName))
	for _, name := range sortedKeys(byName) {
		p := byName[name]
		p.Services = sortedKeys(services[name])
		projects = append(projects, *p)
	}
	return projects, nil
}

func (s *Service) projectContainers(ctx context.Context, project string) ([]*domain.Container, error) {
	containers, err := s.runtime.ListContainers(ctx, true, map[string]string{domain.LabelComposeProject: project})
	if err != nil {
		return nil, zerowrap.FromCtx(ctx).WrapErr(err, "failed to list project containers")
	}
	if len(containers) == 0 {
		return nil, fmt.Errorf("%w: no containers for project %q", domain.ErrContainerNotFound, project)
	}
	return containers, nil
}

// StopProject stops every running container of the project. Individual
// failures are logged and do not stop the batch.
func (s *Service) StopProject(ctx context.Context, project string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "StopProject",
		logging.FieldProject: project,
	})
	log := zerowrap.FromCtx(ctx)

	containers, err := s.projectContainers(ctx, project)
	if err != nil {
		return err
	}

	var failed []string
	for _, c := range containers {
		if !c.IsRunning() {
			continue
		}
		if err := s.runtime.StopContainer(ctx, c.ID); err != nil {
			log.Warn().Err(err).Str("container", c.Name).Msg("failed to stop project container")
			failed = append(failed, c.Name)
		}
	}
	if len(failed) > 0 {
		pf := &domain.PartialFailure{Op: "stop project", Detail: "not stopped: " + strings.Join(failed, ", ")}
		log.Warn().Err(pf).Msg("project partially stopped")
	}
	return nil
}

// RemoveProject force removes every container of the project. With
// removeVolumes, volumes and networks named with the project prefix are
// removed too.
func (s *Service) RemoveProject(ctx context.Context, project string, removeVolumes bool) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "RemoveProject",
		logging.FieldProject: project,
		"remove_volumes":     removeVolumes,
	})
	log := zerowrap.FromCtx(ctx)

	containers, err := s.projectContainers(ctx, project)
	if err != nil {
		return err
	}

	var problems []string
	for _, c := range containers {
		if err := s.runtime.RemoveContainer(ctx, c.ID, true, removeVolumes); err != nil {
			log.Warn().Err(err).Str("container", c.Name).Msg("failed to remove project container")
			problems = append(problems, "container "+c.Name)
		}
	}

	if removeVolumes {
		problems = append(problems, s.removeProjectResources(ctx, project)...)
	}

	if len(problems) > 0 {
		pf := &domain.PartialFailure{Op: "remove project", Detail: strings.Join(problems, ", ")}
		log.Warn().Err(pf).Msg("project partially removed")
	}
	log.Info().Int("containers", len(containers)).Msg("project removed")
	return nil
}

func (s *Service) removeProjectResources(ctx context.Context, project string) []string {
	log := zerowrap.FromCtx(ctx)
	prefix := domain.ProjectResourceName(project, "")
	var problems []string

	volumes, err := s.runtime.ListVolumes(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to list volumes")
		problems = append(problems, "volume listing")
	}
	for _, v := range volumes {
		if !strings.HasPrefix(v.Name, prefix) {
			continue
		}
		if err := s.runtime.RemoveVolume(ctx, v.Name, true); err != nil {
			log.Warn().Err(err).Str("volume", v.Name).Msg("failed to remove project volume")
			problems = append(problems, "volume "+v.Name)
		}
	}

	networks, err := s.runtime.ListNetworks(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to list networks")
		problems = append(problems, "network listing")
	}
	names := make([]string, 0, len(networks))
	for _, n := range networks {
		if strings.HasPrefix(n.Name, prefix) {
			names = append(names, n.Name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.runtime.RemoveNetwork(ctx, name); err != nil {
			log.Warn().Err(err).Str("network", name).Msg("failed to remove project network")
			problems = append(problems, "network "+name)
		}
	}
	return problems
}
