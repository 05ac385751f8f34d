// Package docker implements the container runtime adapter using Docker API.
package docker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/zerowrap"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

// stopTimeout is how long the engine waits before killing a stopping container.
const stopTimeout = 30

// Runtime implements the ContainerRuntime interface using Docker API.
type Runtime struct {
	client *client.Client
}

// NewRuntime creates a new Docker runtime instance. An empty host uses the
// environment (DOCKER_HOST) or the default socket.
func NewRuntime(host string) (*Runtime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &Runtime{
		client: cli,
	}, nil
}

// NewRuntimeWithClient creates a new Docker runtime instance with a custom client (for testing).
func NewRuntimeWithClient(cli *client.Client) *Runtime {
	return &Runtime{
		client: cli,
	}
}

// Close releases the underlying client.
func (r *Runtime) Close() error {
	return r.client.Close()
}

func (r *Runtime) logCtx(ctx context.Context, action string, fields map[string]any) context.Context {
	all := map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "docker",
		zerowrap.FieldAction:  action,
	}
	for k, v := range fields {
		all[k] = v
	}
	return zerowrap.CtxWithFields(ctx, all)
}

// classify maps engine errors onto domain error kinds.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case client.IsErrConnectionFailed(err):
		return &domain.ConnectivityError{Target: "docker engine", Err: err}
	default:
		return err
	}
}

// classifyContainer is classify with not-found mapped to ErrContainerNotFound.
func classifyContainer(err error) error {
	if cerrdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %v", domain.ErrContainerNotFound, err)
	}
	return classify(err)
}

// CreateContainer creates a new container from spec.
func (r *Runtime) CreateContainer(ctx context.Context, spec *domain.ContainerSpec) (*domain.Container, error) {
	ctx = r.logCtx(ctx, "CreateContainer", map[string]any{
		"container_name": spec.Name,
		"image":          spec.Image,
	})
	log := zerowrap.FromCtx(ctx)

	exposedPorts, portBindings, err := portMapFromSpec(spec.Ports)
	if err != nil {
		return nil, &domain.ConfigError{Field: "ports", Reason: err.Error()}
	}

	containerConfig := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		ExposedPorts: exposedPorts,
		Cmd:          spec.Cmd,
		Labels:       spec.Labels,
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        spec.Binds,
		NetworkMode:  container.NetworkMode(spec.NetworkMode),
		ExtraHosts:   spec.ExtraHosts,
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyMode(spec.RestartPolicy),
		},
	}
	if spec.MemoryBytes != nil {
		hostConfig.Resources.Memory = *spec.MemoryBytes
	}
	if spec.NanoCPUs != nil {
		hostConfig.Resources.NanoCPUs = *spec.NanoCPUs
	}
	if spec.NetworkMode == "" && len(spec.Networks) > 0 {
		hostConfig.NetworkMode = container.NetworkMode(spec.Networks[0])
	}

	var networkConfig *network.NetworkingConfig
	if len(spec.Networks) > 0 {
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: make(map[string]*network.EndpointSettings, len(spec.Networks)),
		}
		for _, name := range spec.Networks {
			networkConfig.EndpointsConfig[name] = &network.EndpointSettings{
				Aliases: spec.Aliases,
			}
		}
	}

	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, networkConfig, nil, spec.Name)
	if err != nil {
		return nil, log.WrapErr(classify(err), "failed to create container")
	}
	for _, w := range resp.Warnings {
		log.Warn().Str(zerowrap.FieldEntityID, resp.ID).Msg(w)
	}

	log.Info().Str(zerowrap.FieldEntityID, resp.ID).Msg("container created")

	details, err := r.InspectContainer(ctx, resp.ID)
	if err != nil {
		return nil, err
	}
	ctr := details.Container
	return &ctr, nil
}

// StartContainer starts a container.
func (r *Runtime) StartContainer(ctx context.Context, containerID string) error {
	ctx = r.logCtx(ctx, "StartContainer", map[string]any{zerowrap.FieldEntityID: containerID})
	log := zerowrap.FromCtx(ctx)

	err := r.client.ContainerStart(ctx, containerID, container.StartOptions{})
	if err != nil {
		return log.WrapErr(classifyContainer(err), "failed to start container")
	}

	log.Info().Msg("container started")
	return nil
}

// StopContainer stops a container.
func (r *Runtime) StopContainer(ctx context.Context, containerID string) error {
	ctx = r.logCtx(ctx, "StopContainer", map[string]any{zerowrap.FieldEntityID: containerID})
	log := zerowrap.FromCtx(ctx)

	timeout := stopTimeout
	err := r.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	if err != nil {
		return log.WrapErr(classifyContainer(err), "failed to stop container")
	}

	log.Info().Msg("container stopped")
	return nil
}

// RestartContainer restarts a container.
func (r *Runtime) RestartContainer(ctx context.Context, containerID string) error {
	ctx = r.logCtx(ctx, "RestartContainer", map[string]any{zerowrap.FieldEntityID: containerID})
	log := zerowrap.FromCtx(ctx)

	timeout := stopTimeout
	err := r.client.ContainerRestart(ctx, containerID, container.StopOptions{Timeout: &timeout})
	if err != nil {
		return log.WrapErr(classifyContainer(err), "failed to restart container")
	}

	log.Info().Msg("container restarted")
	return nil
}

// RemoveContainer removes a container. removeVolumes only covers anonymous
// volumes; named volumes are removed with RemoveVolume.
func (r *Runtime) RemoveContainer(ctx context.Context, containerID string, force, removeVolumes bool) error {
	ctx = r.logCtx(ctx, "RemoveContainer", map[string]any{
		zerowrap.FieldEntityID: containerID,
		"force":               force,
		"remove_volumes":      removeVolumes,
	})
	log := zerowrap.FromCtx(ctx)

	err := r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         force,
		RemoveVolumes: removeVolumes,
	})
	if err != nil {
		return log.WrapErr(classifyContainer(err), "failed to remove container")
	}

	log.Info().Msg("container removed")
	return nil
}

// RenameContainer renames a container.
func (r *Runtime) RenameContainer(ctx context.Context, containerID, newName string) error {
	ctx = r.logCtx(ctx, "RenameContainer", map[string]any{
		zerowrap.FieldEntityID: containerID,
		"new_name":            newName,
	})
	log := zerowrap.FromCtx(ctx)

	err := r.client.ContainerRename(ctx, containerID, newName)
	if err != nil {
		return log.WrapErr(classifyContainer(err), "failed to rename container")
	}

	log.Info().Msg("container renamed")
	return nil
}

// ListContainers lists containers carrying every label in labels.
func (r *Runtime) ListContainers(ctx context.Context, all bool, labels map[string]string) ([]*domain.Container, error) {
	ctx = r.logCtx(ctx, "ListContainers", map[string]any{"all": all})
	log := zerowrap.FromCtx(ctx)

	containers, err := r.client.ContainerList(ctx, container.ListOptions{
		All:     all,
		Filters: labelFilter(labels),
	})
	if err != nil {
		return nil, log.WrapErr(classify(err), "failed to list containers")
	}

	result := make([]*domain.Container, 0, len(containers))
	for _, c := range containers {
		var ports []int
		for _, port := range c.Ports {
			if port.PublicPort > 0 {
				ports = append(ports, int(port.PublicPort))
			}
		}
		// The engine only lists ports of running containers; stopped ones
		// still hold their configured bindings.
		if len(ports) == 0 && c.State != container.StateRunning {
			ports = r.configuredHostPorts(ctx, c.ID)
		}

		// Get the primary name (remove leading slash)
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		result = append(result, &domain.Container{
			ID:        c.ID,
			Image:     c.Image,
			Name:      name,
			State:     string(c.State),
			Status:    c.Status,
			Ports:     uniquePorts(ports),
			CreatedAt: time.Unix(c.Created, 0).UTC(),
			Labels:    c.Labels,
		})
	}

	return result, nil
}

func (r *Runtime) configuredHostPorts(ctx context.Context, containerID string) []int {
	resp, err := r.client.ContainerInspect(ctx, containerID)
	if err != nil {
		log := zerowrap.FromCtx(ctx)
		log.Debug().Err(err).Str(zerowrap.FieldEntityID, containerID).Msg("skipping ports of vanished container")
		return nil
	}
	if resp.HostConfig == nil {
		return nil
	}
	var ports []int
	for _, pm := range mappingsFromPortMap(resp.HostConfig.PortBindings) {
		if pm.HostPort > 0 {
			ports = append(ports, pm.HostPort)
		}
	}
	return ports
}

// InspectContainer inspects a container.
func (r *Runtime) InspectContainer(ctx context.Context, containerID string) (*domain.ContainerDetails, error) {
	ctx = r.logCtx(ctx, "InspectContainer", map[string]any{zerowrap.FieldEntityID: containerID})
	log := zerowrap.FromCtx(ctx)

	resp, err := r.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, log.WrapErr(classifyContainer(err), "failed to inspect container")
	}

	return detailsFromInspect(resp), nil
}

func detailsFromInspect(resp container.InspectResponse) *domain.ContainerDetails {
	d := &domain.ContainerDetails{
		Container: domain.Container{
			ID:   resp.ID,
			Name: strings.TrimPrefix(resp.Name, "/"),
		},
	}
	if created, err := time.Parse(time.RFC3339Nano, resp.Created); err == nil {
		d.CreatedAt = created.UTC()
	}
	if resp.State != nil {
		d.State = string(resp.State.Status)
		d.Status = string(resp.State.Status)
	}
	if resp.Config != nil {
		d.Image = resp.Config.Image
		d.Labels = resp.Config.Labels
		d.Env = resp.Config.Env
		d.Cmd = resp.Config.Cmd
	}

	if resp.HostConfig != nil {
		d.RestartPolicy = string(resp.HostConfig.RestartPolicy.Name)
		d.NetworkMode = string(resp.HostConfig.NetworkMode)
		d.MemoryBytes = resp.HostConfig.Memory
		d.NanoCPUs = resp.HostConfig.NanoCPUs
		d.PortMappings = mappingsFromPortMap(resp.HostConfig.PortBindings)
	}
	for _, pm := range d.PortMappings {
		if pm.HostPort > 0 {
			d.Ports = append(d.Ports, pm.HostPort)
		}
	}

	// Live ports add the ones the engine picked for empty host ports.
	if resp.NetworkSettings != nil {
		for _, pm := range mappingsFromPortMap(resp.NetworkSettings.Ports) {
			if pm.HostPort > 0 {
				d.Ports = append(d.Ports, pm.HostPort)
			}
		}
		for name := range resp.NetworkSettings.Networks {
			d.Networks = append(d.Networks, name)
		}
		sort.Strings(d.Networks)
	}
	d.Ports = uniquePorts(d.Ports)

	for _, m := range resp.Mounts {
		d.Mounts = append(d.Mounts, domain.Mount{
			Type:        string(m.Type),
			Name:        m.Name,
			Source:      m.Source,
			Destination: m.Destination,
		})
	}

	return d
}

// GetContainerLogs returns the last tail lines of stdout and stderr.
func (r *Runtime) GetContainerLogs(ctx context.Context, containerID string, tail int) ([]domain.LogEntry, error) {
	ctx = r.logCtx(ctx, "GetContainerLogs", map[string]any{
		zerowrap.FieldEntityID: containerID,
		"tail":                tail,
	})
	log := zerowrap.FromCtx(ctx)

	tailOpt := "all"
	if tail > 0 {
		tailOpt = strconv.Itoa(tail)
	}
	reader, err := r.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Tail:       tailOpt,
	})
	if err != nil {
		return nil, log.WrapErr(classifyContainer(err), "failed to get container logs")
	}
	defer reader.Close()

	stdout, stderr, err := parseExecOutput(reader)
	if err != nil {
		return nil, log.WrapErr(err, "failed to read container logs")
	}

	entries := parseLogLines(stdout)
	entries = append(entries, parseLogLines(stderr)...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp < entries[j].Timestamp })
	return entries, nil
}

// parseLogLines splits timestamped log output into entries.
func parseLogLines(out []byte) []domain.LogEntry {
	var entries []domain.LogEntry
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		ts, msg, found := strings.Cut(line, " ")
		if !found {
			entries = append(entries, domain.LogEntry{Message: line})
			continue
		}
		entries = append(entries, domain.LogEntry{Timestamp: ts, Message: msg})
	}
	return entries
}

// Ping checks if Docker is responsive.
func (r *Runtime) Ping(ctx context.Context) error {
	ctx = r.logCtx(ctx, "Ping", nil)
	log := zerowrap.FromCtx(ctx)

	_, err := r.client.Ping(ctx)
	if err != nil {
		return log.WrapErr(&domain.ConnectivityError{Target: "docker engine", Err: err}, "Docker ping failed")
	}
	return nil
}

// Version returns Docker version.
func (r *Runtime) Version(ctx context.Context) (string, error) {
	ctx = r.logCtx(ctx, "Version", nil)
	log := zerowrap.FromCtx(ctx)

	version, err := r.client.ServerVersion(ctx)
	if err != nil {
		return "", log.WrapErr(classify(err), "failed to get Docker version")
	}
	return version.Version, nil
}

// portMapFromSpec exposes every mapped container port and binds the ones
// with a host port. Several host bindings per container port are kept.
func portMapFromSpec(ports []domain.PortMapping) (nat.PortSet, nat.PortMap, error) {
	exposed := make(nat.PortSet, len(ports))
	bindings := make(nat.PortMap)
	for _, pm := range ports {
		p, err := nat.NewPort(pm.Proto(), strconv.Itoa(pm.ContainerPort))
		if err != nil {
			return nil, nil, err
		}
		exposed[p] = struct{}{}
		if pm.HostPort == 0 {
			continue
		}
		bindings[p] = append(bindings[p], nat.PortBinding{
			HostIP:   pm.HostIP,
			HostPort: strconv.Itoa(pm.HostPort),
		})
	}
	return exposed, bindings, nil
}

// mappingsFromPortMap flattens a port map, sorted by container port,
// protocol, then host port. The engine lists a binding once per address
// family, so the IPv6 twin of an unbound-address binding is dropped.
func mappingsFromPortMap(pm nat.PortMap) []domain.PortMapping {
	var out []domain.PortMapping
	seen := make(map[domain.PortMapping]bool)
	for p, bindings := range pm {
		for _, b := range bindings {
			hp, err := strconv.Atoi(b.HostPort)
			if err != nil || hp == 0 {
				continue
			}
			m := domain.PortMapping{ContainerPort: p.Int(), HostPort: hp, HostIP: b.HostIP}
			if p.Proto() != "tcp" {
				m.Protocol = p.Proto()
			}
			if m.HostIP == "0.0.0.0" || m.HostIP == "::" {
				m.HostIP = ""
			}
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ContainerPort != b.ContainerPort {
			return a.ContainerPort < b.ContainerPort
		}
		if a.Proto() != b.Proto() {
			return a.Proto() < b.Proto()
		}
		return a.HostPort < b.HostPort
	})
	return out
}

// uniquePorts sorts and deduplicates ports; the engine reports IPv4 and IPv6
// bindings separately.
func uniquePorts(ports []int) []int {
	if len(ports) == 0 {
		return nil
	}
	sort.Ints(ports)
	out := ports[:1]
	for _, p := range ports[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}

func labelFilter(labels map[string]string) filters.Args {
	args := filters.NewArgs()
	for k, v := range labels {
		args.Add("label", k+"="+v)
	}
	return args
}
