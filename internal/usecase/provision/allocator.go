package provision

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bnema/zerowrap"

	"github.com/alemelgarejo/docker-database-manager/internal/boundaries/out"
	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

// DefaultMaxPortSearch bounds FindFreePort.
const DefaultMaxPortSearch = 1000

const maxPort = 65535

// Allocator checks host ports and container names against the live
// container set. It holds no state between calls.
type Allocator struct {
	runtime       out.ContainerRuntime
	maxPortSearch int
}

// NewAllocator creates an allocator. maxPortSearch <= 0 selects DefaultMaxPortSearch.
func NewAllocator(runtime out.ContainerRuntime, maxPortSearch int) *Allocator {
	if maxPortSearch <= 0 {
		maxPortSearch = DefaultMaxPortSearch
	}
	return &Allocator{runtime: runtime, maxPortSearch: maxPortSearch}
}

// CheckConflicts fails with a ConflictError if any container, managed or not,
// running or stopped, binds port or is named name. A port <= 0 skips the port check and an
// empty name skips the name check.
func (a *Allocator) CheckConflicts(ctx context.Context, port int, name string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "CheckConflicts",
		"port":               port,
		"container_name":     name,
	})
	log := zerowrap.FromCtx(ctx)

	containers, err := a.runtime.ListContainers(ctx, true, nil)
	if err != nil {
		return log.WrapErr(err, "failed to list containers")
	}

	if port > 0 {
		for _, c := range containers {
			for _, p := range c.Ports {
				if p == port {
					log.Warn().Str("owner", c.Name).Msg("port already in use")
					return &domain.ConflictError{Resource: "port", Value: strconv.Itoa(port), Owner: c.Name}
				}
			}
		}
	}

	if name == "" {
		return nil
	}
	for _, c := range containers {
		if c.Name == name {
			log.Warn().Str(zerowrap.FieldEntityID, c.ID).Msg("container name already in use")
			return &domain.ConflictError{Resource: "name", Value: name, Owner: c.ID}
		}
	}

	return nil
}

// FindFreePort returns the first port at or above base that no container
// binds, stopped containers included. The search covers at most maxPortSearch ports.
func (a *Allocator) FindFreePort(ctx context.Context, base int) (int, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "FindFreePort",
		"base_port":          base,
	})
	log := zerowrap.FromCtx(ctx)

	if base < 1 || base > maxPort {
		return 0, &domain.ConfigError{Field: "base port", Value: strconv.Itoa(base), Reason: "must be between 1 and 65535"}
	}

	containers, err := a.runtime.ListContainers(ctx, true, nil)
	if err != nil {
		return 0, log.WrapErr(err, "failed to list containers")
	}

	used := make(map[int]struct{})
	for _, c := range containers {
		for _, p := range c.Ports {
			used[p] = struct{}{}
		}
	}

	for port := base; port < base+a.maxPortSearch && port <= maxPort; port++ {
		if _, taken := used[port]; !taken {
			log.Debug().Int("port", port).Msg("found free port")
			return port, nil
		}
	}

	return 0, fmt.Errorf("%w: searched %d ports from %d", domain.ErrNoPortAvailable, a.maxPortSearch, base)
}
