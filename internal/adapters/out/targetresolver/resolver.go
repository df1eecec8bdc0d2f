// Package targetresolver resolves services to the proxy target of their
// current healthy container.
package targetresolver

import (
	"context"
	"fmt"

	"caravel/internal/boundaries/out"
	"caravel/internal/domain"
)

// Resolver implements the TargetResolver interface on top of the
// deployment store and the container runtime. Resolution fails closed: no
// healthy deployment, no running container, no target.
type Resolver struct {
	store   out.DeploymentStore
	runtime out.ContainerRuntime
}

// NewResolver creates a new target resolver.
func NewResolver(store out.DeploymentStore, runtime out.ContainerRuntime) *Resolver {
	return &Resolver{store: store, runtime: runtime}
}

// Resolve returns the loopback proxy target of a service's current healthy
// container.
func (r *Resolver) Resolve(ctx context.Context, service string) (*domain.ProxyTarget, error) {
	dep, ok := r.store.LastHealthy(service)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoHealthyVersion, service)
	}
	if dep.ContainerID == "" {
		return nil, fmt.Errorf("%w: %s has no container recorded", domain.ErrNoTargetAvailable, service)
	}

	running, err := r.runtime.IsContainerRunning(ctx, dep.ContainerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrNoTargetAvailable, service, err)
	}
	if !running {
		return nil, fmt.Errorf("%w: container for %s is not running", domain.ErrNoTargetAvailable, service)
	}

	port, err := r.runtime.GetContainerPort(ctx, dep.ContainerID, dep.Descriptor.Port)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrNoTargetAvailable, service, err)
	}

	return &domain.ProxyTarget{
		Host:        "127.0.0.1",
		Port:        port,
		ContainerID: dep.ContainerID,
		Scheme:      "http",
	}, nil
}
