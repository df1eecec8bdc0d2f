package out

import (
	"context"

	"caravel/internal/domain"
)

// DeploymentStore is the versioned per-service deployment record with
// compare-and-swap semantics: Begin atomically claims the single rollout
// slot of a service, so mutual exclusion is enforced by the store rather
// than by ambient global state.
type DeploymentStore interface {
	// Begin records a new in-flight deployment. It fails with
	// domain.ErrRolloutConflict when another deployment of the same
	// service is still in flight.
	Begin(ctx context.Context, d *domain.Deployment) error

	// Update persists a status change of an in-flight deployment. A
	// transition into Healthy demotes the previous healthy record.
	Update(ctx context.Context, d *domain.Deployment) error

	// Current returns the most recent deployment of a service.
	Current(service string) (*domain.Deployment, bool)

	// LastHealthy returns the most recent healthy deployment of a service,
	// the rollback target.
	LastHealthy(service string) (*domain.Deployment, bool)

	// History returns all recorded deployments of a service, newest first.
	History(service string) []*domain.Deployment

	// Services returns every service with at least one recorded deployment.
	Services() []string

	// NextVersion allocates the next descriptor version for a service.
	NextVersion(service string) int64
}
