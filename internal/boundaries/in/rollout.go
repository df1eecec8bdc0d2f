// Package in defines input ports (interfaces) for use cases.
// These interfaces define the contract between driving adapters (HTTP, CLI)
// and the business logic (use cases).
package in

import (
	"context"

	"caravel/internal/domain"
)

// RolloutService drives the build→publish→reconcile→health-check→promote
// sequence for a single service.
type RolloutService interface {
	// Deploy rolls service out to imageRef. It returns
	// domain.ErrRolloutConflict immediately when a rollout for the same
	// service is already in flight (no queuing; the caller retries later),
	// and domain.ErrImageNotFound when imageRef does not resolve in the
	// registry. On a health failure after the replacement container
	// started, the service is automatically rolled back to the last
	// healthy deployment and the returned deployment carries the reason.
	Deploy(ctx context.Context, service, imageRef string) (*domain.Deployment, error)

	// Rollback reconciles service back to its last healthy deployment
	// through the same reconcile path as a forward deploy.
	Rollback(ctx context.Context, service string) (*domain.Deployment, error)

	// Status returns the most recent deployment of a service.
	Status(ctx context.Context, service string) (*domain.Deployment, error)

	// History returns the recorded deployments of a service, newest first.
	History(ctx context.Context, service string) ([]*domain.Deployment, error)
}
