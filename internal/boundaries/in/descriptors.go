package in

import (
	"context"

	"caravel/internal/domain"
)

// DescriptorSource exposes the declared service topology. Descriptors are
// re-read per deploy; a rollout always snapshots its own immutable copy.
type DescriptorSource interface {
	// Descriptor returns the declared descriptor for a service.
	Descriptor(ctx context.Context, service string) (domain.ServiceDescriptor, bool)

	// Descriptors returns all declared service descriptors.
	Descriptors(ctx context.Context) []domain.ServiceDescriptor
}
