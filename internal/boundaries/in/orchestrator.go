package in

import (
	"context"

	"caravel/internal/domain"
)

// Orchestrator reconciles a service descriptor against running containers.
// A reconcile starts the replacement container next to the old one; the old
// container keeps serving until Promote. Rollback re-applies a previous
// known-good descriptor through the same reconcile path, which is what
// guarantees behavioral parity between forward deploys and rollbacks.
type Orchestrator interface {
	// Reconcile pulls the image pinned by digest, creates missing volumes
	// and networks, and starts the replacement container with secrets
	// injected at start time. The previous container, if any, remains
	// authoritative until Promote.
	Reconcile(ctx context.Context, desc domain.ServiceDescriptor, digest string) (*domain.Container, error)

	// Promote decommissions the previous container and gives the
	// replacement the canonical name. Once promotion begins the operation
	// is committed and runs to completion even if ctx is cancelled.
	Promote(ctx context.Context, service string) error

	// Abort discards a replacement container that failed verification; the
	// previous container stays authoritative.
	Abort(ctx context.Context, service string) error

	// Rollback reconciles and promotes a previous known-good
	// descriptor/digest pair.
	Rollback(ctx context.Context, desc domain.ServiceDescriptor, digest string) (*domain.Container, error)
}
