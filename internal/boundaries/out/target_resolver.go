package out

import (
	"context"

	"caravel/internal/domain"
)

// TargetResolver is the outbound port for resolving a service to the proxy
// target of its current healthy container. Resolution fails closed: a
// service without a healthy running container has no target.
type TargetResolver interface {
	Resolve(ctx context.Context, service string) (*domain.ProxyTarget, error)
}
