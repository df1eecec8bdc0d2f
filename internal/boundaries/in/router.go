package in

import (
	"context"
	"net/http"

	"caravel/internal/domain"
)

// RouterService synchronizes the reverse proxy's routing table with the
// routing rules of currently healthy services and serves proxied traffic.
type RouterService interface {
	// Sync replaces the routing table with the given rules. The rules must
	// be derived from healthy running services only; re-applying an
	// identical set is a no-op.
	Sync(ctx context.Context, rules []domain.RoutingRule) error

	// ActiveRoutes returns the hosts currently routed, i.e. rules whose
	// certificate (when one is required) is bound.
	ActiveRoutes(ctx context.Context) []domain.RoutingRule

	// AllowHost reports whether a TLS handshake for host may proceed.
	// Unknown hosts fail closed at the handshake.
	AllowHost(ctx context.Context, host string) error

	http.Handler
}
