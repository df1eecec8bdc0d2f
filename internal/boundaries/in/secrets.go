package in

import "context"

// SecretService manages service-scoped secrets and enforces scope isolation.
type SecretService interface {
	// Resolve returns the secrets of scope on behalf of requester. A
	// requester may only resolve its own scope; anything else fails with
	// domain.ErrAccessDenied and no values are returned.
	Resolve(ctx context.Context, requester, scope string) (map[string]string, error)

	// ListKeys returns the key names of a scope (never values).
	ListKeys(ctx context.Context, scope string) ([]string, error)

	// Set merges secrets into a scope.
	Set(ctx context.Context, scope string, secrets map[string]string) error

	// Delete removes one key from a scope.
	Delete(ctx context.Context, scope, key string) error
}
