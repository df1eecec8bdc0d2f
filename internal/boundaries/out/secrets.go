package out

import "context"

// SecretStore is the outbound port for scope-keyed secret storage. A scope
// is a service name; values are only ever handed to the orchestrator at
// container start and must never appear in logs or descriptors.
type SecretStore interface {
	// GetAll returns every secret in a scope.
	GetAll(ctx context.Context, scope string) (map[string]string, error)

	// ListKeys returns the key names in a scope (no values).
	ListKeys(ctx context.Context, scope string) ([]string, error)

	// Set merges the given secrets into a scope.
	Set(ctx context.Context, scope string, secrets map[string]string) error

	// Delete removes one key from a scope.
	Delete(ctx context.Context, scope, key string) error
}
