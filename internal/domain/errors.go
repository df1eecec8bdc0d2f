package domain

import "errors"

// Domain errors represent business-level failure conditions shared across
// layers. Retryable conditions (pull failures) are retried with bounded
// backoff by their callers; correctness and authorization errors are
// surfaced immediately and never retried.
var (
	// Rollout errors
	ErrImageNotFound     = errors.New("image not found in registry")
	ErrPullFailed        = errors.New("failed to pull image")
	ErrRolloutConflict   = errors.New("a rollout is already in flight for this service")
	ErrHealthTimeout     = errors.New("container did not become healthy within the allowed window")
	ErrReconcileFailed   = errors.New("reconciliation failed")
	ErrInvalidTransition = errors.New("invalid deployment status transition")
	ErrServiceNotFound   = errors.New("service is not declared")
	ErrNoHealthyVersion  = errors.New("no healthy deployment to roll back to")

	// Container errors
	ErrContainerNotFound = errors.New("container not found")

	// Routing errors
	ErrRouteNotFound          = errors.New("route not found")
	ErrNoTargetAvailable      = errors.New("no healthy target available for route")
	ErrCertificateUnavailable = errors.New("no certificate bound for host")

	// Secret errors
	ErrAccessDenied   = errors.New("secret scope access denied")
	ErrSecretNotFound = errors.New("secret not found")
)
