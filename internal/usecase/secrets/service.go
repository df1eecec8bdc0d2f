// Package secrets implements the scoped secret management use case.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"caravel/internal/boundaries/out"
	"caravel/internal/domain"
)

// Scope validation errors.
var (
	ErrScopeEmpty         = errors.New("scope cannot be empty")
	ErrScopeTooLong       = errors.New("scope exceeds maximum length of 253 characters")
	ErrScopePathTraversal = errors.New("scope contains path traversal sequence")
	ErrScopeInvalidChars  = errors.New("scope contains invalid characters")
)

// Service implements the SecretService interface. Every read is checked
// against the requesting service: a service may only resolve its own scope,
// and a violation is ErrAccessDenied, never a silently empty result.
type Service struct {
	store out.SecretStore
}

// NewService creates a new secrets service.
func NewService(store out.SecretStore) *Service {
	return &Service{store: store}
}

// Resolve returns all secrets of scope for injection into a starting
// container. The requester must own the scope. Values are never logged,
// only counts.
func (s *Service) Resolve(ctx context.Context, requester, scope string) (map[string]string, error) {
	log := zerolog.Ctx(ctx).With().
		Str("requester", requester).
		Str("scope", scope).
		Logger()

	if err := ValidateScope(scope); err != nil {
		log.Warn().Err(err).Msg("scope validation failed")
		return nil, err
	}
	if requester != scope {
		log.Warn().Msg("cross-scope secret access denied")
		return nil, fmt.Errorf("%w: service %q requested scope %q", domain.ErrAccessDenied, requester, scope)
	}

	values, err := s.store.GetAll(ctx, scope)
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve secrets")
		return nil, err
	}

	log.Debug().Int("count", len(values)).Msg("resolved secrets")
	return values, nil
}

// ListKeys returns the secret keys of a scope (not values).
func (s *Service) ListKeys(ctx context.Context, scope string) ([]string, error) {
	log := zerolog.Ctx(ctx).With().Str("scope", scope).Logger()

	if err := ValidateScope(scope); err != nil {
		log.Warn().Err(err).Msg("scope validation failed")
		return nil, err
	}

	keys, err := s.store.ListKeys(ctx, scope)
	if err != nil {
		log.Error().Err(err).Msg("failed to list secret keys")
		return nil, err
	}

	log.Debug().Int("count", len(keys)).Msg("listed secret keys")
	return keys, nil
}

// Set sets or updates multiple secrets for a scope, merging with existing.
func (s *Service) Set(ctx context.Context, scope string, values map[string]string) error {
	log := zerolog.Ctx(ctx).With().Str("scope", scope).Logger()

	if err := ValidateScope(scope); err != nil {
		log.Warn().Err(err).Msg("scope validation failed")
		return err
	}

	if err := s.store.Set(ctx, scope, values); err != nil {
		log.Error().Err(err).Msg("failed to set secrets")
		return err
	}

	log.Info().Int("count", len(values)).Msg("secrets set")
	return nil
}

// Delete removes a specific secret key from a scope.
func (s *Service) Delete(ctx context.Context, scope, key string) error {
	log := zerolog.Ctx(ctx).With().Str("scope", scope).Str("key", key).Logger()

	if err := ValidateScope(scope); err != nil {
		log.Warn().Err(err).Msg("scope validation failed")
		return err
	}

	if err := s.store.Delete(ctx, scope, key); err != nil {
		log.Error().Err(err).Msg("failed to delete secret")
		return err
	}

	log.Info().Msg("secret deleted")
	return nil
}

// ValidateScope validates that a scope is safe to use for secret storage.
// Scopes are service names and end up in file paths, so traversal sequences
// and control bytes are rejected outright.
func ValidateScope(scope string) error {
	if scope == "" {
		return ErrScopeEmpty
	}
	if len(scope) > 253 {
		return ErrScopeTooLong
	}
	if strings.Contains(scope, "..") {
		return ErrScopePathTraversal
	}
	if strings.ContainsAny(scope, "/\\") || strings.ContainsRune(scope, '\x00') {
		return ErrScopeInvalidChars
	}
	return nil
}
