// Package secretstore implements the secret store adapter with per-scope
// dotenv files.
package secretstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"caravel/internal/domain"
)

// FileStore implements the SecretStore interface. Each scope gets its own
// dotenv file under dir, readable only by the controller (0600). Values
// never appear in logs.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a new file-based secret store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create secrets directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// GetAll returns all secrets of a scope. A scope without a file simply has
// no secrets.
func (s *FileStore) GetAll(ctx context.Context, scope string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read(scope)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Debug().Str("scope", scope).Int("count", len(values)).Msg("read secrets")
	return values, nil
}

// ListKeys returns the sorted secret keys of a scope (not values).
func (s *FileStore) ListKeys(_ context.Context, scope string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read(scope)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Set sets or updates secrets for a scope, merging with existing keys.
func (s *FileStore) Set(ctx context.Context, scope string, secrets map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read(scope)
	if err != nil {
		return err
	}
	for k, v := range secrets {
		values[k] = v
	}
	if err := s.write(scope, values); err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().Str("scope", scope).Int("count", len(secrets)).Msg("secrets written")
	return nil
}

// Delete removes a single key from a scope.
func (s *FileStore) Delete(ctx context.Context, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read(scope)
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return fmt.Errorf("%w: %s in scope %s", domain.ErrSecretNotFound, key, scope)
	}
	delete(values, key)
	if err := s.write(scope, values); err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().Str("scope", scope).Str("key", key).Msg("secret deleted")
	return nil
}

func (s *FileStore) read(scope string) (map[string]string, error) {
	path := s.path(scope)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets for scope %s: %w", scope, err)
	}
	return values, nil
}

func (s *FileStore) write(scope string, values map[string]string) error {
	content, err := godotenv.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode secrets for scope %s: %w", scope, err)
	}
	if err := os.WriteFile(s.path(scope), []byte(content+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write secrets for scope %s: %w", scope, err)
	}
	return nil
}

func (s *FileStore) path(scope string) string {
	safe := strings.NewReplacer(".", "_", ":", "_", "/", "_").Replace(scope)
	return filepath.Join(s.dir, safe+".env")
}
