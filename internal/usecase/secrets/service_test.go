package secrets

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"caravel/internal/boundaries/out/mocks"
	"caravel/internal/domain"
)

func TestResolveOwnScope(t *testing.T) {
	store := &mocks.MockSecretStore{}
	store.On("GetAll", mock.Anything, "api").
		Return(map[string]string{"DATABASE_URL": "postgres://db/app"}, nil)

	svc := NewService(store)
	values, err := svc.Resolve(context.Background(), "api", "api")
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/app", values["DATABASE_URL"])
}

func TestResolveCrossScopeDenied(t *testing.T) {
	store := &mocks.MockSecretStore{}
	svc := NewService(store)

	_, err := svc.Resolve(context.Background(), "web", "api")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	// The store must never be consulted for a denied request.
	store.AssertNotCalled(t, "GetAll", mock.Anything, mock.Anything)
}

func TestValidateScope(t *testing.T) {
	tests := []struct {
		name    string
		scope   string
		wantErr error
	}{
		{"valid", "api", nil},
		{"valid with dash", "my-service", nil},
		{"empty", "", ErrScopeEmpty},
		{"too long", strings.Repeat("a", 254), ErrScopeTooLong},
		{"path traversal", "../etc", ErrScopePathTraversal},
		{"slash", "a/b", ErrScopeInvalidChars},
		{"backslash", `a\b`, ErrScopeInvalidChars},
		{"null byte", "a\x00b", ErrScopeInvalidChars},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateScope(tt.scope)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestSetAndDeleteValidateScope(t *testing.T) {
	store := &mocks.MockSecretStore{}
	svc := NewService(store)

	err := svc.Set(context.Background(), "../escape", map[string]string{"K": "v"})
	assert.ErrorIs(t, err, ErrScopePathTraversal)

	err = svc.Delete(context.Background(), "", "K")
	assert.ErrorIs(t, err, ErrScopeEmpty)

	store.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
}

func TestListKeysPassesThrough(t *testing.T) {
	store := &mocks.MockSecretStore{}
	store.On("ListKeys", mock.Anything, "api").Return([]string{"A", "B"}, nil)

	svc := NewService(store)
	keys, err := svc.ListKeys(context.Background(), "api")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, keys)
}
