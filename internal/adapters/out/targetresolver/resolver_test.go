package targetresolver

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"caravel/internal/adapters/out/deploystore"
	"caravel/internal/boundaries/out/mocks"
	"caravel/internal/domain"
)

func healthyDeployment(t *testing.T, store *deploystore.FileStore, service, containerID string) {
	t.Helper()
	ctx := context.Background()
	d := &domain.Deployment{
		Service: service,
		Version: 1,
		Descriptor: domain.ServiceDescriptor{
			Name:  service,
			Image: "registry.example.com/" + service + ":v1",
			Port:  8080,
		},
		ImageDigest: "sha256:abc",
		Status:      domain.DeploymentPending,
	}
	require.NoError(t, store.Begin(ctx, d))
	require.NoError(t, d.Transition(domain.DeploymentRollingOut))
	require.NoError(t, d.Transition(domain.DeploymentHealthy))
	d.ContainerID = containerID
	require.NoError(t, store.Update(ctx, d))
}

func newFixture(t *testing.T) (*Resolver, *deploystore.FileStore, *mocks.MockContainerRuntime) {
	t.Helper()
	store, err := deploystore.NewFileStore(filepath.Join(t.TempDir(), "deployments.json"))
	require.NoError(t, err)
	runtime := new(mocks.MockContainerRuntime)
	return NewResolver(store, runtime), store, runtime
}

func TestResolveHealthyService(t *testing.T) {
	resolver, store, runtime := newFixture(t)
	healthyDeployment(t, store, "api", "ctr-1")

	runtime.On("IsContainerRunning", mock.Anything, "ctr-1").Return(true, nil)
	runtime.On("GetContainerPort", mock.Anything, "ctr-1", 8080).Return(49153, nil)

	target, err := resolver.Resolve(context.Background(), "api")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", target.Host)
	assert.Equal(t, 49153, target.Port)
	assert.Equal(t, "ctr-1", target.ContainerID)
	assert.Equal(t, "http", target.Scheme)
}

func TestResolveNoHealthyDeployment(t *testing.T) {
	resolver, _, runtime := newFixture(t)

	_, err := resolver.Resolve(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNoHealthyVersion)
	runtime.AssertNotCalled(t, "IsContainerRunning", mock.Anything, mock.Anything)
}

func TestResolveContainerStopped(t *testing.T) {
	resolver, store, runtime := newFixture(t)
	healthyDeployment(t, store, "api", "ctr-1")

	runtime.On("IsContainerRunning", mock.Anything, "ctr-1").Return(false, nil)

	_, err := resolver.Resolve(context.Background(), "api")
	assert.ErrorIs(t, err, domain.ErrNoTargetAvailable)
}

func TestResolveRuntimeError(t *testing.T) {
	resolver, store, runtime := newFixture(t)
	healthyDeployment(t, store, "api", "ctr-1")

	runtime.On("IsContainerRunning", mock.Anything, "ctr-1").
		Return(false, errors.New("daemon unreachable"))

	_, err := resolver.Resolve(context.Background(), "api")
	assert.ErrorIs(t, err, domain.ErrNoTargetAvailable)
}

func TestResolvePortLookupFails(t *testing.T) {
	resolver, store, runtime := newFixture(t)
	healthyDeployment(t, store, "api", "ctr-1")

	runtime.On("IsContainerRunning", mock.Anything, "ctr-1").Return(true, nil)
	runtime.On("GetContainerPort", mock.Anything, "ctr-1", 8080).
		Return(0, errors.New("no published port"))

	_, err := resolver.Resolve(context.Background(), "api")
	assert.ErrorIs(t, err, domain.ErrNoTargetAvailable)
}
