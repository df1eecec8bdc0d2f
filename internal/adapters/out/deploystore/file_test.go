package deploystore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caravel/internal/domain"
)

func testDeployment(service string, version int64) *domain.Deployment {
	return &domain.Deployment{
		Service: service,
		Version: version,
		Descriptor: domain.ServiceDescriptor{
			Name:    service,
			Image:   "registry.example.com/" + service + ":v1",
			Restart: domain.RestartPolicyUnlessStopped,
			Port:    8080,
			Volumes: map[string]string{"/data": service + "-data"},
			Route: domain.RoutingRule{
				Host:         service + ".example.com",
				Service:      service,
				Entrypoint:   domain.EntrypointWebSecure,
				CertResolver: "letsencrypt",
			},
		},
		ImageDigest: "sha256:abc",
		Status:      domain.DeploymentPending,
	}
}

func newStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deployments.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	return store, path
}

func TestBeginRejectsSecondInFlight(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Begin(ctx, testDeployment("api", 1)))

	err := store.Begin(ctx, testDeployment("api", 2))
	assert.ErrorIs(t, err, domain.ErrRolloutConflict)

	// A different service is unaffected.
	require.NoError(t, store.Begin(ctx, testDeployment("web", 1)))
}

func TestBeginAllowsAfterTerminalStatus(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	d := testDeployment("api", 1)
	require.NoError(t, store.Begin(ctx, d))
	require.NoError(t, d.Transition(domain.DeploymentRollingOut))
	require.NoError(t, d.Fail("pull failed"))
	require.NoError(t, store.Update(ctx, d))

	require.NoError(t, store.Begin(ctx, testDeployment("api", 2)))
}

func TestConcurrentBeginAdmitsExactlyOne(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Begin(ctx, testDeployment("api", int64(i+1)))
		}(i)
	}
	wg.Wait()

	var won, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		default:
			assert.ErrorIs(t, err, domain.ErrRolloutConflict)
			conflicts++
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, n-1, conflicts)
}

func TestLastHealthySkipsFailedDeployments(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	v1 := testDeployment("api", 1)
	require.NoError(t, store.Begin(ctx, v1))
	require.NoError(t, v1.Transition(domain.DeploymentRollingOut))
	require.NoError(t, v1.Transition(domain.DeploymentHealthy))
	require.NoError(t, store.Update(ctx, v1))

	v2 := testDeployment("api", 2)
	require.NoError(t, store.Begin(ctx, v2))
	require.NoError(t, v2.Transition(domain.DeploymentRollingOut))
	require.NoError(t, v2.RollBack("health probe failed"))
	require.NoError(t, store.Update(ctx, v2))

	healthy, ok := store.LastHealthy("api")
	require.True(t, ok)
	assert.Equal(t, int64(1), healthy.Version)

	current, ok := store.Current("api")
	require.True(t, ok)
	assert.Equal(t, int64(2), current.Version)
	assert.Equal(t, domain.DeploymentRolledBack, current.Status)
}

func TestStateSurvivesReopen(t *testing.T) {
	store, path := newStore(t)
	ctx := context.Background()

	d := testDeployment("api", 1)
	require.NoError(t, store.Begin(ctx, d))
	require.NoError(t, d.Transition(domain.DeploymentRollingOut))
	require.NoError(t, d.Transition(domain.DeploymentHealthy))
	d.ContainerID = "ctr-1"
	require.NoError(t, store.Update(ctx, d))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)

	healthy, ok := reopened.LastHealthy("api")
	require.True(t, ok)
	assert.Equal(t, "ctr-1", healthy.ContainerID)
	assert.Equal(t, "sha256:abc", healthy.ImageDigest)
	assert.Equal(t, "api.example.com", healthy.Descriptor.Route.Host)
	assert.Equal(t, "api-data", healthy.Descriptor.Volumes["/data"])
	assert.Equal(t, int64(2), reopened.NextVersion("api"))
}

func TestHistoryNewestFirst(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	for v := int64(1); v <= 3; v++ {
		d := testDeployment("api", v)
		require.NoError(t, store.Begin(ctx, d))
		require.NoError(t, d.Transition(domain.DeploymentRollingOut))
		require.NoError(t, d.Transition(domain.DeploymentHealthy))
		require.NoError(t, store.Update(ctx, d))
	}

	history := store.History("api")
	require.Len(t, history, 3)
	assert.Equal(t, int64(3), history[0].Version)
	assert.Equal(t, int64(1), history[2].Version)
}

func TestReopenFailsInterruptedRollout(t *testing.T) {
	store, path := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Begin(ctx, testDeployment("api", 1)))

	// A crash between Begin and the terminal Update leaves the record in
	// flight on disk; reopening must release the rollout slot.
	reopened, err := NewFileStore(path)
	require.NoError(t, err)

	current, ok := reopened.Current("api")
	require.True(t, ok)
	assert.Equal(t, domain.DeploymentFailed, current.Status)
	assert.Contains(t, current.Reason, "interrupted")

	require.NoError(t, reopened.Begin(ctx, testDeployment("api", 2)))
}

func TestUpdateUnknownDeployment(t *testing.T) {
	store, _ := newStore(t)

	err := store.Update(context.Background(), testDeployment("api", 7))
	assert.Error(t, err)
}

func TestServicesSorted(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Begin(ctx, testDeployment("web", 1)))
	require.NoError(t, store.Begin(ctx, testDeployment("api", 1)))

	assert.Equal(t, []string{"api", "web"}, store.Services())
}
