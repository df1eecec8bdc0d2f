package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"caravel/internal/boundaries/out/mocks"
	"caravel/internal/domain"
)

// fakeSecrets satisfies in.SecretService with a fixed per-scope map.
type fakeSecrets struct {
	values map[string]map[string]string
	err    error
}

func (f *fakeSecrets) Resolve(_ context.Context, requester, scope string) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	if requester != scope {
		return nil, domain.ErrAccessDenied
	}
	return f.values[scope], nil
}

func (f *fakeSecrets) ListKeys(context.Context, string) ([]string, error) { return nil, nil }
func (f *fakeSecrets) Set(context.Context, string, map[string]string) error {
	return nil
}
func (f *fakeSecrets) Delete(context.Context, string, string) error { return nil }

func testConfig() Config {
	return Config{
		PullMaxAttempts: 3,
		PullBackoffBase: time.Millisecond,
		ReadyWindow:     20 * time.Millisecond,
		ReadyInterval:   time.Millisecond,
	}
}

func testDescriptor() domain.ServiceDescriptor {
	return domain.ServiceDescriptor{
		Name:    "api",
		Image:   "registry.example.com/api:v2",
		Restart: domain.RestartPolicyUnlessStopped,
		Port:    8080,
		Volumes: map[string]string{"/data": "api-data"},
		Route: domain.RoutingRule{
			Host:       "api.example.com",
			Service:    "api",
			Entrypoint: domain.EntrypointWeb,
		},
	}
}

func newService(runtime *mocks.MockContainerRuntime, bus *mocks.MockEventPublisher) *Service {
	secrets := &fakeSecrets{values: map[string]map[string]string{
		"api": {"DATABASE_URL": "postgres://db/app", "API_KEY": "k"},
	}}
	return NewService(runtime, secrets, bus, testConfig())
}

func TestReconcileFirstDeploy(t *testing.T) {
	runtime := &mocks.MockContainerRuntime{}
	bus := &mocks.MockEventPublisher{}
	bus.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()
	svc := newService(runtime, bus)

	// The pull must be pinned by digest, not by the moving tag.
	runtime.On("PullImage", mock.Anything, "registry.example.com/api@sha256:abc").Return(nil)
	runtime.On("VolumeExists", mock.Anything, "api-data").Return(true, nil)
	runtime.On("ListContainers", mock.Anything, true).Return([]*domain.Container{}, nil)
	runtime.On("CreateContainer", mock.Anything, mock.MatchedBy(func(cfg *domain.ContainerConfig) bool {
		return cfg.Name == "caravel-api" &&
			cfg.Image == "registry.example.com/api@sha256:abc" &&
			cfg.Labels[domain.LabelService] == "api" &&
			cfg.Labels[domain.LabelDigest] == "sha256:abc" &&
			len(cfg.Env) == 2 && cfg.Env[0] == "API_KEY=k" // sorted
	})).Return(&domain.Container{ID: "ctr-1", Name: "caravel-api"}, nil)
	runtime.On("StartContainer", mock.Anything, "ctr-1").Return(nil)
	runtime.On("IsContainerRunning", mock.Anything, "ctr-1").Return(true, nil)
	runtime.On("GetContainerPort", mock.Anything, "ctr-1", 8080).Return(49000, nil)

	ctr, err := svc.Reconcile(context.Background(), testDescriptor(), "sha256:abc")
	require.NoError(t, err)
	assert.Equal(t, "ctr-1", ctr.ID)
	assert.Equal(t, 49000, ctr.HostPort)
	assert.Equal(t, 8080, ctr.Port)

	runtime.AssertExpectations(t)
}

func TestReconcileReplacementGetsNextName(t *testing.T) {
	runtime := &mocks.MockContainerRuntime{}
	svc := newService(runtime, nil)

	old := &domain.Container{ID: "old-ctr", Name: "caravel-api"}

	runtime.On("PullImage", mock.Anything, mock.Anything).Return(nil)
	runtime.On("VolumeExists", mock.Anything, "api-data").Return(true, nil)
	runtime.On("ListContainers", mock.Anything, true).Return([]*domain.Container{old}, nil)
	runtime.On("CreateContainer", mock.Anything, mock.MatchedBy(func(cfg *domain.ContainerConfig) bool {
		return cfg.Name == "caravel-api-next"
	})).Return(&domain.Container{ID: "new-ctr", Name: "caravel-api-next"}, nil)
	runtime.On("StartContainer", mock.Anything, "new-ctr").Return(nil)
	runtime.On("IsContainerRunning", mock.Anything, "new-ctr").Return(true, nil)
	runtime.On("GetContainerPort", mock.Anything, "new-ctr", 8080).Return(49001, nil)

	_, err := svc.Reconcile(context.Background(), testDescriptor(), "sha256:v2")
	require.NoError(t, err)

	// The old container keeps running until promotion.
	runtime.AssertNotCalled(t, "StopContainer", mock.Anything, "old-ctr")
	runtime.AssertNotCalled(t, "RemoveContainer", mock.Anything, "old-ctr", mock.Anything)
}

func TestReconcilePullRetriesExhausted(t *testing.T) {
	runtime := &mocks.MockContainerRuntime{}
	svc := newService(runtime, nil)

	runtime.On("PullImage", mock.Anything, mock.Anything).Return(errors.New("registry unreachable"))

	_, err := svc.Reconcile(context.Background(), testDescriptor(), "sha256:v2")
	assert.ErrorIs(t, err, domain.ErrPullFailed)

	// Bounded retries, then give up: no container work happens.
	runtime.AssertNumberOfCalls(t, "PullImage", 3)
	runtime.AssertNotCalled(t, "CreateContainer", mock.Anything, mock.Anything)
}

func TestReconcileCreatesMissingVolumes(t *testing.T) {
	runtime := &mocks.MockContainerRuntime{}
	bus := &mocks.MockEventPublisher{}
	svc := newService(runtime, bus)

	runtime.On("PullImage", mock.Anything, mock.Anything).Return(nil)
	runtime.On("VolumeExists", mock.Anything, "api-data").Return(false, nil)
	runtime.On("CreateVolume", mock.Anything, "api-data").Return(nil)
	runtime.On("ListContainers", mock.Anything, true).Return([]*domain.Container{}, nil)
	runtime.On("CreateContainer", mock.Anything, mock.Anything).
		Return(&domain.Container{ID: "ctr-1"}, nil)
	runtime.On("StartContainer", mock.Anything, "ctr-1").Return(nil)
	runtime.On("IsContainerRunning", mock.Anything, "ctr-1").Return(true, nil)
	runtime.On("GetContainerPort", mock.Anything, "ctr-1", 8080).Return(49000, nil)

	bus.On("Publish", domain.EventVolumeCreated, mock.MatchedBy(func(p domain.VolumeEventPayload) bool {
		return p.Volume == "api-data" && p.Mount == "/data" && p.Service == "api"
	})).Return(nil).Once()

	_, err := svc.Reconcile(context.Background(), testDescriptor(), "sha256:v2")
	require.NoError(t, err)

	bus.AssertExpectations(t)
}

func TestReconcileReadyWindowExpires(t *testing.T) {
	runtime := &mocks.MockContainerRuntime{}
	svc := newService(runtime, nil)

	old := &domain.Container{ID: "old-ctr", Name: "caravel-api"}

	runtime.On("PullImage", mock.Anything, mock.Anything).Return(nil)
	runtime.On("VolumeExists", mock.Anything, "api-data").Return(true, nil)
	runtime.On("ListContainers", mock.Anything, true).Return([]*domain.Container{old}, nil)
	runtime.On("CreateContainer", mock.Anything, mock.Anything).
		Return(&domain.Container{ID: "new-ctr"}, nil)
	runtime.On("StartContainer", mock.Anything, "new-ctr").Return(nil)
	runtime.On("IsContainerRunning", mock.Anything, "new-ctr").Return(false, nil)
	runtime.On("StopContainer", mock.Anything, "new-ctr").Return(nil)
	runtime.On("RemoveContainer", mock.Anything, "new-ctr", true).Return(nil)

	_, err := svc.Reconcile(context.Background(), testDescriptor(), "sha256:v2")
	assert.ErrorIs(t, err, domain.ErrHealthTimeout)

	// The failed replacement is cleaned up; the old container is untouched.
	runtime.AssertCalled(t, "RemoveContainer", mock.Anything, "new-ctr", true)
	runtime.AssertNotCalled(t, "StopContainer", mock.Anything, "old-ctr")
}

func TestPromoteSwapsContainers(t *testing.T) {
	runtime := &mocks.MockContainerRuntime{}
	svc := newService(runtime, nil)

	old := &domain.Container{ID: "old-ctr", Name: "caravel-api"}

	runtime.On("PullImage", mock.Anything, mock.Anything).Return(nil)
	runtime.On("VolumeExists", mock.Anything, "api-data").Return(true, nil)
	runtime.On("ListContainers", mock.Anything, true).Return([]*domain.Container{old}, nil)
	runtime.On("CreateContainer", mock.Anything, mock.Anything).
		Return(&domain.Container{ID: "new-ctr"}, nil)
	runtime.On("StartContainer", mock.Anything, "new-ctr").Return(nil)
	runtime.On("IsContainerRunning", mock.Anything, "new-ctr").Return(true, nil)
	runtime.On("GetContainerPort", mock.Anything, "new-ctr", 8080).Return(49001, nil)

	_, err := svc.Reconcile(context.Background(), testDescriptor(), "sha256:v2")
	require.NoError(t, err)

	runtime.On("StopContainer", mock.Anything, "old-ctr").Return(nil)
	runtime.On("RemoveContainer", mock.Anything, "old-ctr", true).Return(nil)
	runtime.On("RenameContainer", mock.Anything, "new-ctr", "caravel-api").Return(nil)

	require.NoError(t, svc.Promote(context.Background(), "api"))
	runtime.AssertExpectations(t)

	// The pending swap is consumed; a second promote has nothing to do.
	assert.ErrorIs(t, svc.Promote(context.Background(), "api"), domain.ErrReconcileFailed)
}

func TestPromoteRunsAfterCancellation(t *testing.T) {
	runtime := &mocks.MockContainerRuntime{}
	svc := newService(runtime, nil)

	runtime.On("PullImage", mock.Anything, mock.Anything).Return(nil)
	runtime.On("VolumeExists", mock.Anything, "api-data").Return(true, nil)
	runtime.On("ListContainers", mock.Anything, true).Return([]*domain.Container{
		{ID: "old-ctr", Name: "caravel-api"},
	}, nil)
	runtime.On("CreateContainer", mock.Anything, mock.Anything).
		Return(&domain.Container{ID: "new-ctr"}, nil)
	runtime.On("StartContainer", mock.Anything, "new-ctr").Return(nil)
	runtime.On("IsContainerRunning", mock.Anything, "new-ctr").Return(true, nil)
	runtime.On("GetContainerPort", mock.Anything, "new-ctr", 8080).Return(49001, nil)

	_, err := svc.Reconcile(context.Background(), testDescriptor(), "sha256:v2")
	require.NoError(t, err)

	stopped := make(chan struct{})
	runtime.On("StopContainer", mock.MatchedBy(func(ctx context.Context) bool {
		// The decommission must run under a context detached from the
		// caller's cancellation.
		return ctx.Err() == nil
	}), "old-ctr").Run(func(mock.Arguments) { close(stopped) }).Return(nil)
	runtime.On("RemoveContainer", mock.Anything, "old-ctr", true).Return(nil)
	runtime.On("RenameContainer", mock.Anything, "new-ctr", "caravel-api").Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, svc.Promote(ctx, "api"))
	<-stopped
}

func TestAbortDiscardsReplacement(t *testing.T) {
	runtime := &mocks.MockContainerRuntime{}
	svc := newService(runtime, nil)

	runtime.On("PullImage", mock.Anything, mock.Anything).Return(nil)
	runtime.On("VolumeExists", mock.Anything, "api-data").Return(true, nil)
	runtime.On("ListContainers", mock.Anything, true).Return([]*domain.Container{
		{ID: "old-ctr", Name: "caravel-api"},
	}, nil)
	runtime.On("CreateContainer", mock.Anything, mock.Anything).
		Return(&domain.Container{ID: "new-ctr"}, nil)
	runtime.On("StartContainer", mock.Anything, "new-ctr").Return(nil)
	runtime.On("IsContainerRunning", mock.Anything, "new-ctr").Return(true, nil)
	runtime.On("GetContainerPort", mock.Anything, "new-ctr", 8080).Return(49001, nil)

	_, err := svc.Reconcile(context.Background(), testDescriptor(), "sha256:v2")
	require.NoError(t, err)

	runtime.On("StopContainer", mock.Anything, "new-ctr").Return(nil)
	runtime.On("RemoveContainer", mock.Anything, "new-ctr", true).Return(nil)

	require.NoError(t, svc.Abort(context.Background(), "api"))

	runtime.AssertNotCalled(t, "StopContainer", mock.Anything, "old-ctr")
	runtime.AssertNotCalled(t, "RenameContainer", mock.Anything, mock.Anything, mock.Anything)

	// Aborting with nothing pending is a no-op.
	require.NoError(t, svc.Abort(context.Background(), "api"))
}

func TestReconcileSecretsFailureStopsRollout(t *testing.T) {
	runtime := &mocks.MockContainerRuntime{}
	secrets := &fakeSecrets{err: domain.ErrAccessDenied}
	svc := NewService(runtime, secrets, nil, testConfig())

	runtime.On("PullImage", mock.Anything, mock.Anything).Return(nil)
	runtime.On("VolumeExists", mock.Anything, "api-data").Return(true, nil)

	_, err := svc.Reconcile(context.Background(), testDescriptor(), "sha256:v2")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	runtime.AssertNotCalled(t, "CreateContainer", mock.Anything, mock.Anything)
}

func TestReconcileRejectsInvalidDescriptor(t *testing.T) {
	runtime := &mocks.MockContainerRuntime{}
	svc := newService(runtime, nil)

	desc := testDescriptor()
	desc.Port = 0

	_, err := svc.Reconcile(context.Background(), desc, "sha256:v2")
	assert.ErrorIs(t, err, domain.ErrReconcileFailed)
	runtime.AssertNotCalled(t, "PullImage", mock.Anything, mock.Anything)
}

func TestPinByDigest(t *testing.T) {
	tests := []struct {
		image  string
		digest string
		want   string
	}{
		{"registry.example.com/api:v2", "sha256:abc", "registry.example.com/api@sha256:abc"},
		{"registry.example.com/api", "sha256:abc", "registry.example.com/api@sha256:abc"},
		{"localhost:5000/api", "sha256:abc", "localhost:5000/api@sha256:abc"},
		{"localhost:5000/api:v2", "sha256:abc", "localhost:5000/api@sha256:abc"},
		{"registry.example.com/api:v2", "", "registry.example.com/api:v2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pinByDigest(tt.image, tt.digest), tt.image)
	}
}
