package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"caravel/internal/domain"
)

type mockRollout struct {
	mock.Mock
}

func (m *mockRollout) Deploy(ctx context.Context, service, imageRef string) (*domain.Deployment, error) {
	args := m.Called(ctx, service, imageRef)
	dep, _ := args.Get(0).(*domain.Deployment)
	return dep, args.Error(1)
}

func (m *mockRollout) Rollback(ctx context.Context, service string) (*domain.Deployment, error) {
	args := m.Called(ctx, service)
	dep, _ := args.Get(0).(*domain.Deployment)
	return dep, args.Error(1)
}

func (m *mockRollout) Status(ctx context.Context, service string) (*domain.Deployment, error) {
	args := m.Called(ctx, service)
	dep, _ := args.Get(0).(*domain.Deployment)
	return dep, args.Error(1)
}

func (m *mockRollout) History(ctx context.Context, service string) ([]*domain.Deployment, error) {
	args := m.Called(ctx, service)
	deps, _ := args.Get(0).([]*domain.Deployment)
	return deps, args.Error(1)
}

type mockRouter struct {
	mock.Mock
}

func (m *mockRouter) Sync(ctx context.Context, rules []domain.RoutingRule) error {
	return m.Called(ctx, rules).Error(0)
}

func (m *mockRouter) ActiveRoutes(ctx context.Context) []domain.RoutingRule {
	rules, _ := m.Called(ctx).Get(0).([]domain.RoutingRule)
	return rules
}

func (m *mockRouter) AllowHost(ctx context.Context, host string) error {
	return m.Called(ctx, host).Error(0)
}

func (m *mockRouter) ServeHTTP(http.ResponseWriter, *http.Request) {}

type mockSecrets struct {
	mock.Mock
}

func (m *mockSecrets) Resolve(ctx context.Context, requester, scope string) (map[string]string, error) {
	args := m.Called(ctx, requester, scope)
	values, _ := args.Get(0).(map[string]string)
	return values, args.Error(1)
}

func (m *mockSecrets) ListKeys(ctx context.Context, scope string) ([]string, error) {
	args := m.Called(ctx, scope)
	keys, _ := args.Get(0).([]string)
	return keys, args.Error(1)
}

func (m *mockSecrets) Set(ctx context.Context, scope string, secrets map[string]string) error {
	return m.Called(ctx, scope, secrets).Error(0)
}

func (m *mockSecrets) Delete(ctx context.Context, scope, key string) error {
	return m.Called(ctx, scope, key).Error(0)
}

type handlerFixture struct {
	handler *Handler
	rollout *mockRollout
	router  *mockRouter
	secrets *mockSecrets
}

func newHandlerFixture() *handlerFixture {
	f := &handlerFixture{
		rollout: new(mockRollout),
		router:  new(mockRouter),
		secrets: new(mockSecrets),
	}
	f.handler = NewHandler(f.rollout, f.router, f.secrets)
	return f
}

func healthyDeployment() *domain.Deployment {
	now := time.Now()
	return &domain.Deployment{
		Service: "api",
		Version: 3,
		Descriptor: domain.ServiceDescriptor{
			Name:  "api",
			Image: "registry.example.com/api:v3",
			Port:  8080,
		},
		ImageDigest: "sha256:abc",
		ContainerID: "ctr-3",
		Status:      domain.DeploymentHealthy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func doRequest(f *handlerFixture, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestDeployReturnsDeployment(t *testing.T) {
	f := newHandlerFixture()
	f.rollout.On("Deploy", mock.Anything, "api", "registry.example.com/api:v3").
		Return(healthyDeployment(), nil)

	rec := doRequest(f, http.MethodPost, "/api/v1/deploy",
		deployRequest{Service: "api", Image: "registry.example.com/api:v3"})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp deploymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "api", resp.Service)
	assert.Equal(t, int64(3), resp.Version)
	assert.Equal(t, string(domain.DeploymentHealthy), resp.Status)
}

func TestDeployConflictReturns409(t *testing.T) {
	f := newHandlerFixture()
	f.rollout.On("Deploy", mock.Anything, "api", "").
		Return(nil, domain.ErrRolloutConflict)

	rec := doRequest(f, http.MethodPost, "/api/v1/deploy", deployRequest{Service: "api"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeployUnknownImageReturns404(t *testing.T) {
	f := newHandlerFixture()
	f.rollout.On("Deploy", mock.Anything, "api", "ghost:v1").
		Return(nil, domain.ErrImageNotFound)

	rec := doRequest(f, http.MethodPost, "/api/v1/deploy",
		deployRequest{Service: "api", Image: "ghost:v1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeployFailureIncludesDeploymentRecord(t *testing.T) {
	f := newHandlerFixture()
	dep := healthyDeployment()
	dep.Status = domain.DeploymentRolledBack
	dep.Reason = "health probe failed"
	f.rollout.On("Deploy", mock.Anything, "api", "").
		Return(dep, domain.ErrHealthTimeout)

	rec := doRequest(f, http.MethodPost, "/api/v1/deploy", deployRequest{Service: "api"})

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var resp struct {
		Error      string             `json:"error"`
		Deployment deploymentResponse `json:"deployment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(domain.DeploymentRolledBack), resp.Deployment.Status)
	assert.Equal(t, "health probe failed", resp.Deployment.Reason)
}

func TestDeployRequiresService(t *testing.T) {
	f := newHandlerFixture()
	rec := doRequest(f, http.MethodPost, "/api/v1/deploy", deployRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeployRejectsGet(t *testing.T) {
	f := newHandlerFixture()
	rec := doRequest(f, http.MethodGet, "/api/v1/deploy", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRollback(t *testing.T) {
	f := newHandlerFixture()
	f.rollout.On("Rollback", mock.Anything, "api").Return(healthyDeployment(), nil)

	rec := doRequest(f, http.MethodPost, "/api/v1/rollback", rollbackRequest{Service: "api"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRollbackWithoutHealthyVersionReturns404(t *testing.T) {
	f := newHandlerFixture()
	f.rollout.On("Rollback", mock.Anything, "api").
		Return(nil, domain.ErrNoHealthyVersion)

	rec := doRequest(f, http.MethodPost, "/api/v1/rollback", rollbackRequest{Service: "api"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatus(t *testing.T) {
	f := newHandlerFixture()
	f.rollout.On("Status", mock.Anything, "api").Return(healthyDeployment(), nil)

	rec := doRequest(f, http.MethodGet, "/api/v1/status/api", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp deploymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sha256:abc", resp.ImageDigest)
}

func TestStatusUnknownService(t *testing.T) {
	f := newHandlerFixture()
	f.rollout.On("Status", mock.Anything, "ghost").
		Return(nil, domain.ErrServiceNotFound)

	rec := doRequest(f, http.MethodGet, "/api/v1/status/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistory(t *testing.T) {
	f := newHandlerFixture()
	f.rollout.On("History", mock.Anything, "api").
		Return([]*domain.Deployment{healthyDeployment()}, nil)

	rec := doRequest(f, http.MethodGet, "/api/v1/history/api", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Deployments []deploymentResponse `json:"deployments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Deployments, 1)
}

func TestRoutes(t *testing.T) {
	f := newHandlerFixture()
	f.router.On("ActiveRoutes", mock.Anything).Return([]domain.RoutingRule{
		{Host: "api.example.com", Service: "api", Entrypoint: domain.EntrypointWebSecure, CertResolver: "letsencrypt"},
	})

	rec := doRequest(f, http.MethodGet, "/api/v1/routes", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Routes []routeResponse `json:"routes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Routes, 1)
	assert.Equal(t, "api.example.com", resp.Routes[0].Host)
}

func TestSecretsListNeverReturnsValues(t *testing.T) {
	f := newHandlerFixture()
	f.secrets.On("ListKeys", mock.Anything, "api").Return([]string{"API_KEY"}, nil)

	rec := doRequest(f, http.MethodGet, "/api/v1/secrets/api", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "API_KEY")
	assert.NotContains(t, rec.Body.String(), "values")
}

func TestSecretsSet(t *testing.T) {
	f := newHandlerFixture()
	f.secrets.On("Set", mock.Anything, "api", map[string]string{"API_KEY": "s3cret"}).Return(nil)

	rec := doRequest(f, http.MethodPost, "/api/v1/secrets/api", map[string]string{"API_KEY": "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecretsDelete(t *testing.T) {
	f := newHandlerFixture()
	f.secrets.On("Delete", mock.Anything, "api", "API_KEY").Return(nil)

	rec := doRequest(f, http.MethodDelete, "/api/v1/secrets/api/API_KEY", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecretsDeleteUnknownKey(t *testing.T) {
	f := newHandlerFixture()
	f.secrets.On("Delete", mock.Anything, "api", "GHOST").
		Return(domain.ErrSecretNotFound)

	rec := doRequest(f, http.MethodDelete, "/api/v1/secrets/api/GHOST", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownPathReturns404(t *testing.T) {
	f := newHandlerFixture()
	rec := doRequest(f, http.MethodGet, "/api/v1/nonsense", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
