// Package mocks provides testify mocks for the output ports.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"caravel/internal/domain"
)

// MockContainerRuntime is a mock implementation of out.ContainerRuntime.
type MockContainerRuntime struct {
	mock.Mock
}

func (m *MockContainerRuntime) CreateContainer(ctx context.Context, config *domain.ContainerConfig) (*domain.Container, error) {
	args := m.Called(ctx, config)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Container), args.Error(1)
}

func (m *MockContainerRuntime) StartContainer(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockContainerRuntime) StopContainer(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockContainerRuntime) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	args := m.Called(ctx, containerID, force)
	return args.Error(0)
}

func (m *MockContainerRuntime) RenameContainer(ctx context.Context, containerID, newName string) error {
	args := m.Called(ctx, containerID, newName)
	return args.Error(0)
}

func (m *MockContainerRuntime) ListContainers(ctx context.Context, all bool) ([]*domain.Container, error) {
	args := m.Called(ctx, all)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Container), args.Error(1)
}

func (m *MockContainerRuntime) InspectContainer(ctx context.Context, containerID string) (*domain.Container, error) {
	args := m.Called(ctx, containerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Container), args.Error(1)
}

func (m *MockContainerRuntime) IsContainerRunning(ctx context.Context, containerID string) (bool, error) {
	args := m.Called(ctx, containerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockContainerRuntime) GetContainerPort(ctx context.Context, containerID string, internalPort int) (int, error) {
	args := m.Called(ctx, containerID, internalPort)
	return args.Int(0), args.Error(1)
}

func (m *MockContainerRuntime) PullImage(ctx context.Context, image string) error {
	args := m.Called(ctx, image)
	return args.Error(0)
}

func (m *MockContainerRuntime) PullImageWithAuth(ctx context.Context, image, username, password string) error {
	args := m.Called(ctx, image, username, password)
	return args.Error(0)
}

func (m *MockContainerRuntime) VolumeExists(ctx context.Context, volumeName string) (bool, error) {
	args := m.Called(ctx, volumeName)
	return args.Bool(0), args.Error(1)
}

func (m *MockContainerRuntime) CreateVolume(ctx context.Context, volumeName string) error {
	args := m.Called(ctx, volumeName)
	return args.Error(0)
}

func (m *MockContainerRuntime) NetworkExists(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *MockContainerRuntime) CreateNetwork(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockContainerRuntime) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockContainerRuntime) Version(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// MockImageRegistry is a mock implementation of out.ImageRegistry.
type MockImageRegistry struct {
	mock.Mock
}

func (m *MockImageRegistry) ResolveDigest(ctx context.Context, ref string) (string, error) {
	args := m.Called(ctx, ref)
	return args.String(0), args.Error(1)
}

func (m *MockImageRegistry) ListTags(ctx context.Context, repository string) ([]string, error) {
	args := m.Called(ctx, repository)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockSecretStore is a mock implementation of out.SecretStore.
type MockSecretStore struct {
	mock.Mock
}

func (m *MockSecretStore) GetAll(ctx context.Context, scope string) (map[string]string, error) {
	args := m.Called(ctx, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

func (m *MockSecretStore) ListKeys(ctx context.Context, scope string) ([]string, error) {
	args := m.Called(ctx, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockSecretStore) Set(ctx context.Context, scope string, secrets map[string]string) error {
	args := m.Called(ctx, scope, secrets)
	return args.Error(0)
}

func (m *MockSecretStore) Delete(ctx context.Context, scope, key string) error {
	args := m.Called(ctx, scope, key)
	return args.Error(0)
}

// MockEventPublisher is a mock implementation of out.EventPublisher.
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(eventType domain.EventType, payload any) error {
	args := m.Called(eventType, payload)
	return args.Error(0)
}

// MockHTTPProber is a mock implementation of out.HTTPProber.
type MockHTTPProber struct {
	mock.Mock
}

func (m *MockHTTPProber) Probe(ctx context.Context, url string) (int, int64, error) {
	args := m.Called(ctx, url)
	return args.Int(0), args.Get(1).(int64), args.Error(2)
}

// MockCertificateResolver is a mock implementation of out.CertificateResolver.
type MockCertificateResolver struct {
	mock.Mock
}

func (m *MockCertificateResolver) Obtain(ctx context.Context, host string) error {
	args := m.Called(ctx, host)
	return args.Error(0)
}

func (m *MockCertificateResolver) Ready(host string) bool {
	args := m.Called(host)
	return args.Bool(0)
}

// MockTargetResolver is a mock implementation of out.TargetResolver.
type MockTargetResolver struct {
	mock.Mock
}

func (m *MockTargetResolver) Resolve(ctx context.Context, service string) (*domain.ProxyTarget, error) {
	args := m.Called(ctx, service)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ProxyTarget), args.Error(1)
}
