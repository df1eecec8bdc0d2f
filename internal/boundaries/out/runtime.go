// Package out defines output ports (interfaces) for infrastructure.
// These interfaces define the contract between use cases and driven adapters
// (Docker, registry, filesystem, etc.).
package out

import (
	"context"

	"caravel/internal/domain"
)

// ContainerRuntime defines the contract for container runtime operations.
// This interface abstracts the underlying container runtime (Docker, Podman, etc.).
type ContainerRuntime interface {
	// Container lifecycle
	CreateContainer(ctx context.Context, config *domain.ContainerConfig) (*domain.Container, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string) error
	RemoveContainer(ctx context.Context, containerID string, force bool) error
	RenameContainer(ctx context.Context, containerID, newName string) error

	// Container inspection
	ListContainers(ctx context.Context, all bool) ([]*domain.Container, error)
	InspectContainer(ctx context.Context, containerID string) (*domain.Container, error)
	IsContainerRunning(ctx context.Context, containerID string) (bool, error)
	GetContainerPort(ctx context.Context, containerID string, internalPort int) (int, error)

	// Image operations
	PullImage(ctx context.Context, image string) error
	PullImageWithAuth(ctx context.Context, image, username, password string) error

	// Volume management
	VolumeExists(ctx context.Context, volumeName string) (bool, error)
	CreateVolume(ctx context.Context, volumeName string) error

	// Network management
	NetworkExists(ctx context.Context, name string) (bool, error)
	CreateNetwork(ctx context.Context, name string) error

	// Runtime information
	Ping(ctx context.Context) error
	Version(ctx context.Context) (string, error)
}
