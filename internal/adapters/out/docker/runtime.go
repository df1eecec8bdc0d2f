// Package docker implements the container runtime adapter using the Docker API.
package docker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"

	"caravel/internal/domain"
)

// stopTimeoutSeconds is passed to the engine on stop and restart.
const stopTimeoutSeconds = 30

// Runtime implements the ContainerRuntime interface using the Docker API.
type Runtime struct {
	client *client.Client
}

// NewRuntime creates a new Docker runtime instance.
func NewRuntime() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &Runtime{client: cli}, nil
}

// NewRuntimeWithClient creates a new Docker runtime instance with a custom client (for testing).
func NewRuntimeWithClient(cli *client.Client) *Runtime {
	return &Runtime{client: cli}
}

// CreateContainer creates a new container. The service port is published to
// a random host port; the proxy discovers the binding afterwards.
func (r *Runtime) CreateContainer(ctx context.Context, config *domain.ContainerConfig) (*domain.Container, error) {
	log := zerolog.Ctx(ctx).With().
		Str("container_name", config.Name).
		Str("image", config.Image).
		Logger()

	exposedPorts := make(nat.PortSet)
	portBindings := make(nat.PortMap)
	if config.Port > 0 {
		containerPort := nat.Port(fmt.Sprintf("%d/tcp", config.Port))
		exposedPorts[containerPort] = struct{}{}
		portBindings[containerPort] = []nat.PortBinding{
			{HostIP: "127.0.0.1", HostPort: "0"}, // random available host port
		}
	}

	var binds []string
	for containerPath, volumeName := range config.Volumes {
		binds = append(binds, fmt.Sprintf("%s:%s", volumeName, containerPath))
		log.Debug().Str("volume", volumeName).Str("mount_path", containerPath).Msg("adding volume mount")
	}

	containerConfig := &container.Config{
		Image:        config.Image,
		Hostname:     config.Hostname,
		Env:          config.Env,
		ExposedPorts: exposedPorts,
		Labels:       config.Labels,
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        binds,
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyMode(config.RestartPolicy),
		},
	}

	// The first custom network becomes the create-time network; extras are
	// connected after creation.
	var networkConfig *network.NetworkingConfig
	var extraNetworks []string
	for _, name := range config.Networks {
		if name == "" || name == "default" || name == "bridge" {
			continue
		}
		if networkConfig == nil {
			networkConfig = &network.NetworkingConfig{
				EndpointsConfig: map[string]*network.EndpointSettings{
					name: {Aliases: []string{config.Hostname}},
				},
			}
			continue
		}
		extraNetworks = append(extraNetworks, name)
	}

	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, networkConfig, nil, config.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	for _, name := range extraNetworks {
		if err := r.client.NetworkConnect(ctx, name, resp.ID, nil); err != nil {
			_ = r.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
			return nil, fmt.Errorf("failed to connect container to network %s: %w", name, err)
		}
	}

	log.Info().Str("container_id", resp.ID).Msg("container created")
	return r.InspectContainer(ctx, resp.ID)
}

// StartContainer starts a container.
func (r *Runtime) StartContainer(ctx context.Context, containerID string) error {
	if err := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("container_id", containerID).Msg("container started")
	return nil
}

// StopContainer stops a container.
func (r *Runtime) StopContainer(ctx context.Context, containerID string) error {
	timeout := stopTimeoutSeconds
	if err := r.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("container_id", containerID).Msg("container stopped")
	return nil
}

// RemoveContainer removes a container.
func (r *Runtime) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	if err := r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force}); err != nil {
		if cerrdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", domain.ErrContainerNotFound, containerID)
		}
		return fmt.Errorf("failed to remove container: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("container_id", containerID).Msg("container removed")
	return nil
}

// RenameContainer renames a container.
func (r *Runtime) RenameContainer(ctx context.Context, containerID, newName string) error {
	if err := r.client.ContainerRename(ctx, containerID, newName); err != nil {
		return fmt.Errorf("failed to rename container: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("container_id", containerID).Str("new_name", newName).Msg("container renamed")
	return nil
}

// ListContainers lists containers.
func (r *Runtime) ListContainers(ctx context.Context, all bool) ([]*domain.Container, error) {
	containers, err := r.client.ContainerList(ctx, container.ListOptions{All: all})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var result []*domain.Container
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		result = append(result, &domain.Container{
			ID:     c.ID,
			Image:  c.Image,
			Name:   name,
			Status: c.Status,
			Labels: c.Labels,
		})
	}
	return result, nil
}

// InspectContainer inspects a container.
func (r *Runtime) InspectContainer(ctx context.Context, containerID string) (*domain.Container, error) {
	resp, err := r.client.ContainerInspect(ctx, containerID)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrContainerNotFound, containerID)
		}
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	ctr := &domain.Container{
		ID:     resp.ID,
		Image:  resp.Config.Image,
		Name:   strings.TrimPrefix(resp.Name, "/"),
		Status: resp.State.Status,
		Labels: resp.Config.Labels,
	}

	// Surface the first published binding; services publish one port.
	if resp.NetworkSettings != nil {
		for containerPort, bindings := range resp.NetworkSettings.Ports {
			if len(bindings) == 0 {
				continue
			}
			if port, err := strconv.Atoi(containerPort.Port()); err == nil {
				ctr.Port = port
			}
			if hostPort, err := strconv.Atoi(bindings[0].HostPort); err == nil {
				ctr.HostPort = hostPort
			}
			break
		}
	}
	return ctr, nil
}

// IsContainerRunning checks if a container is running.
func (r *Runtime) IsContainerRunning(ctx context.Context, containerID string) (bool, error) {
	ctr, err := r.InspectContainer(ctx, containerID)
	if err != nil {
		return false, err
	}
	return ctr.Status == string(domain.ContainerStatusRunning), nil
}

// GetContainerPort gets the host port bound to a container's internal port.
func (r *Runtime) GetContainerPort(ctx context.Context, containerID string, internalPort int) (int, error) {
	resp, err := r.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect container: %w", err)
	}

	if resp.NetworkSettings == nil || resp.NetworkSettings.Ports == nil {
		return 0, fmt.Errorf("no port mappings found for container %s", containerID)
	}

	containerPort := nat.Port(fmt.Sprintf("%d/tcp", internalPort))
	bindings, exists := resp.NetworkSettings.Ports[containerPort]
	if !exists || len(bindings) == 0 {
		return 0, fmt.Errorf("port %d not mapped for container %s", internalPort, containerID)
	}

	hostPort, err := strconv.Atoi(bindings[0].HostPort)
	if err != nil {
		return 0, fmt.Errorf("invalid host port for container %s: %w", containerID, err)
	}
	return hostPort, nil
}

// PullImage pulls an image.
func (r *Runtime) PullImage(ctx context.Context, imageRef string) error {
	log := zerolog.Ctx(ctx).With().Str("image", imageRef).Logger()
	log.Info().Msg("pulling image")

	reader, err := r.client.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", domain.ErrImageNotFound, imageRef)
		}
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	// The pull only completes once the response stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to read pull response: %w", err)
	}

	log.Info().Msg("image pulled")
	return nil
}

// PullImageWithAuth pulls an image with registry credentials.
func (r *Runtime) PullImageWithAuth(ctx context.Context, imageRef, username, password string) error {
	log := zerolog.Ctx(ctx).With().Str("image", imageRef).Str("username", username).Logger()
	log.Info().Msg("pulling image with authentication")

	serverAddress := imageRef
	if idx := strings.Index(imageRef, "/"); idx > 0 {
		serverAddress = imageRef[:idx]
	}

	authConfig := registry.AuthConfig{
		Username:      username,
		Password:      password,
		ServerAddress: serverAddress,
	}
	authConfigBytes, err := json.Marshal(authConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal auth config: %w", err)
	}
	authStr := base64.StdEncoding.EncodeToString(authConfigBytes)

	reader, err := r.client.ImagePull(ctx, imageRef, image.PullOptions{RegistryAuth: authStr})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", domain.ErrImageNotFound, imageRef)
		}
		return fmt.Errorf("failed to pull image with auth: %w", err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to read pull response: %w", err)
	}

	log.Info().Msg("image pulled")
	return nil
}

// VolumeExists checks if a volume exists.
func (r *Runtime) VolumeExists(ctx context.Context, volumeName string) (bool, error) {
	_, err := r.client.VolumeInspect(ctx, volumeName)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect volume: %w", err)
	}
	return true, nil
}

// CreateVolume creates a named volume.
func (r *Runtime) CreateVolume(ctx context.Context, volumeName string) error {
	_, err := r.client.VolumeCreate(ctx, volume.CreateOptions{
		Name:   volumeName,
		Labels: map[string]string{domain.LabelManaged: "true"},
	})
	if err != nil {
		return fmt.Errorf("failed to create volume: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("volume", volumeName).Msg("volume created")
	return nil
}

// NetworkExists checks if a network exists.
func (r *Runtime) NetworkExists(ctx context.Context, name string) (bool, error) {
	_, err := r.client.NetworkInspect(ctx, name, network.InspectOptions{})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect network: %w", err)
	}
	return true, nil
}

// CreateNetwork creates a bridge network.
func (r *Runtime) CreateNetwork(ctx context.Context, name string) error {
	_, err := r.client.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{domain.LabelManaged: "true"},
	})
	if err != nil {
		return fmt.Errorf("failed to create network: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("network", name).Msg("network created")
	return nil
}

// Ping checks if the engine is responsive.
func (r *Runtime) Ping(ctx context.Context) error {
	if _, err := r.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping failed: %w", err)
	}
	return nil
}

// Version returns the engine version.
func (r *Runtime) Version(ctx context.Context) (string, error) {
	version, err := r.client.ServerVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get Docker version: %w", err)
	}
	return version.Version, nil
}
