// Package orchestrator implements descriptor reconciliation: bringing the
// running containers of a service into agreement with a service descriptor.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"caravel/internal/boundaries/in"
	"caravel/internal/boundaries/out"
	"caravel/internal/domain"
)

// Config holds configuration needed by the orchestrator.
type Config struct {
	NamePrefix       string        // container name prefix, e.g. "caravel"
	PullMaxAttempts  uint64        // bounded pull retries before ErrPullFailed
	PullBackoffBase  time.Duration // initial pull retry interval
	ReadyWindow      time.Duration // how long a replacement may take to report running
	ReadyInterval    time.Duration // poll interval while waiting
	RegistryUsername string
	RegistryPassword string
}

func (c Config) withDefaults() Config {
	if c.NamePrefix == "" {
		c.NamePrefix = "caravel"
	}
	if c.PullMaxAttempts == 0 {
		c.PullMaxAttempts = 3
	}
	if c.PullBackoffBase == 0 {
		c.PullBackoffBase = 2 * time.Second
	}
	if c.ReadyWindow == 0 {
		c.ReadyWindow = 30 * time.Second
	}
	if c.ReadyInterval == 0 {
		c.ReadyInterval = time.Second
	}
	return c
}

// pendingSwap tracks a replacement container that has started but not yet
// been promoted. Until promotion the old container stays authoritative.
type pendingSwap struct {
	oldID     string
	newID     string
	canonical string
}

// Service implements the Orchestrator interface. It is the sole writer of
// volume lifecycle state: volumes named by a descriptor are created on
// demand and are never deleted when a descriptor stops referencing them.
type Service struct {
	runtime out.ContainerRuntime
	secrets in.SecretService
	bus     out.EventPublisher
	config  Config

	mu      sync.Mutex
	pending map[string]*pendingSwap
}

// NewService creates a new orchestrator service.
func NewService(runtime out.ContainerRuntime, secrets in.SecretService, bus out.EventPublisher, config Config) *Service {
	return &Service{
		runtime: runtime,
		secrets: secrets,
		bus:     bus,
		config:  config.withDefaults(),
		pending: make(map[string]*pendingSwap),
	}
}

// Reconcile starts a replacement container for the descriptor, pinned to the
// given image digest. The previous container, if any, keeps running and
// keeps receiving traffic until Promote.
func (s *Service) Reconcile(ctx context.Context, desc domain.ServiceDescriptor, digest string) (*domain.Container, error) {
	log := zerolog.Ctx(ctx).With().
		Str("service", desc.Name).
		Str("digest", digest).
		Logger()
	ctx = log.WithContext(ctx)

	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrReconcileFailed, err)
	}

	pullRef := pinByDigest(desc.Image, digest)
	if err := s.pullImage(ctx, pullRef); err != nil {
		return nil, err
	}

	if err := s.ensureVolumes(ctx, desc); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrReconcileFailed, err)
	}
	if err := s.ensureNetworks(ctx, desc); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrReconcileFailed, err)
	}

	// Secrets are resolved at container start time only. They go into the
	// process environment and nowhere else.
	env, err := s.resolveEnv(ctx, desc.Name)
	if err != nil {
		return nil, err
	}

	canonical := s.containerName(desc.Name)
	old := s.findByName(ctx, canonical)

	name := canonical
	if old != nil {
		name = canonical + "-next"
		// A leftover replacement from an interrupted rollout would collide.
		if stale := s.findByName(ctx, name); stale != nil {
			log.Info().Str("container_id", stale.ID).Msg("removing stale replacement container")
			if err := s.runtime.RemoveContainer(ctx, stale.ID, true); err != nil {
				return nil, fmt.Errorf("%w: removing stale replacement: %w", domain.ErrReconcileFailed, err)
			}
		}
	}

	cfg := &domain.ContainerConfig{
		Image:         pullRef,
		Name:          name,
		Hostname:      desc.Name,
		Env:           env,
		Port:          desc.Port,
		Networks:      append([]string(nil), desc.Networks...),
		Volumes:       desc.Volumes,
		RestartPolicy: desc.Restart,
		Labels: map[string]string{
			domain.LabelService: desc.Name,
			domain.LabelDigest:  digest,
			domain.LabelManaged: "true",
		},
	}

	ctr, err := s.runtime.CreateContainer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: creating container: %w", domain.ErrReconcileFailed, err)
	}

	if err := s.runtime.StartContainer(ctx, ctr.ID); err != nil {
		_ = s.runtime.RemoveContainer(ctx, ctr.ID, true)
		return nil, fmt.Errorf("%w: starting container: %w", domain.ErrReconcileFailed, err)
	}

	if err := s.waitRunning(ctx, ctr.ID); err != nil {
		// The old container remains authoritative.
		s.cleanupFailed(ctx, ctr.ID)
		return nil, err
	}

	hostPort, err := s.runtime.GetContainerPort(ctx, ctr.ID, desc.Port)
	if err != nil {
		s.cleanupFailed(ctx, ctr.ID)
		return nil, fmt.Errorf("%w: resolving host port: %w", domain.ErrReconcileFailed, err)
	}

	ctr.Port = desc.Port
	ctr.HostPort = hostPort

	swap := &pendingSwap{newID: ctr.ID, canonical: canonical}
	if old != nil {
		swap.oldID = old.ID
	}
	s.mu.Lock()
	s.pending[desc.Name] = swap
	s.mu.Unlock()

	log.Info().
		Str("container_id", ctr.ID).
		Int("host_port", hostPort).
		Bool("replacement", old != nil).
		Msg("replacement container running")

	return ctr, nil
}

// Promote decommissions the old container and renames the replacement to
// the canonical name. This is the commit point: from here on the swap runs
// to completion even if the caller's context is cancelled.
func (s *Service) Promote(ctx context.Context, service string) error {
	s.mu.Lock()
	swap, ok := s.pending[service]
	delete(s.pending, service)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: no pending replacement for %s", domain.ErrReconcileFailed, service)
	}

	// Decommissioning has begun; detach from caller cancellation.
	ctx = context.WithoutCancel(ctx)
	log := zerolog.Ctx(ctx).With().Str("service", service).Logger()

	if swap.oldID != "" {
		log.Info().Str("container_id", swap.oldID).Msg("stopping old container after zero-downtime switch")
		if err := s.runtime.StopContainer(ctx, swap.oldID); err != nil {
			log.Warn().Err(err).Str("container_id", swap.oldID).Msg("failed to stop old container")
		}
		if err := s.runtime.RemoveContainer(ctx, swap.oldID, true); err != nil {
			log.Warn().Err(err).Str("container_id", swap.oldID).Msg("failed to remove old container")
		}
	}

	if err := s.runtime.RenameContainer(ctx, swap.newID, swap.canonical); err != nil {
		log.Warn().Err(err).Str("canonical_name", swap.canonical).Msg("failed to rename container to canonical name")
	}

	return nil
}

// Abort discards a replacement that failed verification. The old container
// was never touched and stays authoritative.
func (s *Service) Abort(ctx context.Context, service string) error {
	s.mu.Lock()
	swap, ok := s.pending[service]
	delete(s.pending, service)
	s.mu.Unlock()

	if !ok {
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	s.cleanupFailed(ctx, swap.newID)
	return nil
}

// Rollback re-applies a previous known-good descriptor/digest pair through
// the same reconcile path as a forward deploy, then promotes it.
func (s *Service) Rollback(ctx context.Context, desc domain.ServiceDescriptor, digest string) (*domain.Container, error) {
	log := zerolog.Ctx(ctx).With().Str("service", desc.Name).Str("digest", digest).Logger()
	log.Info().Msg("rolling back to known-good deployment")
	ctx = log.WithContext(ctx)

	ctr, err := s.Reconcile(ctx, desc, digest)
	if err != nil {
		return nil, err
	}
	if err := s.Promote(ctx, desc.Name); err != nil {
		return nil, err
	}
	return ctr, nil
}

func (s *Service) pullImage(ctx context.Context, ref string) error {
	log := zerolog.Ctx(ctx)

	pull := func() error {
		if s.config.RegistryUsername != "" {
			return s.runtime.PullImageWithAuth(ctx, ref, s.config.RegistryUsername, s.config.RegistryPassword)
		}
		return s.runtime.PullImage(ctx, ref)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.config.PullBackoffBase

	var attempt int
	err := backoff.Retry(func() error {
		attempt++
		if err := pull(); err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Str("image", ref).Msg("image pull failed")
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(policy, s.config.PullMaxAttempts-1), ctx))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrPullFailed, ref, err)
	}

	log.Info().Str("image", ref).Msg("image pulled")
	return nil
}

// ensureVolumes creates volumes the descriptor names that do not yet exist.
// Volumes dropped from a descriptor are detached, never deleted; destroying
// a volume is an explicit operator action outside reconciliation.
func (s *Service) ensureVolumes(ctx context.Context, desc domain.ServiceDescriptor) error {
	log := zerolog.Ctx(ctx)

	for mount, name := range desc.Volumes {
		exists, err := s.runtime.VolumeExists(ctx, name)
		if err != nil {
			return fmt.Errorf("checking volume %s: %w", name, err)
		}
		if exists {
			continue
		}
		if err := s.runtime.CreateVolume(ctx, name); err != nil {
			return fmt.Errorf("creating volume %s: %w", name, err)
		}
		log.Info().Str("volume", name).Str("mount", mount).Msg("created volume")
		if s.bus != nil {
			_ = s.bus.Publish(domain.EventVolumeCreated, domain.VolumeEventPayload{
				Service: desc.Name,
				Volume:  name,
				Mount:   mount,
			})
		}
	}
	return nil
}

func (s *Service) ensureNetworks(ctx context.Context, desc domain.ServiceDescriptor) error {
	log := zerolog.Ctx(ctx)

	for _, name := range desc.Networks {
		if name == "bridge" || name == "default" {
			continue
		}
		exists, err := s.runtime.NetworkExists(ctx, name)
		if err != nil {
			return fmt.Errorf("checking network %s: %w", name, err)
		}
		if exists {
			continue
		}
		if err := s.runtime.CreateNetwork(ctx, name); err != nil {
			return fmt.Errorf("creating network %s: %w", name, err)
		}
		log.Info().Str("network", name).Msg("created network")
	}
	return nil
}

// resolveEnv resolves the service's own secret scope into KEY=VALUE pairs.
// Sorted for deterministic container configs; values are never logged.
func (s *Service) resolveEnv(ctx context.Context, service string) ([]string, error) {
	secrets, err := s.secrets.Resolve(ctx, service, service)
	if err != nil {
		if errors.Is(err, domain.ErrAccessDenied) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: resolving secrets: %w", domain.ErrReconcileFailed, err)
	}

	env := make([]string, 0, len(secrets))
	for k, v := range secrets {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	zerolog.Ctx(ctx).Debug().Int("count", len(env)).Msg("resolved secret environment")
	return env, nil
}

// waitRunning waits for the container to report running within the bounded
// ready window. Expiry is a failure, never an indefinite hang.
func (s *Service) waitRunning(ctx context.Context, containerID string) error {
	deadline := time.Now().Add(s.config.ReadyWindow)
	ticker := time.NewTicker(s.config.ReadyInterval)
	defer ticker.Stop()

	for {
		running, err := s.runtime.IsContainerRunning(ctx, containerID)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrReconcileFailed, err)
		}
		if running {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: container %s after %s", domain.ErrHealthTimeout, containerID, s.config.ReadyWindow)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", domain.ErrHealthTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Service) cleanupFailed(ctx context.Context, containerID string) {
	log := zerolog.Ctx(ctx)
	if err := s.runtime.StopContainer(ctx, containerID); err != nil {
		log.Warn().Err(err).Str("container_id", containerID).Msg("failed to stop container after failure")
	}
	if err := s.runtime.RemoveContainer(ctx, containerID, true); err != nil {
		log.Warn().Err(err).Str("container_id", containerID).Msg("failed to remove container after failure")
	}
}

func (s *Service) containerName(service string) string {
	return s.config.NamePrefix + "-" + sanitizeName(service)
}

func (s *Service) findByName(ctx context.Context, name string) *domain.Container {
	containers, err := s.runtime.ListContainers(ctx, true)
	if err != nil {
		return nil
	}
	for _, c := range containers {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// sanitizeName makes a service name safe for container naming.
func sanitizeName(service string) string {
	r := strings.NewReplacer(".", "-", ":", "-", "/", "-")
	return r.Replace(service)
}

// pinByDigest turns name:tag into name@digest so the exact published
// content is pulled, regardless of where the tag has moved since.
func pinByDigest(image, digest string) string {
	if digest == "" {
		return image
	}
	repo := image
	if i := strings.LastIndex(image, ":"); i != -1 && !strings.Contains(image[i+1:], "/") {
		repo = image[:i]
	}
	return repo + "@" + digest
}
