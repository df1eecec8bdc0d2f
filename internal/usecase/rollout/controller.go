// Package rollout implements the rollout controller: the single-writer
// state machine that drives build→publish→reconcile→health-check→promote
// (or rollback) for each service.
package rollout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"caravel/internal/adapters/out/telemetry"
	"caravel/internal/boundaries/in"
	"caravel/internal/boundaries/out"
	"caravel/internal/domain"
)

// Config holds the health-probe knobs. The source material leaves probe
// criteria and retry parameters open, so they are configuration with
// defaults rather than constants.
type Config struct {
	ProbeHost        string        // host the mapped container port is reachable on
	ProbePath        string        // HTTP path probed on the replacement container
	ProbeTimeout     time.Duration // per-attempt timeout
	ProbeMaxAttempts uint64        // attempt cap before the rollout is declared failed
	ProbeBackoffBase time.Duration // initial backoff between attempts
}

func (c Config) withDefaults() Config {
	if c.ProbeHost == "" {
		c.ProbeHost = "127.0.0.1"
	}
	if c.ProbePath == "" {
		c.ProbePath = "/"
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.ProbeMaxAttempts == 0 {
		c.ProbeMaxAttempts = 5
	}
	if c.ProbeBackoffBase == 0 {
		c.ProbeBackoffBase = 500 * time.Millisecond
	}
	return c
}

// Controller implements the RolloutService interface. Mutual exclusion per
// service comes from the deployment store's compare-and-swap Begin: the
// second of two concurrent deploys gets ErrRolloutConflict and is never
// queued. Distinct services share no lock and roll out concurrently.
type Controller struct {
	descriptors in.DescriptorSource
	orch        in.Orchestrator
	router      in.RouterService
	registry    out.ImageRegistry
	store       out.DeploymentStore
	prober      out.HTTPProber
	bus         out.EventPublisher
	metrics     *telemetry.Metrics
	config      Config
}

// NewController creates a new rollout controller.
func NewController(
	descriptors in.DescriptorSource,
	orch in.Orchestrator,
	router in.RouterService,
	registry out.ImageRegistry,
	store out.DeploymentStore,
	prober out.HTTPProber,
	bus out.EventPublisher,
	metrics *telemetry.Metrics,
	config Config,
) *Controller {
	return &Controller{
		descriptors: descriptors,
		orch:        orch,
		router:      router,
		registry:    registry,
		store:       store,
		prober:      prober,
		bus:         bus,
		metrics:     metrics,
		config:      config.withDefaults(),
	}
}

// Deploy rolls service out to imageRef (or the descriptor's declared image
// when imageRef is empty).
func (c *Controller) Deploy(ctx context.Context, service, imageRef string) (*domain.Deployment, error) {
	desc, ok := c.descriptors.Descriptor(ctx, service)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrServiceNotFound, service)
	}

	snapshot := desc.Clone()
	if imageRef != "" {
		snapshot.Image = imageRef
	}

	// The reference must resolve in the registry before anything is touched.
	digest, err := c.registry.ResolveDigest(ctx, snapshot.Image)
	if err != nil {
		return nil, err
	}

	return c.run(ctx, snapshot, digest, false)
}

// Rollback reconciles service back to its last healthy deployment. It runs
// the same path as a forward deploy, pinned to the known-good digest.
func (c *Controller) Rollback(ctx context.Context, service string) (*domain.Deployment, error) {
	prev, ok := c.store.LastHealthy(service)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoHealthyVersion, service)
	}
	return c.run(ctx, prev.Descriptor.Clone(), prev.ImageDigest, true)
}

// Status returns the most recent deployment of a service.
func (c *Controller) Status(_ context.Context, service string) (*domain.Deployment, error) {
	d, ok := c.store.Current(service)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrServiceNotFound, service)
	}
	return d, nil
}

// History returns the recorded deployments of a service, newest first.
func (c *Controller) History(_ context.Context, service string) ([]*domain.Deployment, error) {
	h := c.store.History(service)
	if len(h) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrServiceNotFound, service)
	}
	return h, nil
}

// run executes one rollout transition. Exactly one run is in flight per
// service at any time; the store's Begin enforces that.
func (c *Controller) run(ctx context.Context, desc domain.ServiceDescriptor, digest string, isRollback bool) (*domain.Deployment, error) {
	service := desc.Name
	log := zerolog.Ctx(ctx).With().
		Str("service", service).
		Str("image", desc.Image).
		Str("digest", digest).
		Bool("rollback", isRollback).
		Logger()
	ctx = log.WithContext(ctx)
	started := time.Now()

	dep := &domain.Deployment{
		Service:     service,
		Version:     c.store.NextVersion(service),
		Descriptor:  desc,
		ImageDigest: digest,
		Status:      domain.DeploymentPending,
		CreatedAt:   started,
		UpdatedAt:   started,
	}

	if err := c.store.Begin(ctx, dep); err != nil {
		if errors.Is(err, domain.ErrRolloutConflict) {
			log.Warn().Msg("rollout rejected, another rollout is in flight")
		}
		return nil, err
	}

	c.publish(domain.EventRolloutStarted, dep)
	c.metrics.RolloutTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service)))

	if err := dep.Transition(domain.DeploymentRollingOut); err != nil {
		return nil, err
	}
	if err := c.store.Update(ctx, dep); err != nil {
		return nil, err
	}
	log.Info().Int64("version", dep.Version).Msg("rollout started")

	prev, hadPrev := c.store.LastHealthy(service)

	ctr, err := c.orch.Reconcile(ctx, desc, digest)
	if err != nil {
		// Nothing was promoted; the previous container was never touched
		// and remains authoritative.
		return c.fail(ctx, dep, hadPrev, fmt.Sprintf("reconcile: %v", err), err)
	}

	if err := c.probe(ctx, ctr); err != nil {
		// The replacement started but never passed verification: discard
		// it and restore authority to the last known-good deployment.
		if abortErr := c.orch.Abort(ctx, service); abortErr != nil {
			log.Warn().Err(abortErr).Msg("failed to discard unhealthy replacement")
		}
		return c.rollBack(ctx, dep, prev, hadPrev, fmt.Sprintf("health probe: %v", err), err)
	}

	// Cancellation is honored only up to this point. Once decommissioning
	// of the old container begins the rollout is committed.
	if err := ctx.Err(); err != nil {
		if abortErr := c.orch.Abort(ctx, service); abortErr != nil {
			log.Warn().Err(abortErr).Msg("failed to discard replacement after cancellation")
		}
		return c.fail(ctx, dep, hadPrev, "cancelled before promotion", err)
	}

	if err := c.orch.Promote(ctx, service); err != nil {
		// Promotion is the only step that can leave the service without a
		// serving container; re-apply the known-good deployment.
		if hadPrev {
			if _, rbErr := c.orch.Rollback(ctx, prev.Descriptor.Clone(), prev.ImageDigest); rbErr != nil {
				log.Error().Err(rbErr).Msg("rollback after failed promotion also failed")
			}
		}
		return c.rollBack(ctx, dep, prev, hadPrev, fmt.Sprintf("promote: %v", err), err)
	}

	dep.ContainerID = ctr.ID
	if err := dep.Transition(domain.DeploymentHealthy); err != nil {
		return nil, err
	}
	if err := c.store.Update(ctx, dep); err != nil {
		return nil, err
	}

	c.syncRoutes(ctx)
	c.publish(domain.EventRolloutSucceeded, dep)
	c.metrics.RolloutDuration.Record(ctx, time.Since(started).Seconds(),
		metric.WithAttributes(attribute.String("service", service)))

	log.Info().
		Int64("version", dep.Version).
		Str("container_id", ctr.ID).
		Dur("took", time.Since(started)).
		Msg("rollout healthy")

	return dep, nil
}

// probe health-checks the replacement container with exponential backoff
// and a fixed attempt cap. Success is any HTTP status below 500.
func (c *Controller) probe(ctx context.Context, ctr *domain.Container) error {
	log := zerolog.Ctx(ctx)
	url := fmt.Sprintf("http://%s:%d%s", c.config.ProbeHost, ctr.HostPort, c.config.ProbePath)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.ProbeBackoffBase

	var attempt int
	return backoff.Retry(func() error {
		attempt++
		probeCtx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
		defer cancel()

		status, ms, err := c.prober.Probe(probeCtx, url)
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Str("url", url).Msg("health probe failed")
			return err
		}
		if status >= 500 {
			err := fmt.Errorf("unhealthy status %d", status)
			log.Debug().Err(err).Int("attempt", attempt).Str("url", url).Msg("health probe failed")
			return err
		}
		log.Debug().Int("status", status).Int64("response_ms", ms).Int("attempt", attempt).Msg("health probe passed")
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(policy, c.config.ProbeMaxAttempts-1), ctx))
}

// fail records a failed rollout. The previous deployment, when one exists,
// was never displaced, so no reconciliation is needed to restore it.
func (c *Controller) fail(ctx context.Context, dep *domain.Deployment, hadPrev bool, reason string, cause error) (*domain.Deployment, error) {
	log := zerolog.Ctx(ctx)

	if err := dep.Fail(reason); err != nil {
		log.Error().Err(err).Msg("failed to record rollout failure")
	}
	if err := c.store.Update(ctx, dep); err != nil {
		log.Error().Err(err).Msg("failed to persist rollout failure")
	}

	c.syncRoutes(ctx)
	c.publish(domain.EventRolloutFailed, dep)
	c.metrics.RolloutErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("service", dep.Service)))

	log.Error().Err(cause).Bool("previous_retained", hadPrev).Str("reason", reason).Msg("rollout failed")
	return dep, cause
}

// rollBack records a rollout that was automatically rolled back to the last
// healthy deployment.
func (c *Controller) rollBack(ctx context.Context, dep *domain.Deployment, prev *domain.Deployment, hadPrev bool, reason string, cause error) (*domain.Deployment, error) {
	log := zerolog.Ctx(ctx)

	if !hadPrev {
		// First deploy of the service: there is nothing to restore.
		return c.fail(ctx, dep, false, reason, cause)
	}

	if err := dep.RollBack(reason); err != nil {
		log.Error().Err(err).Msg("failed to record rollback")
	}
	if err := c.store.Update(ctx, dep); err != nil {
		log.Error().Err(err).Msg("failed to persist rollback")
	}

	c.syncRoutes(ctx)
	c.publish(domain.EventRolloutRolledBack, dep)
	c.metrics.Rollbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("service", dep.Service)))

	log.Warn().
		Err(cause).
		Int64("restored_version", prev.Version).
		Str("restored_digest", prev.ImageDigest).
		Str("reason", reason).
		Msg("rollout rolled back to last healthy deployment")

	return dep, cause
}

// syncRoutes rebuilds the routing table from services that currently have a
// healthy deployment. Everything else gets no route (fail-closed).
func (c *Controller) syncRoutes(ctx context.Context) {
	var rules []domain.RoutingRule
	for _, service := range c.store.Services() {
		dep, ok := c.store.LastHealthy(service)
		if !ok {
			continue
		}
		if dep.Descriptor.Route != (domain.RoutingRule{}) {
			rules = append(rules, dep.Descriptor.Route)
		}
	}

	if err := c.router.Sync(ctx, rules); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("router sync failed")
	}
}

func (c *Controller) publish(eventType domain.EventType, dep *domain.Deployment) {
	if c.bus == nil {
		return
	}
	err := c.bus.Publish(eventType, domain.RolloutEventPayload{
		Service:     dep.Service,
		Version:     dep.Version,
		Image:       dep.Descriptor.Image,
		ImageDigest: dep.ImageDigest,
		Status:      dep.Status,
		Reason:      dep.Reason,
	})
	if err != nil && c.metrics != nil {
		c.metrics.EventsDropped.Add(context.Background(), 1)
	}
}
