// Package router implements the reverse proxy routing use case.
package router

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"caravel/internal/adapters/out/telemetry"
	"caravel/internal/boundaries/out"
	"caravel/internal/domain"
)

// proxyTransport is a shared HTTP transport with proper timeouts.
// This prevents resource exhaustion from slow backends or network issues.
var proxyTransport = &http.Transport{
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	TLSHandshakeTimeout:   10 * time.Second,
	ResponseHeaderTimeout: 30 * time.Second,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
}

// maxProxyBodySize is the maximum request body size for proxied requests (512MB).
const maxProxyBodySize = 512 << 20

// Service implements the RouterService interface. Routes fail closed: a
// host is served only while its rule is in the synced table and, for TLS
// entrypoints, its certificate is bound. Everything else is a 404.
type Service struct {
	certs    out.CertificateResolver
	resolver out.TargetResolver
	bus      out.EventPublisher
	metrics  *telemetry.Metrics

	mu      sync.RWMutex
	rules   map[string]domain.RoutingRule // keyed by host
	targets map[string]*domain.ProxyTarget

	lastActive  int64
	lastPending int64
}

// NewService creates a new router service.
func NewService(certs out.CertificateResolver, resolver out.TargetResolver, bus out.EventPublisher, metrics *telemetry.Metrics) *Service {
	return &Service{
		certs:    certs,
		resolver: resolver,
		bus:      bus,
		metrics:  metrics,
		rules:    make(map[string]domain.RoutingRule),
		targets:  make(map[string]*domain.ProxyTarget),
	}
}

// Sync replaces the routing table with rules. Re-applying an identical set
// is a no-op. Certificates for TLS entrypoints are requested eagerly, but a
// rule whose certificate is not yet bound simply stays inactive until the
// next handshake binds it.
func (s *Service) Sync(ctx context.Context, rules []domain.RoutingRule) error {
	log := zerolog.Ctx(ctx)

	desired := make(map[string]domain.RoutingRule, len(rules))
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %w", domain.ErrReconcileFailed, rule.Host, err)
		}
		desired[rule.Host] = rule
	}

	s.mu.Lock()
	if rulesEqual(s.rules, desired) {
		s.mu.Unlock()
		log.Debug().Int("routes", len(desired)).Msg("routing table unchanged")
		return nil
	}

	var added, removed []string
	for host := range desired {
		if _, ok := s.rules[host]; !ok {
			added = append(added, host)
		}
	}
	for host := range s.rules {
		if _, ok := desired[host]; !ok {
			removed = append(removed, host)
		}
	}

	s.rules = desired
	// Targets of changed hosts must be re-resolved against the new
	// container; dropping the whole cache is cheaper than diffing it.
	s.targets = make(map[string]*domain.ProxyTarget)
	s.mu.Unlock()

	sort.Strings(added)
	sort.Strings(removed)

	// Eagerly request certificates so TLS routes activate without waiting
	// for the first visitor.
	var pending []string
	for _, rule := range desired {
		if !rule.NeedsCertificate() {
			continue
		}
		if s.certs.Ready(rule.Host) {
			continue
		}
		if err := s.certs.Obtain(ctx, rule.Host); err != nil {
			log.Warn().Err(err).Str("host", rule.Host).Msg("certificate not yet available, route stays inactive")
			pending = append(pending, rule.Host)
		}
	}
	sort.Strings(pending)

	s.recordGauges(ctx, desired)

	if s.bus != nil {
		if err := s.bus.Publish(domain.EventRouteSynced, domain.RouteSyncPayload{
			Added:   added,
			Removed: removed,
			Pending: pending,
		}); err != nil {
			log.Warn().Err(err).Msg("failed to publish route sync event")
		}
	}

	log.Info().
		Int("routes", len(desired)).
		Strs("added", added).
		Strs("removed", removed).
		Strs("pending_certificate", pending).
		Msg("routing table synced")
	return nil
}

// ActiveRoutes returns the rules currently served, i.e. synced rules whose
// certificate (when one is required) is bound. Activation is evaluated
// live so a certificate bound after Sync activates its route without
// another sync.
func (s *Service) ActiveRoutes(_ context.Context) []domain.RoutingRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []domain.RoutingRule
	for _, rule := range s.rules {
		if s.ruleActive(rule) {
			active = append(active, rule)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Host < active[j].Host })
	return active
}

// AllowHost reports whether a TLS handshake for host may proceed. Only
// hosts with a synced TLS rule are allowed; everything else fails closed
// at the handshake, which is what keeps the certificate authority from
// being asked for arbitrary names.
func (s *Service) AllowHost(_ context.Context, host string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[host]
	if !ok || !rule.NeedsCertificate() {
		return fmt.Errorf("%w: %s", domain.ErrRouteNotFound, host)
	}
	return nil
}

// ServeHTTP proxies a request to the healthy container behind the request
// host. Unknown and inactive hosts get a plain 404 with no routing detail.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxProxyBodySize)

	host := requestHost(r)
	log := zerolog.Ctx(r.Context()).With().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("host", host).
		Str("client_ip", r.RemoteAddr).
		Logger()
	r = r.WithContext(log.WithContext(r.Context()))

	s.mu.RLock()
	rule, ok := s.rules[host]
	s.mu.RUnlock()
	if !ok || !s.ruleActive(rule) {
		log.Debug().Msg("no active route for host")
		http.NotFound(w, r)
		return
	}

	target, err := s.getTarget(r.Context(), host, rule)
	if err != nil {
		log.Warn().Err(err).Str("service", rule.Service).Msg("no target available for route")
		http.NotFound(w, r)
		return
	}

	s.proxyToTarget(w, r, target)
}

// getTarget resolves and caches the upstream for a host.
func (s *Service) getTarget(ctx context.Context, host string, rule domain.RoutingRule) (*domain.ProxyTarget, error) {
	s.mu.RLock()
	if target, exists := s.targets[host]; exists {
		s.mu.RUnlock()
		return target, nil
	}
	s.mu.RUnlock()

	target, err := s.resolver.Resolve(ctx, rule.Service)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.targets[host] = target
	s.mu.Unlock()
	return target, nil
}

func (s *Service) ruleActive(rule domain.RoutingRule) bool {
	if !rule.NeedsCertificate() {
		return true
	}
	return s.certs.Ready(rule.Host)
}

func (s *Service) recordGauges(ctx context.Context, desired map[string]domain.RoutingRule) {
	var active, pending int64
	for _, rule := range desired {
		if s.ruleActive(rule) {
			active++
		} else {
			pending++
		}
	}

	s.mu.Lock()
	dActive, dPending := active-s.lastActive, pending-s.lastPending
	s.lastActive, s.lastPending = active, pending
	s.mu.Unlock()

	s.metrics.RoutesActive.Add(ctx, dActive)
	s.metrics.RoutesPending.Add(ctx, dPending)
}

// newReverseProxy creates a reverse proxy using Rewrite instead of Director to prevent
// hop-by-hop header attacks. A malicious client could send "Connection: Authorization"
// to strip the Authorization header when using the default Director. Rewrite processes
// headers after hop-by-hop removal, ensuring headers like Authorization are preserved.
func newReverseProxy(targetURL *url.URL, errorHandler func(http.ResponseWriter, *http.Request, error)) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(targetURL)
			// SetXForwarded derives X-Forwarded-Proto from the actual
			// connection state. The incoming header is not preserved because
			// it cannot be trusted.
			pr.SetXForwarded()
			pr.Out.Host = targetURL.Host
		},
		Transport:    proxyTransport,
		ErrorHandler: errorHandler,
		ModifyResponse: func(resp *http.Response) error {
			resp.Header.Set("X-Proxied-By", "Caravel")
			return nil
		},
	}
}

func (s *Service) proxyToTarget(w http.ResponseWriter, r *http.Request, target *domain.ProxyTarget) {
	log := zerolog.Ctx(r.Context())

	targetURL, err := url.Parse(fmt.Sprintf("%s://%s:%d", target.Scheme, target.Host, target.Port))
	if err != nil {
		log.Error().Err(err).Msg("failed to parse target URL")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	host := requestHost(r)
	proxy := newReverseProxy(targetURL, func(w http.ResponseWriter, _ *http.Request, err error) {
		log.Error().Err(err).Str("target", targetURL.String()).Msg("proxy error: connection failed")
		// The cached target may point at a decommissioned container; drop
		// it so the next request re-resolves.
		s.mu.Lock()
		delete(s.targets, host)
		s.mu.Unlock()
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
	})

	log.Debug().
		Str("target", targetURL.String()).
		Str("container_id", target.ContainerID).
		Msg("proxying request")

	proxy.ServeHTTP(w, r)
}

// requestHost strips an explicit port from the Host header so rules keyed
// by bare host names match requests to non-default ports.
func requestHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.Host); err == nil {
		return host
	}
	return r.Host
}

func rulesEqual(a, b map[string]domain.RoutingRule) bool {
	if len(a) != len(b) {
		return false
	}
	for host, rule := range a {
		other, ok := b[host]
		if !ok || other != rule {
			return false
		}
	}
	return true
}
