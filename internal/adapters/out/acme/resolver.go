// Package acme implements the certificate resolver adapter on top of
// autocert with a filesystem cache.
package acme

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"

	"caravel/internal/domain"
)

// letsEncryptStagingURL is used when Staging is set, keeping failed
// experiments away from production rate limits.
const letsEncryptStagingURL = "https://acme-staging-v02.api.letsencrypt.org/directory"

// obtainTimeout bounds a single certificate obtainment, HTTP-01 challenge
// included.
const obtainTimeout = time.Minute

// Config holds ACME resolver configuration.
type Config struct {
	CacheDir string
	Email    string
	Staging  bool
}

// HostPolicy decides whether a certificate may be requested for a host.
type HostPolicy func(ctx context.Context, host string) error

// Resolver implements the CertificateResolver interface. Certificates are
// obtained on demand and cached on disk; Ready only consults local state
// and never triggers an ACME exchange.
type Resolver struct {
	manager *autocert.Manager
}

// NewResolver creates a resolver whose host policy fails closed on
// anything the router does not know.
func NewResolver(config Config, policy HostPolicy) (*Resolver, error) {
	if err := os.MkdirAll(config.CacheDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create certificate cache directory: %w", err)
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		Cache:      autocert.DirCache(config.CacheDir),
		Email:      config.Email,
		HostPolicy: autocert.HostPolicy(policy),
	}
	if config.Staging {
		manager.Client = &acme.Client{DirectoryURL: letsEncryptStagingURL}
	} else {
		manager.Client = &acme.Client{DirectoryURL: acme.LetsEncryptURL}
	}

	return &Resolver{manager: manager}, nil
}

// Obtain requests (or loads from cache) a certificate for host. It blocks
// through the ACME challenge, bounded by obtainTimeout.
func (r *Resolver) Obtain(ctx context.Context, host string) error {
	log := zerolog.Ctx(ctx).With().Str("host", host).Logger()

	ctx, cancel := context.WithTimeout(ctx, obtainTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := r.manager.GetCertificate(&tls.ClientHelloInfo{ServerName: host})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Warn().Err(err).Msg("certificate obtainment failed")
			return fmt.Errorf("%w: %s: %v", domain.ErrCertificateUnavailable, host, err)
		}
		log.Info().Msg("certificate bound")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", domain.ErrCertificateUnavailable, host, ctx.Err())
	}
}

// Ready reports whether a certificate for host is already cached. This is
// a local check only.
func (r *Resolver) Ready(host string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// autocert stores certificates under the bare host name.
	_, err := r.manager.Cache.Get(ctx, host)
	return err == nil
}

// TLSConfig returns the listener TLS configuration with on-handshake
// certificate issuance.
func (r *Resolver) TLSConfig() *tls.Config {
	return r.manager.TLSConfig()
}

// HTTPHandler wraps fallback with the HTTP-01 challenge handler for the
// plain HTTP listener.
func (r *Resolver) HTTPHandler(fallback http.Handler) http.Handler {
	return r.manager.HTTPHandler(fallback)
}
