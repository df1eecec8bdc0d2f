// Package registryclient talks to a Docker Registry HTTP API v2 endpoint.
package registryclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"caravel/internal/domain"
)

// Accept headers covering both Docker and OCI manifest formats, including
// multi-arch indexes.
const manifestAccept = "application/vnd.docker.distribution.manifest.v2+json, " +
	"application/vnd.docker.distribution.manifest.list.v2+json, " +
	"application/vnd.oci.image.manifest.v1+json, " +
	"application/vnd.oci.image.index.v1+json"

// Config holds registry client configuration.
type Config struct {
	Username string
	Password string
	// PlainHTTP talks to the registry without TLS, for local registries.
	PlainHTTP bool
}

// Client implements the ImageRegistry interface against the v2 API.
// Transient registry errors are retried by the underlying client before
// they surface as ErrPullFailed.
type Client struct {
	http   *retryablehttp.Client
	config Config
}

// New creates a new registry client.
func New(config Config) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil

	return &Client{http: rc, config: config}
}

// ResolveDigest resolves an image reference to its manifest digest with a
// HEAD request, without downloading the manifest body.
func (c *Client) ResolveDigest(ctx context.Context, ref string) (string, error) {
	log := zerolog.Ctx(ctx).With().Str("image", ref).Logger()

	registry, repository, tag := splitRef(ref)
	url := fmt.Sprintf("%s/v2/%s/manifests/%s", c.baseURL(registry), repository, tag)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create manifest request: %w", err)
	}
	req.Header.Set("Accept", manifestAccept)
	if c.config.Username != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrPullFailed, ref, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", domain.ErrImageNotFound, ref)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: registry denied access to %s (status %d)", domain.ErrAccessDenied, ref, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: %s: unexpected status %d", domain.ErrPullFailed, ref, resp.StatusCode)
	}

	digest := resp.Header.Get("Docker-Content-Digest")
	if digest == "" {
		return "", fmt.Errorf("%w: %s: registry returned no digest", domain.ErrPullFailed, ref)
	}

	log.Debug().Str("digest", digest).Msg("resolved image digest")
	return digest, nil
}

// ListTags returns the tags of a repository.
func (c *Client) ListTags(ctx context.Context, repository string) ([]string, error) {
	registry, repo, _ := splitRef(repository)
	url := fmt.Sprintf("%s/v2/%s/tags/list", c.baseURL(registry), repo)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create tags request: %w", err)
	}
	if c.config.Username != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags for %s: %w", repository, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", domain.ErrImageNotFound, repository)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing tags for %s: unexpected status %d", repository, resp.StatusCode)
	}

	var body struct {
		Name string   `json:"name"`
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding tags response: %w", err)
	}
	return body.Tags, nil
}

func (c *Client) baseURL(registry string) string {
	scheme := "https"
	if c.config.PlainHTTP {
		scheme = "http"
	}
	return scheme + "://" + registry
}

// splitRef splits an image reference into registry host, repository path
// and tag. A reference without a registry host defaults to docker.io, and
// a bare repository there gets the library/ prefix.
func splitRef(ref string) (registry, repository, tag string) {
	tag = "latest"

	rest := ref
	if i := strings.Index(rest, "/"); i != -1 && looksLikeHost(rest[:i]) {
		registry = rest[:i]
		rest = rest[i+1:]
	} else {
		registry = "registry-1.docker.io"
	}

	// A digest reference pins the manifest directly.
	if i := strings.Index(rest, "@"); i != -1 {
		repository, tag = rest[:i], rest[i+1:]
	} else if i := strings.LastIndex(rest, ":"); i != -1 {
		repository, tag = rest[:i], rest[i+1:]
	} else {
		repository = rest
	}

	if registry == "registry-1.docker.io" && !strings.Contains(repository, "/") {
		repository = "library/" + repository
	}
	return registry, repository, tag
}

// looksLikeHost reports whether the first path segment of a reference is a
// registry host rather than a namespace.
func looksLikeHost(segment string) bool {
	return strings.ContainsAny(segment, ".:") || segment == "localhost"
}
