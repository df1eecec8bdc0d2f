// Package domain contains pure business types without external dependencies.
// These types are used throughout the application and have no tags or framework dependencies.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// RestartPolicy controls how the runtime restarts a service container.
type RestartPolicy string

const (
	RestartPolicyNo            RestartPolicy = "no"
	RestartPolicyAlways        RestartPolicy = "always"
	RestartPolicyOnFailure     RestartPolicy = "on-failure"
	RestartPolicyUnlessStopped RestartPolicy = "unless-stopped"
)

// Entrypoint names accepted by a routing rule.
const (
	EntrypointWeb       = "web"       // plain HTTP
	EntrypointWebSecure = "websecure" // TLS-terminated HTTPS
)

// ServiceDescriptor declares the desired running configuration of a service:
// image, restart behavior, network memberships, volume mounts and the routing
// rule that exposes it. Descriptors are immutable; every deployment snapshots
// its own copy, so a running rollout is never affected by later edits.
type ServiceDescriptor struct {
	Name     string
	Image    string
	Restart  RestartPolicy
	Networks []string
	Volumes  map[string]string // map[mountPath]volumeName
	Route    RoutingRule
	Port     int // container port the service listens on
}

// RoutingRule maps a host pattern to a service behind a named entrypoint.
// A rule with a certificate resolver is only activated once a certificate
// for the host is bound.
type RoutingRule struct {
	Host         string
	Service      string
	Entrypoint   string
	CertResolver string
}

// Descriptor validation errors.
var (
	ErrDescriptorName    = errors.New("descriptor has no service name")
	ErrDescriptorImage   = errors.New("descriptor has no image reference")
	ErrDescriptorPort    = errors.New("descriptor port is out of range")
	ErrRuleHost          = errors.New("routing rule has no host match")
	ErrRuleDanglingRule  = errors.New("routing rule targets a different service")
	ErrRuleEntrypoint    = errors.New("routing rule has an unknown entrypoint")
	ErrRuleCertPlainHTTP = errors.New("routing rule binds a certificate resolver to a plain HTTP entrypoint")
)

// Validate checks the descriptor for structural problems before it is
// accepted for a rollout.
func (d ServiceDescriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrDescriptorName
	}
	if strings.TrimSpace(d.Image) == "" {
		return fmt.Errorf("%w: service %q", ErrDescriptorImage, d.Name)
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("%w: service %q port %d", ErrDescriptorPort, d.Name, d.Port)
	}
	for path, name := range d.Volumes {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("volume %q: mount path %q is not absolute", name, path)
		}
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("volume mounted at %q has no name", path)
		}
	}
	if d.Route != (RoutingRule{}) {
		if err := d.Route.Validate(); err != nil {
			return err
		}
		if d.Route.Service != d.Name {
			return fmt.Errorf("%w: rule %q targets %q, descriptor is %q",
				ErrRuleDanglingRule, d.Route.Host, d.Route.Service, d.Name)
		}
	}
	return nil
}

// Validate checks a routing rule in isolation.
func (r RoutingRule) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return ErrRuleHost
	}
	switch r.Entrypoint {
	case EntrypointWeb, EntrypointWebSecure:
	default:
		return fmt.Errorf("%w: %q", ErrRuleEntrypoint, r.Entrypoint)
	}
	if r.CertResolver != "" && r.Entrypoint != EntrypointWebSecure {
		return fmt.Errorf("%w: host %q", ErrRuleCertPlainHTTP, r.Host)
	}
	return nil
}

// NeedsCertificate reports whether the rule terminates TLS and therefore
// stays inactive until a certificate for its host is bound.
func (r RoutingRule) NeedsCertificate() bool {
	return r.Entrypoint == EntrypointWebSecure
}

// Clone returns a deep copy so a deployment snapshot cannot alias the
// caller's maps and slices.
func (d ServiceDescriptor) Clone() ServiceDescriptor {
	out := d
	if d.Networks != nil {
		out.Networks = append([]string(nil), d.Networks...)
	}
	if d.Volumes != nil {
		out.Volumes = make(map[string]string, len(d.Volumes))
		for k, v := range d.Volumes {
			out.Volumes[k] = v
		}
	}
	return out
}
