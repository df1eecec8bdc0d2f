// Package descriptorsource loads the declared service topology from the
// controller's TOML configuration file.
package descriptorsource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"caravel/internal/domain"
)

// Source implements the DescriptorSource interface. Descriptors live under
// the [services.<name>] tables of the config file and are re-parsed on
// every file change; callers always see a consistent snapshot.
type Source struct {
	viper *viper.Viper

	mu          sync.RWMutex
	descriptors map[string]domain.ServiceDescriptor
}

// NewSource creates a descriptor source over an already-read viper
// instance and parses the current state.
func NewSource(v *viper.Viper) (*Source, error) {
	s := &Source{
		viper:       v,
		descriptors: make(map[string]domain.ServiceDescriptor),
	}
	if err := s.Load(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Load re-parses the services section. Invalid descriptors reject the
// whole reload so a half-edited file never replaces a good topology.
func (s *Source) Load(ctx context.Context) error {
	parsed, err := parseServices(s.viper.Get("services"))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.descriptors = parsed
	s.mu.Unlock()

	zerolog.Ctx(ctx).Info().Int("services", len(parsed)).Msg("service descriptors loaded")
	return nil
}

// Descriptor returns the declared descriptor for a service.
func (s *Source) Descriptor(_ context.Context, service string) (domain.ServiceDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.descriptors[service]
	if !ok {
		return domain.ServiceDescriptor{}, false
	}
	return d.Clone(), true
}

// Descriptors returns all declared descriptors, sorted by name.
func (s *Source) Descriptors(_ context.Context) []domain.ServiceDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ServiceDescriptor, 0, len(s.descriptors))
	for _, d := range s.descriptors {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Watch reloads descriptors when the config file changes on disk. onChange
// runs after every successful reload.
func (s *Source) Watch(ctx context.Context, onChange func()) {
	log := zerolog.Ctx(ctx)

	s.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("config file changed")

		if err := s.viper.ReadInConfig(); err != nil {
			log.Warn().Err(err).Msg("failed to re-read config, keeping previous descriptors")
			return
		}
		if err := s.Load(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to reload descriptors, keeping previous descriptors")
			return
		}
		if onChange != nil {
			onChange()
		}
	})
	s.viper.WatchConfig()
}

// parseServices walks the raw services table by hand. Viper lowercases
// nested keys and mangles keys containing dots, so volume mount paths have
// to be read from the untyped tree.
func parseServices(raw any) (map[string]domain.ServiceDescriptor, error) {
	parsed := make(map[string]domain.ServiceDescriptor)
	if raw == nil {
		return parsed, nil
	}
	services, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("services section has unexpected shape %T", raw)
	}

	for name, entry := range services {
		table, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("service %s has unexpected shape %T", name, entry)
		}

		d := domain.ServiceDescriptor{
			Name:    name,
			Image:   stringValue(table["image"]),
			Restart: domain.RestartPolicy(stringValue(table["restart"])),
			Port:    intValue(table["port"]),
		}
		if d.Restart == "" {
			d.Restart = domain.RestartPolicyUnlessStopped
		}
		d.Networks = stringSlice(table["networks"])
		d.Volumes = stringMap(table["volumes"])

		if route, ok := table["route"].(map[string]any); ok {
			d.Route = domain.RoutingRule{
				Host:         stringValue(route["host"]),
				Service:      name,
				Entrypoint:   stringValue(route["entrypoint"]),
				CertResolver: stringValue(route["cert_resolver"]),
			}
			if d.Route.Entrypoint == "" {
				d.Route.Entrypoint = domain.EntrypointWebSecure
			}
		}

		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("service %s: %w", name, err)
		}
		parsed[name] = d
	}
	return parsed, nil
}

func stringValue(raw any) string {
	s, _ := raw.(string)
	return s
}

func intValue(raw any) int {
	switch v := raw.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func stringSlice(raw any) []string {
	arr, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringMap(raw any) map[string]string {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
