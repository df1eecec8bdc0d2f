// Package deploystore persists deployment records as a JSON file and
// enforces the single-rollout-per-service invariant.
package deploystore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"caravel/internal/domain"
)

// record is the persisted form of a deployment. Domain types carry no
// serialization tags, so the adapter owns the wire shape.
type record struct {
	Service     string           `json:"service"`
	Version     int64            `json:"version"`
	Descriptor  descriptorRecord `json:"descriptor"`
	ImageDigest string           `json:"image_digest"`
	ContainerID string           `json:"container_id,omitempty"`
	Status      string           `json:"status"`
	Reason      string           `json:"reason,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type descriptorRecord struct {
	Name     string            `json:"name"`
	Image    string            `json:"image"`
	Restart  string            `json:"restart,omitempty"`
	Networks []string          `json:"networks,omitempty"`
	Volumes  map[string]string `json:"volumes,omitempty"`
	Port     int               `json:"port"`
	Route    *routeRecord      `json:"route,omitempty"`
}

type routeRecord struct {
	Host         string `json:"host"`
	Service      string `json:"service"`
	Entrypoint   string `json:"entrypoint"`
	CertResolver string `json:"cert_resolver,omitempty"`
}

// FileStore implements the DeploymentStore interface. The whole history is
// held in memory and flushed to disk on every change; an interrupted write
// never corrupts the previous state because the flush goes through a
// temp-file rename.
type FileStore struct {
	path string

	mu      sync.Mutex
	records map[string][]*domain.Deployment
}

// NewFileStore opens (or creates) the store at path.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	s := &FileStore{
		path:    path,
		records: make(map[string][]*domain.Deployment),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Begin atomically claims the rollout slot of a service. A service whose
// latest record is still in flight rejects the claim with
// domain.ErrRolloutConflict.
func (s *FileStore) Begin(ctx context.Context, d *domain.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[d.Service]
	if len(recs) > 0 && recs[len(recs)-1].InFlight() {
		return fmt.Errorf("%w: %s version %d is still in flight",
			domain.ErrRolloutConflict, d.Service, recs[len(recs)-1].Version)
	}

	s.records[d.Service] = append(recs, d.Clone())
	if err := s.persist(); err != nil {
		s.records[d.Service] = recs
		return err
	}

	zerolog.Ctx(ctx).Debug().
		Str("service", d.Service).
		Int64("version", d.Version).
		Msg("deployment begun")
	return nil
}

// Update persists a status change of a begun deployment.
func (s *FileStore) Update(_ context.Context, d *domain.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[d.Service]
	for i, rec := range recs {
		if rec.Version == d.Version {
			prev := recs[i]
			recs[i] = d.Clone()
			if err := s.persist(); err != nil {
				recs[i] = prev
				return err
			}
			return nil
		}
	}
	return fmt.Errorf("deployment %s version %d was never begun", d.Service, d.Version)
}

// Current returns the most recent deployment of a service.
func (s *FileStore) Current(service string) (*domain.Deployment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[service]
	if len(recs) == 0 {
		return nil, false
	}
	return recs[len(recs)-1].Clone(), true
}

// LastHealthy returns the most recent healthy deployment of a service.
func (s *FileStore) LastHealthy(service string) (*domain.Deployment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[service]
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Status == domain.DeploymentHealthy {
			return recs[i].Clone(), true
		}
	}
	return nil, false
}

// History returns all recorded deployments of a service, newest first.
func (s *FileStore) History(service string) []*domain.Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[service]
	out := make([]*domain.Deployment, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		out = append(out, recs[i].Clone())
	}
	return out
}

// Services returns every service with at least one recorded deployment.
func (s *FileStore) Services() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.records))
	for svc := range s.records {
		out = append(out, svc)
	}
	sort.Strings(out)
	return out
}

// NextVersion allocates the next deployment version for a service.
func (s *FileStore) NextVersion(service string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[service]
	if len(recs) == 0 {
		return 1
	}
	return recs[len(recs)-1].Version + 1
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var raw map[string][]record
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse state file %s: %w", s.path, err)
	}

	repaired := false
	for service, recs := range raw {
		deployments := make([]*domain.Deployment, 0, len(recs))
		for _, rec := range recs {
			d := fromRecord(rec)
			// A record still in flight means the controller died mid-rollout.
			// It must not hold the rollout slot forever.
			if d.InFlight() {
				d.Status = domain.DeploymentFailed
				d.Reason = "interrupted by controller restart"
				d.UpdatedAt = time.Now()
				repaired = true
			}
			deployments = append(deployments, d)
		}
		s.records[service] = deployments
	}
	if repaired {
		return s.persist()
	}
	return nil
}

// persist flushes all records. Callers hold s.mu.
func (s *FileStore) persist() error {
	raw := make(map[string][]record, len(s.records))
	for service, deployments := range s.records {
		recs := make([]record, 0, len(deployments))
		for _, d := range deployments {
			recs = append(recs, toRecord(d))
		}
		raw[service] = recs
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func toRecord(d *domain.Deployment) record {
	rec := record{
		Service:     d.Service,
		Version:     d.Version,
		ImageDigest: d.ImageDigest,
		ContainerID: d.ContainerID,
		Status:      string(d.Status),
		Reason:      d.Reason,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		Descriptor: descriptorRecord{
			Name:     d.Descriptor.Name,
			Image:    d.Descriptor.Image,
			Restart:  string(d.Descriptor.Restart),
			Networks: d.Descriptor.Networks,
			Volumes:  d.Descriptor.Volumes,
			Port:     d.Descriptor.Port,
		},
	}
	if d.Descriptor.Route != (domain.RoutingRule{}) {
		rec.Descriptor.Route = &routeRecord{
			Host:         d.Descriptor.Route.Host,
			Service:      d.Descriptor.Route.Service,
			Entrypoint:   d.Descriptor.Route.Entrypoint,
			CertResolver: d.Descriptor.Route.CertResolver,
		}
	}
	return rec
}

func fromRecord(rec record) *domain.Deployment {
	d := &domain.Deployment{
		Service:     rec.Service,
		Version:     rec.Version,
		ImageDigest: rec.ImageDigest,
		ContainerID: rec.ContainerID,
		Status:      domain.DeploymentStatus(rec.Status),
		Reason:      rec.Reason,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		Descriptor: domain.ServiceDescriptor{
			Name:     rec.Descriptor.Name,
			Image:    rec.Descriptor.Image,
			Restart:  domain.RestartPolicy(rec.Descriptor.Restart),
			Networks: rec.Descriptor.Networks,
			Volumes:  rec.Descriptor.Volumes,
			Port:     rec.Descriptor.Port,
		},
	}
	if rec.Descriptor.Route != nil {
		d.Descriptor.Route = domain.RoutingRule{
			Host:         rec.Descriptor.Route.Host,
			Service:      rec.Descriptor.Route.Service,
			Entrypoint:   rec.Descriptor.Route.Entrypoint,
			CertResolver: rec.Descriptor.Route.CertResolver,
		}
	}
	return d
}
