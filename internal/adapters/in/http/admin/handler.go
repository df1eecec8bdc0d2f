// Package admin implements the HTTP adapter for the control API.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"caravel/internal/boundaries/in"
	"caravel/internal/domain"
)

// maxRequestSize is the maximum allowed size for control API request bodies.
const maxRequestSize = 1 << 20 // 1MB

// Handler implements the HTTP handler for the control API.
type Handler struct {
	rolloutSvc in.RolloutService
	routerSvc  in.RouterService
	secretSvc  in.SecretService
}

// NewHandler creates a new control API handler.
func NewHandler(rolloutSvc in.RolloutService, routerSvc in.RouterService, secretSvc in.SecretService) *Handler {
	return &Handler{
		rolloutSvc: rolloutSvc,
		routerSvc:  routerSvc,
		secretSvc:  secretSvc,
	}
}

// RegisterRoutes registers the control API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/", h.handleAPIRoutes)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handleAPIRoutes(w, r)
}

func (h *Handler) handleAPIRoutes(w http.ResponseWriter, r *http.Request) {
	ctx := zerolog.Ctx(r.Context()).With().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Logger().WithContext(r.Context())
	r = r.WithContext(ctx)

	path := strings.TrimPrefix(r.URL.Path, "/api/v1")

	switch {
	case path == "/deploy":
		h.handleDeploy(w, r)
	case path == "/rollback":
		h.handleRollback(w, r)
	case strings.HasPrefix(path, "/status/"):
		h.handleStatus(w, r, strings.TrimPrefix(path, "/status/"))
	case strings.HasPrefix(path, "/history/"):
		h.handleHistory(w, r, strings.TrimPrefix(path, "/history/"))
	case path == "/routes":
		h.handleRoutes(w, r)
	case strings.HasPrefix(path, "/secrets/"):
		h.handleSecrets(w, r, strings.TrimPrefix(path, "/secrets/"))
	default:
		http.NotFound(w, r)
	}
}

// sendJSON sends a JSON response.
func (h *Handler) sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// sendError sends an error response.
func (h *Handler) sendError(w http.ResponseWriter, status int, message string) {
	h.sendJSON(w, status, map[string]string{"error": message})
}

type deployRequest struct {
	Service string `json:"service"`
	Image   string `json:"image,omitempty"`
}

type rollbackRequest struct {
	Service string `json:"service"`
}

type deploymentResponse struct {
	Service     string    `json:"service"`
	Version     int64     `json:"version"`
	Image       string    `json:"image"`
	ImageDigest string    `json:"image_digest"`
	ContainerID string    `json:"container_id,omitempty"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type routeResponse struct {
	Host         string `json:"host"`
	Service      string `json:"service"`
	Entrypoint   string `json:"entrypoint"`
	CertResolver string `json:"cert_resolver,omitempty"`
}

func toDeploymentResponse(d *domain.Deployment) deploymentResponse {
	return deploymentResponse{
		Service:     d.Service,
		Version:     d.Version,
		Image:       d.Descriptor.Image,
		ImageDigest: d.ImageDigest,
		ContainerID: d.ContainerID,
		Status:      string(d.Status),
		Reason:      d.Reason,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// handleDeploy handles POST /api/v1/deploy.
func (h *Handler) handleDeploy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	log := zerolog.Ctx(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)

	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn().Err(err).Msg("invalid deploy JSON")
		h.sendError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Service == "" {
		h.sendError(w, http.StatusBadRequest, "service required")
		return
	}

	dep, err := h.rolloutSvc.Deploy(ctx, req.Service, req.Image)
	if err != nil {
		h.sendRolloutError(w, r, dep, err)
		return
	}

	log.Info().Str("service", req.Service).Int64("version", dep.Version).Msg("deploy succeeded")
	h.sendJSON(w, http.StatusOK, toDeploymentResponse(dep))
}

// handleRollback handles POST /api/v1/rollback.
func (h *Handler) handleRollback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	log := zerolog.Ctx(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)

	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn().Err(err).Msg("invalid rollback JSON")
		h.sendError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Service == "" {
		h.sendError(w, http.StatusBadRequest, "service required")
		return
	}

	dep, err := h.rolloutSvc.Rollback(ctx, req.Service)
	if err != nil {
		h.sendRolloutError(w, r, dep, err)
		return
	}

	log.Info().Str("service", req.Service).Int64("version", dep.Version).Msg("rollback succeeded")
	h.sendJSON(w, http.StatusOK, toDeploymentResponse(dep))
}

// sendRolloutError maps rollout failures onto HTTP statuses. A failed
// rollout that produced a deployment record still returns that record so
// callers see the terminal status and reason.
func (h *Handler) sendRolloutError(w http.ResponseWriter, r *http.Request, dep *domain.Deployment, err error) {
	zerolog.Ctx(r.Context()).Warn().Err(err).Msg("rollout request failed")

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrServiceNotFound), errors.Is(err, domain.ErrImageNotFound),
		errors.Is(err, domain.ErrNoHealthyVersion):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrRolloutConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrHealthTimeout), errors.Is(err, domain.ErrReconcileFailed),
		errors.Is(err, domain.ErrPullFailed):
		status = http.StatusBadGateway
	}

	if dep != nil {
		h.sendJSON(w, status, map[string]any{
			"error":      err.Error(),
			"deployment": toDeploymentResponse(dep),
		})
		return
	}
	h.sendError(w, status, err.Error())
}

// handleStatus handles GET /api/v1/status/{service}.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request, service string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if service == "" {
		h.sendError(w, http.StatusBadRequest, "service required in path")
		return
	}

	dep, err := h.rolloutSvc.Status(r.Context(), service)
	if err != nil {
		h.sendError(w, http.StatusNotFound, "service has no deployments")
		return
	}
	h.sendJSON(w, http.StatusOK, toDeploymentResponse(dep))
}

// handleHistory handles GET /api/v1/history/{service}.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, service string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if service == "" {
		h.sendError(w, http.StatusBadRequest, "service required in path")
		return
	}

	history, err := h.rolloutSvc.History(r.Context(), service)
	if err != nil {
		h.sendError(w, http.StatusNotFound, "service has no deployments")
		return
	}

	response := make([]deploymentResponse, 0, len(history))
	for _, dep := range history {
		response = append(response, toDeploymentResponse(dep))
	}
	h.sendJSON(w, http.StatusOK, map[string]any{"service": service, "deployments": response})
}

// handleRoutes handles GET /api/v1/routes.
func (h *Handler) handleRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	routes := h.routerSvc.ActiveRoutes(r.Context())
	response := make([]routeResponse, 0, len(routes))
	for _, rule := range routes {
		response = append(response, routeResponse{
			Host:         rule.Host,
			Service:      rule.Service,
			Entrypoint:   rule.Entrypoint,
			CertResolver: rule.CertResolver,
		})
	}
	h.sendJSON(w, http.StatusOK, map[string]any{"routes": response})
}

// handleSecrets handles /api/v1/secrets/{scope} and
// /api/v1/secrets/{scope}/{key}. Values are write-only through this API;
// GET lists key names.
func (h *Handler) handleSecrets(w http.ResponseWriter, r *http.Request, path string) {
	ctx := r.Context()
	log := zerolog.Ctx(ctx)

	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		h.sendError(w, http.StatusBadRequest, "scope required")
		return
	}
	scope := parts[0]
	key := ""
	if len(parts) > 1 {
		key = parts[1]
	}

	switch r.Method {
	case http.MethodGet:
		keys, err := h.secretSvc.ListKeys(ctx, scope)
		if err != nil {
			log.Warn().Err(err).Str("scope", scope).Msg("failed to list secrets")
			h.sendError(w, http.StatusBadRequest, "invalid scope")
			return
		}
		h.sendJSON(w, http.StatusOK, map[string]any{"scope": scope, "keys": keys})

	case http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)

		var data map[string]string
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			log.Warn().Err(err).Msg("invalid secrets JSON")
			h.sendError(w, http.StatusBadRequest, "invalid JSON")
			return
		}

		if err := h.secretSvc.Set(ctx, scope, data); err != nil {
			log.Warn().Err(err).Str("scope", scope).Msg("failed to set secrets")
			h.sendError(w, http.StatusBadRequest, "invalid scope")
			return
		}

		log.Info().Str("scope", scope).Int("count", len(data)).Msg("secrets set")
		h.sendJSON(w, http.StatusOK, map[string]string{"status": "updated"})

	case http.MethodDelete:
		if key == "" {
			h.sendError(w, http.StatusBadRequest, "key required in path")
			return
		}

		if err := h.secretSvc.Delete(ctx, scope, key); err != nil {
			if errors.Is(err, domain.ErrSecretNotFound) {
				h.sendError(w, http.StatusNotFound, "secret not found")
				return
			}
			log.Warn().Err(err).Str("scope", scope).Str("key", key).Msg("failed to delete secret")
			h.sendError(w, http.StatusBadRequest, "invalid scope")
			return
		}

		log.Info().Str("scope", scope).Str("key", key).Msg("secret deleted")
		h.sendJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
