package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shopfabric/mesh/internal/domain"
	mesherrors "github.com/shopfabric/mesh/internal/errors"
	"github.com/shopfabric/mesh/internal/service"
	"github.com/shopfabric/mesh/pkg/logger"
)

// AdminHandler exposes the mesh introspection API and hot service
// registration over HTTP. It is an ops surface, not the storefront's route
// layer: calls themselves never flow through here.
type AdminHandler struct {
	mesh      *service.Mesh
	exporter  *service.Exporter
	logger    *logger.Logger
	startTime time.Time
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(mesh *service.Mesh, exporter *service.Exporter, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		mesh:      mesh,
		exporter:  exporter,
		logger:    log.AdminLogger(),
		startTime: time.Now(),
	}
}

// RegisterServiceRequest mirrors the registration config shape
type RegisterServiceRequest struct {
	Name           string                `json:"name"`
	Instances      []InstanceRequest     `json:"instances"`
	LoadBalancer   string                `json:"loadBalancer"`
	CircuitBreaker CircuitBreakerRequest `json:"circuitBreaker"`
	RetryPolicy    RetryPolicyRequest    `json:"retryPolicy"`
	TimeoutMs      int                   `json:"timeoutMs"`
}

// InstanceRequest is one instance in a registration request
type InstanceRequest struct {
	ID      string  `json:"id"`
	Address string  `json:"address"`
	Weight  float64 `json:"weight,omitempty"`
}

// CircuitBreakerRequest holds breaker settings in a registration request
type CircuitBreakerRequest struct {
	FailureThreshold int `json:"failureThreshold"`
	TimeoutMs        int `json:"timeoutMs"`
}

// RetryPolicyRequest holds retry settings in a registration request
type RetryPolicyRequest struct {
	MaxRetries int `json:"maxRetries"`
	BackoffMs  int `json:"backoffMs"`
}

// HealthResponse is the admin liveness payload
type HealthResponse struct {
	Status       string    `json:"status"`
	ServiceCount int       `json:"service_count"`
	Uptime       string    `json:"uptime"`
	Timestamp    time.Time `json:"timestamp"`
}

// RegisterRoutes attaches the admin endpoints to a router
func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/admin/health", h.Health).Methods("GET")
	router.HandleFunc("/admin/status", h.Status).Methods("GET")
	router.HandleFunc("/admin/services", h.ListServices).Methods("GET")
	router.HandleFunc("/admin/services", h.RegisterService).Methods("POST")
	router.HandleFunc("/admin/services/{name}/metrics", h.ServiceMetrics).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(h.exporter.Registry(), promhttp.HandlerOpts{})).Methods("GET")
}

// Health handles GET /admin/health
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.mesh.GetMeshStatus()
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:       "ok",
		ServiceCount: status.ServiceCount,
		Uptime:       time.Since(h.startTime).String(),
		Timestamp:    time.Now(),
	})
}

// Status handles GET /admin/status
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.mesh.GetMeshStatus())
}

// ListServices handles GET /admin/services
func (h *AdminHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.mesh.GetAllMetrics())
}

// ServiceMetrics handles GET /admin/services/{name}/metrics
func (h *AdminHandler) ServiceMetrics(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	view := h.mesh.GetServiceMetrics(name)
	if view == nil {
		h.writeError(w, mesherrors.NewServiceNotFound(name))
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// RegisterService handles POST /admin/services. Re-registering an existing
// name hot-replaces its instance list and resets all per-service state.
func (h *AdminHandler) RegisterService(w http.ResponseWriter, r *http.Request) {
	var req RegisterServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	instances := make([]domain.Instance, 0, len(req.Instances))
	for _, inst := range req.Instances {
		instances = append(instances, domain.Instance{
			ID:      inst.ID,
			Address: inst.Address,
			Weight:  inst.Weight,
		})
	}

	cfg := domain.ServiceConfig{
		Instances:    instances,
		LoadBalancer: domain.Strategy(req.LoadBalancer),
		CircuitBreaker: domain.CircuitBreakerConfig{
			FailureThreshold: req.CircuitBreaker.FailureThreshold,
			OpenTimeout:      time.Duration(req.CircuitBreaker.TimeoutMs) * time.Millisecond,
		},
		Retry: domain.RetryPolicy{
			MaxRetries:  req.RetryPolicy.MaxRetries,
			BaseBackoff: time.Duration(req.RetryPolicy.BackoffMs) * time.Millisecond,
		},
		CallTimeout: time.Duration(req.TimeoutMs) * time.Millisecond,
	}

	if err := h.mesh.RegisterService(req.Name, cfg); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.WithField("service", req.Name).Info("Service registered via admin API")
	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "registered", "service": req.Name})
}

func (h *AdminHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}

func (h *AdminHandler) writeError(w http.ResponseWriter, err error) {
	var me *mesherrors.MeshError
	if errors.As(err, &me) {
		h.writeJSON(w, me.HTTPStatusCode(), me)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
