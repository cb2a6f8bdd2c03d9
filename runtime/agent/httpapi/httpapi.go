// Package httpapi is the thin HTTP adapter over the orchestration core: it
// decodes/validates requests, drives TopologyBuilder/Scheduler/RunRegistry,
// and renders a uniform {success, data?, error?} JSON envelope. It is the
// one place in the module allowed to hold process-wide singletons beyond
// EventBus/RunRegistry (the hierarchy store below), kept at the HTTP
// boundary rather than scattered through the orchestration core.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/corvus-labs/swarmd/runtime/agent/eventbus"
	"github.com/corvus-labs/swarmd/runtime/agent/eventbus/inmem"
	"github.com/corvus-labs/swarmd/runtime/agent/model"
	"github.com/corvus-labs/swarmd/runtime/agent/runregistry"
	"github.com/corvus-labs/swarmd/runtime/agent/scheduler"
	"github.com/corvus-labs/swarmd/runtime/agent/telemetry"
	"github.com/corvus-labs/swarmd/runtime/agent/topology"
)

// ServiceName and Version are reported by /health and /.
const (
	ServiceName = "swarmd"
	Version     = "1.0.0"
)

// Server wires the HTTP surface to the orchestration core. The zero value
// is not usable; build one with New.
type Server struct {
	builder   *topology.Builder
	scheduler *scheduler.Scheduler
	registry  *runregistry.Registry
	client    model.Client
	debug     bool
	logger    telemetry.Logger

	hierarchies *hierarchyStore
	ringCap     int
}

// Options configures a Server.
type Options struct {
	Builder   *topology.Builder
	Scheduler *scheduler.Scheduler
	Registry  *runregistry.Registry
	Client    model.Client
	Debug     bool
	Logger    telemetry.Logger
	// RingCapacity bounds each run's event bus; DefaultRingCapacity when 0.
	RingCapacity int
}

// New builds a Server from opts.
func New(opts Options) (*Server, error) {
	if opts.Builder == nil || opts.Scheduler == nil || opts.Registry == nil || opts.Client == nil {
		return nil, fmt.Errorf("httpapi: builder, scheduler, registry, and client are all required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Server{
		builder:     opts.Builder,
		scheduler:   opts.Scheduler,
		registry:    opts.Registry,
		client:      opts.Client,
		debug:       opts.Debug,
		logger:      logger,
		hierarchies: newHierarchyStore(),
		ringCap:     opts.RingCapacity,
	}, nil
}

// Routes builds the HTTP handler exposing the full endpoint table, using
// Go 1.22+ method+pattern routing (see DESIGN.md for why this module
// reaches for stdlib routing instead of a router library), wrapped in a
// request-logging middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("POST /api/executor/v1/hierarchies/create", s.handleHierarchiesCreate)
	mux.HandleFunc("POST /api/executor/v1/hierarchies/list", s.handleHierarchiesList)
	mux.HandleFunc("POST /api/executor/v1/runs/start", s.handleRunsStart)
	mux.HandleFunc("POST /api/executor/v1/runs/get", s.handleRunsGet)
	return s.logRequests(mux)
}

// statusRecorder captures the status code written by the wrapped handler
// so the logging middleware can report it after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logRequests logs every request's method, path, status, and latency at
// info level, matching the rest of the runtime's structured-logging
// convention.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// envelope is the uniform {success, data?, error?} response shape used by
// every endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

// writeError renders a non-2xx failure. An *topology.InvalidConfig reports
// its bare Reason (matching the original server's flat {error: "..."}
// shape) with a non-empty Field added as a separate "field" key; any other
// error reports err.Error(). Details is only populated when the server runs
// in DEBUG mode, per spec §7 "User-visible behavior".
func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	env := envelope{Success: false, Error: err.Error()}
	var invalid *topology.InvalidConfig
	if errors.As(err, &invalid) {
		env.Error = invalid.Reason
	}
	if s.debug {
		env.Details = fmt.Sprintf("%+v", err)
	}
	if invalid != nil && invalid.Field != "" {
		writeJSON(w, status, struct {
			envelope
			Field string `json:"field"`
		}{env, invalid.Field})
		return
	}
	writeJSON(w, status, env)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": ServiceName,
		"version": Version,
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "Hierarchical Multi-Agent System API",
		"version": Version,
		"endpoints": map[string]string{
			"health":             "GET /health - Health check endpoint",
			"execute":            "POST /execute - Execute hierarchy task synchronously",
			"hierarchies_create": "POST /api/executor/v1/hierarchies/create - Register a reusable hierarchy",
			"hierarchies_list":   "POST /api/executor/v1/hierarchies/list - Paginated hierarchy list",
			"runs_start":         "POST /api/executor/v1/runs/start - Start an async run",
			"runs_get":           "POST /api/executor/v1/runs/get - Poll a run with a cursor",
			"info":               "GET / - API information (this endpoint)",
		},
	})
}

// executionResponse is the /execute success payload: the materialized
// topology, the complete accumulated event log, and the terminal
// status/result/error.
type executionResponse struct {
	RunID    string                   `json:"run_id"`
	Status   runregistry.Status       `json:"status"`
	Topology any                      `json:"topology,omitempty"`
	Events   []eventbus.Event         `json:"events"`
	Result   string                   `json:"result,omitempty"`
	Error    *runregistry.ErrorDetail `json:"error,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	raw, cfg, err := decodeHierarchyConfig(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	topo, err := s.builder.Build(ctx, cfg, raw, topology.BuildOptions{RequireTask: true})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	bus := inmem.New(uuid.NewString(), s.ringCap)
	run, err := s.scheduler.ExecuteSync(ctx, topo, "", bus, s.client)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	since := bus.SinceCursor(ctx, 0)
	var topoSnapshot any
	if len(since.Events) > 0 && since.Events[0].Type == eventbus.EventTopologyCreated {
		topoSnapshot = since.Events[0].Data
	}
	resp := executionResponse{
		RunID:    run.RunID,
		Status:   run.Status,
		Topology: topoSnapshot,
		Events:   since.Events,
		Result:   run.Result,
		Error:    run.Error,
	}

	// Non-200 only for InvalidConfig (handled above) or complete failure;
	// partial success (at least one team completed, so Status is
	// Completed even with some team errors embedded) still returns 200,
	// per spec §7.
	status := http.StatusOK
	if run.Status == runregistry.StatusFailed {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, envelope{Success: run.Status == runregistry.StatusCompleted, Data: resp})
}

// hierarchyCreateResponse carries the registered hierarchy's ID.
type hierarchyCreateResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleHierarchiesCreate(w http.ResponseWriter, r *http.Request) {
	raw, cfg, err := decodeHierarchyConfig(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	topo, err := s.builder.Build(r.Context(), cfg, raw, topology.BuildOptions{RequireTask: false})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	id := uuid.NewString()
	s.hierarchies.put(id, topo)
	s.writeOK(w, hierarchyCreateResponse{ID: id})
}

type hierarchiesListRequest struct {
	Page int `json:"page"`
	Size int `json:"size"`
}

type hierarchiesListResponse struct {
	Items []hierarchySummary `json:"items"`
	Total int                `json:"total"`
}

type hierarchySummary struct {
	ID    string `json:"id"`
	Teams int    `json:"teams"`
}

func (s *Server) handleHierarchiesList(w http.ResponseWriter, r *http.Request) {
	var req hierarchiesListRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	items, total := s.hierarchies.list(req.Page, req.Size)
	s.writeOK(w, hierarchiesListResponse{Items: items, Total: total})
}

type runsStartRequest struct {
	HierarchyID string `json:"hierarchy_id"`
	Task        string `json:"task"`
}

type runsStartResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleRunsStart(w http.ResponseWriter, r *http.Request) {
	var req runsStartRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.HierarchyID == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("hierarchy_id is required"))
		return
	}
	if req.Task == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("task is required"))
		return
	}

	base, ok := s.hierarchies.get(req.HierarchyID)
	if !ok {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown hierarchy_id %q", req.HierarchyID))
		return
	}
	topo := base.WithTask(req.Task)

	bus := inmem.New(uuid.NewString(), s.ringCap)
	runID, err := s.scheduler.StartRun(context.WithoutCancel(r.Context()), topo, req.HierarchyID, bus, s.client)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeOK(w, runsStartResponse{ID: runID})
}

type runsGetRequest struct {
	ID    string `json:"id"`
	Since int64  `json:"since"`
}

type runsGetResponse struct {
	Status   runregistry.Status       `json:"status"`
	Events   []eventbus.Event         `json:"events"`
	Cursor   int64                    `json:"cursor"`
	Terminal bool                     `json:"terminal"`
	Result   string                   `json:"result,omitempty"`
	Error    *runregistry.ErrorDetail `json:"error,omitempty"`
}

func (s *Server) handleRunsGet(w http.ResponseWriter, r *http.Request) {
	var req runsGetRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ID == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("id is required"))
		return
	}

	run, err := s.registry.Get(r.Context(), req.ID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	var since eventbus.Since
	if bus, ok := s.registry.Bus(req.ID); ok {
		since = bus.SinceCursor(r.Context(), req.Since)
	}

	s.writeOK(w, runsGetResponse{
		Status:   run.Status,
		Events:   since.Events,
		Cursor:   since.Cursor,
		Terminal: since.Terminal,
		Result:   run.Result,
		Error:    run.Error,
	})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// decodeHierarchyConfig reads the request body once into a raw map for
// schema pre-validation (builder.Build's raw argument) and again into a
// typed HierarchyConfig for semantic validation.
func decodeHierarchyConfig(r *http.Request) (map[string]any, topology.HierarchyConfig, error) {
	defer r.Body.Close()
	if r.Body == nil {
		return nil, topology.HierarchyConfig{}, fmt.Errorf("request body is required")
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, topology.HierarchyConfig{}, fmt.Errorf("read request body: %w", err)
	}
	if len(body) == 0 {
		return nil, topology.HierarchyConfig{}, fmt.Errorf("request body is required")
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, topology.HierarchyConfig{}, fmt.Errorf("invalid JSON body: %w", err)
	}
	var cfg topology.HierarchyConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, topology.HierarchyConfig{}, fmt.Errorf("invalid JSON body: %w", err)
	}
	return raw, cfg, nil
}
