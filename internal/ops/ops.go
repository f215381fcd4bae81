// Package ops provides a lightweight HTTP API for runtime inspection and
// session administration of the running companion core.
//
// Endpoints:
//
//	GET    /status                - health, uptime, session and cache counts
//	GET    /metrics               - full metrics snapshot
//	GET    /resources             - crisis resource catalog (?severity=&type=)
//	GET    /alerts                - pending crisis alerts
//	POST   /alerts/{id}/ack       - acknowledge a crisis alert
//	GET    /sessions/{id}/report  - privacy/security summary, no content
//	POST   /sessions/{id}/clear   - empty a session's conversation context
//	DELETE /sessions/{id}         - wipe and remove a session
package ops

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"companion-core/internal/crisis"
	"companion-core/internal/metrics"
	"companion-core/internal/pipeline"
	"companion-core/internal/respcache"
	"companion-core/internal/session"
)

// Server is the ops API server. All state lives in its collaborators; the
// server itself only routes and serializes.
type Server struct {
	orch      *pipeline.Orchestrator
	store     *session.Store
	cache     *respcache.Cache
	detector  *crisis.Detector
	metrics   *metrics.Metrics // nil = /metrics disabled
	token     string           // bearer token for auth; empty = no auth
	startTime time.Time
}

// Deps are the collaborators the ops API exposes.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Store        *session.Store
	Cache        *respcache.Cache
	Detector     *crisis.Detector
	Metrics      *metrics.Metrics
}

// New creates an ops server. An empty token disables authentication.
func New(d Deps, token string) *Server {
	s := &Server{
		orch:      d.Orchestrator,
		store:     d.Store,
		cache:     d.Cache,
		detector:  d.Detector,
		metrics:   d.Metrics,
		token:     token,
		startTime: time.Now(),
	}
	if s.token != "" {
		log.Printf("[OPS] Bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the ops API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /resources", s.handleResources)
	mux.HandleFunc("GET /alerts", s.handleAlerts)
	mux.HandleFunc("POST /alerts/{id}/ack", s.handleAckAlert)
	mux.HandleFunc("GET /sessions/{id}/report", s.handleSessionReport)
	mux.HandleFunc("POST /sessions/{id}/clear", s.handleClearSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDestroySession)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			log.Printf("[OPS] Unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status        string `json:"status"`
		Uptime        string `json:"uptime"`
		Sessions      int    `json:"sessions"`
		CacheEntries  int    `json:"cacheEntries"`
		PendingAlerts int    `json:"pendingAlerts"`
	}
	writeJSON(w, http.StatusOK, response{
		Status:        "running",
		Uptime:        time.Since(s.startTime).Round(time.Second).String(),
		Sessions:      s.store.Len(),
		CacheEntries:  s.cache.Len(),
		PendingAlerts: len(s.detector.PendingAlerts()),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// knownSeverities validates the ?severity= query parameter.
var knownSeverities = map[string]crisis.Severity{
	"none":      crisis.SeverityNone,
	"moderate":  crisis.SeverityModerate,
	"selfHarm":  crisis.SeveritySelfHarm,
	"high":      crisis.SeverityHigh,
	"immediate": crisis.SeverityImmediate,
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	severity := crisis.SeverityImmediate // unfiltered = full catalog
	if q := r.URL.Query().Get("severity"); q != "" {
		sev, ok := knownSeverities[q]
		if !ok {
			http.Error(w, "unknown severity", http.StatusBadRequest)
			return
		}
		severity = sev
	}
	typeFilter := crisis.ResourceType(r.URL.Query().Get("type"))
	resources := s.orch.GetCrisisResources(severity, typeFilter)
	if resources == nil {
		resources = []crisis.Resource{}
	}
	writeJSON(w, http.StatusOK, resources)
}

func (s *Server) handleAlerts(w http.ResponseWriter, _ *http.Request) {
	alerts := s.detector.PendingAlerts()
	if alerts == nil {
		alerts = []crisis.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.detector.Acknowledge(id) {
		http.Error(w, "alert not found", http.StatusNotFound)
		return
	}
	log.Printf("[OPS] Alert acknowledged: %s", id)
	writeJSON(w, http.StatusOK, map[string]string{"acknowledged": id})
}

func (s *Server) handleSessionReport(w http.ResponseWriter, r *http.Request) {
	report, ok := s.orch.GetSessionReport(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.orch.ClearSession(id) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	log.Printf("[OPS] Session context cleared")
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (s *Server) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.orch.DestroySession(id) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	log.Printf("[OPS] Session destroyed")
	writeJSON(w, http.StatusOK, map[string]bool{"destroyed": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[OPS] JSON encode error: %v", err)
	}
}

// ListenAndServe starts the ops HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	log.Printf("[OPS] Listening on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
