package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/certfleet/internal/model"
)

// Pinger reports database liveness for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerDirectory resolves agent tokens to servers.
type ServerDirectory interface {
	GetServerByAgentToken(ctx context.Context, token string) (*model.Server, error)
}

// HeartbeatRecorder accepts one heartbeat from an authenticated agent.
type HeartbeatRecorder interface {
	RecordHeartbeat(ctx context.Context, serverID string) error
}

var httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "certfleet_http_requests_total",
	Help: "Operational HTTP requests by method, route, and status",
}, []string{"method", "path", "status"})

// Server is the operational HTTP surface: health and readiness probes,
// Prometheus metrics, HTTP-01 challenge files, and agent heartbeats.
type Server struct {
	router       chi.Router
	logger       zerolog.Logger
	db           Pinger
	servers      ServerDirectory
	heartbeats   HeartbeatRecorder
	challengeDir string
}

// NewServer wires the operational routes. storagePath is the certificate
// storage root; challenge files live under its .well-known subtree.
func NewServer(logger zerolog.Logger, db Pinger, servers ServerDirectory, heartbeats HeartbeatRecorder, storagePath string) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		logger:       logger.With().Str("component", "http").Logger(),
		db:           db,
		servers:      servers,
		heartbeats:   heartbeats,
		challengeDir: filepath.Join(storagePath, ".well-known", "acme-challenge"),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Get("/.well-known/acme-challenge/{token}", s.handleChallenge)
	s.router.Post("/agent/heartbeat", s.handleHeartbeat)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"db": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"db": "ok"})
}

// handleChallenge serves HTTP-01 key authorizations written by the ACME
// client, so a single-host deployment passes validation without a front
// proxy.
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	s.serveChallenge(w, chi.URLParam(r, "token"))
}

func (s *Server) serveChallenge(w http.ResponseWriter, token string) {
	if token == "" || strings.ContainsAny(token, "/\\") || strings.Contains(token, "..") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	body, err := os.ReadFile(filepath.Join(s.challengeDir, token))
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Agent-Token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing agent token")
		return
	}

	server, err := s.servers.GetServerByAgentToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid agent token")
		return
	}

	if err := s.heartbeats.RecordHeartbeat(r.Context(), server.ID); err != nil {
		s.logger.Error().Err(err).Str("server_id", server.ID).Msg("record heartbeat")
		writeError(w, http.StatusInternalServerError, "heartbeat not recorded")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"server_id": server.ID})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqID := middleware.GetReqID(r.Context())
		reqLogger := s.logger.With().Str("request_id", reqID).Logger()
		r = r.WithContext(reqLogger.WithContext(r.Context()))

		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(ww.status)).Inc()

		reqLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
