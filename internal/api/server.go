// Package api implements Quill's HTTP API: the chat endpoint, the
// conversation endpoints, and the status and introspection endpoints
// web front ends use to decide what to show.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/nugget/quill/internal/agent"
	"github.com/nugget/quill/internal/config"
	"github.com/nugget/quill/internal/connwatch"
	"github.com/nugget/quill/internal/conversation"
	"github.com/nugget/quill/internal/events"
	"github.com/nugget/quill/internal/tools"
	"github.com/nugget/quill/internal/usage"
)

// Runner executes one research request. *agent.Loop implements it.
type Runner interface {
	Run(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// requestIDHeader carries a caller's correlation ID into the research
// loop and the loop's ID back out.
const requestIDHeader = "X-Request-Id"

// ResearchObserver sees every research result the API produces,
// including partial ones. *mqtt.DailyResearch implements it.
type ResearchObserver interface {
	OnResearch(res *agent.Result)
}

// UsageReporter aggregates recorded token usage. *usage.Store
// implements it.
type UsageReporter interface {
	Summary(start, end time.Time) (*usage.Summary, error)
	Grouped(groupBy string, start, end time.Time) (map[string]*usage.Summary, error)
}

// ServiceLister reports watched service health. *connwatch.Manager
// implements it.
type ServiceLister interface {
	List() []connwatch.ServiceStatus
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	runner   Runner
	store    conversation.Store
	registry *tools.Registry
	locks    *conversation.Locker
	logger   *slog.Logger
	server   *http.Server

	defaultModel string
	corsOrigins  []string
	credentials  []config.Credential
	bus          *events.Bus
	usage        UsageReporter
	services     ServiceLister
	observer     ResearchObserver

	routesOnce sync.Once
	mux        *http.ServeMux
	routes     []string

	mu          sync.Mutex
	lastRequest time.Time
}

// NewServer creates a new API server. registry may be nil when the
// caller has no remote tool providers to integrate.
func NewServer(address string, port int, runner Runner, store conversation.Store, registry *tools.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:      address,
		port:         port,
		runner:       runner,
		store:        store,
		registry:     registry,
		locks:        conversation.NewLocker(),
		logger:       logger.With("component", "api"),
		defaultModel: "openai",
	}
}

// SetDefaultModel sets the logical model used when a request names none.
func (s *Server) SetDefaultModel(name string) {
	if name != "" {
		s.defaultModel = name
	}
}

// SetCORSOrigins sets the origins allowed to call the API from a
// browser. "*" allows any origin.
func (s *Server) SetCORSOrigins(origins []string) { s.corsOrigins = origins }

// SetCredentials sets the secrets reported by /health and /api-status.
// Only presence and length are ever exposed.
func (s *Server) SetCredentials(creds []config.Credential) { s.credentials = creds }

// SetEventBus enables the /v1/events WebSocket stream.
func (s *Server) SetEventBus(bus *events.Bus) { s.bus = bus }

// SetUsageStore enables the /v1/usage endpoint.
func (s *Server) SetUsageStore(u UsageReporter) { s.usage = u }

// SetServiceWatcher adds watched service health to /health.
func (s *Server) SetServiceWatcher(l ServiceLister) { s.services = l }

// SetResearchObserver registers a sink for research results.
func (s *Server) SetResearchObserver(o ResearchObserver) { s.observer = o }

// LastRequestTime returns when the most recent chat request finished.
func (s *Server) LastRequestTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRequest
}

func (s *Server) markRequest() {
	s.mu.Lock()
	s.lastRequest = time.Now()
	s.mu.Unlock()
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.buildRoutes)
	return s.withLogging(s.withCORS(s.mux))
}

func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, h)
	s.routes = append(s.routes, pattern)
}

func (s *Server) buildRoutes() {
	s.mux = http.NewServeMux()

	s.handle("POST /chat", s.handleChat)
	s.handle("GET /conversations", s.handleConversationList)
	s.handle("GET /conversations/{id}", s.handleConversationGet)
	s.handle("DELETE /conversations/{id}", s.handleConversationDelete)

	s.handle("GET /health", s.handleHealth)
	s.handle("GET /api-status", s.handleAPIStatus)
	s.handle("GET /frontend-endpoints", s.handleFrontendEndpoints)
	s.handle("GET /debug", s.handleDebug)
	s.handle("GET /v1/version", s.handleVersion)
	s.handle("GET /v1/tools", s.handleTools)
	s.handle("GET /v1/usage", s.handleUsage)
	s.handle("GET /v1/events", s.handleEvents)
	s.handle("GET /{$}", s.handleRoot)

	slices.Sort(s.routes)
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Research requests chain several model and tool calls.
		WriteTimeout: 5 * time.Minute,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack passes through to the underlying writer for WebSocket upgrades.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) allowedOrigin(origin string) bool {
	for _, o := range s.corsOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.allowedOrigin(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Expose-Headers", "Content-Type, "+requestIDHeader)
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, X-Request-Id")
				h.Set("Access-Control-Max-Age", strconv.Itoa(600))
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// errorResponse writes {"detail": message} with the given status.
func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]string{"detail": message}, s.logger)
}

func (s *Server) respond(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, v, s.logger)
}
