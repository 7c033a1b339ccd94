package dashboard

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/agentchaos/chaosproxy/internal/events"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// proxyEnvVars are the outbound proxy environment variables the dashboard
// must not itself route through, per spec §4.9.
var proxyEnvVars = []string{"HTTP_PROXY", "HTTPS_PROXY", "http_proxy", "https_proxy", "ALL_PROXY", "all_proxy"}

// Server is the dashboard's HTTP surface: a WebSocket event feed plus a
// handful of read-only run-history endpoints.
type Server struct {
	logger  *zap.SugaredLogger
	hub     *Hub
	runsDir string
	html    []byte
	router  *chi.Mux

	savedProxyEnv map[string]string
}

// NewServer constructs the dashboard's chi router. html is the dashboard
// page asset served at GET /; it may be empty.
func NewServer(logger *zap.SugaredLogger, hub *Hub, runsDir string, html []byte) *Server {
	s := &Server{logger: logger, hub: hub, runsDir: runsDir, html: html, router: chi.NewRouter()}
	s.setupRoutes()
	return s
}

// Broadcaster returns the underlying event broadcaster for wiring into the
// proxy pipeline's Config.
func (s *Server) Broadcaster() events.Broadcaster { return s.hub }

// Mount attaches an arbitrary handler under pattern on the dashboard's
// router, used by cmd/chaosproxyd to expose /healthz, /readyz and /metrics
// alongside the event feed without giving this package an observability
// import (the caller already owns both).
func (s *Server) Mount(pattern string, handler http.Handler) {
	s.router.Mount(pattern, handler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)

	s.router.Get("/", s.handleIndex)
	s.router.Get("/ws", s.hub.ServeWS)
	s.router.Get("/api/runs", s.handleListRuns)
	s.router.Get("/api/runs/{id}/summary", s.handleRunSummary)
	s.router.Get("/api/runs/{id}/events", s.handleRunEvents)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(s.html)
}

func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	runs, err := ListRuns(s.runsDir)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRunSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	summary, err := Summarize(s.runsDir, id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	evs, err := Events(s.runsDir, id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// DisableOutboundProxyEnv clears the outbound proxy environment variables
// for the dashboard's own process before it starts listening, so its HTTP
// client calls (if any) and the http.DefaultTransport's env-based proxy
// resolution never route back through this proxy itself, per spec §4.9.
// RestoreOutboundProxyEnv undoes it on shutdown.
func (s *Server) DisableOutboundProxyEnv() {
	s.savedProxyEnv = make(map[string]string, len(proxyEnvVars))
	for _, name := range proxyEnvVars {
		if v, ok := os.LookupEnv(name); ok {
			s.savedProxyEnv[name] = v
		}
		os.Unsetenv(name)
	}
}

// RestoreOutboundProxyEnv reinstates whatever DisableOutboundProxyEnv
// cleared.
func (s *Server) RestoreOutboundProxyEnv() {
	for _, name := range proxyEnvVars {
		if v, ok := s.savedProxyEnv[name]; ok {
			os.Setenv(name, v)
		}
	}
}
