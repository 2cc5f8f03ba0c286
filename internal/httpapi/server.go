// Package httpapi exposes the orchestrator's four operations over HTTP,
// the sibling transport to the JSON-RPC stdio surface, consumed by the
// out-of-process capture wrapper. Grounded on the teacher's
// internal/httpapi.Server (net/http.ServeMux with Go 1.22 method-and-path
// patterns, a thin service field, routes registered in one place).
package httpapi

import (
	"net/http"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mnemo/internal/orchestrator"
)

// Server is the HTTP API surface over an Orchestrator.
type Server struct {
	orch *orchestrator.Orchestrator
	log  zerolog.Logger
	mux  *http.ServeMux
}

// NewServer builds a Server wired to orch. The returned handler is
// wrapped in otelhttp for request tracing, matching the teacher's use
// of otelhttp elsewhere in its stack.
func NewServer(orch *orchestrator.Orchestrator, log zerolog.Logger) http.Handler {
	s := &Server{orch: orch, log: log, mux: http.NewServeMux()}
	s.registerRoutes()
	return otelhttp.NewHandler(s, "mnemo.http")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /conversation/store", s.handleStoreConversation)
	s.mux.HandleFunc("POST /memory/search", s.handleSearchMemories)
	s.mux.HandleFunc("POST /memory/inject", s.handleInjectContext)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}
