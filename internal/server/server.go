// Package server exposes the pipeline over HTTP.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/agentd/internal/metrics"
	"github.com/raphaelgruber/agentd/internal/pipeline"
	"github.com/raphaelgruber/agentd/internal/reaper"
	"github.com/raphaelgruber/agentd/internal/store"
)

// Options configures the HTTP surface.
type Options struct {
	// APIPrefix additionally mounts every route under this path, e.g. "/api".
	APIPrefix string
	// Files serves published artifacts under /files/. Nil disables the route.
	Files   http.Handler
	Metrics *metrics.Collector
	Logger  *slog.Logger
	// Now is the clock used in health responses.
	Now func() time.Time
}

// Server holds the handler dependencies.
type Server struct {
	manager *pipeline.Manager
	store   *store.Store
	reaper  *reaper.Reaper
	opts    Options
	logger  *slog.Logger

	upgrader websocket.Upgrader
}

// New creates a server. rp may be nil when no reaper runs.
func New(m *pipeline.Manager, st *store.Store, rp *reaper.Reaper, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	opts.APIPrefix = strings.TrimRight(opts.APIPrefix, "/")
	if opts.APIPrefix != "" && !strings.HasPrefix(opts.APIPrefix, "/") {
		opts.APIPrefix = "/" + opts.APIPrefix
	}
	return &Server{
		manager: m,
		store:   st,
		reaper:  rp,
		opts:    opts,
		logger:  opts.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // clients run on other origins during development
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler returns the router with logging middleware attached.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware(s.logger))

	if s.opts.APIPrefix != "" {
		s.routes(r.PathPrefix(s.opts.APIPrefix).Subrouter(), s.opts.APIPrefix)
	}
	s.routes(r, "")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found.")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed.")
	})
	return r
}

func (s *Server) routes(r *mux.Router, prefix string) {
	r.HandleFunc("/", s.Index).Methods(http.MethodGet)
	r.HandleFunc("/run", s.Run).Methods(http.MethodPost)
	r.HandleFunc("/answer/{id}", s.Answer).Methods(http.MethodPost)
	r.HandleFunc("/status/{id}", s.Status).Methods(http.MethodGet)
	r.HandleFunc("/cancel/{id}", s.Cancel).Methods(http.MethodPost)
	r.HandleFunc("/watch/{id}", s.Watch).Methods(http.MethodGet)
	r.HandleFunc("/api-status", s.APIStatus).Methods(http.MethodGet)
	r.HandleFunc("/health", s.Health).Methods(http.MethodGet)

	if s.opts.Files != nil {
		r.PathPrefix("/files/").Handler(http.StripPrefix(prefix+"/files/", s.opts.Files)).Methods(http.MethodGet, http.MethodHead)
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Message: message, Status: status}})
}
