package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/visiscope/visiscope/internal/utils"
	"github.com/visiscope/visiscope/pkg/metrics"
	"github.com/visiscope/visiscope/pkg/probe"
	"github.com/visiscope/visiscope/pkg/storage"
)

type Server struct {
	DB       *storage.DB
	Prober   *probe.Prober // optional; nil disables POST /api/scan
	Username string
	Password string
}

func New(db *storage.DB, prober *probe.Prober, user, pass string) *Server {
	return &Server{
		DB:       db,
		Prober:   prober,
		Username: user,
		Password: pass,
	}
}

// Handler returns the full route table wrapped in request metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Persistence-backed views
	mux.HandleFunc("GET /api/stats", s.basicAuth(s.handleStats))
	mux.HandleFunc("GET /api/leads", s.basicAuth(s.handleLeads))
	mux.HandleFunc("GET /api/leads/{domain}", s.basicAuth(s.handleLead))
	mux.HandleFunc("DELETE /api/leads/{domain}", s.basicAuth(s.handleDeleteLead))
	mux.HandleFunc("POST /api/scan", s.basicAuth(s.handleScan))
	mux.HandleFunc("GET /api/audits", s.basicAuth(s.handleAudits))
	mux.HandleFunc("GET /api/audits/{id}", s.basicAuth(s.handleAudit))

	// Pure scoring
	mux.HandleFunc("POST /api/robots", s.basicAuth(s.handleRobots))
	mux.HandleFunc("POST /api/quickscore", s.basicAuth(s.handleQuickScore))
	mux.HandleFunc("POST /api/aggregate", s.basicAuth(s.handleAggregate))
	mux.HandleFunc("POST /api/visibility", s.basicAuth(s.handleVisibility))

	mux.Handle("GET /metrics", s.basicAuthMiddleware(promhttp.Handler()))

	return instrument(mux)
}

func (s *Server) Start(addr string) error {
	utils.Log.Infof("Starting server on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return s.basicAuthMiddleware(next).ServeHTTP
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Username == "" && s.Password == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Username || pass != s.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument counts requests by route pattern, so /api/leads/{domain} is one
// series rather than one per domain.
func instrument(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		mux.ServeHTTP(rec, r)

		// Patterns carry their method, e.g. "GET /api/leads/{domain}".
		path := r.Pattern
		if i := strings.IndexByte(path, ' '); i >= 0 {
			path = path[i+1:]
		}
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
	})
}
