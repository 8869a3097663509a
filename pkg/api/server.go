package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psaab/slaacd/pkg/logging"
	"github.com/psaab/slaacd/pkg/slaac"
)

// Config configures the API server.
type Config struct {
	Addr string
	Auth *AuthConfig // nil = no authentication

	// Snapshot returns the latest published engine state, or nil before
	// the first publication. It is called from HTTP goroutines.
	Snapshot func() *slaac.Snapshot

	EventBuf   *logging.EventBuffer
	DNSQueries func() uint64
	ConfigText func() string // running configuration, nil if unavailable
	Reload     func() error  // asks the daemon to re-read its configuration

	// ConfigCompare diffs the nth previous configuration against the
	// running one.
	ConfigCompare func(n int) (string, error)
	Logger     *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	snapshot   func() *slaac.Snapshot
	eventBuf   *logging.EventBuffer
	dnsQueries func() uint64
	configText func() string
	compare    func(int) (string, error)
	reload     func() error
	log        *slog.Logger
	startTime  time.Time
}

// NewServer creates an API server.
func NewServer(cfg Config) *Server {
	s := &Server{
		snapshot:   cfg.Snapshot,
		eventBuf:   cfg.EventBuf,
		dnsQueries: cfg.DNSQueries,
		configText: cfg.ConfigText,
		compare:    cfg.ConfigCompare,
		reload:     cfg.Reload,
		log:        cfg.Logger,
		startTime:  time.Now(),
	}
	if s.snapshot == nil {
		s.snapshot = func() *slaac.Snapshot { return nil }
	}
	if s.log == nil {
		s.log = slog.Default()
	}

	var handler http.Handler = s.routes()
	if cfg.Auth != nil {
		handler = authMiddleware(*cfg.Auth, handler)
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	// Prometheus metrics with isolated registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(newCollector(s))
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/v1/status", s.statusHandler)
	mux.HandleFunc("GET /api/v1/slaac", s.slaacHandler)
	mux.HandleFunc("GET /api/v1/slaac/leases", s.leasesHandler)
	mux.HandleFunc("GET /api/v1/slaac/hosts", s.hostsHandler)
	mux.HandleFunc("GET /api/v1/events", s.eventsHandler)
	mux.HandleFunc("GET /api/v1/events/stream", s.eventStreamHandler)
	mux.HandleFunc("GET /api/v1/config", s.configHandler)
	mux.HandleFunc("GET /api/v1/config/compare", s.compareHandler)
	mux.HandleFunc("POST /api/v1/config/reload", s.reloadHandler)

	return mux
}

// Handler returns the server's HTTP handler, authentication included.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP API server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
