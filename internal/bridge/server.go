package bridge

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/runnerr0/pagetime/internal/config"
	"github.com/runnerr0/pagetime/internal/guard"
	"github.com/runnerr0/pagetime/internal/logging"
	"github.com/runnerr0/pagetime/internal/metrics"
	"github.com/runnerr0/pagetime/internal/storage"
	"github.com/runnerr0/pagetime/internal/tracker"
)

// FallbackPath serves the built-in page blacklisted tabs are sent to.
const FallbackPath = "/fallback"

const limiterCleanupInterval = 5 * time.Minute

// Sessions is the tracker surface driven by the bridge.
type Sessions interface {
	Open(tab tracker.TabID, url, favicon string) (tracker.Session, error)
	Handle(tab tracker.TabID, msg tracker.Message) error
	Remove(tab tracker.TabID) error
	Sessions() []tracker.Session
}

// Navigations evaluates completed navigations.
type Navigations interface {
	OnNavigationCompleted(ctx context.Context, nav guard.Navigation) (guard.Decision, error)
}

// Records is the read side of the duration store.
type Records interface {
	Query(ctx context.Context, c storage.Criteria) ([]storage.PageVisitRecord, error)
	GetStats(ctx context.Context) (*storage.Stats, error)
}

// Deps are the components the server routes to.
type Deps struct {
	Sessions    Sessions
	Navigations Navigations
	Records     Records
	Outbox      *Outbox
	Metrics     metrics.Recorder
	Gatherer    prometheus.Gatherer
	Logger      logrus.FieldLogger
	Version     string

	// ReportInterval is advertised on /status as the cadence content
	// scripts should use for addPageDuration reports.
	ReportInterval time.Duration
}

// Server is the loopback HTTP endpoint the extension talks to.
type Server struct {
	cfg        config.DaemonConfig
	deps       Deps
	log        logrus.FieldLogger
	limiter    *rateLimiter
	router     http.Handler
	httpServer *http.Server
	started    time.Time
}

// NewServer wires the routes for cfg and deps.
func NewServer(cfg config.DaemonConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.NewRegistry()
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Logger,
		limiter: newRateLimiter(cfg.MessagesPerSecond, cfg.MessageBurst, limiterCleanupInterval),
		started: time.Now(),
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.log.WithField("addr", s.cfg.Addr()).Info("bridge listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/status", s.handleStatus)
	r.Get(FallbackPath, handleFallback)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(s.deps.Gatherer))

	r.Route("/api", func(r chi.Router) {
		r.Post("/tabs/activated", s.handleTabOpened("onActivated"))
		r.Post("/tabs/updated", s.handleTabOpened("onUpdated"))
		r.Post("/tabs/removed", s.handleTabRemoved)
		r.Post("/navigation/completed", s.handleNavigationCompleted)
		r.Post("/messages", s.handleMessage)
		r.Get("/tabs/{tabID}/outbox", s.handleOutbox)
		r.Get("/sessions", s.handleSessions)
		r.Get("/records", s.handleRecords)
		r.Get("/stats", s.handleStats)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}
