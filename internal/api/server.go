// Package api exposes the profile store and refresh scheduler over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/profile-service/internal/model"
	"github.com/sells-group/profile-service/internal/profilestore"
	"github.com/sells-group/profile-service/internal/resilience"
	"github.com/sells-group/profile-service/internal/scheduler"
)

// ProfileService is the slice of the profile store the handlers need.
type ProfileService interface {
	GetProfile(ctx context.Context, entityKey string, includeStale bool) (*model.ConsolidatedProfile, error)
	Query(ctx context.Context, f profilestore.Filter, p profilestore.Page) (*profilestore.QueryResult, error)
	Search(ctx context.Context, text string, f profilestore.Filter, p profilestore.Page) (*profilestore.QueryResult, error)
	UpdateFromSource(ctx context.Context, entityKey string, update model.SourceUpdate) (*model.ConsolidatedProfile, error)
}

// Refresher is the slice of the scheduler the handlers need.
type Refresher interface {
	RunScheduledRefresh(ctx context.Context) (*scheduler.RunResult, error)
	ForceRefresh(ctx context.Context, opts scheduler.ForceOptions) (*scheduler.RunResult, error)
	HealthCheck(ctx context.Context) (*scheduler.HealthReport, error)
	Running() bool
	LastRun() *scheduler.RunResult
	FailedRefreshes() []resilience.DLQEntry
}

// Fetcher pulls a fresh update from a single source, used by the
// on-demand insights endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, entityKey string, kind model.SourceKind) (*model.SourceUpdate, error)
}

// Server wires the HTTP handlers to the profile service and scheduler.
type Server struct {
	profiles ProfileService
	refresh  Refresher
	fetch    Fetcher
	log      *zap.Logger
}

func NewServer(profiles ProfileService, refresh Refresher, fetch Fetcher) *Server {
	return &Server{
		profiles: profiles,
		refresh:  refresh,
		fetch:    fetch,
		log:      zap.L().Named("api"),
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/profiles", func(r chi.Router) {
		r.Get("/", s.handleListProfiles)
		r.Get("/{key}", s.handleGetProfile)
		r.Post("/{key}/sources/{kind}", s.handleUpdateSource)
		r.Post("/{key}/insights", s.handleGenerateInsights)
	})

	r.Route("/refresh", func(r chi.Router) {
		r.Get("/status", s.handleRefreshStatus)
		r.Post("/run", s.handleRefreshRun)
		r.Post("/force", s.handleRefreshForce)
	})

	r.Get("/contractors/{key}", s.handleGetContractor)

	return r
}
