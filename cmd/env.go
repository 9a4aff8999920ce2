package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/profile-service/internal/db"
	"github.com/sells-group/profile-service/internal/freshness"
	"github.com/sells-group/profile-service/internal/merge"
	"github.com/sells-group/profile-service/internal/profilestore"
	"github.com/sells-group/profile-service/internal/provider"
	"github.com/sells-group/profile-service/internal/resilience"
	"github.com/sells-group/profile-service/internal/scheduler"
	"github.com/sells-group/profile-service/pkg/anthropic"
	"github.com/sells-group/profile-service/pkg/companydata"
)

// appEnv holds the initialized store, warehouse pool, tracker, providers,
// and scheduler shared by the serve/refresh/profile commands.
type appEnv struct {
	Store     profilestore.Store
	Profiles  *profilestore.Service
	Warehouse *pgxpool.Pool
	Tracker   *freshness.Tracker
	Scheduler *scheduler.Scheduler
	Registry  *provider.Registry
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Warehouse != nil {
		e.Warehouse.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured profile store backend and applies its
// migration.
func initStore(ctx context.Context) (profilestore.Store, error) {
	var st profilestore.Store
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := profilestore.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		st = s
	case "postgres", "":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store: no database_url configured (set store.database_url or use the sqlite driver)")
		}
		pool, err := db.NewPool(ctx, cfg.Store.DatabaseURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "store: create connection pool")
		}
		st = profilestore.NewPostgres(pool)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Store.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "store: migrate")
	}
	return st, nil
}

// warehousePool connects to the analytical warehouse, falling back to the
// profile store's database when no dedicated warehouse URL is set.
func warehousePool(ctx context.Context) (*pgxpool.Pool, error) {
	dsn := cfg.Warehouse.DatabaseURL
	if dsn == "" {
		dsn = cfg.Store.DatabaseURL
	}
	if dsn == "" {
		return nil, eris.New("warehouse: no database_url configured (set warehouse.database_url or store.database_url)")
	}
	return db.NewPool(ctx, dsn, nil)
}

// initEnv wires the store, freshness tracker, providers, and scheduler.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	warehouse, err := warehousePool(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	cache := profilestore.NewFrontCache(cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLMinutes)*time.Minute)
	profiles := profilestore.NewService(st, cache, merge.New())

	tables := make([]freshness.TrackedTable, 0, len(cfg.Warehouse.Tables))
	for _, name := range cfg.Warehouse.Tables {
		tables = append(tables, freshness.TrackedTable{Name: name, UpdatedColumn: "updated_at"})
	}
	probe := freshness.NewWarehouseProbe(warehouse, freshness.WarehouseProbeConfig{
		Tables:          tables,
		EntityTable:     "recipient_summaries",
		EntityKeyColumn: "recipient_key",
		EntityUpdated:   "updated_at",
	})

	checkpoints := freshness.NewCheckpointStore(warehouse)
	if err := checkpoints.Migrate(ctx); err != nil {
		warehouse.Close()
		_ = st.Close()
		return nil, err
	}

	tracker := freshness.NewTracker(probe, checkpoints, freshness.Config{
		StaleThreshold: time.Duration(cfg.Freshness.StaleThresholdHours) * time.Hour,
		CadenceWindow:  time.Duration(cfg.Freshness.CadenceWindowDays) * 24 * time.Hour,
		MaxEntityScan:  cfg.Freshness.MaxEntityScan,
	})

	registry := initProviders(profiles, warehouse)

	sched := scheduler.New(tracker, profiles, registry, checkpoints, scheduler.Config{
		BatchLimit:  cfg.Scheduler.BatchLimit,
		Concurrency: cfg.Scheduler.Concurrency,
		MinInterval: time.Duration(cfg.Scheduler.MinIntervalMins) * time.Minute,
	})

	return &appEnv{
		Store:     st,
		Profiles:  profiles,
		Warehouse: warehouse,
		Tracker:   tracker,
		Scheduler: sched,
		Registry:  registry,
	}, nil
}

// initProviders builds the source registry. Providers whose upstream is not
// configured are left out; the scheduler simply never gets updates for
// those sources.
func initProviders(profiles *profilestore.Service, warehouse *pgxpool.Pool) *provider.Registry {
	providers := []provider.Provider{
		provider.NewFinancialProvider(warehouse),
		provider.NewNetworkProvider(warehouse),
	}

	if cfg.Enrichment.Key != "" {
		opts := []companydata.Option{companydata.WithRateLimit(cfg.Enrichment.RateLimit)}
		if cfg.Enrichment.BaseURL != "" {
			opts = append(opts, companydata.WithBaseURL(cfg.Enrichment.BaseURL))
		}
		client := companydata.NewClient(cfg.Enrichment.Key, opts...)
		retry := resilience.FromRetryConfig(
			cfg.Resilience.MaxAttempts,
			cfg.Resilience.InitialBackoffMs,
			cfg.Resilience.MaxBackoffMs,
			cfg.Resilience.Multiplier,
			cfg.Resilience.JitterFraction,
		)
		breaker := resilience.FromCircuitConfig(cfg.Resilience.FailureThreshold, cfg.Resilience.ResetTimeoutSecs)
		providers = append(providers, provider.NewEnrichmentProvider(client, retry, breaker))
	} else {
		zap.L().Warn("PROFILE_ENRICHMENT_KEY not set, enrichment provider disabled")
	}

	if cfg.Anthropic.Key != "" {
		client := anthropic.NewClient(cfg.Anthropic.Key)
		p := provider.NewInsightsProvider(client, profiles)
		if cfg.Anthropic.InsightsModel != "" {
			p = p.WithModel(cfg.Anthropic.InsightsModel)
		}
		providers = append(providers, p)
	} else {
		zap.L().Warn("PROFILE_ANTHROPIC_KEY not set, insights provider disabled")
	}

	return provider.NewRegistry(providers...)
}
