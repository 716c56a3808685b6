package main

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/commercesignal/commercesignal/internal/alerts"
	"github.com/commercesignal/commercesignal/internal/config"
	"github.com/commercesignal/commercesignal/internal/persistence"
	"github.com/commercesignal/commercesignal/internal/persistence/postgres"
	"github.com/commercesignal/commercesignal/internal/scheduler"
	"github.com/commercesignal/commercesignal/internal/scrape"
	"github.com/commercesignal/commercesignal/internal/scrape/extractors"
)

const repoTimeout = 5 * time.Second

// app is the shared dependency graph behind every command.
type app struct {
	cfg *config.Config
	db  *sqlx.DB
	rdb *redis.Client

	gate     *scrape.Gate
	fetcher  *scrape.Fetcher
	registry *extractors.Registry

	products  persistence.ProductsRepo
	metricsDB persistence.MetricsRepo
	brands    persistence.BrandsRepo
	alertsDB  persistence.AlertsRepo

	queue     *alerts.Queue
	alertsEng *alerts.Engine
	collector *scheduler.Collector
}

func buildApp(cfg *config.Config) (*app, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
	}

	gate := scrape.NewGate(scrape.GateParams{
		RequestsPerMinute: cfg.Scraper.RequestsPerMinute,
		FailureThreshold:  cfg.Scraper.FailureThreshold,
		ResetTimeout:      cfg.Scraper.ResetTimeout(),
	})
	renderer := scrape.NewRenderer(cfg.Scraper.RenderTimeout(), scrape.NewProxySelector(cfg.Proxy))
	fetcher := scrape.NewFetcher(gate, renderer, cfg.Scraper.MaxRetries)
	registry := extractors.NewRegistry()

	products := postgres.NewProductsRepo(db, repoTimeout)
	metricsDB := postgres.NewMetricsRepo(db, repoTimeout)
	brands := postgres.NewBrandsRepo(db, repoTimeout)
	alertsDB := postgres.NewAlertsRepo(db, repoTimeout)

	queue := alerts.NewQueue()
	alertsEng := alerts.NewEngine(alertsDB, alerts.NewChannels(queue))
	collector := scheduler.NewCollector(registry, fetcher, gate, products, metricsDB, alertsEng)

	log.Info().
		Str("mode", string(cfg.Mode)).
		Int("rpm", cfg.Scraper.RequestsPerMinute).
		Bool("redis", rdb != nil).
		Msg("application wired")

	return &app{
		cfg:       cfg,
		db:        db,
		rdb:       rdb,
		gate:      gate,
		fetcher:   fetcher,
		registry:  registry,
		products:  products,
		metricsDB: metricsDB,
		brands:    brands,
		alertsDB:  alertsDB,
		queue:     queue,
		alertsEng: alertsEng,
		collector: collector,
	}, nil
}

func (a *app) Close() {
	if a.rdb != nil {
		a.rdb.Close()
	}
	a.db.Close()
}
