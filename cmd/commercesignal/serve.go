package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/commercesignal/commercesignal/internal/httpapi"
	"github.com/commercesignal/commercesignal/internal/intelligence"
	"github.com/commercesignal/commercesignal/internal/metrics"
	"github.com/commercesignal/commercesignal/internal/scheduler"
)

func serveCmd() *cobra.Command {
	var noSchedule bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the scrape scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			reg := metrics.New()
			converter := intelligence.NewConverter(a.rdb)

			var sched *scheduler.Scheduler
			var status httpapi.StatusProvider
			if !noSchedule {
				if sched, err = scheduler.New(a.collector); err != nil {
					return err
				}
				sched.Observe(reg)
				sched.Start()
				status = sched
			}

			handlers := httpapi.NewHandlers(
				a.registry,
				a.fetcher,
				a.products,
				a.metricsDB,
				a.brands,
				a.alertsDB,
				a.alertsEng,
				a.queue,
				intelligence.NewEngine(),
				intelligence.NewBrandAnalyzer(),
				intelligence.NewArbitrageAnalyzer(converter),
				status,
			)
			server := httpapi.NewServer(cfg.HTTPAddr, handlers, reg)

			serveErr := make(chan error, 1)
			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
			}()

			select {
			case err := <-serveErr:
				return err
			case <-cmd.Context().Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if sched != nil {
				if err := sched.Stop(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("scheduler stop failed")
				}
			}
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "serve the API without the scrape scheduler")
	return cmd
}
