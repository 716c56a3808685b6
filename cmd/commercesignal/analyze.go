package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/commercesignal/commercesignal/internal/intelligence"
	"github.com/commercesignal/commercesignal/internal/persistence"
)

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <product-url>",
		Short: "Scrape one product and print its intelligence report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			ex, id, err := a.registry.Dispatch(args[0])
			if err != nil {
				return fmt.Errorf("unsupported product url: %w", err)
			}

			scraped, err := ex.ScrapeProduct(ctx, a.fetcher, id)
			if err != nil {
				return fmt.Errorf("scrape failed: %w", err)
			}
			product, err := a.products.Upsert(ctx, scraped.Product())
			if err != nil {
				return err
			}
			today := time.Now().UTC().Truncate(24 * time.Hour)
			if _, err := a.metricsDB.Insert(ctx, scraped.Metric(product.ID, today)); err != nil && !errors.Is(err, persistence.ErrDuplicate) {
				return err
			}
			history, err := a.metricsDB.History(ctx, product.ID, 90)
			if err != nil {
				return err
			}

			report := intelligence.NewEngine().AnalyzeProduct(product, history)
			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	return cmd
}
