package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/commercesignal/commercesignal/internal/models"
	"github.com/commercesignal/commercesignal/internal/scheduler"
)

func scanCmd() *cobra.Command {
	var (
		platform    string
		metricsPass bool
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one discovery or metrics pass and print the results",
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

			ctx := cmd.Context()
			var results []scheduler.PassResult

			if platform != "" {
				p := models.Platform(platform)
				if !p.Valid() {
					return fmt.Errorf("unknown platform %q", platform)
				}
				var res scheduler.PassResult
				if metricsPass {
					res, err = a.collector.CollectDailyMetrics(ctx, p, limit)
				} else {
					res, err = a.collector.RefreshBestsellers(ctx, p, limit)
				}
				results = append(results, res)
			} else if metricsPass {
				results, err = a.collector.RunMetricsAll(ctx)
			} else {
				results, err = a.collector.RunDiscoveryAll(ctx)
			}
			if err != nil {
				return err
			}

			out, merr := json.MarshalIndent(results, "", "  ")
			if merr != nil {
				return merr
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&platform, "platform", "", "scan a single platform (default all scheduled)")
	cmd.Flags().BoolVar(&metricsPass, "metrics", false, "collect daily metrics instead of discovering bestsellers")
	cmd.Flags().IntVar(&limit, "limit", 30, "products per listing page or tracked products per platform")
	return cmd
}
