package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/commercesignal/commercesignal/internal/config"
)

const version = "0.4.0"

var configPath string

// Execute runs the CLI.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:   "commercesignal",
		Short: "Cross-platform e-commerce product intelligence",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			level, err := zerolog.ParseLevel(cfg.LogLevel)
			if err != nil {
				level = zerolog.InfoLevel
			}
			zerolog.SetGlobalLevel(level)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	root.AddCommand(serveCmd())
	root.AddCommand(scanCmd())
	root.AddCommand(analyzeCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "commercesignal %s\n", version)
		},
	})

	log.Info().Str("version", version).Msg("commercesignal starting")
	return root.ExecuteContext(ctx)
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}
