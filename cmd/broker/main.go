package main

import (
	"context"
	"fmt"
	"os"

	"coordinator/pkg/config"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type rootFlags struct {
	configPath string
	logLevel   string
	address    string
}

func main() {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "broker",
		Short: "Pairs wearable and robot clients and relays their messages",
		Long: `broker accepts WebSocket connections from wearable AR clients and robot
clients, pairs them first-come-first-served and relays every message between
the two sides of a pair unmodified. An authenticated JSON API lets an
operator inspect connections, force pairings and close clients.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "configs/config.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override logging.level")
	rootCmd.PersistentFlags().StringVar(&flags.address, "address", "", "override server.address")

	rootCmd.AddCommand(
		serveCmd(flags),
		eventsCmd(flags),
		connectionsCmd(flags),
		versionCmd(),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// loadConfig applies command-line overrides on top of file and env values.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.address != "" {
		cfg.Server.Address = flags.address
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
