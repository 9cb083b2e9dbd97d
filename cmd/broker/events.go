package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"coordinator/internal/infrastructure/distributed"
	"coordinator/pkg/circuitbreaker"
	"coordinator/pkg/logger"
	"coordinator/pkg/retry"
	"coordinator/pkg/utils"

	"github.com/spf13/cobra"
)

// eventsCmd prints the pairing events every broker instance publishes to Redis.
func eventsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream pairing events from Redis as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if !cfg.Redis.Enabled {
				return errors.New("redis is disabled; set redis.enabled or BROKER_REDIS_ADDRESS")
			}

			zapLogger := logger.NewWithFormat(cfg.Logging.Level, "console")
			defer zapLogger.Sync()
			log := zapLogger.Sugar()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := distributed.NewRedisClient(ctx, redisOptions(cfg), retry.DefaultConfig(), log)
			if err != nil {
				return err
			}
			defer client.Close()

			bus := distributed.NewEventBus(client, utils.GenerateSessionID(), circuitbreaker.New(circuitbreaker.DefaultConfig()), log)
			out := json.NewEncoder(cmd.OutOrStdout())

			err = bus.Subscribe(ctx, true, func(event *distributed.Event) error {
				return out.Encode(event)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				fmt.Fprintf(os.Stderr, "subscription ended: %v\n", err)
				return err
			}
			return nil
		},
	}
	return cmd
}
