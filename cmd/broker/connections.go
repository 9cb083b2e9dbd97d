package main

import (
	"encoding/json"
	"errors"
	"sort"

	"coordinator/internal/infrastructure/distributed"
	"coordinator/pkg/logger"
	"coordinator/pkg/retry"

	"github.com/spf13/cobra"
)

// connectionsCmd lists the clients every running broker instance has
// mirrored into Redis.
func connectionsCmd(flags *rootFlags) *cobra.Command {
	var instance string

	cmd := &cobra.Command{
		Use:   "connections",
		Short: "List connections across broker instances from the Redis directory",
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

			client, err := distributed.NewRedisClient(cmd.Context(), redisOptions(cfg), retry.DefaultConfig(), log)
			if err != nil {
				return err
			}
			defer client.Close()

			directory := distributed.NewDirectory(client, "", 0, log)
			entries, err := directory.List(cmd.Context())
			if err != nil {
				return err
			}

			filtered := entries[:0]
			for _, e := range entries {
				if instance == "" || e.InstanceID == instance {
					filtered = append(filtered, e)
				}
			}
			sort.Slice(filtered, func(i, j int) bool {
				if filtered[i].InstanceID != filtered[j].InstanceID {
					return filtered[i].InstanceID < filtered[j].InstanceID
				}
				return filtered[i].ConnectedAt.Before(filtered[j].ConnectedAt)
			})

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(filtered)
		},
	}
	cmd.Flags().StringVar(&instance, "instance", "", "only list clients of this broker instance")
	return cmd
}
