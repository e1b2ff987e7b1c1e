package main

import (
	"fmt"

	"github.com/dquang-mevn/purchase-search-ui/internal/config"
	"github.com/dquang-mevn/purchase-search-ui/pkg/cache"
	"github.com/dquang-mevn/purchase-search-ui/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var purgeModel string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the Redis response cache",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete cached annotations",
	Long: `Deletes cached annotations from Redis, for one model with --model or
for every model otherwise. Entries for an edited prompt or schema are never
served, so purging is only needed to reclaim space or force fresh answers.`,
	Args: cobra.NoArgs,
	RunE: runCachePurge,
}

func init() {
	cachePurgeCmd.Flags().StringVar(&purgeModel, "model", "", "Only purge entries produced by this model")
	cacheCmd.AddCommand(cachePurgeCmd)
}

func runCachePurge(cmd *cobra.Command, args []string) error {
	// No API key is needed here, so the full validation is skipped.
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if verbose {
		cfg.Logging.Level = logging.LevelDebug
	}
	logging.Setup(cfg.LoggingSetup())

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	ctx := cmd.Context()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	n, err := cache.NewManager(rdb).Purge(ctx, purgeModel)
	if err != nil {
		return err
	}

	log.Info().Str("model", purgeModel).Int("deleted", n).Msg("Cache purged")
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d cached annotations\n", n)
	return nil
}
