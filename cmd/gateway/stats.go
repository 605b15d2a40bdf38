package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"webhook-gateway/config"
	rlinfra "webhook-gateway/middleware/ratelimit/infra"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	var (
		configPath string
		top        int64
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print rate limit counters stored in Redis",
		Long: `Print the rate limit decision counters that every gateway instance writes
to Redis (requires RATE_STATS_ENABLED=true and REDIS_ADDR).

With --top, also lists the most denied client keys (RATE_STATS_TRACK_KEYS).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if !cfg.RateLimit.Stats.Enabled {
				return errors.New("rate limit stats are disabled (RATE_STATS_ENABLED)")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			rdb, err := connectRedis(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer func() { _ = rdb.Close() }()

			st := rlinfra.NewRedisStatsStore(rdb, rlinfra.WithStatsPrefix(cfg.RateLimit.Stats.Prefix))
			return printStats(ctx, cmd.OutOrStdout(), st, top)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().Int64Var(&top, "top", 0, "also list the N most denied client keys")
	return cmd
}

func printStats(ctx context.Context, out io.Writer, st *rlinfra.RedisStatsStore, top int64) error {
	total, err := st.Totals(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "allowed: %d\ndenied:  %d\n", total.Allowed, total.Denied)

	if top <= 0 {
		return nil
	}
	denied, err := st.TopDenied(ctx, top)
	if err != nil {
		return err
	}
	for i, z := range denied {
		fmt.Fprintf(out, "%2d. %v %.0f\n", i+1, z.Member, z.Score)
	}
	return nil
}
