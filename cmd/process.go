package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shelfline/curator-cli/internal/pipeline"
)

var (
	processLimit       int
	processBypassCache bool
	processFromBottom  bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process unprocessed products through the curation pipeline",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		batch, err := env.runner.Run(ctx, pipeline.StartOptions{
			Limit:       processLimit,
			BypassCache: processBypassCache,
			FromBottom:  processFromBottom,
		})
		if err != nil {
			return err
		}

		zap.L().Info("batch complete",
			zap.String("batch_id", batch.ID),
			zap.String("status", string(batch.Status)),
			zap.Int("total", batch.Total),
			zap.Int("approved", batch.Approved),
			zap.Int("pending", batch.Pending),
			zap.Int("failed", batch.Failed),
		)
		return nil
	},
}

func init() {
	processCmd.Flags().IntVar(&processLimit, "limit", 0, "max products to process (0 = all)")
	processCmd.Flags().BoolVar(&processBypassCache, "bypass-cache", false, "ignore cached search results")
	processCmd.Flags().BoolVar(&processFromBottom, "from-bottom", false, "process the catalog in reverse order")
	rootCmd.AddCommand(processCmd)
}
