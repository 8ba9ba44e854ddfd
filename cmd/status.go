package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shelfline/curator-cli/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status distribution of the catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		counts, err := env.store.CountByStatus(ctx)
		if err != nil {
			return err
		}

		total := 0
		for _, n := range counts {
			total += n
		}
		zap.L().Info("catalog status",
			zap.Int("total", total),
			zap.Int("not_processed", counts[model.StatusNotProcessed]),
			zap.Int("pending", counts[model.StatusPending]),
			zap.Int("approved", counts[model.StatusApproved]),
			zap.Int("declined", counts[model.StatusDeclined]),
			zap.Int("not_found", counts[model.StatusNotFound]),
		)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show learning insights from the feedback history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		insights, err := env.loop.Analyze(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("learning insights",
			zap.Int("sample_size", insights.SampleSize),
			zap.Float64("success_rate", insights.SuccessRate),
			zap.String("best_strategy", string(insights.BestStrategy)),
			zap.Strings("best_retailers", insights.BestRetailers),
		)
		for retailer, s := range insights.RetailerStats {
			zap.L().Info("retailer stats",
				zap.String("retailer", retailer),
				zap.Int("success", s.Success),
				zap.Int("total", s.Total),
			)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
}
