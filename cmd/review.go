package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shelfline/curator-cli/internal/workflow"
)

// reviewCommand builds one single-SKU review subcommand. All review ops
// share the (ok, reason) contract from the workflow manager.
func reviewCommand(use, short string, op func(*appEnv, context.Context, string) (bool, string)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <sku>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := initEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			ok, reason := op(env, ctx, args[0])
			if !ok {
				return eris.Errorf("%s %s: %s", use, args[0], reason)
			}
			zap.L().Info(use+" done", zap.String("sku", args[0]), zap.String("note", reason))
			return nil
		},
	}
}

// bulkCommand builds a multi-SKU review subcommand with per-SKU results.
func bulkCommand(use, short string, op func(*appEnv, context.Context, []string) map[string]workflow.OpResult) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <sku> [sku...]",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := initEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			failed := 0
			for sku, res := range op(env, ctx, args) {
				if res.OK {
					continue
				}
				failed++
				zap.L().Warn(use+" failed", zap.String("sku", sku), zap.String("reason", res.Reason))
			}
			if failed > 0 {
				return eris.Errorf("%s: %d of %d SKUs failed", use, failed, len(args))
			}
			zap.L().Info(use+" done", zap.Int("count", len(args)))
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(reviewCommand("approve", "Approve a pending image", func(e *appEnv, ctx context.Context, sku string) (bool, string) {
		return e.manager.Approve(ctx, sku)
	}))
	rootCmd.AddCommand(reviewCommand("decline", "Decline a pending image", func(e *appEnv, ctx context.Context, sku string) (bool, string) {
		return e.manager.Decline(ctx, sku)
	}))
	rootCmd.AddCommand(reviewCommand("unapprove", "Send an approved image back to review", func(e *appEnv, ctx context.Context, sku string) (bool, string) {
		return e.manager.Unapprove(ctx, sku)
	}))
	rootCmd.AddCommand(reviewCommand("reprocess", "Remove the stored image and reprocess from scratch", func(e *appEnv, ctx context.Context, sku string) (bool, string) {
		return e.manager.Reprocess(ctx, sku)
	}))

	rootCmd.AddCommand(bulkCommand("bulk-approve", "Approve several pending images", func(e *appEnv, ctx context.Context, skus []string) map[string]workflow.OpResult {
		return e.manager.BulkApprove(ctx, skus)
	}))
	rootCmd.AddCommand(bulkCommand("bulk-decline", "Decline several pending images", func(e *appEnv, ctx context.Context, skus []string) map[string]workflow.OpResult {
		return e.manager.BulkDecline(ctx, skus)
	}))
}
