package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shelfline/curator-cli/internal/workflow"
)

var clearYes bool

var clearCmd = &cobra.Command{
	Use:       "clear <declined|pending|all_unapproved|full_reset>",
	Short:     "Remove stored images in a scope and reset the products",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"declined", "pending", "all_unapproved", "full_reset"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.manager.Clear(ctx, workflow.ClearScope(args[0]), clearYes)
		if err != nil {
			return err
		}

		zap.L().Info("clear complete", zap.String("scope", args[0]), zap.Int("reset", n))
		return nil
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Relink products to the image files actually on disk",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.manager.Repair(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("repair complete",
			zap.Int("scanned", report.Scanned),
			zap.Int("relinked", report.Relinked),
			zap.Strings("orphans", report.Orphans),
		)
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit the image library for drift and visual duplicates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.manager.Audit(ctx)
		if err != nil {
			return err
		}

		if report.Clean() {
			zap.L().Info("audit clean")
			return nil
		}
		for _, sku := range report.MissingFiles {
			zap.L().Warn("audit: row without file", zap.String("sku", sku))
		}
		for _, path := range report.UntrackedFiles {
			zap.L().Warn("audit: file without row", zap.String("path", path))
		}
		for _, d := range report.Duplicates {
			zap.L().Warn("audit: visual duplicate",
				zap.String("a", d.A),
				zap.String("b", d.B),
				zap.Int("distance", d.Distance),
			)
		}
		return nil
	},
}

func init() {
	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "confirm destructive scopes")
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(auditCmd)
}
