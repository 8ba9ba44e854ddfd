package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shelfline/curator-cli/internal/importer"
)

var importCmd = &cobra.Command{
	Use:   "import <catalog.xlsx|catalog.csv>",
	Short: "Import a product catalog into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := importer.Import(ctx, env.store, args[0])
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.String("file", args[0]),
			zap.Int("imported", result.Imported),
			zap.Int("skipped", result.Skipped),
		)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <report.xlsx>",
	Short: "Export an xlsx status report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		return importer.Export(ctx, env.store, args[0])
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}
