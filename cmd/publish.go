package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shelfline/curator-cli/internal/publish"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upload the approved image folder to the configured FTP endpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		report, err := publish.New(cfg.Publish).Publish(ctx, cfg.Images.Root)
		if err != nil {
			return err
		}

		zap.L().Info("publish complete", zap.Int("uploaded", report.Uploaded))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)
}
