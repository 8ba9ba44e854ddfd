package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/shelfline/curator-cli/internal/config"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config.yaml with the default settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		const path = "config.yaml"
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return eris.Errorf("%s already exists (use --force to overwrite)", path)
		}

		v := viper.New()
		config.SetDefaults(v)

		var defaults config.Config
		if err := v.Unmarshal(&defaults); err != nil {
			return eris.Wrap(err, "build default config")
		}

		data, err := yaml.Marshal(defaults)
		if err != nil {
			return eris.Wrap(err, "marshal config")
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return eris.Wrap(err, "write config")
		}

		zap.L().Info("config written", zap.String("path", path))
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config.yaml")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
