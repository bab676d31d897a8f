package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/issueforge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging defaults, the user config,
the project config and the environment.

User config:    ~/.config/issueforge/config.yaml
Project config: .issueforge.yaml (searched upward from the working directory)
Environment:    ISSUEFORGE_<SECTION>_<KEY>, e.g. ISSUEFORGE_POOL_MAX_CONCURRENCY=8`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return printConfig(cfg)
	},
}

func printConfig(cfg *config.Config) error {
	shown := *cfg
	key, _ := config.GetAPIKey(cfg)
	shown.Anthropic.APIKey = config.MaskAPIKey(key)

	out, err := yaml.Marshal(shown)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	fmt.Printf("# user:    %s\n", config.GetUserConfigPath())
	if p := config.GetProjectConfigPath(); p != "" {
		fmt.Printf("# project: %s\n", p)
	}
	fmt.Printf("# api key: %s\n", config.GetAPIKeySource(cfg))
	_, err = os.Stdout.Write(out)
	return err
}
