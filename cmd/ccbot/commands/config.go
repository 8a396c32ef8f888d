package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/ccbot/pkg/ccbot/bot"
)

// newConfigCmd creates the `ccbot config` command.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage bot configuration",
		Long: `Inspect and scaffold the ccbot configuration.

Examples:
  ccbot config init
  ccbot config show`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
	)

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml",
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := os.Stat("config.yaml"); err == nil {
				return fmt.Errorf("config.yaml already exists, refusing to overwrite")
			}

			data, err := yaml.Marshal(bot.DefaultConfig())
			if err != nil {
				return err
			}
			if err := os.WriteFile("config.yaml", data, 0o644); err != nil {
				return err
			}

			fmt.Println("Configuration written to ./config.yaml")
			fmt.Println("Set DISCORD_TOKEN, OPENAI_API_KEY and DEEPSEEK_API_KEY in the environment or a .env file.")
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			// Secrets never reach stdout.
			cfg.Discord.Token = redact(cfg.Discord.Token)
			cfg.Providers.Primary.APIKey = redact(cfg.Providers.Primary.APIKey)
			cfg.Providers.Secondary.APIKey = redact(cfg.Providers.Secondary.APIKey)
			cfg.Redis.Password = redact(cfg.Redis.Password)

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
