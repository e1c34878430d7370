package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/llmgate/llmgate/internal/ailink"
	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/observability"
)

const redacted = "********"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect gateway configuration",
}

var configCheckQuiet bool

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and print the effective settings",
	Long: `Load configuration from defaults, the config file and LLMGATE_* environment
variables, validate it, and print the merged result as YAML. API keys are
redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		observability.CLILogger.Debug("Configuration valid",
			zap.Strings("providers", cfg.ProviderNames()),
			zap.Strings("agents", cfg.AgentNames()))
		if configCheckQuiet {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
			return err
		}
		return writeEffectiveConfig(cmd.OutOrStdout(), cfg)
	},
}

// writeEffectiveConfig renders cfg as YAML with credentials masked.
func writeEffectiveConfig(w io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(redactSecrets(cfg)); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func redactSecrets(cfg *config.Config) *config.Config {
	out := *cfg
	out.AILink.Providers = make(map[string]ailink.ProviderInstanceConfig, len(cfg.AILink.Providers))
	for name, provider := range cfg.AILink.Providers {
		creds := make([]ailink.CredentialConfig, len(provider.Credentials))
		for i, cred := range provider.Credentials {
			if cred.APIKey != "" {
				cred.APIKey = redacted
			}
			creds[i] = cred
		}
		provider.Credentials = creds
		out.AILink.Providers[name] = provider
	}
	return &out
}

func init() {
	configCheckCmd.Flags().BoolVarP(&configCheckQuiet, "quiet", "q", false, "Only report whether the configuration is valid")
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}
