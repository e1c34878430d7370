package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/core/semaphore"
	errwrap "github.com/llmgate/llmgate/internal/errors"
	"github.com/llmgate/llmgate/internal/observability"
)

// selfCheck is one step of `llmgate health`. Checks run in order and share
// the loaded config.
type selfCheck struct {
	name string
	run  func(state *selfCheckState) ([]zap.Field, error)
}

type selfCheckState struct {
	cfg *config.Config
}

var selfChecks = []selfCheck{
	{"Version information available", func(*selfCheckState) ([]zap.Field, error) {
		if versionInfo.Version == "" {
			return nil, fmt.Errorf("version information missing")
		}
		return []zap.Field{zap.String("version", versionInfo.Version)}, nil
	}},
	{"Configuration valid", func(state *selfCheckState) ([]zap.Field, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		state.cfg = cfg
		return []zap.Field{zap.Int("providers", len(cfg.AILink.Providers)), zap.Int("agents", len(cfg.Agents))}, nil
	}},
	{"Concurrency limit valid", func(state *selfCheckState) ([]zap.Field, error) {
		if _, err := semaphore.New(state.cfg.Concurrency.MaxConcurrent); err != nil {
			return nil, err
		}
		return []zap.Field{zap.Int("max_concurrent", state.cfg.Concurrency.MaxConcurrent)}, nil
	}},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Run a self-health check to verify the gateway can start with the current configuration.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		if logger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("logger not initialized"))
			return
		}
		logger.Info("Running health check...")

		state := &selfCheckState{}
		for _, check := range selfChecks {
			fields, err := check.run(state)
			if err != nil {
				logger.Error("❌ FAIL: "+check.name, zap.Error(err))
				ExitWithCode(logger, foundry.ExitConfigInvalid, check.name+" check failed", errwrap.WrapConfigInvalid(cmd.Context(), err, check.name+" check failed"))
				return
			}
			logger.Info("✅ "+check.name, fields...)
		}
		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
