package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/llmgate/llmgate/internal/ailink/driver"
	"github.com/llmgate/llmgate/internal/appid"
	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/observability"
)

var (
	cfgFile   string
	verbose   bool
	traceFile string

	appIdentity = appid.Get()

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the process identity.
func GetAppIdentity() *appid.Identity {
	return appIdentity
}

var rootCmd = &cobra.Command{
	Use:   appIdentity.BinaryName,
	Short: appIdentity.Description,
	Long: fmt.Sprintf(`%s - %s

Admits completion requests through per-provider rate limits and a global
concurrency cap, then walks each agent's provider chain until one succeeds.`, appIdentity.BinaryName, appIdentity.Description),
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Disable global telemetry early to prevent config loading from emitting
	// metrics to stdout. Server mode will initialize proper telemetry later.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml)", appIdentity.ConfigName))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	rootCmd.PersistentFlags().StringVar(&traceFile, "trace", "", "trace provider requests/responses to NDJSON file")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig prepares the CLI logger, optional provider tracing and the
// global viper instance before any command runs.
func initConfig() {
	observability.InitCLILogger(appIdentity.BinaryName, verbose)
	logger := observability.CLILogger

	if traceFile != "" {
		// The tracer stays open for the whole process; serve closes it on shutdown.
		if _, err := driver.EnableTracing(traceFile); err != nil {
			logger.Warn("Failed to enable tracing", zap.Error(err))
		} else {
			logger.Debug("Provider tracing enabled", zap.String("file", traceFile))
		}
	}

	v := viper.GetViper()
	if err := configureViper(v, cfgFile); err != nil {
		ExitWithCode(logger, foundry.ExitFileNotFound, "Could not resolve config location", err)
	}

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		logger.Debug("Using config file", zap.String("path", v.ConfigFileUsed()))
	case errors.As(err, &notFound):
		// Defaults and LLMGATE_* variables still apply.
		logger.Debug("No config file found, using defaults and environment variables")
	default:
		logger.Warn("Error reading config file", zap.Error(err))
	}

	config.SetDefaults(v)
}

// configureViper points v at the explicit config file, or at config.yaml in
// the XDG config dir (falling back to ~/.llmgate.yaml) and ./config. Environment
// variables use the identity prefix with dots mapped to underscores.
func configureViper(v *viper.Viper, file string) error {
	v.SetEnvPrefix(strings.TrimSuffix(appIdentity.EnvPrefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		return nil
	}

	v.SetConfigType("yaml")
	if dir := gfconfig.GetAppConfigDir(appIdentity.ConfigName); dir != "" {
		v.AddConfigPath(dir)
		v.SetConfigName("config")
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("no XDG config dir and no home directory: %w", err)
		}
		v.AddConfigPath(home)
		v.SetConfigName("." + appIdentity.ConfigName)
	}
	v.AddConfigPath("./config")
	return nil
}

// loadConfig decodes and validates the config held by the global viper instance.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
