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

	"github.com/gifmotion/gifmotion/internal/ailink/driver"
	"github.com/gifmotion/gifmotion/internal/config"
	"github.com/gifmotion/gifmotion/internal/observability"
)

var (
	cfgFile   string
	envFiles  []string
	verbose   bool
	traceFile string

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

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Image-to-video generation proxy for the Runway API",
	Long: `gifmotion turns a still image and a text prompt into a short video.

It submits the image to Runway, polls the task until it finishes and returns
the video location. Run "serve" to expose POST /api/generate behind a referer
check and a per-client rate limit, or "generate" to run one job locally.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Keep config loading from emitting metrics to stdout. serve installs the
	// real telemetry system later.
	if sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: false}); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/gifmotion/config.yaml)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env", ".env.local"}, "dotenv files to load before reading the environment")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	rootCmd.PersistentFlags().StringVar(&traceFile, "trace", "", "trace Runway requests/responses to NDJSON file")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	observability.InitCLILogger(config.AppName, verbose)

	loaded, err := config.LoadDotEnv(envFiles...)
	if err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to read dotenv file", err)
	}
	for _, path := range loaded {
		observability.CLILogger.Debug("Loaded dotenv file", zap.String("path", path))
	}

	if traceFile != "" {
		if _, err := driver.EnableTracing(traceFile); err != nil {
			observability.CLILogger.Warn("Failed to enable tracing", zap.Error(err))
		} else {
			// The trace file stays open for the whole process.
			observability.CLILogger.Debug("Runway tracing enabled", zap.String("file", traceFile))
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if dir := gfconfig.GetAppConfigDir(config.AppName); dir != "" {
			viper.AddConfigPath(dir)
		} else if home, err := os.UserHomeDir(); err == nil {
			if verbose {
				observability.CLILogger.Warn("Could not resolve XDG config directory, falling back to home directory")
			}
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath("./config")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(strings.TrimSuffix(config.EnvPrefix, "_"))
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		observability.CLILogger.Debug("Using config file", zap.String("path", viper.ConfigFileUsed()))
	} else if verbose {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			observability.CLILogger.Debug("No config file found, using defaults and environment variables")
		} else {
			observability.CLILogger.Warn("Error reading config file", zap.Error(err))
		}
	}

	config.SetDefaults(viper.GetViper())
}

// errConfig marks command failures caused by invalid configuration.
var errConfig = errors.New("invalid configuration")

// loadConfig decodes the global viper state into a validated Config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}
	return cfg, nil
}
