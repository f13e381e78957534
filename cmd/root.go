package cmd

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/grant-matcher/internal/logger"
	"github.com/spigell/grant-matcher/internal/scoring"
)

const (
	app = "grant-matcher"
)

type Config struct {
	Scoring scoring.Config `mapstructure:"scoring"`
	Triage  TriageConfig   `mapstructure:"triage"`
	AI      AIConfig       `mapstructure:"ai"`
}

type TriageConfig struct {
	DBPath string `mapstructure:"db-path"`
}

type AIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// FallbackOnError degrades a failed screening to insufficient data instead
	// of failing the candidate.
	FallbackOnError bool         `mapstructure:"fallback-on-error"`
	MinimumScore    float64      `mapstructure:"minimum-score"`
	Gemini          GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	APIKeyEnv    string `mapstructure:"api-key-env"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "grant-matcher scores candidate foundations against a grant seeker and keeps a review backlog",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("triage.db-path", "GRANT_MATCHER_TRIAGE_DB"); err != nil {
		log.Fatalf("binding GRANT_MATCHER_TRIAGE_DB environment variable: %v", err)
	}
	viper.SetDefault("triage.db-path", filepath.Join(".grant-matcher", "triage.db"))

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is grant-matcher.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// Built-in defaults are used when no config file exists; an explicit
	// --config must be readable.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		Scoring: scoring.DefaultConfig(),
		AI: AIConfig{
			FallbackOnError: true,
			Gemini: GeminiConfig{
				APIKeyEnv:  "GEMINI_API_KEY",
				MaxRetries: 3,
			},
		},
	}
}

// getConfig decodes the viper settings over the defaults and validates the
// scoring section.
func getConfig() (*Config, error) {
	config := defaultConfig()

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		// Configured weights replace the default map instead of merging into it.
		ZeroFields:       true,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		Result:           config,
	})
	if err != nil {
		return nil, err
	}

	if err := decoder.Decode(viper.AllSettings()); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := config.Scoring.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// setup builds the logger and loads the config, exiting on failure.
func setup() (*zap.Logger, *Config) {
	zl, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		zl.Fatal("getting a config", zap.Error(err))
	}

	return zl, config
}
