package cmd

import (
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/parley/logging"
	"github.com/hupe1980/parley/model"
	"github.com/hupe1980/parley/model/anthropic"
	"github.com/hupe1980/parley/model/openai"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Multi-persona deliberation engine for LLMs",
	Long: `parley runs structured deliberations: several research personas answer a
question independently, critique each other, revise, and a synthesizer
condenses the round into a summary with highlights and a follow-up
question that can seed the next cycle.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion records build metadata for the version command.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: $HOME/.config/parley/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text",
		"log format (text, json)")

	rootCmd.PersistentFlags().String("provider", "anthropic",
		"model provider (anthropic, openai)")
	rootCmd.PersistentFlags().String("model", "",
		"model name override (provider default when empty)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("provider", rootCmd.PersistentFlags().Lookup("provider"))
	_ = viper.BindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".parley")
		viper.AddConfigPath("$HOME/.config/parley")
	}

	viper.SetEnvPrefix("PARLEY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	return nil
}

// newLogger builds the process logger from the resolved configuration.
func newLogger() *logging.ParleyLogger {
	return logging.NewSlogLogger(
		logging.ParseLogLevel(viper.GetString("log.level")),
		viper.GetString("log.format"),
		false,
	)
}

// newGateway builds the model gateway named by the provider setting.
func newGateway() (model.Gateway, error) {
	provider := strings.ToLower(viper.GetString("provider"))
	name := viper.GetString("model")

	switch provider {
	case "anthropic":
		return anthropic.NewGateway(func(o *anthropic.Options) {
			if name != "" {
				o.Model = anthropicsdk.Model(name)
			}
		}), nil
	case "openai":
		return openai.NewGateway(func(o *openai.Options) {
			if name != "" {
				o.Model = name
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (anthropic, openai)", provider)
	}
}
