package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"helmetgen/internal/config"
	"helmetgen/internal/logging"
)

var (
	cfg       config.Config
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "helmetgen",
	Short: "Put a helmet on any profile picture",
	Long: `helmetgen sends a profile picture and the helmet overlay to the OpenAI
image edit endpoint and publishes the results.

Configuration comes from the environment (and .env when present), e.g.
OPENAI_API_KEY, DATABASE_PATH, BLOB_BACKEND, OVERLAY_PATH.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		if logFormat != "" {
			loaded.LogFormat = logFormat
		}
		cfg = loaded
		logging.SetupWriter(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Override LOG_FORMAT (console, json)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
