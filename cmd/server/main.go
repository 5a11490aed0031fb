package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"datagate/internal/config"
)

const settingsFileEnvVar = "DATAGATE_SETTINGS"

var (
	rootCmdConfigFile string
	rootCmdLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "datagate",
	Short: "Serve REST and GraphQL endpoints over configured database entities",
	Long: "datagate exposes the entities of a runtime config file as REST and GraphQL endpoints\n" +
		"over SQL Server, MySQL, PostgreSQL and Cosmos DB.\n\n" +
		"Process settings come from an optional JSON file named by " + settingsFileEnvVar + ",\n" +
		"then DATAGATE_* environment variables, then flags.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootCmdConfigFile, "config", "c", "",
		"runtime config file (overrides env var DATAGATE_CONFIG, default dab-config.json)")
	rootCmd.PersistentFlags().StringVar(&rootCmdLogLevel, "log-level", "",
		"debug, info, warn or error (overrides env var DATAGATE_LOG_LEVEL)")
}

// settings resolves process settings with flags applied last.
func settings(cmd *cobra.Command) config.Settings {
	s := config.LoadSettings(os.Getenv(settingsFileEnvVar))
	if cmd.Flags().Changed("config") {
		s.ConfigFile = rootCmdConfigFile
	}
	if cmd.Flags().Changed("log-level") {
		s.LogLevel = rootCmdLogLevel
	}
	return s
}

// newLogger picks a text handler for development and JSON otherwise,
// unless the settings name a format.
func newLogger(s config.Settings, mode config.HostMode) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(s.LogFormat)
	if format == "" {
		format = "json"
		if mode == config.Development {
			format = "text"
		}
	}
	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
