package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"datagate/internal/config"
	"datagate/internal/engine"
	"datagate/internal/executor"
	"datagate/internal/validation"
)

var validateCmdSkipDatabase bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a runtime config without serving it",
	Long: "Runs every static config check and, unless --skip-database is given, introspects the data sources\n" +
		"and checks the config against their schema. Exits non-zero when an issue is found.",
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateCmdSkipDatabase, "skip-database", false,
		"only run the checks that need no database connection")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	s := settings(cmd)
	cfg, err := config.LoadFile(s.ConfigFile, config.ParseOptions{})
	if err != nil {
		return fmt.Errorf("load %s: %w", s.ConfigFile, err)
	}
	logger := newLogger(s, cfg.Runtime.Host.Mode)
	v := validation.New(logger)
	out := cmd.OutOrStdout()

	issues := v.Issues(cfg)
	if len(issues) == 0 && !validateCmdSkipDatabase {
		exec := executor.New(executor.Options{Config: config.NewStaticProvider(cfg), Logger: logger})
		defer exec.Close()
		meta, err := engine.LoadMetadata(cmd.Context(), cfg, exec, logger.With("command", "validate"))
		if err != nil {
			return err
		}
		issues = validation.CheckSchema(cfg, meta)
	}

	for _, is := range issues {
		if is.Entity != "" {
			fmt.Fprintf(out, "%s: %s\n", is.Entity, is.Message)
			continue
		}
		fmt.Fprintln(out, is.Message)
	}
	if len(issues) > 0 {
		return fmt.Errorf("%d issue(s) found in %s", len(issues), s.ConfigFile)
	}
	logger.Info("config is valid", slog.String("config_file", s.ConfigFile), slog.Int("entities", len(cfg.Entities)))
	return nil
}
