package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"datagate/internal/api"
	"datagate/internal/cache"
	"datagate/internal/config"
	"datagate/internal/engine"
	"datagate/internal/executor"
	"datagate/internal/graphql"
	"datagate/internal/metrics"
	"datagate/internal/validation"
)

const shutdownTimeout = 10 * time.Second

var (
	startCmdPort           string
	startCmdNoHotReload    bool
	startCmdConfigEndpoint bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the data API server",
	Long: "Loads the runtime config, introspects every data source and serves the REST and GraphQL endpoints.\n\n" +
		"When the config file does not exist and the configuration endpoint is enabled, the server starts\n" +
		"unconfigured and waits for a POST /configuration from the hosting platform.",
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVarP(&startCmdPort, "port", "p", "",
		"port to bind the HTTP server to (overrides env var DATAGATE_PORT, default 5000)")
	startCmd.Flags().BoolVar(&startCmdNoHotReload, "no-hot-reload", false,
		"do not watch the config file (or set DATAGATE_HOT_RELOAD=false)")
	startCmd.Flags().BoolVar(&startCmdConfigEndpoint, "config-endpoint", false,
		"accept a late configuration through POST /configuration (or env var DATAGATE_CONFIG_ENDPOINT)")
	rootCmd.AddCommand(startCmd)
}

// runtime is everything built once per process. Engines read the live
// snapshot through the provider, so only metadata depends on a config.
type runtime struct {
	provider  *config.Provider
	validator *validation.Validator
	metrics   *metrics.Metrics
	tokens    *executor.Tokens
	exec      *executor.Executor
	factory   *engine.Factory
	cache     *cache.Cache
	logger    *slog.Logger
}

func runStart(cmd *cobra.Command, _ []string) error {
	s := settings(cmd)
	if cmd.Flags().Changed("port") {
		s.Port = startCmdPort
	}
	if startCmdNoHotReload {
		s.HotReload = false
	}
	if cmd.Flags().Changed("config-endpoint") {
		s.ConfigEndpoint = startCmdConfigEndpoint
	}

	_, statErr := os.Stat(s.ConfigFile)
	lateConfig := errors.Is(statErr, os.ErrNotExist) && s.ConfigEndpoint

	// the host mode is only known once the file is read; a late config
	// starts with production logging
	mode := config.Production
	if !lateConfig {
		cfg, err := config.LoadFile(s.ConfigFile, config.ParseOptions{})
		if err != nil {
			return fmt.Errorf("load %s: %w", s.ConfigFile, err)
		}
		mode = cfg.Runtime.Host.Mode
	}
	logger := newLogger(s, mode)
	slog.SetDefault(logger)
	if mode != config.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	rt := newRuntime(s, lateConfig, logger)
	defer rt.close()

	srv := api.NewServer(api.Options{
		Provider:       rt.provider,
		Metrics:        rt.metrics,
		Logger:         logger,
		ConfigEndpoint: lateConfig,
		Bootstrap:      rt.backend,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !lateConfig {
		cfg, err := rt.provider.GetConfig()
		if err != nil {
			return err
		}
		if err := rt.validator.Validate(cfg); err != nil {
			return err
		}
		b, err := rt.backend(ctx, cfg)
		if err != nil {
			return err
		}
		srv.SetBackend(b)
	} else {
		logger.Info("no config file found, waiting for POST /configuration", "config_file", s.ConfigFile)
	}

	httpServer := &http.Server{
		Addr:              ":" + s.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr, "mode", mode, "hot_reload", s.HotReload && !lateConfig)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	return nil
}

func newRuntime(s config.Settings, lateConfig bool, logger *slog.Logger) *runtime {
	m := metrics.New()
	v := validation.New(logger)

	path := s.ConfigFile
	if lateConfig {
		path = ""
	}
	provider := config.NewProvider(config.ProviderOptions{
		Path:      path,
		HotReload: s.HotReload,
		Logger:    logger,
		Validate: func(cfg *config.RuntimeConfig) error {
			err := v.Validate(cfg)
			if err != nil {
				m.ConfigReload(err)
			}
			return err
		},
	})
	provider.OnConfigChanged(func(*config.RuntimeConfig) { m.ConfigReload(nil) })

	tokens := executor.NewTokens()
	exec := executor.New(executor.Options{Config: provider, Tokens: tokens, Logger: logger, Metrics: m})
	rt := &runtime{
		provider:  provider,
		validator: v,
		metrics:   m,
		tokens:    tokens,
		exec:      exec,
		logger:    logger,
	}
	return rt
}

// backend introspects the data sources of cfg and assembles the services
// requests are served with. It is also the bootstrap of a late config.
func (rt *runtime) backend(ctx context.Context, cfg *config.RuntimeConfig) (*api.Backend, error) {
	// the cache and the engines wait for the first config, which carries
	// the cache options
	if rt.factory == nil {
		c, err := cache.New(cfg.Runtime.Cache, rt.metrics, rt.logger)
		if err != nil {
			return nil, err
		}
		rt.cache = c
		cosmos := engine.NewCosmosEngine(rt.provider, engine.NewClients(rt.tokens).Open, rt.metrics, rt.logger)
		sqlEngine := engine.NewSQLEngine(rt.exec, rt.provider, c, rt.logger)
		rt.factory = engine.NewFactory(rt.provider, map[config.DatabaseType]engine.Engine{
			config.MSSQL:      sqlEngine,
			config.MySQL:      sqlEngine,
			config.PostgreSQL: sqlEngine,
			config.CosmosDB:   cosmos,
		})
	}

	start := time.Now()
	meta, err := engine.LoadMetadata(ctx, cfg, rt.exec, rt.logger)
	if err != nil {
		return nil, err
	}
	if err := rt.validator.ValidateSchema(cfg, meta); err != nil {
		return nil, err
	}
	rt.logger.Info("metadata loaded", "entities", len(cfg.Entities), "data_sources", len(cfg.DataSources),
		"elapsed", time.Since(start))

	svc := engine.NewService(rt.provider, meta, rt.factory)
	return &api.Backend{Service: svc, GraphQL: graphql.NewExecutor(svc, rt.logger)}, nil
}

func (rt *runtime) close() {
	rt.provider.Close()
	if err := rt.cache.Close(); err != nil {
		rt.logger.Warn("close cache", "error", err)
	}
	if err := rt.exec.Close(); err != nil {
		rt.logger.Warn("close executor", "error", err)
	}
}
