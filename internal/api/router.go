// Package api is the HTTP surface of the gateway: REST and GraphQL
// endpoints resolved against the live config snapshot, the health and
// metrics endpoints and the late configuration endpoint.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"datagate/internal/apierr"
	"datagate/internal/config"
	"datagate/internal/engine"
	"datagate/internal/graphql"
	"datagate/internal/metrics"
)

// Backend is what requests are served with once a config is loaded.
type Backend struct {
	Service *engine.Service
	GraphQL *graphql.Executor
}

// Bootstrap builds the backend for a config that arrived through the
// configuration endpoint.
type Bootstrap func(ctx context.Context, cfg *config.RuntimeConfig) (*Backend, error)

type Options struct {
	Provider *config.Provider
	Backend  *Backend
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// ConfigEndpoint enables POST /configuration.
	ConfigEndpoint bool
	Bootstrap      Bootstrap
}

type Server struct {
	provider       *config.Provider
	metrics        *metrics.Metrics
	logger         *slog.Logger
	bootstrap      Bootstrap
	configEndpoint bool

	backend atomic.Pointer[Backend]

	mu       sync.Mutex
	snapshot *config.RuntimeConfig
	paths    map[string]string
	cors     gin.HandlerFunc
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		provider:       opts.Provider,
		metrics:        opts.Metrics,
		logger:         logger.With("component", "http"),
		bootstrap:      opts.Bootstrap,
		configEndpoint: opts.ConfigEndpoint,
	}
	if opts.Backend != nil {
		s.backend.Store(opts.Backend)
	}
	return s
}

// SetBackend publishes the backend requests are served with.
func (s *Server) SetBackend(b *Backend) { s.backend.Store(b) }

// Router builds the gin engine. REST and GraphQL paths are not
// registered as routes: they are matched on every request against the
// current snapshot so that path changes apply on hot reload.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.correlate, s.accessLog, s.corsForSnapshot)

	r.GET("/", s.health)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	if s.configEndpoint {
		r.POST("/configuration", s.configure)
	}
	r.NoRoute(s.dispatch)
	return r
}

func (s *Server) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("request",
		"correlation_id", correlationID(c),
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"elapsed", time.Since(start))
}

// view returns the snapshot with its derived route table, rebuilding the
// table and the CORS handler when the snapshot changed.
func (s *Server) view() (*config.RuntimeConfig, map[string]string, gin.HandlerFunc, bool) {
	cfg, ok := s.provider.TryGetConfig()
	if !ok {
		return nil, nil, nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot != cfg {
		s.snapshot = cfg
		s.paths = entityPaths(cfg)
		s.cors = corsHandler(cfg.Runtime.Host.Cors)
	}
	return cfg, s.paths, s.cors, true
}

func (s *Server) corsForSnapshot(c *gin.Context) {
	_, _, h, ok := s.view()
	if !ok || h == nil {
		c.Next()
		return
	}
	h(c)
}

func corsHandler(opts config.CorsOptions) gin.HandlerFunc {
	if len(opts.Origins) == 0 {
		return nil
	}
	cc := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-MS-API-ROLE", ClientPrincipalHeader},
		ExposeHeaders:    []string{CorrelationHeader, "Location"},
		AllowCredentials: opts.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range opts.Origins {
		if o == "*" {
			cc.AllowAllOrigins = true
			cc.AllowCredentials = false
			cc.AllowOrigins = nil
			break
		}
		cc.AllowOrigins = append(cc.AllowOrigins, o)
	}
	return cors.New(cc)
}

func (s *Server) health(c *gin.Context) {
	status := "Healthy"
	if _, ok := s.provider.TryGetConfig(); !ok || s.backend.Load() == nil {
		status = "Unhealthy"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "version": Version})
}

// Version is reported by the health endpoint; set at build time.
var Version = "dev"

// dispatch routes a request that matched no fixed route to the GraphQL
// endpoint or to an entity under the REST path.
func (s *Server) dispatch(c *gin.Context) {
	cfg, paths, _, ok := s.view()
	b := s.backend.Load()
	if !ok || b == nil {
		s.writeError(c, cfg, apierr.New(apierr.ErrorInInitialization, "Runtime config isn't setup."))
		return
	}
	path := "/" + strings.Trim(c.Request.URL.Path, "/")

	if gqlPath := cfg.Runtime.GraphQL.Path; strings.EqualFold(path, "/"+strings.Trim(gqlPath, "/")) {
		if !cfg.Runtime.GraphQL.Enabled {
			s.writeError(c, cfg, apierr.New(apierr.NotSupported, "GraphQL endpoint is disabled."))
			return
		}
		s.graphql(c, cfg, b)
		return
	}

	base := strings.TrimRight("/"+strings.Trim(cfg.Runtime.Rest.Path, "/"), "/")
	if path == base || strings.HasPrefix(path, base+"/") {
		if !cfg.Runtime.Rest.Enabled {
			s.writeError(c, cfg, apierr.New(apierr.GlobalRestEndpointDisabled, "REST endpoint is disabled."))
			return
		}
		s.rest(c, cfg, b, paths, strings.TrimPrefix(path, base))
		return
	}
	c.AbortWithStatus(http.StatusNotFound)
}
