package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"datagate/internal/apierr"
)

type configureRequest struct {
	Configuration string `json:"configuration"`
	// AccessToken replaces the platform credential for the default data
	// source.
	AccessToken string `json:"access-token"`
}

// configure loads a config posted by the hosting platform when none was
// loaded at start. Once a config is live every further post conflicts.
func (s *Server) configure(c *gin.Context) {
	var req configureRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Configuration) == "" {
		s.writeError(c, nil, apierr.New(apierr.BadRequest, "The request must carry a configuration."))
		return
	}

	cfg, err := s.provider.Initialize([]byte(req.Configuration), req.AccessToken)
	if err != nil {
		s.writeError(c, nil, err)
		return
	}
	if s.bootstrap != nil {
		b, err := s.bootstrap(c.Request.Context(), cfg)
		if err != nil {
			s.writeError(c, cfg, err)
			return
		}
		s.SetBackend(b)
	}
	s.logger.Info("configuration loaded through the configuration endpoint",
		"entities", len(cfg.Entities), "data_sources", len(cfg.DataSources))
	c.Status(http.StatusOK)
}
