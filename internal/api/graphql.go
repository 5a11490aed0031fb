package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"datagate/internal/apierr"
	"datagate/internal/config"
	"datagate/internal/graphql"
)

// graphql serves the GraphQL endpoint. POST carries the request as JSON;
// GET carries query, operationName and variables as query parameters.
func (s *Server) graphql(c *gin.Context, cfg *config.RuntimeConfig, b *Backend) {
	start := time.Now()
	defer func() { s.metrics.ObserveRequest("graphql", "", c.Writer.Status(), time.Since(start)) }()
	dev := cfg.IsDevelopmentMode()

	var req graphql.Request
	switch c.Request.Method {
	case http.MethodPost:
		if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
			c.JSON(http.StatusBadRequest, b.GraphQL.ErrorResponse(
				apierr.New(apierr.BadRequest, "The request body is not a valid GraphQL request."), dev))
			return
		}
	case http.MethodGet:
		req.Query = c.Query("query")
		req.OperationName = c.Query("operationName")
		if v := c.Query("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &req.Variables); err != nil {
				c.JSON(http.StatusBadRequest, b.GraphQL.ErrorResponse(
					apierr.New(apierr.BadRequest, "The variables parameter is not a JSON object."), dev))
				return
			}
		}
	default:
		c.Header("Allow", "GET, POST")
		c.AbortWithStatus(http.StatusMethodNotAllowed)
		return
	}

	role, claims, err := caller(c.Request.Header, cfg.Runtime.Host.Authentication)
	if err != nil {
		e := apierr.Classify(err)
		if e.SubStatus == apierr.AuthenticationChallenge {
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
		}
		c.JSON(e.Status, b.GraphQL.ErrorResponse(err, dev))
		return
	}
	resp := b.GraphQL.Execute(c.Request.Context(), graphql.Caller{Role: role, Claims: claims}, req)
	c.JSON(http.StatusOK, resp)
}
