package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"datagate/internal/apierr"
	"datagate/internal/config"
)

// errorBody is the REST error envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// writeError classifies err and renders it. Server-side failures are
// logged with the correlation id and hidden outside development mode.
func (s *Server) writeError(c *gin.Context, cfg *config.RuntimeConfig, err error) {
	e := apierr.Classify(err)
	dev := cfg != nil && cfg.IsDevelopmentMode()
	if e.Status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"correlation_id", correlationID(c),
			"path", c.Request.URL.Path,
			"sub_status", string(e.SubStatus),
			"error", err)
	}
	c.AbortWithStatusJSON(e.Status, gin.H{"error": errorBody{
		Code:    string(e.SubStatus),
		Message: e.ClientMessage(dev),
		Status:  e.Status,
	}})
}

// decodeBody reads a JSON object body. Numbers stay json.Number so that
// 64-bit keys survive until they are coerced to their column type.
func decodeBody(c *gin.Context) (map[string]any, error) {
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, apierr.New(apierr.BadRequest, "The request body is not a valid JSON object.")
	}
	if body == nil {
		body = map[string]any{}
	}
	return body, nil
}
