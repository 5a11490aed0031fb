package api

import (
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
)

// CorrelationHeader carries the request id in both directions.
const CorrelationHeader = "X-MS-CORRELATION-ID"

const correlationKey = "correlation_id"

var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

func newCorrelationID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// correlate keeps a caller supplied id or mints one.
func (s *Server) correlate(c *gin.Context) {
	id := c.GetHeader(CorrelationHeader)
	if id == "" {
		id = newCorrelationID()
	}
	c.Set(correlationKey, id)
	c.Header(CorrelationHeader, id)
	c.Next()
}

func correlationID(c *gin.Context) string {
	return c.GetString(correlationKey)
}
