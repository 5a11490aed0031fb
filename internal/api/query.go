package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

// listBody is the shape of every REST result: the rows under "value" and,
// when more rows follow, the URL of the next page.
func listBody(rows []map[string]any, nextLink string) gin.H {
	if rows == nil {
		rows = []map[string]any{}
	}
	out := gin.H{"value": rows}
	if nextLink != "" {
		out["nextLink"] = nextLink
	}
	return out
}

// keyText renders a key value the way it appears in a primary key route.
func keyText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
	}
	return fmt.Sprint(v)
}
