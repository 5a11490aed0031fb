package mssql

import (
	"fmt"
	"slices"
	"strings"

	"datagate/internal/dialect"
)

// SessionContext renders sp_set_session_context calls carrying the caller's
// claims, in key order, binding keys and values as parameters. Row-level
// security predicates read them with SESSION_CONTEXT(N'<claim>').
func SessionContext(claims map[string]any, p *dialect.Params) string {
	keys := make([]string, 0, len(claims))
	for k := range claims {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var b strings.Builder
	for _, k := range keys {
		v := claims[k]
		if list, ok := v.([]any); ok {
			parts := make([]string, len(list))
			for i, x := range list {
				parts[i] = fmt.Sprint(x)
			}
			v = strings.Join(parts, ",")
		}
		fmt.Fprintf(&b, "EXEC sp_set_session_context %s, %s, @read_only = 0;", p.Add(k), p.Add(v))
	}
	return b.String()
}
