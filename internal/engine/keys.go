package engine

import (
	"fmt"
	"strings"

	"datagate/internal/sqlmeta"
)

// keyString renders a primary key as "field: value, ..." in key order.
func keyString(obj *sqlmeta.DatabaseObject, pk map[string]any) string {
	parts := make([]string, 0, len(pk))
	for _, f := range obj.PrimaryKeyFields() {
		if v, ok := pk[f]; ok {
			parts = append(parts, fmt.Sprintf("%s: %v", f, v))
		}
	}
	return strings.Join(parts, ", ")
}
