// Package engine executes resolved requests against the data source of
// their entity: relational sources through the SQL engine, Cosmos DB
// containers through the document engine.
package engine

import (
	"context"

	"datagate/internal/request"
)

// Page is one result of a read. Next is nil on the last page.
type Page struct {
	Items []map[string]any
	Next  request.Cursor
}

// QueryEngine serves reads and stored procedure executions.
type QueryEngine interface {
	Find(ctx context.Context, rc *request.FindRequestContext) (*Page, error)
	Execute(ctx context.Context, rc *request.StoredProcedureRequestContext) ([]map[string]any, error)
}

// MutationEngine serves writes. Upsert reports whether it created the row.
type MutationEngine interface {
	Insert(ctx context.Context, rc *request.InsertRequestContext) (map[string]any, error)
	Upsert(ctx context.Context, rc *request.UpsertRequestContext) (map[string]any, bool, error)
	Delete(ctx context.Context, rc *request.DeleteRequestContext) error
}

// Engine serves one family of data sources.
type Engine interface {
	QueryEngine
	MutationEngine
}

// paginate trims the extra row a page query fetched and strips fields
// that were selected only to build the cursor.
func paginate(rows []map[string]any, rc *request.FindRequestContext, cursor func(last map[string]any) request.Cursor, requested []string) *Page {
	page := &Page{Items: rows}
	if rc.IsMany && rc.First > 0 && len(rows) > rc.First {
		page.Items = rows[:rc.First]
		page.Next = cursor(page.Items[len(page.Items)-1])
	}
	if len(requested) > 0 && len(requested) < len(rc.Fields) {
		keep := make(map[string]bool, len(requested))
		for _, f := range requested {
			keep[f] = true
		}
		for _, item := range page.Items {
			for k := range item {
				if !keep[k] {
					delete(item, k)
				}
			}
		}
	}
	return page
}

// withCursorFields extends the requested fields by the order keys.
func withCursorFields(requested, keys []string) []string {
	out := append([]string(nil), requested...)
	have := make(map[string]bool, len(requested))
	for _, f := range requested {
		have[f] = true
	}
	for _, k := range keys {
		if !have[k] {
			out = append(out, k)
			have[k] = true
		}
	}
	return out
}
