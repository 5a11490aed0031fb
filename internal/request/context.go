// Package request holds the per-request contexts and the REST parsing and
// validation that fills them.
package request

import (
	"datagate/internal/config"
	"datagate/internal/odata"
	"datagate/internal/sqlmeta"
)

// Context is shared by every request kind.
type Context struct {
	Entity    string
	Object    *sqlmeta.DatabaseObject
	Operation config.Operation
	Role      string
	Claims    map[string]any
	// PrimaryKey holds typed values by exposed field name.
	PrimaryKey map[string]any
	// DBPolicy is the claim-substituted OData predicate, empty when none.
	DBPolicy string
}

// FindRequestContext is a point read or a list read.
type FindRequestContext struct {
	Context
	Fields     []string
	Filter     odata.Node
	FilterText string
	OrderBy    []odata.OrderByItem
	First      int
	After      Cursor
	// IsMany is false for a point read by primary key.
	IsMany bool
}

// InsertRequestContext is a POST.
type InsertRequestContext struct {
	Context
	Body map[string]any
	// Fields are returned from the written row.
	Fields []string
}

// UpsertRequestContext is a PUT or, when Incremental, a PATCH.
type UpsertRequestContext struct {
	Context
	Body        map[string]any
	Incremental bool
	Fields      []string
	// InsertPolicy applies when no row exists at the key and one is created.
	InsertPolicy string
	// UpdateOnly reports a missing row instead of creating it.
	UpdateOnly bool
}

type DeleteRequestContext struct {
	Context
}

// StoredProcedureRequestContext carries resolved procedure parameters.
type StoredProcedureRequestContext struct {
	Context
	Params map[string]any
}

// OperationForMethod classifies a REST verb.
func OperationForMethod(method string, storedProcedure bool) (config.Operation, bool) {
	if storedProcedure {
		switch method {
		case "GET", "POST", "PUT", "PATCH", "DELETE":
			return config.OpExecute, true
		}
		return "", false
	}
	switch method {
	case "GET":
		return config.OpRead, true
	case "POST":
		return config.OpCreate, true
	case "PUT":
		return config.OpUpsert, true
	case "PATCH":
		return config.OpUpsertIncremental, true
	case "DELETE":
		return config.OpDelete, true
	}
	return "", false
}
