package sqlmeta

import (
	"context"
	"database/sql"
	"fmt"

	"datagate/internal/dialect"
)

// TableRef names a database object.
type TableRef struct {
	Schema string
	Name   string
}

func (t TableRef) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// ColumnInfo is one introspected column.
type ColumnInfo struct {
	Name          string
	DataType      string
	Nullable      bool
	HasDefault    bool
	AutoGenerated bool
}

// ForeignKeyInfo is one FK constraint as the database reports it.
type ForeignKeyInfo struct {
	Name               string
	Referencing        TableRef
	ReferencingColumns []string
	Referenced         TableRef
	ReferencedColumns  []string
}

// ParameterInfo is one stored procedure parameter.
type ParameterInfo struct {
	Name     string
	DataType string
}

// SchemaReader introspects one data source.
type SchemaReader interface {
	Columns(ctx context.Context, t TableRef) ([]ColumnInfo, error)
	PrimaryKey(ctx context.Context, t TableRef) ([]string, error)
	ForeignKeys(ctx context.Context, t TableRef) ([]ForeignKeyInfo, error)
	Parameters(ctx context.Context, t TableRef) ([]ParameterInfo, error)
}

// Queries is the introspection SQL of one dialect. Every query takes the
// schema and the object name as its two parameters.
//
//	Columns:     name, data type, nullable (bool), has default (bool), auto generated (bool)
//	PrimaryKey:  column name, ordered
//	ForeignKeys: constraint, referenced schema, referenced table, referencing column, referenced column
//	Parameters:  name, data type
type Queries struct {
	Columns     string
	PrimaryKey  string
	ForeignKeys string
	Parameters  string
}

// SQLReader runs Queries over database/sql.
type SQLReader struct {
	DB      *sql.DB
	Dialect dialect.Dialect
	Queries Queries
}

func (r *SQLReader) query(ctx context.Context, q string, t TableRef, scan func(*sql.Rows) error) error {
	schema := t.Schema
	if schema == "" {
		schema = r.Dialect.DefaultSchema
	}
	rows, err := r.DB.QueryContext(ctx, q, r.Dialect.Args([]any{schema, t.Name})...)
	if err != nil {
		return fmt.Errorf("introspect %s: %w", t, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("introspect %s: %w", t, err)
		}
	}
	return rows.Err()
}

func (r *SQLReader) Columns(ctx context.Context, t TableRef) ([]ColumnInfo, error) {
	var out []ColumnInfo
	err := r.query(ctx, r.Queries.Columns, t, func(rows *sql.Rows) error {
		var c ColumnInfo
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable, &c.HasDefault, &c.AutoGenerated); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

func (r *SQLReader) PrimaryKey(ctx context.Context, t TableRef) ([]string, error) {
	var out []string
	err := r.query(ctx, r.Queries.PrimaryKey, t, func(rows *sql.Rows) error {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		out = append(out, name)
		return nil
	})
	return out, err
}

func (r *SQLReader) ForeignKeys(ctx context.Context, t TableRef) ([]ForeignKeyInfo, error) {
	byName := map[string]*ForeignKeyInfo{}
	var order []string
	err := r.query(ctx, r.Queries.ForeignKeys, t, func(rows *sql.Rows) error {
		var name, refSchema, refTable, col, refCol string
		if err := rows.Scan(&name, &refSchema, &refTable, &col, &refCol); err != nil {
			return err
		}
		fk, ok := byName[name]
		if !ok {
			fk = &ForeignKeyInfo{
				Name:        name,
				Referencing: t,
				Referenced:  TableRef{Schema: refSchema, Name: refTable},
			}
			byName[name] = fk
			order = append(order, name)
		}
		fk.ReferencingColumns = append(fk.ReferencingColumns, col)
		fk.ReferencedColumns = append(fk.ReferencedColumns, refCol)
		return nil
	})
	out := make([]ForeignKeyInfo, 0, len(order))
	for _, n := range order {
		out = append(out, *byName[n])
	}
	return out, err
}

func (r *SQLReader) Parameters(ctx context.Context, t TableRef) ([]ParameterInfo, error) {
	var out []ParameterInfo
	err := r.query(ctx, r.Queries.Parameters, t, func(rows *sql.Rows) error {
		var p ParameterInfo
		if err := rows.Scan(&p.Name, &p.DataType); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}
