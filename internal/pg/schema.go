package pg

import (
	"database/sql"

	"datagate/internal/dialect"
	"datagate/internal/sqlmeta"
)

var introspection = sqlmeta.Queries{
	Columns: `SELECT c.column_name, c.data_type, c.is_nullable = 'YES',
       c.column_default IS NOT NULL,
       (c.is_identity = 'YES' OR c.is_generated = 'ALWAYS' OR COALESCE(c.column_default, '') LIKE 'nextval(%')
FROM information_schema.columns c
WHERE c.table_schema = $1 AND c.table_name = $2
ORDER BY c.ordinal_position`,

	PrimaryKey: `SELECT k.column_name
FROM information_schema.table_constraints t
JOIN information_schema.key_column_usage k
  ON k.constraint_schema = t.constraint_schema AND k.constraint_name = t.constraint_name
WHERE t.constraint_type = 'PRIMARY KEY' AND t.table_schema = $1 AND t.table_name = $2
ORDER BY k.ordinal_position`,

	ForeignKeys: `SELECT k.constraint_name, r.table_schema, r.table_name, k.column_name, r.column_name
FROM information_schema.referential_constraints rc
JOIN information_schema.key_column_usage k
  ON k.constraint_schema = rc.constraint_schema AND k.constraint_name = rc.constraint_name
JOIN information_schema.key_column_usage r
  ON r.constraint_schema = rc.unique_constraint_schema AND r.constraint_name = rc.unique_constraint_name
 AND r.ordinal_position = k.position_in_unique_constraint
WHERE k.table_schema = $1 AND k.table_name = $2
ORDER BY k.constraint_name, k.ordinal_position`,

	Parameters: `SELECT p.parameter_name, p.data_type
FROM information_schema.parameters p
JOIN information_schema.routines r ON r.specific_schema = p.specific_schema AND r.specific_name = p.specific_name
WHERE r.routine_schema = $1 AND r.routine_name = $2 AND p.parameter_mode IN ('IN', 'INOUT')
ORDER BY p.ordinal_position`,
}

// NewSchemaReader introspects a PostgreSQL data source.
func NewSchemaReader(db *sql.DB) sqlmeta.SchemaReader {
	return &sqlmeta.SQLReader{DB: db, Dialect: dialect.PostgreSQL, Queries: introspection}
}
