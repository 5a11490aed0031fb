package mysql

import (
	"database/sql"

	"datagate/internal/dialect"
	"datagate/internal/sqlmeta"
)

// An empty schema means the connection's database.
var introspection = sqlmeta.Queries{
	Columns: `SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE = 'YES', COLUMN_DEFAULT IS NOT NULL,
       (EXTRA LIKE '%auto_increment%' OR EXTRA LIKE '%GENERATED%')
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`,

	PrimaryKey: `SELECT COLUMN_NAME
FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
WHERE CONSTRAINT_NAME = 'PRIMARY' AND TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`,

	ForeignKeys: `SELECT CONSTRAINT_NAME, REFERENCED_TABLE_SCHEMA, REFERENCED_TABLE_NAME, COLUMN_NAME, REFERENCED_COLUMN_NAME
FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
WHERE REFERENCED_TABLE_NAME IS NOT NULL
  AND TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ?
ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION`,

	Parameters: `SELECT PARAMETER_NAME, DATA_TYPE
FROM INFORMATION_SCHEMA.PARAMETERS
WHERE SPECIFIC_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND SPECIFIC_NAME = ?
  AND PARAMETER_MODE IN ('IN', 'INOUT')
ORDER BY ORDINAL_POSITION`,
}

func NewSchemaReader(db *sql.DB) sqlmeta.SchemaReader {
	return &sqlmeta.SQLReader{DB: db, Dialect: dialect.MySQL, Queries: introspection}
}
