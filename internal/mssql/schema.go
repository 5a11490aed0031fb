package mssql

import (
	"database/sql"

	"datagate/internal/dialect"
	"datagate/internal/sqlmeta"
)

var introspection = sqlmeta.Queries{
	Columns: `SELECT c.COLUMN_NAME, c.DATA_TYPE,
       CAST(CASE WHEN c.IS_NULLABLE = 'YES' THEN 1 ELSE 0 END AS bit),
       CAST(CASE WHEN c.COLUMN_DEFAULT IS NOT NULL THEN 1 ELSE 0 END AS bit),
       CAST(CASE WHEN COLUMNPROPERTY(OBJECT_ID(QUOTENAME(c.TABLE_SCHEMA) + '.' + QUOTENAME(c.TABLE_NAME)), c.COLUMN_NAME, 'IsIdentity') = 1
              OR COLUMNPROPERTY(OBJECT_ID(QUOTENAME(c.TABLE_SCHEMA) + '.' + QUOTENAME(c.TABLE_NAME)), c.COLUMN_NAME, 'IsComputed') = 1
              OR c.DATA_TYPE = 'timestamp' THEN 1 ELSE 0 END AS bit)
FROM INFORMATION_SCHEMA.COLUMNS c
WHERE c.TABLE_SCHEMA = @param0 AND c.TABLE_NAME = @param1
ORDER BY c.ORDINAL_POSITION`,

	PrimaryKey: `SELECT k.COLUMN_NAME
FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS t
JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE k
  ON k.CONSTRAINT_SCHEMA = t.CONSTRAINT_SCHEMA AND k.CONSTRAINT_NAME = t.CONSTRAINT_NAME
WHERE t.CONSTRAINT_TYPE = 'PRIMARY KEY' AND t.TABLE_SCHEMA = @param0 AND t.TABLE_NAME = @param1
ORDER BY k.ORDINAL_POSITION`,

	ForeignKeys: `SELECT fk.name, SCHEMA_NAME(rt.schema_id), rt.name, pc.name, rc.name
FROM sys.foreign_keys fk
JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
JOIN sys.tables pt ON pt.object_id = fk.parent_object_id
JOIN sys.tables rt ON rt.object_id = fk.referenced_object_id
JOIN sys.columns pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
WHERE SCHEMA_NAME(pt.schema_id) = @param0 AND pt.name = @param1
ORDER BY fk.name, fkc.constraint_column_id`,

	Parameters: `SELECT SUBSTRING(PARAMETER_NAME, 2, 128), DATA_TYPE
FROM INFORMATION_SCHEMA.PARAMETERS
WHERE SPECIFIC_SCHEMA = @param0 AND SPECIFIC_NAME = @param1 AND PARAMETER_MODE IN ('IN', 'INOUT')
ORDER BY ORDINAL_POSITION`,
}

func NewSchemaReader(db *sql.DB) sqlmeta.SchemaReader {
	return &sqlmeta.SQLReader{DB: db, Dialect: dialect.MSSQL, Queries: introspection}
}
