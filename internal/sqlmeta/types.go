package sqlmeta

import (
	"strings"

	"datagate/internal/odata"
)

// KindOf maps a database type name to its EDM kind.
func KindOf(dataType string) odata.Kind {
	t := strings.ToLower(strings.TrimSpace(dataType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	switch t {
	case "bit", "boolean", "bool":
		return odata.KindBoolean
	case "tinyint", "smallint", "int", "integer", "mediumint", "int2", "int4", "serial", "smallserial":
		return odata.KindInt32
	case "bigint", "int8", "bigserial":
		return odata.KindInt64
	case "decimal", "numeric", "money", "smallmoney":
		return odata.KindDecimal
	case "float", "real", "double", "double precision", "float4", "float8":
		return odata.KindDouble
	case "uniqueidentifier", "uuid":
		return odata.KindGuid
	case "date":
		return odata.KindDate
	case "datetime", "datetime2", "smalldatetime", "datetimeoffset", "timestamp",
		"timestamp without time zone", "timestamp with time zone", "timestamptz":
		return odata.KindDateTimeOffset
	case "time", "time without time zone", "time with time zone":
		return odata.KindTimeOfDay
	case "binary", "varbinary", "image", "bytea", "blob", "longblob", "mediumblob", "tinyblob", "rowversion":
		return odata.KindBinary
	case "interval":
		return odata.KindDuration
	case "geography":
		return odata.KindGeography
	case "geometry":
		return odata.KindGeometry
	}
	return odata.KindString
}
