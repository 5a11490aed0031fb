package request

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"datagate/internal/apierr"
	"datagate/internal/config"
	"datagate/internal/odata"
	"datagate/internal/sqlmeta"
)

// ValidatePrimaryKey checks that route names exactly the primary key, in
// any order, and converts its values to the column types.
func ValidatePrimaryKey(obj *sqlmeta.DatabaseObject, route Route) (map[string]any, error) {
	pk := obj.PrimaryKeyFields()
	if len(route.Fields) != len(pk) {
		return nil, apierr.New(apierr.BadRequest, "Primary key column(s) provided do not match DB schema.")
	}
	var unknown []string
	for _, f := range route.Fields {
		if !slices.Contains(pk, f) {
			unknown = append(unknown, f)
		}
	}
	if len(unknown) > 0 {
		return nil, apierr.New(apierr.InvalidIdentifierField,
			"The request is invalid since the primary keys: %s requested were not found in the entity definition.",
			strings.Join(unknown, ", "))
	}
	out := make(map[string]any, len(pk))
	for _, f := range pk {
		col, _ := obj.Field(f)
		v, err := ParseScalar(col, route.Values[f])
		if err != nil {
			return nil, err
		}
		out[f] = v
	}
	return out, nil
}

// ValidateFields checks $select names against the object's fields.
func ValidateFields(obj *sqlmeta.DatabaseObject, fields []string) error {
	for _, f := range fields {
		if _, ok := obj.Field(f); !ok {
			return apierr.New(apierr.BadRequest, "Invalid field to be returned requested: %s", f)
		}
	}
	return nil
}

// ValidateOrderBy checks $orderby names.
func ValidateOrderBy(obj *sqlmeta.DatabaseObject, items []odata.OrderByItem) error {
	for _, it := range items {
		if _, ok := obj.Field(it.Field); !ok {
			return apierr.New(apierr.BadRequest, "Invalid orderby column requested: %s.", it.Field)
		}
	}
	return nil
}

// ValidateInsertBody checks a create payload: generated columns may not be
// supplied, required columns must be, and with strict bodies nothing else
// may appear. Values are converted in place.
func ValidateInsertBody(obj *sqlmeta.DatabaseObject, body map[string]any, strict bool) error {
	if err := checkUnexpected(obj, body, strict); err != nil {
		return err
	}
	var missing []string
	for _, c := range obj.Columns {
		v, present := body[c.Exposed]
		if c.AutoGenerated {
			if present {
				return apierr.New(apierr.BadRequest, "Invalid request body. Field not allowed in body: %s.", c.Exposed)
			}
			continue
		}
		if !present {
			if !c.Nullable && !c.HasDefault {
				missing = append(missing, c.Exposed)
			}
			continue
		}
		if err := coerceInto(body, c, v); err != nil {
			return err
		}
	}
	if len(missing) > 0 {
		return apierr.New(apierr.BadRequest, "Invalid request body. Missing field in body: %s.", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateUpsertBody checks a PUT or PATCH payload. The primary key comes
// from the route, never the body. A PUT may insert, so it must carry every
// required column.
func ValidateUpsertBody(obj *sqlmeta.DatabaseObject, body map[string]any, incremental, strict bool) error {
	if err := checkUnexpected(obj, body, strict); err != nil {
		return err
	}
	pk := obj.PrimaryKeyFields()
	var missing []string
	for _, c := range obj.Columns {
		v, present := body[c.Exposed]
		if slices.Contains(pk, c.Exposed) {
			if present {
				return apierr.New(apierr.BadRequest,
					"Invalid request body. Primary key %s must be given in the URL, not in the body.", c.Exposed)
			}
			continue
		}
		if c.AutoGenerated {
			if present {
				return apierr.New(apierr.BadRequest, "Invalid request body. Field not allowed in body: %s.", c.Exposed)
			}
			continue
		}
		if !present {
			if !incremental && !c.Nullable && !c.HasDefault {
				missing = append(missing, c.Exposed)
			}
			continue
		}
		if err := coerceInto(body, c, v); err != nil {
			return err
		}
	}
	if len(missing) > 0 {
		return apierr.New(apierr.BadRequest, "Invalid request body. Missing field in body: %s.", strings.Join(missing, ", "))
	}
	return nil
}

func checkUnexpected(obj *sqlmeta.DatabaseObject, body map[string]any, strict bool) error {
	var extra []string
	for k := range body {
		if _, ok := obj.Field(k); !ok {
			extra = append(extra, k)
		}
	}
	if len(extra) == 0 {
		return nil
	}
	if strict {
		sort.Strings(extra)
		return apierr.New(apierr.BadRequest,
			"Invalid request body. Contained unexpected fields in body: %s", strings.Join(extra, ", "))
	}
	for _, k := range extra {
		delete(body, k)
	}
	return nil
}

// ValidateStoredProcedure merges request parameters over configured
// defaults and checks them against the introspected parameter list.
func ValidateStoredProcedure(obj *sqlmeta.DatabaseObject, e config.Entity, entity string, given map[string]any) (map[string]any, error) {
	var extra []string
	for k := range given {
		if !slices.ContainsFunc(obj.Parameters, func(p sqlmeta.ParameterInfo) bool { return p.Name == k }) {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return nil, apierr.New(apierr.BadRequest,
			"Invalid request. Contained unexpected fields in request body: %s", strings.Join(extra, ", "))
	}
	out := make(map[string]any, len(obj.Parameters))
	var missing []string
	for _, p := range obj.Parameters {
		if v, ok := given[p.Name]; ok {
			out[p.Name] = v
			continue
		}
		if v, ok := e.Source.Parameters[p.Name]; ok {
			out[p.Name] = v
			continue
		}
		missing = append(missing, p.Name)
	}
	if len(missing) > 0 {
		return nil, apierr.New(apierr.BadRequest,
			"Invalid request. Missing required procedure parameters: %s for entity: %s",
			strings.Join(missing, ", "), entity)
	}
	return out, nil
}

func coerceInto(body map[string]any, c sqlmeta.Column, v any) error {
	out, err := Coerce(c, v)
	if err != nil {
		return err
	}
	body[c.Exposed] = out
	return nil
}

func typeErr(c sqlmeta.Column, v any) error {
	return apierr.New(apierr.BadRequest, "Parameter \"%v\" cannot be resolved as column \"%s\" with type \"%s\".",
		v, c.Exposed, c.Kind)
}

// Coerce converts a decoded JSON value to the column's type.
func Coerce(c sqlmeta.Column, v any) (any, error) {
	if v == nil {
		if !c.Nullable {
			return nil, apierr.New(apierr.BadRequest, "Invalid value for field %s: null is not allowed.", c.Exposed)
		}
		return nil, nil
	}
	if s, ok := v.(string); ok && c.Kind != odata.KindString {
		return ParseScalar(c, s)
	}
	switch c.Kind {
	case odata.KindInt32, odata.KindInt64:
		switch x := v.(type) {
		case float64:
			if x != math.Trunc(x) {
				return nil, typeErr(c, v)
			}
			return int64(x), nil
		case json.Number:
			n, err := x.Int64()
			if err != nil {
				return nil, typeErr(c, v)
			}
			return n, nil
		case int, int64, int32:
			return x, nil
		}
		return nil, typeErr(c, v)
	case odata.KindDecimal, odata.KindDouble:
		switch x := v.(type) {
		case float64, int, int64:
			return x, nil
		case json.Number:
			f, err := x.Float64()
			if err != nil {
				return nil, typeErr(c, v)
			}
			return f, nil
		}
		return nil, typeErr(c, v)
	case odata.KindBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, typeErr(c, v)
	case odata.KindString:
		switch x := v.(type) {
		case string:
			return x, nil
		case float64, bool, json.Number:
			return fmt.Sprint(x), nil
		}
		return nil, typeErr(c, v)
	}
	return v, nil
}

// ParseScalar converts route or string input to the column's type.
func ParseScalar(c sqlmeta.Column, s string) (any, error) {
	switch c.Kind {
	case odata.KindInt32, odata.KindInt64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, typeErr(c, s)
		}
		return n, nil
	case odata.KindDecimal, odata.KindDouble:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, typeErr(c, s)
		}
		return f, nil
	case odata.KindBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, typeErr(c, s)
		}
		return b, nil
	case odata.KindGuid:
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, typeErr(c, s)
		}
		return u.String(), nil
	case odata.KindDate:
		if _, err := time.Parse(time.DateOnly, s); err != nil {
			return nil, typeErr(c, s)
		}
		return s, nil
	case odata.KindDateTimeOffset:
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			if t, err = time.Parse("2006-01-02T15:04:05", s); err != nil {
				return nil, typeErr(c, s)
			}
		}
		return t, nil
	}
	return s, nil
}
