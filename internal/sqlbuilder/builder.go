// Package sqlbuilder renders request contexts as parameterized statements
// in the dialect of their data source. Reads also render as Cosmos DB
// NoSQL queries; writes are relational only.
package sqlbuilder

import (
	"encoding/json"
	"slices"
	"strings"

	"datagate/internal/apierr"
	"datagate/internal/config"
	"datagate/internal/dialect"
	"datagate/internal/executor"
	"datagate/internal/odata"
	"datagate/internal/request"
	"datagate/internal/sqlmeta"
)

const alias = "t"

// documentAlias is the item alias of document queries.
const documentAlias = "c"

type Builder struct {
	D dialect.Dialect
}

func New(d dialect.Dialect) Builder { return Builder{D: d} }

func (b Builder) alias() string {
	if b.D.Type == config.CosmosDB {
		return documentAlias
	}
	return alias
}

func (b Builder) col(backing string) string {
	return b.D.Column(b.alias(), backing)
}

// from renders the FROM target of reads.
func (b Builder) from(obj *sqlmeta.DatabaseObject) string {
	if b.D.Type == config.CosmosDB {
		return documentAlias
	}
	return b.table(obj) + " AS " + b.D.Quote(alias)
}

func (b Builder) table(obj *sqlmeta.DatabaseObject) string {
	return b.D.QuoteTable(obj.Table.Schema, obj.Table.Name)
}

func (b Builder) selectList(obj *sqlmeta.DatabaseObject, fields []string) (string, error) {
	if len(fields) == 0 && obj.Schemaless {
		return "*", nil
	}
	if len(fields) == 0 {
		fields = obj.ExposedFields()
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		c, ok := obj.Field(f)
		if !ok {
			return "", apierr.New(apierr.BadRequest, "Invalid field to be returned requested: %s", f)
		}
		if b.D.Type == config.CosmosDB {
			key, _ := json.Marshal(c.Exposed)
			parts = append(parts, string(key)+": "+b.col(c.Name))
			continue
		}
		parts = append(parts, b.col(c.Name)+" AS "+b.D.Quote(c.Exposed))
	}
	if b.D.Type == config.CosmosDB {
		return "VALUE {" + strings.Join(parts, ", ") + "}", nil
	}
	return strings.Join(parts, ", "), nil
}

func (b Builder) translator(obj *sqlmeta.DatabaseObject, p *dialect.Params, policy bool) *odata.Translator {
	return &odata.Translator{
		Dialect:    b.D,
		Params:     p,
		Columns:    obj.ODataColumns(),
		TableAlias: b.alias(),
		EntityName: obj.Entity,
		PolicyMode: policy,
	}
}

// keyPredicates renders equality on every primary key value, in key order.
func (b Builder) keyPredicates(obj *sqlmeta.DatabaseObject, pk map[string]any, p *dialect.Params) []string {
	var out []string
	for _, f := range obj.PrimaryKeyFields() {
		v, ok := pk[f]
		if !ok {
			continue
		}
		c, _ := obj.Field(f)
		out = append(out, b.col(c.Name)+" = "+p.Add(v))
	}
	return out
}

// policyPredicate translates a claim-substituted database policy.
func (b Builder) policyPredicate(obj *sqlmeta.DatabaseObject, policy string, p *dialect.Params) (string, error) {
	if strings.TrimSpace(policy) == "" {
		return "", nil
	}
	return b.translator(obj, p, true).Filter(policy)
}

// orderKeys is the requested order with the primary key appended, which
// makes keyset pagination total.
func orderKeys(obj *sqlmeta.DatabaseObject, requested []odata.OrderByItem) []odata.OrderByItem {
	out := slices.Clone(requested)
	for _, f := range obj.PrimaryKeyFields() {
		if !slices.ContainsFunc(out, func(o odata.OrderByItem) bool { return o.Field == f }) {
			out = append(out, odata.OrderByItem{Field: f})
		}
	}
	return out
}

// cursorPredicate renders "rows after the cursor" for the order keys:
// (k1 > v1) OR (k1 = v1 AND k2 > v2) ... Each value is bound once per use
// since positional placeholders cannot be repeated.
func (b Builder) cursorPredicate(obj *sqlmeta.DatabaseObject, keys []odata.OrderByItem, cur request.Cursor, p *dialect.Params) (string, error) {
	if len(cur) != len(keys) {
		return "", apierr.New(apierr.BadRequest, "$after parameter does not match the requested $orderby.")
	}
	cols := make([]string, len(keys))
	for i, k := range keys {
		if cur[i].Field != k.Field || cur[i].Desc != k.Desc {
			return "", apierr.New(apierr.BadRequest, "$after parameter does not match the requested $orderby.")
		}
		c, ok := obj.Field(k.Field)
		if !ok {
			return "", apierr.New(apierr.BadRequest, "Invalid orderby column requested: %s.", k.Field)
		}
		cols[i] = b.col(c.Name)
	}
	ors := make([]string, 0, len(keys))
	for i, k := range keys {
		ands := make([]string, 0, i+1)
		for j := 0; j < i; j++ {
			ands = append(ands, cols[j]+" = "+p.Add(cur[j].Value))
		}
		op := " > "
		if k.Desc {
			op = " < "
		}
		ands = append(ands, cols[i]+op+p.Add(cur[i].Value))
		ors = append(ors, "("+strings.Join(ands, " AND ")+")")
	}
	return "(" + strings.Join(ors, " OR ") + ")", nil
}

// Select renders a read. List reads fetch one row past the page so the
// caller can tell whether a next page exists.
func (b Builder) Select(ctx *request.FindRequestContext) (executor.Statement, error) {
	obj := ctx.Object
	p := dialect.NewParams(b.D)
	list, err := b.selectList(obj, ctx.Fields)
	if err != nil {
		return executor.Statement{}, err
	}
	where := b.keyPredicates(obj, ctx.PrimaryKey, p)
	if ctx.Filter != nil {
		pred, err := b.translator(obj, p, false).Translate(ctx.Filter)
		if err != nil {
			return executor.Statement{}, err
		}
		where = append(where, pred)
	}
	pol, err := b.policyPredicate(obj, ctx.DBPolicy, p)
	if err != nil {
		return executor.Statement{}, err
	}
	if pol != "" {
		where = append(where, pol)
	}

	var order string
	limit := 0
	if ctx.IsMany {
		keys := orderKeys(obj, ctx.OrderBy)
		if len(ctx.After) > 0 {
			pred, err := b.cursorPredicate(obj, keys, ctx.After, p)
			if err != nil {
				return executor.Statement{}, err
			}
			where = append(where, pred)
		}
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			c, ok := obj.Field(k.Field)
			if !ok {
				return executor.Statement{}, apierr.New(apierr.BadRequest, "Invalid orderby column requested: %s.", k.Field)
			}
			dir := " ASC"
			if k.Desc {
				dir = " DESC"
			}
			parts = append(parts, b.col(c.Name)+dir)
		}
		order = " ORDER BY " + strings.Join(parts, ", ")
		if ctx.First > 0 {
			limit = ctx.First + 1
		}
	}

	prefix, suffix := b.D.LimitClause(limit)
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(prefix)
	sb.WriteString(list)
	sb.WriteString(" FROM ")
	sb.WriteString(b.from(obj))
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(order)
	sb.WriteString(suffix)
	return executor.Statement{SQL: sb.String(), Args: p.Args()}, nil
}

// NextCursor builds the $after token from the last row of a page.
func NextCursor(obj *sqlmeta.DatabaseObject, requested []odata.OrderByItem, last map[string]any) request.Cursor {
	keys := orderKeys(obj, requested)
	out := make(request.Cursor, len(keys))
	for i, k := range keys {
		out[i] = request.CursorField{Field: k.Field, Value: last[k.Field], Desc: k.Desc}
	}
	return out
}

// CursorFields are the columns a page must select to build its cursor.
func CursorFields(obj *sqlmeta.DatabaseObject, requested []odata.OrderByItem) []string {
	keys := orderKeys(obj, requested)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.Field
	}
	return out
}

// SupportsReturning reports whether mutations can return the written row.
func (b Builder) SupportsReturning() bool {
	return b.D.Type != config.MySQL
}

func (b Builder) returning(obj *sqlmeta.DatabaseObject, fields []string, prefix string) (string, error) {
	if len(fields) == 0 {
		fields = obj.ExposedFields()
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		c, ok := obj.Field(f)
		if !ok {
			return "", apierr.New(apierr.BadRequest, "Invalid field to be returned requested: %s", f)
		}
		parts = append(parts, prefix+b.D.Quote(c.Name)+" AS "+b.D.Quote(c.Exposed))
	}
	return strings.Join(parts, ", "), nil
}

// sortedBodyFields returns body keys in column order.
func sortedBodyFields(obj *sqlmeta.DatabaseObject, body map[string]any) []sqlmeta.Column {
	var out []sqlmeta.Column
	for _, c := range obj.Columns {
		if _, ok := body[c.Exposed]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Insert renders a create. Where the dialect allows it the written row
// comes back restricted to fields.
func (b Builder) Insert(obj *sqlmeta.DatabaseObject, body map[string]any, fields []string) (executor.Statement, error) {
	p := dialect.NewParams(b.D)
	cols := sortedBodyFields(obj, body)
	names := make([]string, len(cols))
	vals := make([]string, len(cols))
	for i, c := range cols {
		names[i] = b.D.Quote(c.Name)
		vals[i] = p.Add(body[c.Exposed])
	}
	table := b.D.QuoteTable(obj.Table.Schema, obj.Table.Name)
	var sb strings.Builder
	sb.WriteString("INSERT INTO " + table)
	if len(cols) > 0 {
		sb.WriteString(" (" + strings.Join(names, ", ") + ")")
	}
	switch b.D.Type {
	case config.MSSQL:
		ret, err := b.returning(obj, fields, "INSERTED.")
		if err != nil {
			return executor.Statement{}, err
		}
		sb.WriteString(" OUTPUT " + ret)
		if len(cols) == 0 {
			sb.WriteString(" DEFAULT VALUES")
		} else {
			sb.WriteString(" VALUES (" + strings.Join(vals, ", ") + ")")
		}
	case config.PostgreSQL:
		if len(cols) == 0 {
			sb.WriteString(" DEFAULT VALUES")
		} else {
			sb.WriteString(" VALUES (" + strings.Join(vals, ", ") + ")")
		}
		ret, err := b.returning(obj, fields, "")
		if err != nil {
			return executor.Statement{}, err
		}
		sb.WriteString(" RETURNING " + ret)
	default:
		sb.WriteString(" VALUES (" + strings.Join(vals, ", ") + ")")
	}
	return executor.Statement{SQL: sb.String(), Args: p.Args()}, nil
}

// Update renders an update of the row at pk, restricted by policy.
func (b Builder) Update(obj *sqlmeta.DatabaseObject, pk, body map[string]any, policy string, fields []string) (executor.Statement, error) {
	p := dialect.NewParams(b.D)
	cols := sortedBodyFields(obj, body)
	if len(cols) == 0 {
		return executor.Statement{}, apierr.New(apierr.BadRequest, "Invalid request body. No fields to update.")
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		target := b.col(c.Name)
		if b.D.Type == config.PostgreSQL {
			// SET targets cannot carry the table alias.
			target = b.D.Quote(c.Name)
		}
		sets[i] = target + " = " + p.Add(body[c.Exposed])
	}
	where := b.keyPredicates(obj, pk, p)
	pol, err := b.policyPredicate(obj, policy, p)
	if err != nil {
		return executor.Statement{}, err
	}
	if pol != "" {
		where = append(where, pol)
	}
	table := b.table(obj)
	var sb strings.Builder
	switch b.D.Type {
	case config.MSSQL:
		ret, err := b.returning(obj, fields, "INSERTED.")
		if err != nil {
			return executor.Statement{}, err
		}
		sb.WriteString("UPDATE " + b.D.Quote(alias) + " SET " + strings.Join(sets, ", "))
		sb.WriteString(" OUTPUT " + ret)
		sb.WriteString(" FROM " + table + " AS " + b.D.Quote(alias))
	default:
		sb.WriteString("UPDATE " + table + " AS " + b.D.Quote(alias) + " SET " + strings.Join(sets, ", "))
	}
	sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	if b.D.Type == config.PostgreSQL {
		ret, err := b.returning(obj, fields, b.D.Quote(alias)+".")
		if err != nil {
			return executor.Statement{}, err
		}
		sb.WriteString(" RETURNING " + ret)
	}
	return executor.Statement{SQL: sb.String(), Args: p.Args()}, nil
}

// Delete renders a delete of the row at pk, restricted by policy.
func (b Builder) Delete(obj *sqlmeta.DatabaseObject, pk map[string]any, policy string) (executor.Statement, error) {
	p := dialect.NewParams(b.D)
	where := b.keyPredicates(obj, pk, p)
	pol, err := b.policyPredicate(obj, policy, p)
	if err != nil {
		return executor.Statement{}, err
	}
	if pol != "" {
		where = append(where, pol)
	}
	var sql string
	switch b.D.Type {
	case config.MSSQL, config.MySQL:
		sql = "DELETE " + b.D.Quote(alias) + " FROM " + b.table(obj) + " AS " + b.D.Quote(alias)
	default:
		sql = "DELETE FROM " + b.table(obj) + " AS " + b.D.Quote(alias)
	}
	sql += " WHERE " + strings.Join(where, " AND ")
	return executor.Statement{SQL: sql, Args: p.Args()}, nil
}

// Exists renders a probe for the row at pk, ignoring policies.
func (b Builder) Exists(obj *sqlmeta.DatabaseObject, pk map[string]any) executor.Statement {
	p := dialect.NewParams(b.D)
	where := b.keyPredicates(obj, pk, p)
	prefix, suffix := b.D.LimitClause(1)
	sql := "SELECT " + prefix + "1 AS " + b.D.Quote("found") + " FROM " + b.table(obj) + " AS " + b.D.Quote(alias) +
		" WHERE " + strings.Join(where, " AND ") + suffix
	return executor.Statement{SQL: sql, Args: p.Args()}
}

// Execute renders a stored procedure call with named arguments in
// parameter order.
func (b Builder) Execute(obj *sqlmeta.DatabaseObject, params map[string]any) executor.Statement {
	p := dialect.NewParams(b.D)
	table := b.D.QuoteTable(obj.Table.Schema, obj.Table.Name)
	switch b.D.Type {
	case config.MSSQL:
		var args []string
		for _, pi := range obj.Parameters {
			if v, ok := params[pi.Name]; ok {
				args = append(args, "@"+pi.Name+" = "+p.Add(v))
			}
		}
		sql := "EXECUTE " + table
		if len(args) > 0 {
			sql += " " + strings.Join(args, ", ")
		}
		return executor.Statement{SQL: sql, Args: p.Args()}
	case config.MySQL:
		args := make([]string, 0, len(obj.Parameters))
		for _, pi := range obj.Parameters {
			args = append(args, p.Add(params[pi.Name]))
		}
		return executor.Statement{SQL: "CALL " + table + "(" + strings.Join(args, ", ") + ")", Args: p.Args()}
	default:
		args := make([]string, 0, len(obj.Parameters))
		for _, pi := range obj.Parameters {
			args = append(args, b.D.Quote(pi.Name)+" => "+p.Add(params[pi.Name]))
		}
		return executor.Statement{SQL: "SELECT * FROM " + table + "(" + strings.Join(args, ", ") + ")", Args: p.Args()}
	}
}

// LastInsertKey renders MySQL's re-read of a row whose generated key the
// insert did not return.
func (b Builder) LastInsertKey(obj *sqlmeta.DatabaseObject, body map[string]any, fields []string) (executor.Statement, error) {
	p := dialect.NewParams(b.D)
	list, err := b.selectList(obj, fields)
	if err != nil {
		return executor.Statement{}, err
	}
	var where []string
	for _, f := range obj.PrimaryKeyFields() {
		c, _ := obj.Field(f)
		if v, ok := body[f]; ok {
			where = append(where, b.col(c.Name)+" = "+p.Add(v))
		} else if c.AutoGenerated {
			where = append(where, b.col(c.Name)+" = LAST_INSERT_ID()")
		}
	}
	sql := "SELECT " + list + " FROM " + b.table(obj) + " AS " + b.D.Quote(alias) + " WHERE " + strings.Join(where, " AND ")
	return executor.Statement{SQL: sql, Args: p.Args()}, nil
}
