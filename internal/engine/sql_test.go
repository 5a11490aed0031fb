package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datagate/internal/apierr"
	"datagate/internal/cache"
	"datagate/internal/config"
	"datagate/internal/dialect"
	"datagate/internal/odata"
	"datagate/internal/request"
	"datagate/internal/sqlmeta"
)

const bookConfig = `{
  "data-source": {"database-type": "%s", "connection-string": "Server=x", "options": {"set-session-context": true}},
  "runtime": {"cache": {"enabled": true, "ttl-seconds": 30}},
  "entities": {
    "Book": {"source": "books", "permissions": [{"role": "anonymous", "actions": ["*"]}], "cache": {"enabled": true}}
  }
}`

func bookObject(autogen bool) *sqlmeta.DatabaseObject {
	return sqlmeta.NewObject("Book", sqlmeta.TableRef{Schema: "public", Name: "books"}, config.Table, []sqlmeta.Column{
		{Name: "id", Exposed: "id", Kind: odata.KindInt32, AutoGenerated: autogen},
		{Name: "title", Exposed: "title", Kind: odata.KindString},
	}, []string{"id"})
}

func newSQLEngine(t *testing.T, dbType string, d dialect.Dialect, scripts ...script) (*SQLEngine, *fakeRunner) {
	t.Helper()
	cfg, err := config.ParseConfig([]byte(strings.Replace(bookConfig, "%s", dbType, 1)), config.ParseOptions{SkipEnv: true})
	require.NoError(t, err)
	c, err := cache.New(cfg.Runtime.Cache, nil, nil)
	require.NoError(t, err)
	r := &fakeRunner{d: d, scripts: scripts}
	return NewSQLEngine(r, staticConfig{cfg}, c, nil), r
}

func rc(obj *sqlmeta.DatabaseObject) request.Context {
	return request.Context{Entity: "Book", Object: obj, Role: "anonymous"}
}

func TestFindPagesAndStripsCursorFields(t *testing.T) {
	e, r := newSQLEngine(t, "postgresql", dialect.PostgreSQL, script{prefix: "SELECT", rows: []map[string]any{
		{"id": 1, "title": "A"}, {"id": 2, "title": "B"}, {"id": 3, "title": "C"},
	}})
	find := &request.FindRequestContext{Context: rc(bookObject(true)), Fields: []string{"title"}, IsMany: true, First: 2}

	page, err := e.Find(context.Background(), find)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"title": "A"}, {"title": "B"}}, page.Items)
	require.Len(t, page.Next, 1)
	assert.Equal(t, request.CursorField{Field: "id", Value: 2}, page.Next[0])
	assert.Contains(t, r.seen[0], `"t"."id" AS "id"`)
}

func TestFindUsesCache(t *testing.T) {
	e, r := newSQLEngine(t, "postgresql", dialect.PostgreSQL, script{prefix: "SELECT", rows: []map[string]any{{"id": 1, "title": "A"}}})
	find := &request.FindRequestContext{Context: rc(bookObject(true)), Fields: []string{"id", "title"}, IsMany: true, First: 10}

	_, err := e.Find(context.Background(), find)
	require.NoError(t, err)
	page, err := e.Find(context.Background(), find)
	require.NoError(t, err)
	assert.Equal(t, 1, r.queries)
	assert.Len(t, page.Items, 1)
}

func TestFindSetsSessionContextOnMSSQL(t *testing.T) {
	e, r := newSQLEngine(t, "mssql", dialect.MSSQL, script{prefix: "SELECT", rows: []map[string]any{{"id": 1}}})
	find := &request.FindRequestContext{Context: rc(bookObject(true)), Fields: []string{"id"}}
	find.Claims = map[string]any{"userId": "u1"}

	_, err := e.Find(context.Background(), find)
	require.NoError(t, err)
	require.Len(t, r.seen, 2)
	assert.True(t, strings.HasPrefix(r.seen[0], "EXEC sp_set_session_context"))
	assert.Zero(t, r.queries, "session reads bypass the pool and the cache")
}

func TestInsertReadsBackUnderPolicy(t *testing.T) {
	e, r := newSQLEngine(t, "postgresql", dialect.PostgreSQL,
		script{prefix: "INSERT", rows: []map[string]any{{"id": 9}}},
		script{prefix: "SELECT", rows: []map[string]any{{"id": 9, "title": "Dune"}}},
	)
	ins := &request.InsertRequestContext{Context: rc(bookObject(true)), Body: map[string]any{"title": "Dune"}, Fields: []string{"id", "title"}}
	ins.DBPolicy = "title eq 'Dune'"

	row, err := e.Insert(context.Background(), ins)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": 9, "title": "Dune"}, row)
	assert.Contains(t, r.seen[1], `("t"."title" = $2)`)
}

func TestInsertHiddenByPolicyRollsBack(t *testing.T) {
	e, r := newSQLEngine(t, "postgresql", dialect.PostgreSQL,
		script{prefix: "INSERT", rows: []map[string]any{{"id": 9}}},
	)
	ins := &request.InsertRequestContext{Context: rc(bookObject(true)), Body: map[string]any{"title": "Dune"}}
	ins.DBPolicy = "title eq 'Other'"

	_, err := e.Insert(context.Background(), ins)
	require.Error(t, err)
	assert.True(t, apierr.IsSubStatus(err, apierr.DatabasePolicyFailure))
	assert.Equal(t, 403, apierr.Classify(err).Status)
	assert.True(t, r.aborted)
}

func TestInsertOnMySQLRereadsGeneratedKey(t *testing.T) {
	e, r := newSQLEngine(t, "mysql", dialect.MySQL,
		script{prefix: "INSERT", n: 1},
		script{prefix: "SELECT `t`.`id` AS `id` FROM `books` AS `t` WHERE `t`.`id` = LAST_INSERT_ID()", rows: []map[string]any{{"id": 4}}},
		script{prefix: "SELECT", rows: []map[string]any{{"id": 4, "title": "Dune"}}},
	)
	obj := bookObject(true)
	obj.Table.Schema = ""
	ins := &request.InsertRequestContext{Context: rc(obj), Body: map[string]any{"title": "Dune"}}

	row, err := e.Insert(context.Background(), ins)
	require.NoError(t, err)
	assert.Equal(t, 4, row["id"])
	assert.Len(t, r.seen, 3)
}

func TestUpsertUpdatesExistingRow(t *testing.T) {
	e, _ := newSQLEngine(t, "postgresql", dialect.PostgreSQL,
		script{prefix: "UPDATE", rows: []map[string]any{{"id": 1}}},
		script{prefix: "SELECT", rows: []map[string]any{{"id": 1, "title": "New"}}},
	)
	up := &request.UpsertRequestContext{Context: rc(bookObject(false)), Body: map[string]any{"title": "New"}}
	up.PrimaryKey = map[string]any{"id": 1}

	row, created, err := e.Upsert(context.Background(), up)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "New", row["title"])
}

func TestUpsertInsertsMissingRow(t *testing.T) {
	e, r := newSQLEngine(t, "postgresql", dialect.PostgreSQL,
		script{prefix: "UPDATE"},
		script{prefix: "SELECT 1"},
		script{prefix: "INSERT", rows: []map[string]any{{"id": 5}}},
		script{prefix: "SELECT", rows: []map[string]any{{"id": 5, "title": "New"}}},
	)
	up := &request.UpsertRequestContext{Context: rc(bookObject(false)), Body: map[string]any{"title": "New"}}
	up.PrimaryKey = map[string]any{"id": 5}

	_, created, err := e.Upsert(context.Background(), up)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Contains(t, r.seen[2], `INSERT INTO "public"."books" ("id", "title")`)
}

func TestUpsertBlockedByPolicy(t *testing.T) {
	e, _ := newSQLEngine(t, "postgresql", dialect.PostgreSQL,
		script{prefix: "UPDATE"},
		script{prefix: "SELECT 1", rows: []map[string]any{{"found": 1}}},
	)
	up := &request.UpsertRequestContext{Context: rc(bookObject(false)), Body: map[string]any{"title": "New"}}
	up.PrimaryKey = map[string]any{"id": 5}
	up.DBPolicy = "title eq 'x'"

	_, _, err := e.Upsert(context.Background(), up)
	assert.True(t, apierr.IsSubStatus(err, apierr.DatabasePolicyFailure))
}

func TestUpsertCannotInsertGeneratedKey(t *testing.T) {
	e, _ := newSQLEngine(t, "postgresql", dialect.PostgreSQL, script{prefix: "UPDATE"}, script{prefix: "SELECT 1"})
	up := &request.UpsertRequestContext{Context: rc(bookObject(true)), Body: map[string]any{"title": "New"}}
	up.PrimaryKey = map[string]any{"id": 5}

	_, _, err := e.Upsert(context.Background(), up)
	require.Error(t, err)
	assert.True(t, apierr.IsSubStatus(err, apierr.ItemNotFound))
	assert.Contains(t, err.Error(), "id: 5")
}

func TestDeleteOutcomes(t *testing.T) {
	del := &request.DeleteRequestContext{Context: rc(bookObject(true))}
	del.PrimaryKey = map[string]any{"id": 1}

	e, _ := newSQLEngine(t, "postgresql", dialect.PostgreSQL, script{prefix: "DELETE", n: 1})
	require.NoError(t, e.Delete(context.Background(), del))

	e, _ = newSQLEngine(t, "postgresql", dialect.PostgreSQL, script{prefix: "DELETE"}, script{prefix: "SELECT 1", rows: []map[string]any{{"found": 1}}})
	assert.True(t, apierr.IsSubStatus(e.Delete(context.Background(), del), apierr.DatabasePolicyFailure))

	e, _ = newSQLEngine(t, "postgresql", dialect.PostgreSQL, script{prefix: "DELETE"}, script{prefix: "SELECT 1"})
	assert.True(t, apierr.IsSubStatus(e.Delete(context.Background(), del), apierr.ItemNotFound))
}

func TestUpdateOnlyReportsMissingRow(t *testing.T) {
	e, _ := newSQLEngine(t, "postgresql", dialect.PostgreSQL, script{prefix: "UPDATE"}, script{prefix: "SELECT 1"})
	up := &request.UpsertRequestContext{Context: rc(bookObject(false)), Body: map[string]any{"title": "New"}, UpdateOnly: true}
	up.PrimaryKey = map[string]any{"id": 5}

	_, _, err := e.Upsert(context.Background(), up)
	assert.True(t, apierr.IsSubStatus(err, apierr.ItemNotFound))
}
