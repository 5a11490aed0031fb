package dialect

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datagate/internal/apierr"
	"datagate/internal/config"
)

func TestQuoting(t *testing.T) {
	assert.Equal(t, "[id]", MSSQL.Quote("id"))
	assert.Equal(t, "[a]]b]", MSSQL.Quote("a]b"))
	assert.Equal(t, "`a``b`", MySQL.Quote("a`b"))
	assert.Equal(t, `"a""b"`, PostgreSQL.Quote(`a"b`))
	assert.Equal(t, "[dbo].[books]", MSSQL.QuoteTable("dbo", "books"))
	assert.Equal(t, "`books`", MySQL.QuoteTable("", "books"))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "@param2", MSSQL.Placeholder(2))
	assert.Equal(t, "?", MySQL.Placeholder(2))
	assert.Equal(t, "$3", PostgreSQL.Placeholder(2))

	args := MSSQL.Args([]any{1, "x"})
	assert.Equal(t, sql.Named("param1", "x"), args[1])
	assert.Equal(t, []any{1, "x"}, PostgreSQL.Args([]any{1, "x"}))
}

func TestForRejectsNonRelational(t *testing.T) {
	d, err := For(config.PostgreSQL)
	require.NoError(t, err)
	assert.Equal(t, "public", d.DefaultSchema)

	_, err = For(config.CosmosDB)
	require.Error(t, err)
	assert.True(t, apierr.IsSubStatus(err, apierr.NotSupported))
}

func TestLimitClause(t *testing.T) {
	p, s := MSSQL.LimitClause(10)
	assert.Equal(t, "TOP 10 ", p)
	assert.Empty(t, s)
	p, s = PostgreSQL.LimitClause(10)
	assert.Empty(t, p)
	assert.Equal(t, " LIMIT 10", s)
}

func TestColumn(t *testing.T) {
	assert.Equal(t, "[t].[id]", MSSQL.Column("t", "id"))
	assert.Equal(t, "`id`", MySQL.Column("", "id"))
	assert.Equal(t, `c["first name"]`, Cosmos.Column("c", "first name"))
	assert.Equal(t, `c["a\"b"]`, Cosmos.Column("", `a"b`))
	assert.Equal(t, []any{"x"}, Cosmos.Args([]any{"x"}))
}
