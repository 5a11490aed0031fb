package mssql

import (
	"fmt"
	"testing"

	driver "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"

	"datagate/internal/dialect"
)

func TestHasCredentials(t *testing.T) {
	assert.True(t, HasCredentials("Server=db;Database=books;User ID=sa;Password=pw"))
	assert.True(t, HasCredentials("Server=db;Database=books;Integrated Security=true"))
	assert.True(t, HasCredentials("Server=db;Database=books;Trusted_Connection=Yes"))
	assert.True(t, HasCredentials("Server=db;Database=books;Authentication=ActiveDirectoryDefault"))
	assert.False(t, HasCredentials("Server=db;Database=books"))
	assert.False(t, HasCredentials("Server=db;Database=books;Integrated Security=false"))
	assert.True(t, HasCredentials("sqlserver://sa:pw@db?database=books"))
	assert.False(t, HasCredentials("sqlserver://db?database=books"))
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("exec: %w", driver.Error{Number: 1205})))
	assert.True(t, IsTransient(driver.Error{Number: 121}))
	assert.True(t, IsTransient(driver.Error{Number: 40613}))
	assert.False(t, IsTransient(driver.Error{Number: 2627}))
	assert.True(t, IsBadInput(driver.Error{Number: 2627}))
	assert.True(t, IsBadInput(driver.Error{Number: 547}))
	assert.False(t, IsBadInput(driver.Error{Number: 208}))
}

func TestSessionContext(t *testing.T) {
	p := dialect.NewParams(dialect.MSSQL)
	got := SessionContext(map[string]any{"userId": "u1", "roles": "reader"}, p)
	assert.Equal(t,
		"EXEC sp_set_session_context @param0, @param1, @read_only = 0;EXEC sp_set_session_context @param2, @param3, @read_only = 0;",
		got)
	assert.Equal(t, []any{"roles", "reader", "userId", "u1"}, p.Values())
}
