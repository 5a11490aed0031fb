package pg

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCredentials(t *testing.T) {
	assert.True(t, HasCredentials("postgres://app:secret@db:5432/books"))
	assert.False(t, HasCredentials("postgres://app@db:5432/books"))
	assert.True(t, HasCredentials("host=db user=app password='x' dbname=books"))
	assert.False(t, HasCredentials("host=db user=app dbname=books"))
	assert.True(t, HasCredentials("Host=db;Database=books;Username=app;Password=x"))
	assert.False(t, HasCredentials("Host=db;Database=books;Username=app@tenant"))
}

func TestNormalizeKeyValue(t *testing.T) {
	got := normalize("Host=db;Database=books;SSL Mode=Require")
	assert.Contains(t, got, "host='db'")
	assert.Contains(t, got, "dbname='books'")
	assert.Contains(t, got, "sslmode='require'")
	assert.Equal(t, "postgres://x", normalize("postgres://x"))
}

func TestNormalizeEscapesPassword(t *testing.T) {
	got := normalize(`Password=a\b'c;`)
	assert.Equal(t, `password='a\\b\'c'`, got)

	cfg, err := pgconn.ParseConfig("host=db " + got)
	require.NoError(t, err)
	assert.Equal(t, `a\b'c`, cfg.Password)
}

func TestErrorClassification(t *testing.T) {
	wrap := func(code string) error { return fmt.Errorf("exec: %w", &pgconn.PgError{Code: code}) }

	for _, code := range []string{"40001", "40P01", "08006", "53300", "57P01"} {
		assert.True(t, IsTransient(wrap(code)), code)
	}
	assert.True(t, IsTransient(driver.ErrBadConn))
	assert.False(t, IsTransient(wrap("23505")))
	assert.False(t, IsTransient(errors.New("plain")))

	assert.True(t, IsBadInput(wrap("23505")))
	assert.True(t, IsBadInput(wrap("22P02")))
	assert.False(t, IsBadInput(wrap("42P01")))
}
