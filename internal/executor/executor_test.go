package executor

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datagate/internal/apierr"
	"datagate/internal/config"
	"datagate/internal/dialect"
)

type staticConfig struct{ cfg *config.RuntimeConfig }

func (s staticConfig) GetConfig() (*config.RuntimeConfig, error) { return s.cfg, nil }

type openRecorder struct {
	opens  map[string]int
	tokens map[string]bool
}

func fakeDrivers(rec *openRecorder) map[config.DatabaseType]Driver {
	return map[config.DatabaseType]Driver{
		config.PostgreSQL: {
			Dialect: dialect.PostgreSQL,
			Scope:   OSSRDBMSScope,
			Open: func(cs string, tok TokenFunc) (*sql.DB, error) {
				rec.opens[cs]++
				rec.tokens[cs] = tok != nil
				// sql.Open never dials.
				return sql.Open("pgx", "postgres://localhost:1/none")
			},
			HasCredentials: func(cs string) bool { return cs == "with-password" },
			IsTransient:    func(error) bool { return false },
			IsBadInput:     func(error) bool { return false },
		},
	}
}

func newTestExecutor(t *testing.T) (*Executor, *openRecorder) {
	t.Helper()
	cfg := &config.RuntimeConfig{
		Runtime: config.DefaultRuntime(),
		DataSources: map[string]config.DataSource{
			"a":      {DatabaseType: config.PostgreSQL, ConnectionString: "with-password"},
			"b":      {DatabaseType: config.PostgreSQL, ConnectionString: "managed"},
			"cosmos": {DatabaseType: config.CosmosDB, ConnectionString: "AccountEndpoint=x"},
		},
	}
	rec := &openRecorder{opens: map[string]int{}, tokens: map[string]bool{}}
	e := New(Options{Config: staticConfig{cfg}, Drivers: fakeDrivers(rec), Tokens: NewTokensWithCredential(&fakeCredential{})})
	t.Cleanup(func() { _ = e.Close() })
	return e, rec
}

func TestPoolsCachedPerDataSource(t *testing.T) {
	e, rec := newTestExecutor(t)
	p1, err := e.pool("a")
	require.NoError(t, err)
	p2, err := e.pool("a")
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	p3, err := e.pool("b")
	require.NoError(t, err)
	assert.NotSame(t, p1, p3)

	assert.Equal(t, 1, rec.opens["with-password"])
	assert.Equal(t, 1, rec.opens["managed"])
}

func TestTokenOnlyWithoutCredentials(t *testing.T) {
	e, rec := newTestExecutor(t)
	_, err := e.pool("a")
	require.NoError(t, err)
	_, err = e.pool("b")
	require.NoError(t, err)
	assert.False(t, rec.tokens["with-password"])
	assert.True(t, rec.tokens["managed"])
}

func TestUnknownAndNonRelationalSources(t *testing.T) {
	e, _ := newTestExecutor(t)
	_, err := e.pool("missing")
	assert.True(t, apierr.IsSubStatus(err, apierr.DataSourceNotFound))

	_, err = e.pool("cosmos")
	assert.True(t, apierr.IsSubStatus(err, apierr.NotSupported))

	d, err := e.Dialect("a")
	require.NoError(t, err)
	assert.Equal(t, config.PostgreSQL, d.Type)
}

func TestExceptionParser(t *testing.T) {
	bad := errors.New("duplicate key")
	other := errors.New("relation does not exist")
	isBad := func(err error) bool { return errors.Is(err, bad) }

	prod := ExceptionParser{IsBadInput: isBad}
	got := apierr.Classify(prod.Parse(bad))
	assert.Equal(t, http.StatusBadRequest, got.Status)
	assert.Equal(t, apierr.DatabaseInputError, got.SubStatus)
	assert.Equal(t, apierr.GenericDBErrorMessage, got.Message)

	got = apierr.Classify(prod.Parse(other))
	assert.Equal(t, http.StatusInternalServerError, got.Status)
	assert.Equal(t, apierr.DatabaseOperationFailed, got.SubStatus)
	assert.Equal(t, apierr.GenericDBErrorMessage, got.Message)

	dev := ExceptionParser{DeveloperMode: true, IsBadInput: isBad}
	assert.Equal(t, "relation does not exist", apierr.Classify(dev.Parse(other)).Message)

	classified := apierr.New(apierr.ItemNotFound, "gone")
	assert.Same(t, classified, prod.Parse(classified))
	assert.NoError(t, prod.Parse(nil))
}

func TestRunClassifiesFailures(t *testing.T) {
	e, _ := newTestExecutor(t)
	_, err := e.Exec(context.Background(), "a", Statement{SQL: "SELECT 1"})
	require.Error(t, err, "nothing listens on the fake pool")
	assert.True(t, apierr.IsSubStatus(err, apierr.DatabaseOperationFailed))
}
