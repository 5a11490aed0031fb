//go:build integration

package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"datagate/internal/api"
	"datagate/internal/config"
	"datagate/internal/engine"
	"datagate/internal/executor"
	"datagate/internal/graphql"
	"datagate/internal/metrics"
	"datagate/internal/pg"
	"datagate/internal/validation"
)

// startPostgres runs a throwaway PostgreSQL with a books table.
func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("library"),
		postgres.WithUsername("datagate"),
		postgres.WithPassword("datagate"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := pg.Open(dsn, nil)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.ExecContext(ctx, `CREATE TABLE books (
		id    serial PRIMARY KEY,
		title text NOT NULL,
		year  integer
	)`)
	require.NoError(t, err)
	return dsn
}

func TestIntegration_RestOverPostgres(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	dsn := startPostgres(t, ctx)

	raw := fmt.Sprintf(`{
	  "data-source": {"database-type": "postgresql", "connection-string": %q},
	  "runtime": {"host": {"mode": "development", "authentication": {"provider": "Simulator"}}},
	  "entities": {
	    "Book": {
	      "source": "public.books",
	      "rest": {"path": "books"},
	      "permissions": [
	        {"role": "anonymous", "actions": ["read"]},
	        {"role": "editor", "actions": ["*"]}
	      ]
	    }
	  }
	}`, dsn)
	cfg, err := config.ParseConfig([]byte(raw), config.ParseOptions{SkipEnv: true})
	require.NoError(t, err)
	require.NoError(t, validation.New(nil).Validate(cfg))

	provider := config.NewStaticProvider(cfg)
	m := metrics.New()
	exec := executor.New(executor.Options{Config: provider, Metrics: m})
	defer exec.Close()

	meta, err := engine.LoadMetadata(ctx, cfg, exec, nil)
	require.NoError(t, err)
	require.NoError(t, validation.New(nil).ValidateSchema(cfg, meta))

	sqlEngine := engine.NewSQLEngine(exec, provider, nil, nil)
	svc := engine.NewService(provider, meta, engine.NewFactory(provider, map[config.DatabaseType]engine.Engine{
		config.PostgreSQL: sqlEngine,
	}))
	router := api.NewServer(api.Options{
		Provider: provider,
		Metrics:  m,
		Backend:  &api.Backend{Service: svc, GraphQL: graphql.NewExecutor(svc, nil)},
	}).Router()

	do := func(method, target, body string) (int, map[string]any) {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, target, nil)
		} else {
			req = httptest.NewRequest(method, target, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("X-MS-API-ROLE", "editor")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		var out map[string]any
		if w.Body.Len() > 0 {
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
		}
		return w.Code, out
	}

	code, body := do("POST", "/api/books", `{"title": "Dune", "year": 1965}`)
	require.Equal(t, http.StatusCreated, code, body)
	created := body["value"].([]any)[0].(map[string]any)
	id := created["id"]
	assert.Equal(t, "Dune", created["title"])

	code, _ = do("POST", "/api/books", `{"title": "Emma", "year": 1815}`)
	require.Equal(t, http.StatusCreated, code)

	code, body = do("GET", "/api/books?$filter=year%20gt%201900&$select=title", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, []any{map[string]any{"title": "Dune"}}, body["value"])

	code, body = do("GET", "/api/books?$first=1&$orderby=title", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Len(t, body["value"], 1)
	next, ok := body["nextLink"].(string)
	require.True(t, ok)
	code, body = do("GET", strings.TrimPrefix(next, "http://example.com"), "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "Emma", body["value"].([]any)[0].(map[string]any)["title"])
	assert.NotContains(t, body, "nextLink")

	bookURL := fmt.Sprintf("/api/books/id/%v", id)
	code, body = do("PATCH", bookURL, `{"year": 1966}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, float64(1966), body["value"].([]any)[0].(map[string]any)["year"])

	code, body = do("POST", "/graphql", `{"query": "{ books(orderBy: {title: ASC}) { items { title year } } }"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Nil(t, body["errors"])
	assert.Len(t, body["data"].(map[string]any)["books"].(map[string]any)["items"], 2)

	code, _ = do("DELETE", bookURL, "")
	assert.Equal(t, http.StatusNoContent, code)
	code, body = do("GET", bookURL, "")
	assert.Equal(t, http.StatusNotFound, code, body)
}
