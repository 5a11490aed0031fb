package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datagate/internal/apierr"
)

const minimalConfig = `{
  // minimal config
  "data-source": {"database-type": "mssql", "connection-string": "Server=tcp:localhost;Database=lib"},
  "entities": {}
}`

func noEnv(string) (string, bool) { return "", false }

func TestParseConfigAppliesDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(minimalConfig), ParseOptions{LookupEnv: noEnv})
	require.NoError(t, err)

	assert.True(t, cfg.Runtime.Rest.Enabled)
	assert.Equal(t, DefaultRestPath, cfg.Runtime.Rest.Path)
	assert.True(t, cfg.Runtime.GraphQL.Enabled)
	assert.Equal(t, DefaultGraphQLPath, cfg.Runtime.GraphQL.Path)
	assert.True(t, cfg.Runtime.GraphQL.AllowIntrospection)
	assert.Equal(t, Production, cfg.Runtime.Host.Mode)
	assert.Equal(t, MSSQL, cfg.DataSource.DatabaseType)
	assert.NotEmpty(t, cfg.DefaultDataSourceName)
	assert.Contains(t, cfg.DataSources, cfg.DefaultDataSourceName)
}

func TestDefaultsSurviveSerializationRoundTrip(t *testing.T) {
	for _, input := range []string{minimalConfig, `{}`} {
		first, err := ParseConfig([]byte(input), ParseOptions{LookupEnv: noEnv})
		require.NoError(t, err)

		out, err := json.Marshal(first)
		require.NoError(t, err)
		second, err := ParseConfig(out, ParseOptions{LookupEnv: noEnv})
		require.NoError(t, err)

		assert.Equal(t, first.Runtime.Rest, second.Runtime.Rest)
		assert.Equal(t, first.Runtime.GraphQL, second.Runtime.GraphQL)
		assert.Equal(t, first.Runtime.Host.Mode, second.Runtime.Host.Mode)
		assert.Equal(t, first.Runtime.Pagination, second.Runtime.Pagination)
	}
}

func TestCommentsInsideStringsAreKept(t *testing.T) {
	src := `{
  "data-source": {"database-type": "postgresql", "connection-string": "Host=https://db.example.com//x"}, // trailing
  // whole line
  "entities": {}
}`
	cfg, err := ParseConfig([]byte(src), ParseOptions{LookupEnv: noEnv})
	require.NoError(t, err)
	assert.Equal(t, "Host=https://db.example.com//x", cfg.DataSource.ConnectionString)
}

func TestEnvTokenSubstitution(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "CONN" {
			return `Server=a;Password="p\w"`, true
		}
		return "", false
	}
	src := `{"data-source": {"database-type": "mssql", "connection-string": "@env('CONN')"}}`
	cfg, err := ParseConfig([]byte(src), ParseOptions{LookupEnv: lookup})
	require.NoError(t, err)
	assert.Equal(t, `Server=a;Password="p\w"`, cfg.DataSource.ConnectionString)

	_, err = ParseConfig([]byte(`{"data-source": {"connection-string": "@env('MISSING')"}}`), ParseOptions{LookupEnv: lookup})
	require.Error(t, err)
	assert.True(t, apierr.IsSubStatus(err, apierr.ErrorInInitialization))
	assert.Contains(t, err.Error(), "MISSING")
}

func TestEntityShorthandForms(t *testing.T) {
	src := `{
  "data-source": {"database-type": "mysql", "connection-string": "u:p@tcp(h)/db"},
  "entities": {
    "Book": {
      "source": "dbo.books",
      "rest": false,
      "graphql": "Tome",
      "permissions": [{"role": "anonymous", "actions": ["read", {"action": "Create", "fields": {"include": ["*"]}}]}]
    },
    "Author": {
      "source": {"object": "authors", "type": "Table", "key-fields": ["id"]},
      "graphql": {"type": {"singular": "Writer", "plural": "Writers"}},
      "permissions": [{"role": "authenticated", "actions": ["*"]}]
    }
  }
}`
	cfg, err := ParseConfig([]byte(src), ParseOptions{LookupEnv: noEnv})
	require.NoError(t, err)

	book := cfg.Entities["Book"]
	schema, name := book.Source.SchemaAndName()
	assert.Equal(t, "dbo", schema)
	assert.Equal(t, "books", name)
	assert.Equal(t, Table, book.Source.Type)
	assert.False(t, book.Rest.Enabled)
	assert.True(t, book.GraphQL.Enabled)
	assert.Equal(t, "Tome", book.GraphQL.Singular)
	require.Len(t, book.Permissions[0].Actions, 2)
	assert.Equal(t, OpRead, book.Permissions[0].Actions[0].Op)
	assert.Equal(t, OpCreate, book.Permissions[0].Actions[1].Op)

	author := cfg.Entities["Author"]
	assert.True(t, author.Rest.Enabled)
	assert.Equal(t, "Writers", author.GraphQL.Plural)
	assert.Equal(t, WildcardAction, author.Permissions[0].Actions[0].Kind)
	assert.Equal(t, cfg.DefaultDataSourceName, cfg.EntityDataSource["Author"])
}

func TestWhitespacePolicyCountsAsNoPolicy(t *testing.T) {
	a := EntityAction{Op: OpRead, Policy: &ActionPolicy{Database: "   "}}
	assert.False(t, a.HasDatabasePolicy())
	a.Policy.Database = "@item.id eq 1"
	assert.True(t, a.HasDatabasePolicy())
}

func TestLoadFileWithDataSourceFilesAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATAGATE_TEST_COSMOS", "")
	require.NoError(t, os.Unsetenv("DATAGATE_TEST_COSMOS"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DATAGATE_TEST_COSMOS=AccountEndpoint=https://c/;AccountKey=k;\n"), 0o600))

	child := `{
  "data-source": {"database-type": "cosmosdb_nosql", "connection-string": "@env('DATAGATE_TEST_COSMOS')", "options": {"database": "lib", "container": "reviews"}},
  "entities": {"Review": {"source": "reviews", "permissions": [{"role": "anonymous", "actions": ["read"]}]}}
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cosmos.json"), []byte(child), 0o600))

	parent := `{
  "data-source": {"database-type": "mysql", "connection-string": "root:pw@tcp(localhost:3306)/lib"},
  "data-source-files": ["cosmos.json"],
  "entities": {"Book": {"source": "books", "permissions": [{"role": "anonymous", "actions": ["read"]}]}}
}`
	path := filepath.Join(dir, "dab-config.json")
	require.NoError(t, os.WriteFile(path, []byte(parent), 0o600))

	cfg, err := LoadFile(path, ParseOptions{})
	require.NoError(t, err)
	require.Len(t, cfg.DataSources, 2)

	bookDS, ds, ok := cfg.DataSourceFor("Book")
	require.True(t, ok)
	assert.Equal(t, cfg.DefaultDataSourceName, bookDS)
	assert.Equal(t, MySQL, ds.DatabaseType)

	reviewDS, ds, ok := cfg.DataSourceFor("Review")
	require.True(t, ok)
	assert.NotEqual(t, bookDS, reviewDS)
	assert.Equal(t, CosmosDB, ds.DatabaseType)
	assert.Equal(t, "AccountEndpoint=https://c/;AccountKey=k;", ds.ConnectionString)
	assert.Equal(t, "reviews", ds.Options.Container)
}

func TestLoadYAMLConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	src := `
data-source:
  database-type: postgresql
  connection-string: "Host=localhost;Database=lib"
runtime:
  rest:
    path: /rest
  host:
    mode: Development
entities:
  Book:
    source: public.books
    permissions:
      - role: anonymous
        actions: ["*"]
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	cfg, err := LoadFile(path, ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/rest", cfg.Runtime.Rest.Path)
	assert.True(t, cfg.Runtime.Rest.Enabled)
	assert.Equal(t, Development, cfg.Runtime.Host.Mode)
	assert.Contains(t, cfg.Entities, "Book")
}

func TestDuplicateEntityAcrossFilesFails(t *testing.T) {
	dir := t.TempDir()
	child := `{"data-source": {"database-type": "mysql", "connection-string": "x"}, "entities": {"Book": {"source": "b"}}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "child.json"), []byte(child), 0o600))
	parent := `{"data-source": {"database-type": "mysql", "connection-string": "y"}, "data-source-files": ["child.json"], "entities": {"Book": {"source": "b"}}}`
	path := filepath.Join(dir, "parent.json")
	require.NoError(t, os.WriteFile(path, []byte(parent), 0o600))

	_, err := LoadFile(path, ParseOptions{})
	require.Error(t, err)
	assert.True(t, apierr.IsSubStatus(err, apierr.ConfigValidationError))
}

func TestLoadSettingsEnvOverrides(t *testing.T) {
	t.Setenv("DATAGATE_PORT", "7070")
	t.Setenv("DATAGATE_HOT_RELOAD", "no")
	s := LoadSettings("")
	assert.Equal(t, "7070", s.Port)
	assert.False(t, s.HotReload)
	assert.Equal(t, "dab-config.json", s.ConfigFile)
}
