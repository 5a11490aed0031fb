package validation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datagate/internal/apierr"
	"datagate/internal/authz"
	"datagate/internal/config"
	"datagate/internal/odata"
	"datagate/internal/sqlmeta"
)

const baseConfig = `{
  "data-source": {"database-type": "mssql", "connection-string": "Server=db;Database=lib;User ID=sa;Password=x"},
  "entities": %s
}`

func parse(t *testing.T, entities string) *config.RuntimeConfig {
	t.Helper()
	cfg, err := config.ParseConfig([]byte(fmt.Sprintf(baseConfig, entities)), config.ParseOptions{SkipEnv: true, DefaultDataSourceName: "main"})
	require.NoError(t, err)
	return cfg
}

func messages(issues []Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Message
	}
	return out
}

func TestWildcardWithNamedFields(t *testing.T) {
	cfg := parse(t, `{"Book": {"source": "books", "permissions": [
		{"role": "anonymous", "actions": [{"action": "create", "fields": {"include": ["*", "col2"]}}]}
	]}}`)

	err := ValidatePermissionsInConfig(cfg)
	require.Error(t, err)
	assert.True(t, apierr.IsSubStatus(err, apierr.ConfigValidationError))
	assert.Equal(t,
		"No other field can be present with wildcard in the included set for: entity:Book, role:anonymous, action:Create.",
		apierr.Classify(err).Message)

	cfg = parse(t, `{"Book": {"source": "books", "permissions": [
		{"role": "anonymous", "actions": [{"action": "read", "fields": {"exclude": ["*", "id"]}}]}
	]}}`)
	assert.Equal(t,
		[]string{"No other field can be present with wildcard in the excluded set for: entity:Book, role:anonymous, action:Read."},
		messages(CheckPermissions(cfg)))
}

func TestStoredProcedureOperations(t *testing.T) {
	const sproc = `{"GetBooks": {"source": {"object": "get_books", "type": "stored-procedure"}, "permissions": [
		{"role": "anonymous", "actions": %s}
	]}}`

	err := ValidatePermissionsInConfig(parse(t, fmt.Sprintf(sproc, `["create", "read"]`)))
	require.Error(t, err)
	assert.Equal(t,
		"Invalid operation for Entity: GetBooks. Stored procedures can only be configured with the 'execute' operation.",
		apierr.Classify(err).Message)

	assert.NoError(t, ValidatePermissionsInConfig(parse(t, fmt.Sprintf(sproc, `["execute"]`))))
	assert.NoError(t, ValidatePermissionsInConfig(parse(t, fmt.Sprintf(sproc, `["*"]`))))
}

func TestActionNames(t *testing.T) {
	cfg := parse(t, `{"Book": {"source": "books", "permissions": [
		{"role": "anonymous", "actions": ["upsert"]},
		{"role": "editor", "actions": ["fly"]},
		{"role": "admin", "actions": ["execute"]}
	]}}`)
	assert.Equal(t, []string{
		"action:upsert specified for entity:Book, role:anonymous is not valid.",
		"action:fly specified for entity:Book, role:editor is not valid.",
		"Invalid operation for Entity: Book. The 'execute' operation is only valid for stored procedures.",
	}, messages(CheckPermissions(cfg)))

	cfg = parse(t, `{"Book": {"source": "books", "permissions": [{"role": "anonymous", "actions": ["READ", "Create"]}]}}`)
	assert.Empty(t, CheckPermissions(cfg), "operation names are case-insensitive")
}

func TestPolicyChecks(t *testing.T) {
	cfg := parse(t, `{"Book": {"source": "books", "permissions": [
		{"role": "a", "actions": [{"action": "read", "policy": {"database": "@claims.user$id eq @item.owner"}}]},
		{"role": "b", "actions": [{"action": "read", "policy": {"database": "@claims. eq @item.owner"}}]},
		{"role": "c", "actions": [{"action": "read", "fields": {"include": ["id"]}, "policy": {"database": "@claims.userId eq @item.owner"}}]},
		{"role": "d", "actions": [{"action": "read", "fields": {"include": ["*"], "exclude": ["owner"]}, "policy": {"database": "@item.owner eq @claims.userId"}}]},
		{"role": "e", "actions": [{"action": "read", "fields": {"include": ["owner"]}, "policy": {"database": "@item.owner eq @claims.userId"}}]},
		{"role": "f", "actions": [{"action": "read", "fields": {"include": ["id"]}, "policy": {"database": "   "}}]}
	]}}`)
	cfg.Runtime.Host.Authentication.Provider = config.JwtProvider

	assert.Equal(t, []string{
		"Invalid format for claim type user$id supplied in policy.",
		authz.EmptyClaimTypeMsg,
		authz.PolicyColumnsNotAllowed,
		authz.PolicyColumnsNotAllowed,
	}, messages(CheckPermissions(cfg)))
}

func TestStaticWebAppsClaims(t *testing.T) {
	cfg := parse(t, `{"Book": {"source": "books", "permissions": [
		{"role": "a", "actions": [{"action": "read", "policy": {"database": "@claims.email eq @item.owner"}}]},
		{"role": "b", "actions": [{"action": "read", "policy": {"database": "@claims.UserId eq @item.owner"}}]}
	]}}`)
	cfg.Runtime.Host.Authentication.Provider = "staticwebapps"

	assert.Equal(t, []string{authz.UnsupportedSWAClaimsMsg}, messages(CheckPermissions(cfg)))
}

func TestGraphQLNameCollisions(t *testing.T) {
	cfg := parse(t, `{
		"Book":  {"source": "books", "permissions": []},
		"Books": {"source": "books2", "graphql": {"type": {"singular": "Book", "plural": "Books"}}, "permissions": []},
		"Note":  {"source": "notes", "graphql": "Memo", "permissions": []},
		"My-Entity": {"source": "x", "permissions": []}
	}`)

	issues := CheckGraphQLNames(cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, "Books", issues[0].Entity)
	assert.Contains(t, issues[0].Message, "Entity Books generates queries/mutation that already exist")

	assert.Equal(t, []string{"Entity My-Entity contains characters disallowed by GraphQL."}, messages(CheckEntityNames(cfg)))
}

func TestGraphQLNamesWhenPluralMatchesSingular(t *testing.T) {
	cfg := parse(t, `{
		"Series": {"source": "series", "permissions": []},
		"Stock":  {"source": "stock", "graphql": {"type": {"singular": "Item", "plural": "Item"}}, "permissions": []}
	}`)
	assert.Empty(t, CheckGraphQLNames(cfg))

	cfg = parse(t, `{
		"Series": {"source": "series", "permissions": []},
		"Other":  {"source": "other", "graphql": {"type": {"singular": "Series_Multiple", "plural": "Others"}}, "permissions": []}
	}`)
	issues := CheckGraphQLNames(cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, "Series", issues[0].Entity)
	assert.Contains(t, issues[0].Message, "createSeries_Multiple")
}

func TestRestPaths(t *testing.T) {
	cfg := parse(t, `{
		"Book":   {"source": "books", "rest": {"path": "/shelf"}, "permissions": []},
		"Novel":  {"source": "novels", "rest": {"path": "Shelf"}, "permissions": []},
		"Author": {"source": "authors", "rest": {"path": "auth?ors"}, "permissions": []},
		"Hidden": {"source": "hidden", "rest": false, "permissions": []}
	}`)
	assert.Equal(t, []string{
		"The rest path: auth?ors specified for entity: Author contains one or more reserved characters.",
		"The rest path: Shelf specified for entity: Novel is already used by another entity: Book.",
	}, messages(CheckRestPaths(cfg)))

	cfg.Runtime.GraphQL.Path = "/api"
	assert.Contains(t, messages(CheckRestPaths(cfg)), "Conflicting GraphQL and REST path configuration.")
}

func TestRelationships(t *testing.T) {
	cfg := parse(t, `{
		"Book": {"source": "books", "permissions": [], "relationships": {
			"author":  {"cardinality": "one", "target.entity": "Author"},
			"ghost":   {"cardinality": "one", "target.entity": "Ghost"},
			"reviews": {"cardinality": "many", "target.entity": "Review", "source.fields": ["id", "isbn"], "target.fields": ["book_id"]},
			"tags":    {"cardinality": "several", "target.entity": "Tag"}
		}},
		"Author": {"source": "authors", "permissions": []},
		"Review": {"source": "reviews", "permissions": []},
		"Tag":    {"source": "tags", "permissions": []}
	}`)

	assert.Equal(t, []string{
		"Entity: Ghost used for relationship is not defined in the config.",
		"Entity: Book has a relationship: reviews with source.fields and target.fields of different lengths.",
		`Relationship tags of entity Book has invalid cardinality "several".`,
	}, messages(CheckRelationships(cfg)))

	cfg.DataSources["other"] = cfg.DataSources["main"]
	cfg.EntityDataSource["Author"] = "other"
	assert.Contains(t, messages(CheckRelationships(cfg)),
		"Cannot define relationship for entity: Book to entity: Author on a different data source.")
}

func TestDataSourcesAndRuntime(t *testing.T) {
	cfg := parse(t, `{"Book": {"source": "books", "permissions": []}}`)
	cfg.DataSources["docs"] = config.DataSource{DatabaseType: config.CosmosDB, ConnectionString: "AccountEndpoint=https://x/;AccountKey=k;"}
	cfg.DataSources["odd"] = config.DataSource{DatabaseType: "oracle", ConnectionString: "x"}
	cfg.EntityDataSource["Book"] = "missing"
	assert.Equal(t, []string{
		"Cosmos DB data source docs requires options.database.",
		`Data source odd has unsupported database-type "oracle".`,
		"Entity Book has no data source.",
	}, messages(CheckDataSources(cfg)))

	cfg.Runtime.Pagination = config.PaginationOptions{DefaultPageSize: 500, MaxPageSize: 100}
	cfg.Runtime.Host.Authentication.Provider = config.JwtProvider
	assert.Equal(t, []string{
		"Pagination default-page-size 500 cannot exceed max-page-size 100.",
		"Authentication with AzureAD requires jwt audience and issuer.",
	}, messages(CheckRuntime(cfg)))
}

func TestValidateJoinsAllIssues(t *testing.T) {
	v := New(nil)
	cfg := parse(t, `{"Book": {"source": "books", "permissions": [{"role": "anonymous", "actions": ["read"]}]}}`)
	assert.NoError(t, v.Validate(cfg))

	cfg.Runtime.Pagination.DefaultPageSize = cfg.Runtime.Pagination.MaxPageSize + 1
	err := v.Validate(cfg)
	require.Error(t, err)
	assert.True(t, apierr.IsSubStatus(err, apierr.ConfigValidationError))
}

type objects map[string]*sqlmeta.DatabaseObject

func (o objects) Object(entity string) (*sqlmeta.DatabaseObject, bool) {
	obj, ok := o[entity]
	return obj, ok
}

func TestCheckSchema(t *testing.T) {
	cfg := parse(t, `{
		"Book": {"source": "books", "mappings": {"title_col": "title", "gone": "x"}, "permissions": [
			{"role": "anonymous", "actions": [
				{"action": "read", "fields": {"include": ["id", "title", "color"]}, "policy": {"database": "@item.shade eq 'red'"}}
			]}
		]},
		"GetBooks": {"source": {"object": "get_books", "type": "stored-procedure", "parameters": {"year": 1999, "genre": "x"}}, "permissions": []},
		"Planet": {"source": "planets", "permissions": []}
	}`)
	books := sqlmeta.NewObject("Book", sqlmeta.TableRef{Name: "books"}, config.Table, []sqlmeta.Column{
		{Name: "id", Exposed: "id", Kind: odata.KindInt64},
		{Name: "title_col", Exposed: "title", Kind: odata.KindString},
	}, []string{"id"})
	proc := sqlmeta.NewObject("GetBooks", sqlmeta.TableRef{Name: "get_books"}, config.StoredProcedure, nil, nil)
	proc.Parameters = []sqlmeta.ParameterInfo{{Name: "Year", DataType: "int"}}

	issues := CheckSchema(cfg, objects{
		"Book":     books,
		"GetBooks": proc,
		"Planet":   sqlmeta.NewDocumentContainer("Planet", "planets"),
	})
	assert.Equal(t, []string{
		"The column gone in mappings for entity Book does not exist in books.",
		"The field color in the permissions of entity Book, role anonymous does not exist.",
		"The field shade referenced in the database policy of entity Book, role anonymous does not exist.",
		"The parameter genre configured for entity GetBooks is not a parameter of get_books.",
	}, messages(issues))

	err := New(nil).ValidateSchema(cfg, objects{})
	require.Error(t, err)
	assert.Equal(t, "Entity Book has no database object.", apierr.Classify(err).Message)
}
