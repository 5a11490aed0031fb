package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"datagate/internal/config"
)

func TestPlural(t *testing.T) {
	cases := map[string]string{
		"book":     "books",
		"Category": "Categories",
		"day":      "days",
		"box":      "boxes",
		"address":  "addresses",
		"branch":   "branches",
		"series":   "series",
		"Person":   "People",
		"child":    "children",
	}
	for in, want := range cases {
		assert.Equal(t, want, Plural(in), in)
	}
}

func TestIsValidGraphQLName(t *testing.T) {
	assert.True(t, IsValidGraphQLName("Book"))
	assert.True(t, IsValidGraphQLName("_book_2"))
	assert.False(t, IsValidGraphQLName("2book"))
	assert.False(t, IsValidGraphQLName("book-shelf"))
	assert.False(t, IsValidGraphQLName("__Type"))
	assert.False(t, IsValidGraphQLName(""))
}

func TestRootFieldsForTable(t *testing.T) {
	e := config.Entity{Source: config.EntitySource{Object: "books", Type: config.Table}, GraphQL: config.EntityGraphQL{Enabled: true, Singular: "book"}}
	var names []string
	for _, f := range RootFields("Book", e) {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"books", "book_by_pk", "createBook", "createBooks", "updateBook", "deleteBook"}, names)
}

func TestRootFieldsWhenPluralMatchesSingular(t *testing.T) {
	e := config.Entity{Source: config.EntitySource{Object: "series", Type: config.Table}, GraphQL: config.EntityGraphQL{Enabled: true}}
	kinds := map[string]OperationKind{}
	for _, f := range RootFields("Series", e) {
		if f.IsMutation {
			_, dup := kinds[f.Name]
			assert.False(t, dup, f.Name)
			kinds[f.Name] = f.Kind
		}
	}
	assert.Equal(t, CreateMutation, kinds["createSeries"])
	assert.Equal(t, CreateMultiple, kinds["createSeries_Multiple"])

	e.GraphQL.Singular, e.GraphQL.Plural = "Item", "item"
	assert.Equal(t, "createItem_Multiple", RootFields("Stock", e)[3].Name)
}

func TestRootFieldsForStoredProcedure(t *testing.T) {
	e := config.Entity{
		Source:  config.EntitySource{Object: "get_books", Type: config.StoredProcedure},
		GraphQL: config.EntityGraphQL{Enabled: true, Operation: "query"},
	}
	fields := RootFields("GetBooks", e)
	assert.Len(t, fields, 1)
	assert.Equal(t, "executeGetBooks", fields[0].Name)
	assert.False(t, fields[0].IsMutation)
}

func TestDisabledEntityHasNoFields(t *testing.T) {
	assert.Empty(t, RootFields("Book", config.Entity{}))
}

func TestRestPath(t *testing.T) {
	assert.Equal(t, "Book", RestPath("Book", config.Entity{}))
	assert.Equal(t, "books", RestPath("Book", config.Entity{Rest: config.EntityRest{Path: "/books"}}))
}
