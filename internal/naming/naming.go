// Package naming derives the GraphQL and REST names an entity is exposed
// under.
package naming

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"

	"datagate/internal/config"
)

var graphQLName = regexp.MustCompile(`^[_A-Za-z][_0-9A-Za-z]*$`)

// IsValidGraphQLName reports whether s is a legal GraphQL name. Names that
// start with "__" are reserved for introspection.
func IsValidGraphQLName(s string) bool {
	return graphQLName.MatchString(s) && !strings.HasPrefix(s, "__")
}

// Plural inflects an English noun. Uncountable nouns come back unchanged.
func Plural(s string) string {
	return inflection.Plural(s)
}

// Pascal upper-cases the first rune.
func Pascal(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// Camel lower-cases the first rune.
func Camel(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// Singular is the GraphQL type name of an entity.
func Singular(entityName string, e config.Entity) string {
	if e.GraphQL.Singular != "" {
		return e.GraphQL.Singular
	}
	return entityName
}

// PluralName is the configured plural or an inflection of the singular.
func PluralName(entityName string, e config.Entity) string {
	if e.GraphQL.Plural != "" {
		return e.GraphQL.Plural
	}
	return Plural(Singular(entityName, e))
}

// OperationKind classifies a generated root field.
type OperationKind string

const (
	ListQuery      OperationKind = "list"
	PKQuery        OperationKind = "by_pk"
	CreateMutation OperationKind = "create"
	CreateMultiple OperationKind = "create_multiple"
	UpdateMutation OperationKind = "update"
	DeleteMutation OperationKind = "delete"
	ExecuteField   OperationKind = "execute"
)

// RootField is a generated query or mutation field.
type RootField struct {
	Name       string
	Entity     string
	Kind       OperationKind
	IsMutation bool
}

// RootFields lists every root field an entity generates. Stored procedures
// generate a single execute field, a query or a mutation per its operation.
func RootFields(entityName string, e config.Entity) []RootField {
	if !e.GraphQL.Enabled {
		return nil
	}
	singular := Singular(entityName, e)
	plural := PluralName(entityName, e)
	if e.IsStoredProcedure() {
		return []RootField{{
			Name:       "execute" + Pascal(singular),
			Entity:     entityName,
			Kind:       ExecuteField,
			IsMutation: e.GraphQL.Operation != "query",
		}}
	}
	out := []RootField{
		{Name: Camel(plural), Entity: entityName, Kind: ListQuery},
		{Name: Camel(singular) + "_by_pk", Entity: entityName, Kind: PKQuery},
	}
	if e.Source.Type == config.View && len(e.Source.KeyFields) == 0 {
		return out
	}
	return append(out,
		RootField{Name: "create" + Pascal(singular), Entity: entityName, Kind: CreateMutation, IsMutation: true},
		RootField{Name: CreateMultipleName(singular, plural), Entity: entityName, Kind: CreateMultiple, IsMutation: true},
		RootField{Name: "update" + Pascal(singular), Entity: entityName, Kind: UpdateMutation, IsMutation: true},
		RootField{Name: "delete" + Pascal(singular), Entity: entityName, Kind: DeleteMutation, IsMutation: true},
	)
}

// CreateMultipleName names the multiple-create mutation. When the plural
// reads the same as the singular it takes a _Multiple suffix so it does
// not shadow the single create.
func CreateMultipleName(singular, plural string) string {
	if Pascal(plural) == Pascal(singular) {
		return "create" + Pascal(plural) + "_Multiple"
	}
	return "create" + Pascal(plural)
}

// RestPath is the path segment an entity is served under, without slashes.
func RestPath(entityName string, e config.Entity) string {
	p := strings.Trim(e.Rest.Path, "/")
	if p == "" {
		return entityName
	}
	return p
}
