package odata

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datagate/internal/apierr"
	"datagate/internal/dialect"
)

var bookColumns = map[string]Column{
	"id":        {Backing: "id", Kind: KindInt32},
	"title":     {Backing: "title", Kind: KindString},
	"price":     {Backing: "price", Kind: KindDecimal},
	"published": {Backing: "is_published", Kind: KindBoolean},
	"owner":     {Backing: "owner_id", Kind: KindGuid},
	"released":  {Backing: "released_on", Kind: KindDate},
	"location":  {Backing: "location", Kind: KindGeography},
}

func newTranslator(d dialect.Dialect) *Translator {
	return &Translator{Dialect: d, Params: dialect.NewParams(d), Columns: bookColumns, EntityName: "Book"}
}

func translate(t *testing.T, tr *Translator, src string) (string, error) {
	t.Helper()
	n, err := ParseFilter(src)
	require.NoError(t, err)
	return tr.Visit(n)
}

func TestNullEquality(t *testing.T) {
	tr := newTranslator(dialect.MSSQL)

	got, err := translate(t, tr, "id eq null")
	require.NoError(t, err)
	assert.Equal(t, "([id] IS NULL)", got)

	got, err = translate(t, tr, "id ne null")
	require.NoError(t, err)
	assert.Equal(t, "([id] IS NOT NULL)", got)

	got, err = translate(t, tr, "null eq id")
	require.NoError(t, err)
	assert.Equal(t, "([id] IS NULL)", got)
	assert.Zero(t, tr.Params.Len())
}

func TestOrderingAgainstNullRendersLiteralNull(t *testing.T) {
	tr := newTranslator(dialect.MSSQL)
	got, err := translate(t, tr, "id gt null")
	require.NoError(t, err)
	assert.Equal(t, "([id] > NULL)", got)

	got, err = translate(t, tr, "null lt id")
	require.NoError(t, err)
	assert.Equal(t, "(NULL < [id])", got)
}

func TestLogicalOperatorWithNullIsNotSupported(t *testing.T) {
	tr := newTranslator(dialect.MSSQL)
	_, err := translate(t, tr, "id eq 1 and null")
	require.Error(t, err)
	assert.True(t, apierr.IsSubStatus(err, apierr.NotSupported))
}

func TestComparisonWithParameters(t *testing.T) {
	tr := newTranslator(dialect.PostgreSQL)
	got, err := translate(t, tr, "(id gt 5 and title eq 'It''s') or not published eq false")
	require.NoError(t, err)
	assert.Equal(t, `((("id" > $1) AND ("title" = $2)) OR ((NOT "is_published") = $3))`, got)
	assert.Equal(t, []any{int64(5), "It's", false}, tr.Params.Values())
}

func TestDialectPlaceholders(t *testing.T) {
	tr := newTranslator(dialect.MySQL)
	got, err := translate(t, tr, "price le 10")
	require.NoError(t, err)
	assert.Equal(t, "(`price` <= ?)", got)
	assert.Equal(t, []any{float64(10)}, tr.Params.Values())

	tr = newTranslator(dialect.MSSQL)
	got, err = translate(t, tr, "released ge 2024-01-31")
	require.NoError(t, err)
	assert.Equal(t, "([released_on] >= @param0)", got)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), tr.Params.Values()[0])
}

func TestGeographyConstantIsNotSupported(t *testing.T) {
	tr := newTranslator(dialect.MSSQL)
	_, err := translate(t, tr, "location eq geography'POINT(1 2)'")
	require.Error(t, err)
	assert.True(t, apierr.IsSubStatus(err, apierr.NotSupported))
}

func TestUnparsableConstantIsArgumentError(t *testing.T) {
	tr := newTranslator(dialect.MSSQL)
	for _, src := range []string{"owner eq guid'not-a-guid'", "released eq 2024-13-45"} {
		_, err := translate(t, tr, src)
		var ae *ArgumentError
		assert.True(t, errors.As(err, &ae), src)
	}
}

func TestNegateIsArgumentError(t *testing.T) {
	tr := newTranslator(dialect.MSSQL)
	_, err := translate(t, tr, "-id eq 5")
	var ae *ArgumentError
	require.True(t, errors.As(err, &ae))

	_, err = tr.Filter("-id eq 5")
	assert.True(t, apierr.IsSubStatus(err, apierr.BadRequest))
}

func TestFieldAgainstBooleanExpressionIsDomainError(t *testing.T) {
	tr := newTranslator(dialect.MSSQL)
	_, err := translate(t, tr, "published eq (id eq 1)")
	require.Error(t, err)

	var ae *ArgumentError
	assert.False(t, errors.As(err, &ae), "must be distinct from an argument error")
	assert.True(t, apierr.IsSubStatus(err, apierr.BadRequest))
}

func TestIncompatibleTypesOutsidePolicyMode(t *testing.T) {
	tr := newTranslator(dialect.MSSQL)
	_, err := translate(t, tr, "id eq '5'")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incompatible types")
}

func TestPolicyModeCoercion(t *testing.T) {
	cases := []struct {
		src  string
		want any
	}{
		{"'42' eq id", int64(42)},
		{"id eq '42'", int64(42)},
		{"owner eq '6F9619FF-8B86-D011-B42D-00CF4FC964FF'", "6f9619ff-8b86-d011-b42d-00cf4fc964ff"},
		{"'true' eq published", true},
		{"published eq 'False'", false},
		{"title eq 7", "7"},
		{"true eq title", "true"},
		{"price eq '9.5'", 9.5},
	}
	for _, tc := range cases {
		tr := newTranslator(dialect.MSSQL)
		tr.PolicyMode = true
		_, err := translate(t, tr, tc.src)
		require.NoError(t, err, tc.src)
		assert.Equal(t, []any{tc.want}, tr.Params.Values(), tc.src)
	}
}

func TestPolicyModeIncompatibleCoercion(t *testing.T) {
	for _, src := range []string{
		"owner eq 'not-a-guid'",
		"published eq 1",
		"id eq 'abc'",
		"'yes' eq published",
	} {
		tr := newTranslator(dialect.MSSQL)
		tr.PolicyMode = true
		_, err := translate(t, tr, src)
		require.Error(t, err, src)
		assert.True(t, apierr.IsSubStatus(err, apierr.BadRequest), src)
		assert.Contains(t, err.Error(), "incompatible types", src)
	}
}

func TestFunctions(t *testing.T) {
	tr := newTranslator(dialect.PostgreSQL)
	got, err := translate(t, tr, "contains(title, '50%') and startswith(title,'A')")
	require.NoError(t, err)
	assert.Equal(t, `(("title" LIKE $1 ESCAPE '\') AND ("title" LIKE $2 ESCAPE '\'))`, got)
	assert.Equal(t, []any{`%50\%%`, "A%"}, tr.Params.Values())

	_, err = translate(t, tr, "substringof('a', title)")
	assert.True(t, apierr.IsSubStatus(err, apierr.NotSupported))
}

func TestUnknownFieldIsBadRequest(t *testing.T) {
	tr := newTranslator(dialect.MSSQL)
	_, err := translate(t, tr, "isbn eq '1'")
	require.Error(t, err)
	assert.True(t, apierr.IsSubStatus(err, apierr.BadRequest))
}

func TestTableAlias(t *testing.T) {
	tr := newTranslator(dialect.MSSQL)
	tr.TableAlias = "t0"
	got, err := translate(t, tr, "title ne 'x'")
	require.NoError(t, err)
	assert.Equal(t, "([t0].[title] != @param0)", got)
}
