// Package dialect holds the per-backend SQL conventions, picked once from
// the data source's database type.
package dialect

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"datagate/internal/apierr"
	"datagate/internal/config"
)

type ParamStyle int

const (
	NamedAt   ParamStyle = iota // @param0
	Question                    // ?
	DollarNum                   // $1
)

// Dialect is a closed set of strategies, one per relational backend.
type Dialect struct {
	Type          config.DatabaseType
	DefaultSchema string
	Params        ParamStyle
	lq, rq        byte
}

var (
	MSSQL      = Dialect{Type: config.MSSQL, DefaultSchema: "dbo", Params: NamedAt, lq: '[', rq: ']'}
	MySQL      = Dialect{Type: config.MySQL, DefaultSchema: "", Params: Question, lq: '`', rq: '`'}
	PostgreSQL = Dialect{Type: config.PostgreSQL, DefaultSchema: "public", Params: DollarNum, lq: '"', rq: '"'}

	// Cosmos renders Cosmos DB NoSQL query predicates. It is not returned
	// by For since it has no relational statements.
	Cosmos = Dialect{Type: config.CosmosDB, Params: NamedAt}
)

// For returns the strategy for a relational database type.
func For(t config.DatabaseType) (Dialect, error) {
	switch t {
	case config.MSSQL:
		return MSSQL, nil
	case config.MySQL:
		return MySQL, nil
	case config.PostgreSQL:
		return PostgreSQL, nil
	}
	return Dialect{}, apierr.New(apierr.NotSupported, "Database type %q has no SQL dialect.", t)
}

// Quote escapes an identifier by doubling the closing quote character.
func (d Dialect) Quote(ident string) string {
	c := string(d.rq)
	return string(d.lq) + strings.ReplaceAll(ident, c, c+c) + c
}

// Column renders a column reference, qualified by alias when set.
func (d Dialect) Column(alias, name string) string {
	if d.Type == config.CosmosDB {
		if alias == "" {
			alias = "c"
		}
		b, _ := json.Marshal(name)
		return alias + "[" + string(b) + "]"
	}
	if alias == "" {
		return d.Quote(name)
	}
	return d.Quote(alias) + "." + d.Quote(name)
}

// QuoteTable renders schema.name, omitting an empty schema.
func (d Dialect) QuoteTable(schema, name string) string {
	if schema == "" {
		return d.Quote(name)
	}
	return d.Quote(schema) + "." + d.Quote(name)
}

// Placeholder renders the i-th (zero based) bind parameter.
func (d Dialect) Placeholder(i int) string {
	switch d.Params {
	case NamedAt:
		return "@param" + strconv.Itoa(i)
	case DollarNum:
		return "$" + strconv.Itoa(i+1)
	default:
		return "?"
	}
}

// Args converts ordered parameter values to driver arguments.
func (d Dialect) Args(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		if d.Params == NamedAt && d.Type != config.CosmosDB {
			out[i] = sql.Named("param"+strconv.Itoa(i), v)
		} else {
			out[i] = v
		}
	}
	return out
}

// LimitClause returns a prefix (after SELECT) and a suffix for a row limit.
func (d Dialect) LimitClause(n int) (prefix, suffix string) {
	if n <= 0 {
		return "", ""
	}
	if d.Type == config.MSSQL || d.Type == config.CosmosDB {
		return fmt.Sprintf("TOP %d ", n), ""
	}
	return "", fmt.Sprintf(" LIMIT %d", n)
}

// LikeEscape escapes LIKE wildcards in a literal pattern fragment.
func (d Dialect) LikeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	if d.Type == config.MSSQL {
		r = strings.NewReplacer(`[`, `[[]`, `%`, `[%]`, `_`, `[_]`)
	}
	return r.Replace(s)
}

// LikeEscapeClause is appended after a LIKE comparison.
func (d Dialect) LikeEscapeClause() string {
	if d.Type == config.MSSQL {
		return ""
	}
	return ` ESCAPE '\'`
}

// Concat joins SQL expressions as a string concatenation.
func (d Dialect) Concat(parts ...string) string {
	switch d.Type {
	case config.MSSQL:
		return "(" + strings.Join(parts, " + ") + ")"
	case config.MySQL:
		return "CONCAT(" + strings.Join(parts, ", ") + ")"
	default:
		return "(" + strings.Join(parts, " || ") + ")"
	}
}
