// Package pg opens PostgreSQL data sources through pgx and classifies
// their errors.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"datagate/internal/connstr"
)

// TokenFunc supplies an access token used as the connection password.
type TokenFunc func(ctx context.Context) (string, error)

// Open builds a pool for connString. When token is non-nil it is asked for
// a fresh password before every physical connection.
func Open(connString string, token TokenFunc) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(normalize(connString))
	if err != nil {
		return nil, fmt.Errorf("postgresql connection string: %w", err)
	}
	var opts []stdlib.OptionOpenDB
	if token != nil {
		opts = append(opts, stdlib.OptionBeforeConnect(func(ctx context.Context, cc *pgx.ConnConfig) error {
			t, err := token(ctx)
			if err != nil {
				return err
			}
			if t != "" {
				cc.Password = t
			}
			return nil
		}))
	}
	db := stdlib.OpenDB(*cfg, opts...)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// adoKeys maps ADO-style keys onto libpq keywords.
var adoKeys = map[string]string{
	"server":   "host",
	"host":     "host",
	"port":     "port",
	"database": "dbname",
	"user id":  "user",
	"username": "user",
	"user":     "user",
	"uid":      "user",
	"password": "password",
	"pwd":      "password",
	"ssl mode": "sslmode",
	"sslmode":  "sslmode",
}

var quoteValue = strings.NewReplacer(`\`, `\\`, "'", `\'`)

// normalize turns "Host=..;Database=.." strings into libpq keyword/value
// form; URLs and keyword/value strings pass through.
func normalize(s string) string {
	if !connstr.IsKeyValue(s) {
		return s
	}
	var parts []string
	for k, v := range connstr.Parse(s) {
		if kw, ok := adoKeys[k]; ok {
			if kw == "sslmode" {
				v = strings.ToLower(v)
			}
			parts = append(parts, kw+"='"+quoteValue.Replace(v)+"'")
		}
	}
	return strings.Join(parts, " ")
}

// HasCredentials reports whether connString carries a password of its own.
// Without one the data source authenticates with an access token.
func HasCredentials(connString string) bool {
	s := strings.TrimSpace(connString)
	if strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://") {
		u, err := url.Parse(s)
		if err != nil {
			return false
		}
		if _, ok := u.User.Password(); ok {
			return true
		}
		return u.Query().Get("password") != ""
	}
	if connstr.IsKeyValue(s) {
		return connstr.HasAny(connstr.Parse(s), "password", "pwd")
	}
	for _, f := range strings.Fields(s) {
		k, v, ok := strings.Cut(f, "=")
		if ok && strings.EqualFold(k, "password") && strings.Trim(v, "'") != "" {
			return true
		}
	}
	return false
}
