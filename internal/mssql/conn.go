// Package mssql opens SQL Server data sources and classifies their errors.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	driver "github.com/microsoft/go-mssqldb"

	"datagate/internal/connstr"
)

type TokenFunc func(ctx context.Context) (string, error)

// Open builds a pool for connString. With a token function the connector
// authenticates through the access token instead of SQL credentials.
func Open(connString string, token TokenFunc) (*sql.DB, error) {
	var db *sql.DB
	if token != nil {
		conn, err := driver.NewConnectorWithAccessTokenProvider(connString, token)
		if err != nil {
			return nil, fmt.Errorf("sqlserver connection string: %w", err)
		}
		db = sql.OpenDB(conn)
	} else {
		conn, err := driver.NewConnector(connString)
		if err != nil {
			return nil, fmt.Errorf("sqlserver connection string: %w", err)
		}
		db = sql.OpenDB(conn)
	}
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

// HasCredentials reports whether the connection string authenticates on its
// own: SQL credentials, integrated security or an explicit authentication
// method.
func HasCredentials(connString string) bool {
	s := strings.TrimSpace(connString)
	if strings.HasPrefix(strings.ToLower(s), "sqlserver://") {
		return strings.Contains(s[len("sqlserver://"):], "@")
	}
	kv := connstr.Parse(s)
	if connstr.HasAny(kv, "password", "pwd", "authentication", "fedauth") {
		return true
	}
	for _, k := range []string{"integrated security", "trusted_connection"} {
		switch strings.ToLower(kv[k]) {
		case "true", "yes", "sspi":
			return true
		}
	}
	return false
}
