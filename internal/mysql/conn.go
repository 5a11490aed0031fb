// Package mysql opens MySQL data sources and classifies their errors.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"datagate/internal/connstr"
)

type TokenFunc func(ctx context.Context) (string, error)

// Open builds a pool for connString, which may be a driver DSN or an
// ADO-style "Server=..;Database=..;User ID=.." string. A non-nil token
// replaces the password on every new connection; tokens travel as
// cleartext passwords, so TLS is required by the server side.
func Open(connString string, token TokenFunc) (*sql.DB, error) {
	cfg, err := ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	if token != nil {
		cfg.AllowCleartextPasswords = true
		if err := cfg.Apply(driver.BeforeConnect(func(ctx context.Context, c *driver.Config) error {
			t, err := token(ctx)
			if err != nil {
				return err
			}
			if t != "" {
				c.Passwd = t
			}
			return nil
		})); err != nil {
			return nil, err
		}
	}
	conn, err := driver.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(conn)
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

// ParseConfig accepts both connection string forms.
func ParseConfig(connString string) (*driver.Config, error) {
	if !connstr.IsKeyValue(connString) {
		cfg, err := driver.ParseDSN(connString)
		if err != nil {
			return nil, fmt.Errorf("mysql connection string: %w", err)
		}
		cfg.ParseTime = true
		cfg.ClientFoundRows = true
		return cfg, nil
	}
	kv := connstr.Parse(connString)
	cfg := driver.NewConfig()
	cfg.Net = "tcp"
	host := connstr.Get(kv, "server", "host", "data source")
	if host == "" {
		return nil, fmt.Errorf("mysql connection string: missing server")
	}
	port := connstr.Get(kv, "port")
	if port == "" {
		port = "3306"
	}
	cfg.Addr = net.JoinHostPort(host, port)
	cfg.DBName = connstr.Get(kv, "database", "initial catalog")
	cfg.User = connstr.Get(kv, "user id", "uid", "user", "username")
	cfg.Passwd = connstr.Get(kv, "password", "pwd")
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	if mode := strings.ToLower(connstr.Get(kv, "sslmode", "ssl mode")); mode != "" && mode != "none" && mode != "disabled" {
		cfg.TLSConfig = "true"
	}
	return cfg, nil
}

// HasCredentials reports whether the connection string names a password.
func HasCredentials(connString string) bool {
	cfg, err := ParseConfig(connString)
	return err == nil && cfg.Passwd != ""
}
