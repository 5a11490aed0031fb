// Package executor runs parameterized SQL against named data sources with
// per-source connection pools, access tokens and transient-fault retry.
package executor

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"datagate/internal/apierr"
	"datagate/internal/config"
	"datagate/internal/dialect"
	"datagate/internal/metrics"
	"datagate/internal/mssql"
	"datagate/internal/mysql"
	"datagate/internal/pg"
	"datagate/internal/sqlmeta"
)

// TokenFunc supplies an access token for a new physical connection.
type TokenFunc func(ctx context.Context) (string, error)

// Driver bundles what the executor needs from one relational backend.
type Driver struct {
	Dialect        dialect.Dialect
	Scope          string
	Open           func(connString string, token TokenFunc) (*sql.DB, error)
	HasCredentials func(connString string) bool
	IsTransient    func(error) bool
	IsBadInput     func(error) bool
	SchemaReader   func(*sql.DB) sqlmeta.SchemaReader
}

// Drivers is the closed set of relational backends.
var Drivers = map[config.DatabaseType]Driver{
	config.MSSQL: {
		Dialect: dialect.MSSQL,
		Scope:   SQLServerScope,
		Open: func(cs string, tok TokenFunc) (*sql.DB, error) {
			return mssql.Open(cs, mssql.TokenFunc(tok))
		},
		HasCredentials: mssql.HasCredentials,
		IsTransient:    mssql.IsTransient,
		IsBadInput:     mssql.IsBadInput,
		SchemaReader:   mssql.NewSchemaReader,
	},
	config.MySQL: {
		Dialect: dialect.MySQL,
		Scope:   OSSRDBMSScope,
		Open: func(cs string, tok TokenFunc) (*sql.DB, error) {
			return mysql.Open(cs, mysql.TokenFunc(tok))
		},
		HasCredentials: mysql.HasCredentials,
		IsTransient:    mysql.IsTransient,
		IsBadInput:     mysql.IsBadInput,
		SchemaReader:   mysql.NewSchemaReader,
	},
	config.PostgreSQL: {
		Dialect: dialect.PostgreSQL,
		Scope:   OSSRDBMSScope,
		Open: func(cs string, tok TokenFunc) (*sql.DB, error) {
			return pg.Open(cs, pg.TokenFunc(tok))
		},
		HasCredentials: pg.HasCredentials,
		IsTransient:    pg.IsTransient,
		IsBadInput:     pg.IsBadInput,
		SchemaReader:   pg.NewSchemaReader,
	},
}

// ConfigSource yields the current runtime config snapshot.
type ConfigSource interface {
	GetConfig() (*config.RuntimeConfig, error)
}

// Statement is one parameterized command.
type Statement struct {
	SQL  string
	Args []any
}

type Options struct {
	Config  ConfigSource
	Tokens  *Tokens
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Drivers overrides the backend table, mostly in tests.
	Drivers map[config.DatabaseType]Driver
}

type pool struct {
	db     *sql.DB
	driver Driver
	source config.DataSource
}

// Executor owns one pool per data source name.
type Executor struct {
	cfg     ConfigSource
	tokens  *Tokens
	logger  *slog.Logger
	metrics *metrics.Metrics
	drivers map[config.DatabaseType]Driver

	mu    sync.RWMutex
	pools map[string]*pool
}

func New(opts Options) *Executor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tokens == nil {
		opts.Tokens = NewTokens()
	}
	if opts.Drivers == nil {
		opts.Drivers = Drivers
	}
	return &Executor{
		cfg:     opts.Config,
		tokens:  opts.Tokens,
		logger:  opts.Logger.With("component", "executor"),
		metrics: opts.Metrics,
		drivers: opts.Drivers,
		pools:   map[string]*pool{},
	}
}

// pool returns the cached pool of dataSource, opening it on first use.
func (e *Executor) pool(dataSource string) (*pool, error) {
	e.mu.RLock()
	p, ok := e.pools[dataSource]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	cfg, err := e.cfg.GetConfig()
	if err != nil {
		return nil, err
	}
	ds, ok := cfg.DataSources[dataSource]
	if !ok {
		return nil, apierr.New(apierr.DataSourceNotFound, "Data source %s is not configured.", dataSource)
	}
	drv, ok := e.drivers[ds.DatabaseType]
	if !ok {
		return nil, apierr.New(apierr.NotSupported, "Database type %s is not a relational data source.", ds.DatabaseType)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.pools[dataSource]; ok {
		return p, nil
	}
	var tok TokenFunc
	if !drv.HasCredentials(ds.ConnectionString) {
		tok = e.tokenFunc(dataSource, ds.AccessToken, drv.Scope)
	}
	db, err := drv.Open(ds.ConnectionString, tok)
	if err != nil {
		return nil, apierr.Wrap(err, apierr.ErrorInInitialization, "Could not connect to data source %s.", dataSource)
	}
	p = &pool{db: db, driver: drv, source: ds}
	e.pools[dataSource] = p
	e.logger.Info("data source connected", "data_source", dataSource, "type", ds.DatabaseType, "access_token", tok != nil)
	return p, nil
}

// tokenFunc falls back to the connection string alone when no token can be
// acquired; the database then reports the login failure.
func (e *Executor) tokenFunc(dataSource, explicit, scope string) TokenFunc {
	return func(ctx context.Context) (string, error) {
		t, err := e.tokens.Get(ctx, dataSource, explicit, scope)
		if err != nil {
			e.logger.Warn("access token unavailable", "data_source", dataSource, "error", err)
			return "", nil
		}
		return t, nil
	}
}

// Dialect returns the SQL conventions of dataSource without connecting.
func (e *Executor) Dialect(dataSource string) (dialect.Dialect, error) {
	cfg, err := e.cfg.GetConfig()
	if err != nil {
		return dialect.Dialect{}, err
	}
	ds, ok := cfg.DataSources[dataSource]
	if !ok {
		return dialect.Dialect{}, apierr.New(apierr.DataSourceNotFound, "Data source %s is not configured.", dataSource)
	}
	return dialect.For(ds.DatabaseType)
}

func (e *Executor) developerMode() bool {
	cfg, err := e.cfg.GetConfig()
	return err == nil && cfg.IsDevelopmentMode()
}

func (e *Executor) policy(dataSource string, p *pool) RetryPolicy {
	return RetryPolicy{
		MaxRetries:  MaxRetries,
		Delay:       time.Duration(p.source.Options.RetryDelayMs) * time.Millisecond,
		IsTransient: p.driver.IsTransient,
		OnRetry: func(attempt int, err error) {
			e.metrics.DBRetry(dataSource)
			logRetry(e.logger, dataSource, MaxRetries)(attempt, err)
		},
	}
}

// run executes fn under the retry policy of dataSource and classifies the
// final error.
func (e *Executor) run(ctx context.Context, dataSource string, fn func(ctx context.Context, db *sql.DB) error) error {
	p, err := e.pool(dataSource)
	if err != nil {
		return err
	}
	exhausted, err := e.policy(dataSource, p).Do(ctx, func(ctx context.Context) error {
		return fn(ctx, p.db)
	})
	e.metrics.DBQuery(dataSource, err)
	if err == nil {
		return nil
	}
	if exhausted {
		e.logger.Error("database retries exhausted", "data_source", dataSource, "attempts", MaxRetries+1, "error", err)
	}
	parser := ExceptionParser{DeveloperMode: e.developerMode(), IsBadInput: p.driver.IsBadInput}
	return parser.Parse(err)
}

// Query runs stmt and hands the result set to scan. scan may run more than
// once when a transient fault forces a retry.
func (e *Executor) Query(ctx context.Context, dataSource string, stmt Statement, scan func(*sql.Rows) error) error {
	return e.run(ctx, dataSource, func(ctx context.Context, db *sql.DB) error {
		rows, err := db.QueryContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		if err := scan(rows); err != nil {
			return err
		}
		return rows.Err()
	})
}

// QueryRows runs stmt and returns every row as a column map.
func (e *Executor) QueryRows(ctx context.Context, dataSource string, stmt Statement) ([]map[string]any, error) {
	var out []map[string]any
	err := e.Query(ctx, dataSource, stmt, func(rows *sql.Rows) error {
		var err error
		out, err = ReadRows(rows)
		return err
	})
	return out, err
}

// Exec runs a command and returns the affected row count.
func (e *Executor) Exec(ctx context.Context, dataSource string, stmt Statement) (int64, error) {
	var n int64
	err := e.run(ctx, dataSource, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// InTx runs fn in a transaction that commits when fn returns nil. The whole
// transaction is retried on transient faults.
func (e *Executor) InTx(ctx context.Context, dataSource string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	return e.run(ctx, dataSource, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// Session runs statements on the connection of one transaction.
type Session interface {
	Query(ctx context.Context, stmt Statement) ([]map[string]any, error)
	Exec(ctx context.Context, stmt Statement) (int64, error)
}

type txSession struct{ tx *sql.Tx }

func (s txSession) Query(ctx context.Context, stmt Statement) ([]map[string]any, error) {
	rows, err := s.tx.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return ReadRows(rows)
}

func (s txSession) Exec(ctx context.Context, stmt Statement) (int64, error) {
	res, err := s.tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InSession is InTx for callers that only need statements.
func (e *Executor) InSession(ctx context.Context, dataSource string, fn func(ctx context.Context, s Session) error) error {
	return e.InTx(ctx, dataSource, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, txSession{tx: tx})
	})
}

// SchemaReader introspects dataSource through its pool.
func (e *Executor) SchemaReader(dataSource string) (sqlmeta.SchemaReader, error) {
	p, err := e.pool(dataSource)
	if err != nil {
		return nil, err
	}
	return p.driver.SchemaReader(p.db), nil
}

// Close disposes every pool and its cached token.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var first error
	for name, p := range e.pools {
		if err := p.db.Close(); err != nil && first == nil {
			first = err
		}
		e.tokens.Forget(name)
		delete(e.pools, name)
	}
	return first
}
