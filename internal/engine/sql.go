package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"datagate/internal/apierr"
	"datagate/internal/cache"
	"datagate/internal/config"
	"datagate/internal/dialect"
	"datagate/internal/executor"
	"datagate/internal/mssql"
	"datagate/internal/request"
	"datagate/internal/sqlbuilder"
	"datagate/internal/sqlmeta"
)

// Runner is the part of the executor the SQL engine needs.
type Runner interface {
	Dialect(dataSource string) (dialect.Dialect, error)
	QueryRows(ctx context.Context, dataSource string, stmt executor.Statement) ([]map[string]any, error)
	InSession(ctx context.Context, dataSource string, fn func(ctx context.Context, s executor.Session) error) error
}

// SQLEngine serves MSSQL, MySQL and PostgreSQL entities.
type SQLEngine struct {
	runner Runner
	cfg    executor.ConfigSource
	cache  *cache.Cache
	logger *slog.Logger
}

func NewSQLEngine(runner Runner, cfg executor.ConfigSource, c *cache.Cache, logger *slog.Logger) *SQLEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLEngine{runner: runner, cfg: cfg, cache: c, logger: logger.With("component", "sql-engine")}
}

type target struct {
	ds      string
	source  config.DataSource
	entity  config.Entity
	builder sqlbuilder.Builder
}

func (e *SQLEngine) target(entity string) (target, error) {
	cfg, err := e.cfg.GetConfig()
	if err != nil {
		return target{}, err
	}
	name, ds, ok := cfg.DataSourceFor(entity)
	if !ok {
		return target{}, apierr.New(apierr.DataSourceNotFound, "No data source is configured for entity %s.", entity)
	}
	d, err := e.runner.Dialect(name)
	if err != nil {
		return target{}, err
	}
	return target{ds: name, source: ds, entity: cfg.Entities[entity], builder: sqlbuilder.New(d)}, nil
}

// sessionContext carries the caller's claims to MSSQL row-level security.
func (t target) sessionContext(claims map[string]any) (executor.Statement, bool) {
	if t.builder.D.Type != config.MSSQL || !t.source.Options.SetSessionContext || len(claims) == 0 {
		return executor.Statement{}, false
	}
	p := dialect.NewParams(t.builder.D)
	sql := mssql.SessionContext(claims, p)
	return executor.Statement{SQL: sql, Args: p.Args()}, sql != ""
}

// session runs fn in a transaction, after setting the session context
// when the data source asks for it.
func (e *SQLEngine) session(ctx context.Context, t target, claims map[string]any, fn func(ctx context.Context, s executor.Session) error) error {
	return e.runner.InSession(ctx, t.ds, func(ctx context.Context, s executor.Session) error {
		if stmt, ok := t.sessionContext(claims); ok {
			if _, err := s.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return fn(ctx, s)
	})
}

func (e *SQLEngine) Find(ctx context.Context, rc *request.FindRequestContext) (*Page, error) {
	t, err := e.target(rc.Entity)
	if err != nil {
		return nil, err
	}
	requested := rc.Fields
	query := *rc
	if rc.IsMany && len(requested) > 0 {
		query.Fields = withCursorFields(requested, sqlbuilder.CursorFields(rc.Object, rc.OrderBy))
	}
	stmt, err := t.builder.Select(&query)
	if err != nil {
		return nil, err
	}

	_, withSession := t.sessionContext(rc.Claims)
	cached := !withSession && e.cache.Enabled(t.entity.Cache)
	var key string
	if cached {
		key = cache.Key(t.ds, stmt.SQL, stmt.Args)
		if b, ok := e.cache.Get(ctx, key); ok {
			var rows []map[string]any
			if err := json.Unmarshal(b, &rows); err == nil {
				return e.page(rows, &query, requested), nil
			}
		}
	}

	var rows []map[string]any
	if withSession {
		err = e.session(ctx, t, rc.Claims, func(ctx context.Context, s executor.Session) error {
			rows, err = s.Query(ctx, stmt)
			return err
		})
	} else {
		rows, err = e.runner.QueryRows(ctx, t.ds, stmt)
	}
	if err != nil {
		return nil, err
	}
	if cached {
		if b, err := json.Marshal(rows); err == nil {
			e.cache.Set(ctx, key, b, e.cache.TTL(t.entity.Cache))
		}
	}
	return e.page(rows, &query, requested), nil
}

func (e *SQLEngine) page(rows []map[string]any, rc *request.FindRequestContext, requested []string) *Page {
	return paginate(rows, rc, func(last map[string]any) request.Cursor {
		return sqlbuilder.NextCursor(rc.Object, rc.OrderBy, last)
	}, requested)
}

func (e *SQLEngine) Execute(ctx context.Context, rc *request.StoredProcedureRequestContext) ([]map[string]any, error) {
	t, err := e.target(rc.Entity)
	if err != nil {
		return nil, err
	}
	stmt := t.builder.Execute(rc.Object, rc.Params)
	var rows []map[string]any
	err = e.session(ctx, t, rc.Claims, func(ctx context.Context, s executor.Session) error {
		rows, err = s.Query(ctx, stmt)
		return err
	})
	return rows, err
}

// insert writes body and returns the primary key of the new row.
func (e *SQLEngine) insert(ctx context.Context, s executor.Session, b sqlbuilder.Builder, obj *sqlmeta.DatabaseObject, body map[string]any) (map[string]any, error) {
	pk := obj.PrimaryKeyFields()
	stmt, err := b.Insert(obj, body, pk)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if b.SupportsReturning() {
		rows, err = s.Query(ctx, stmt)
	} else {
		if _, err = s.Exec(ctx, stmt); err != nil {
			return nil, err
		}
		var reread executor.Statement
		if reread, err = b.LastInsertKey(obj, body, pk); err != nil {
			return nil, err
		}
		rows, err = s.Query(ctx, reread)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apierr.New(apierr.DatabaseOperationFailed, "The inserted row could not be read back.")
	}
	return rows[0], nil
}

// readBack selects the row at pk restricted by policy; nil means the row
// is not visible under it.
func (e *SQLEngine) readBack(ctx context.Context, s executor.Session, b sqlbuilder.Builder, rc request.Context, pk map[string]any, fields []string, policy string) (map[string]any, error) {
	find := &request.FindRequestContext{Context: rc, Fields: fields}
	find.PrimaryKey = pk
	find.DBPolicy = policy
	stmt, err := b.Select(find)
	if err != nil {
		return nil, err
	}
	rows, err := s.Query(ctx, stmt)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (e *SQLEngine) Insert(ctx context.Context, rc *request.InsertRequestContext) (map[string]any, error) {
	t, err := e.target(rc.Entity)
	if err != nil {
		return nil, err
	}
	var row map[string]any
	err = e.session(ctx, t, rc.Claims, func(ctx context.Context, s executor.Session) error {
		pk, err := e.insert(ctx, s, t.builder, rc.Object, rc.Body)
		if err != nil {
			return err
		}
		if row, err = e.readBack(ctx, s, t.builder, rc.Context, pk, rc.Fields, rc.DBPolicy); err != nil {
			return err
		}
		if row == nil {
			return apierr.New(apierr.DatabasePolicyFailure, "Could not insert row with given values.")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (e *SQLEngine) Upsert(ctx context.Context, rc *request.UpsertRequestContext) (map[string]any, bool, error) {
	t, err := e.target(rc.Entity)
	if err != nil {
		return nil, false, err
	}
	obj := rc.Object
	var (
		row     map[string]any
		created bool
	)
	err = e.session(ctx, t, rc.Claims, func(ctx context.Context, s executor.Session) error {
		updated, err := e.update(ctx, s, t.builder, rc)
		if err != nil {
			return err
		}
		if updated {
			row, err = e.readBack(ctx, s, t.builder, rc.Context, rc.PrimaryKey, rc.Fields, "")
			return err
		}
		found, err := s.Query(ctx, t.builder.Exists(obj, rc.PrimaryKey))
		if err != nil {
			return err
		}
		if len(found) > 0 {
			return apierr.New(apierr.DatabasePolicyFailure, "Could not upsert row with given values.")
		}
		if rc.UpdateOnly {
			return apierr.New(apierr.ItemNotFound, "Could not find %s with primary key %s to update.", rc.Entity, keyString(obj, rc.PrimaryKey))
		}
		for _, f := range obj.PrimaryKeyFields() {
			if c, _ := obj.Field(f); c.AutoGenerated {
				return apierr.New(apierr.ItemNotFound,
					"Cannot perform INSERT and could not find %s with primary key %s to perform UPDATE on.", rc.Entity, keyString(obj, rc.PrimaryKey))
			}
		}
		body := make(map[string]any, len(rc.Body)+len(rc.PrimaryKey))
		for k, v := range rc.Body {
			body[k] = v
		}
		for k, v := range rc.PrimaryKey {
			body[k] = v
		}
		if err := request.ValidateInsertBody(obj, body, false); err != nil {
			return err
		}
		pk, err := e.insert(ctx, s, t.builder, obj, body)
		if err != nil {
			return err
		}
		if row, err = e.readBack(ctx, s, t.builder, rc.Context, pk, rc.Fields, rc.InsertPolicy); err != nil {
			return err
		}
		if row == nil {
			return apierr.New(apierr.DatabasePolicyFailure, "Could not upsert row with given values.")
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return row, created, nil
}

// update reports whether a row at the key matched the update policy.
func (e *SQLEngine) update(ctx context.Context, s executor.Session, b sqlbuilder.Builder, rc *request.UpsertRequestContext) (bool, error) {
	if len(rc.Body) == 0 {
		// Nothing to set; the row counts as updated when it is visible.
		row, err := e.readBack(ctx, s, b, rc.Context, rc.PrimaryKey, rc.Object.PrimaryKeyFields(), rc.DBPolicy)
		return row != nil, err
	}
	stmt, err := b.Update(rc.Object, rc.PrimaryKey, rc.Body, rc.DBPolicy, rc.Object.PrimaryKeyFields())
	if err != nil {
		return false, err
	}
	if b.SupportsReturning() {
		rows, err := s.Query(ctx, stmt)
		return len(rows) > 0, err
	}
	n, err := s.Exec(ctx, stmt)
	return n > 0, err
}

func (e *SQLEngine) Delete(ctx context.Context, rc *request.DeleteRequestContext) error {
	t, err := e.target(rc.Entity)
	if err != nil {
		return err
	}
	return e.session(ctx, t, rc.Claims, func(ctx context.Context, s executor.Session) error {
		stmt, err := t.builder.Delete(rc.Object, rc.PrimaryKey, rc.DBPolicy)
		if err != nil {
			return err
		}
		n, err := s.Exec(ctx, stmt)
		if err != nil || n > 0 {
			return err
		}
		found, err := s.Query(ctx, t.builder.Exists(rc.Object, rc.PrimaryKey))
		if err != nil {
			return err
		}
		if len(found) > 0 {
			return apierr.New(apierr.DatabasePolicyFailure, "Could not delete row with given values.")
		}
		return apierr.New(apierr.ItemNotFound, "Not Found")
	})
}
