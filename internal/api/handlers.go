package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"datagate/internal/apierr"
	"datagate/internal/config"
	"datagate/internal/odata"
	"datagate/internal/request"
)

// rest serves {rest-path}/{entity-path}/{primary key route}.
func (s *Server) rest(c *gin.Context, cfg *config.RuntimeConfig, b *Backend, paths map[string]string, path string) {
	start := time.Now()
	entity := ""
	defer func() { s.metrics.ObserveRequest("rest", entity, c.Writer.Status(), time.Since(start)) }()

	name, route, ok := request.SplitEntityPath(path, paths)
	if !ok {
		s.writeError(c, cfg, apierr.New(apierr.EntityNotFound, "Invalid Entity path: %s.", strings.Trim(path, "/")))
		return
	}
	entity = name
	e := cfg.Entities[name]
	method := c.Request.Method
	op, ok := request.OperationForMethod(method, e.IsStoredProcedure())
	if !ok || (e.IsStoredProcedure() && !allowsMethod(e, method)) {
		s.writeError(c, cfg, apierr.New(apierr.BadRequest, "Method %s is not allowed for entity %s.", method, name))
		return
	}

	role, claims, err := caller(c.Request.Header, cfg.Runtime.Host.Authentication)
	if err != nil {
		if apierr.IsSubStatus(err, apierr.AuthenticationChallenge) {
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
		}
		s.writeError(c, cfg, err)
		return
	}
	rc, err := b.Service.Authorize(cfg, name, op, role, claims)
	if err != nil {
		s.writeError(c, cfg, err)
		return
	}

	switch op {
	case config.OpRead:
		err = s.find(c, cfg, b, rc, route)
	case config.OpCreate:
		err = s.create(c, cfg, b, rc, route)
	case config.OpUpsert, config.OpUpsertIncremental:
		err = s.upsert(c, cfg, b, rc, route, op == config.OpUpsertIncremental)
	case config.OpDelete:
		err = s.remove(c, b, rc, route)
	case config.OpExecute:
		err = s.execute(c, cfg, b, rc, e)
	}
	if err != nil {
		s.writeError(c, cfg, err)
	}
}

// primaryKey parses and validates a primary key route. An empty route
// yields a nil key.
func primaryKey(rc request.Context, route string) (map[string]any, error) {
	r, err := request.ParsePrimaryKeyRoute(route)
	if err != nil || r.Empty() {
		return nil, err
	}
	return request.ValidatePrimaryKey(rc.Object, r)
}

func requirePrimaryKey(rc request.Context, route string) (map[string]any, error) {
	pk, err := primaryKey(rc, route)
	if err == nil && pk == nil {
		err = apierr.New(apierr.BadRequest, "Primary Key for this HTTP method type is required.")
	}
	return pk, err
}

// GET: a point read when the route names a key, otherwise a page.
func (s *Server) find(c *gin.Context, cfg *config.RuntimeConfig, b *Backend, rc request.Context, route string) error {
	pk, err := primaryKey(rc, route)
	if err != nil {
		return err
	}
	rc.PrimaryKey = pk
	find := &request.FindRequestContext{Context: rc, IsMany: pk == nil}
	if err := request.ParseFind(c.Request.URL.Query(), cfg.Runtime.Pagination, find); err != nil {
		return err
	}
	if err := checkQueryFields(cfg, b, rc, find); err != nil {
		return err
	}
	if find.Fields, err = b.Service.ReadableFields(cfg, rc, find.Fields); err != nil {
		return err
	}
	qe, err := b.Service.Engines.QueryEngine(rc.Entity)
	if err != nil {
		return err
	}
	page, err := qe.Find(c.Request.Context(), find)
	if err != nil {
		return err
	}
	if !find.IsMany {
		if len(page.Items) == 0 {
			return apierr.New(apierr.ItemNotFound, "Not Found")
		}
		c.JSON(http.StatusOK, listBody(page.Items[:1], ""))
		return nil
	}
	next := ""
	if page.Next != nil {
		next = request.NextLink(requestURL(c), page.Next)
	}
	c.JSON(http.StatusOK, listBody(page.Items, next))
	return nil
}

// checkQueryFields requires every field named by $select, $filter and
// $orderby to exist and to be readable by the caller.
func checkQueryFields(cfg *config.RuntimeConfig, b *Backend, rc request.Context, find *request.FindRequestContext) error {
	if err := request.ValidateFields(rc.Object, find.Fields); err != nil {
		return err
	}
	if err := request.ValidateOrderBy(rc.Object, find.OrderBy); err != nil {
		return err
	}
	var used []string
	if find.Filter != nil {
		used = odata.FieldNames(find.Filter)
		for _, f := range used {
			if _, ok := rc.Object.Field(f); !ok {
				return apierr.New(apierr.BadRequest, "Invalid field in $filter: %s", f)
			}
		}
	}
	for _, o := range find.OrderBy {
		used = append(used, o.Field)
	}
	if len(used) > 0 {
		if _, err := b.Service.ReadableFields(cfg, rc, used); err != nil {
			return err
		}
	}
	return nil
}

// returnedFields are the fields a write reads back: whatever the caller
// may read, or just the primary key when it may not read.
func returnedFields(cfg *config.RuntimeConfig, b *Backend, rc request.Context) []string {
	read, err := b.Service.Authorize(cfg, rc.Entity, config.OpRead, rc.Role, rc.Claims)
	if err != nil {
		return rc.Object.PrimaryKeyFields()
	}
	fields, err := b.Service.ReadableFields(cfg, read, nil)
	if err != nil {
		return rc.Object.PrimaryKeyFields()
	}
	return fields
}

// POST
func (s *Server) create(c *gin.Context, cfg *config.RuntimeConfig, b *Backend, rc request.Context, route string) error {
	if strings.Trim(route, "/") != "" {
		return apierr.New(apierr.BadRequest, "Query string for POST requests is an invalid url.")
	}
	body, err := decodeBody(c)
	if err != nil {
		return err
	}
	if err := request.ValidateInsertBody(rc.Object, body, cfg.Runtime.Rest.RequestBodyStrict); err != nil {
		return err
	}
	if err := b.Service.CheckWritableFields(cfg, rc, body); err != nil {
		return err
	}
	me, err := b.Service.Engines.MutationEngine(rc.Entity)
	if err != nil {
		return err
	}
	row, err := me.Insert(c.Request.Context(), &request.InsertRequestContext{
		Context: rc,
		Body:    body,
		Fields:  returnedFields(cfg, b, rc),
	})
	if err != nil {
		return err
	}
	if loc := location(c, rc, row); loc != "" {
		c.Header("Location", loc)
	}
	c.JSON(http.StatusCreated, listBody([]map[string]any{row}, ""))
	return nil
}

// PUT and PATCH: update the row at the key or create it.
func (s *Server) upsert(c *gin.Context, cfg *config.RuntimeConfig, b *Backend, rc request.Context, route string, incremental bool) error {
	pk, err := requirePrimaryKey(rc, route)
	if err != nil {
		return err
	}
	rc.PrimaryKey = pk
	body, err := decodeBody(c)
	if err != nil {
		return err
	}
	if err := request.ValidateUpsertBody(rc.Object, body, incremental, cfg.Runtime.Rest.RequestBodyStrict); err != nil {
		return err
	}
	if err := b.Service.CheckWritableFields(cfg, rc, body); err != nil {
		return err
	}
	insertPolicy, err := b.Service.InsertPolicy(cfg, rc)
	if err != nil {
		return err
	}
	me, err := b.Service.Engines.MutationEngine(rc.Entity)
	if err != nil {
		return err
	}
	row, created, err := me.Upsert(c.Request.Context(), &request.UpsertRequestContext{
		Context:      rc,
		Body:         body,
		Incremental:  incremental,
		Fields:       returnedFields(cfg, b, rc),
		InsertPolicy: insertPolicy,
	})
	if err != nil {
		return err
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		if loc := location(c, rc, row); loc != "" {
			c.Header("Location", loc)
		}
	}
	c.JSON(status, listBody([]map[string]any{row}, ""))
	return nil
}

// DELETE
func (s *Server) remove(c *gin.Context, b *Backend, rc request.Context, route string) error {
	pk, err := requirePrimaryKey(rc, route)
	if err != nil {
		return err
	}
	rc.PrimaryKey = pk
	me, err := b.Service.Engines.MutationEngine(rc.Entity)
	if err != nil {
		return err
	}
	if err := me.Delete(c.Request.Context(), &request.DeleteRequestContext{Context: rc}); err != nil {
		return err
	}
	c.Status(http.StatusNoContent)
	return nil
}

// execute runs a stored procedure. GET takes its parameters from the
// query string, every other method from the JSON body.
func (s *Server) execute(c *gin.Context, cfg *config.RuntimeConfig, b *Backend, rc request.Context, e config.Entity) error {
	given := map[string]any{}
	if c.Request.Method == http.MethodGet {
		for k, v := range c.Request.URL.Query() {
			if len(v) > 0 {
				given[k] = v[0]
			}
		}
	} else {
		body, err := decodeBody(c)
		if err != nil {
			return err
		}
		for k, v := range body {
			given[k] = plainNumber(v)
		}
	}
	params, err := request.ValidateStoredProcedure(rc.Object, e, rc.Entity, given)
	if err != nil {
		return err
	}
	qe, err := b.Service.Engines.QueryEngine(rc.Entity)
	if err != nil {
		return err
	}
	rows, err := qe.Execute(c.Request.Context(), &request.StoredProcedureRequestContext{Context: rc, Params: params})
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	c.JSON(http.StatusOK, listBody(rows, ""))
	return nil
}

// plainNumber turns a json.Number into the Go number drivers accept.
func plainNumber(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func requestURL(c *gin.Context) *url.URL {
	u := *c.Request.URL
	u.Host = c.Request.Host
	u.Scheme = "http"
	if c.Request.TLS != nil {
		u.Scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		u.Scheme = proto
	}
	return &u
}

// location is the URL of a written row: the entity URL followed by its
// primary key route.
func location(c *gin.Context, rc request.Context, row map[string]any) string {
	pk := rc.Object.PrimaryKeyFields()
	if len(pk) == 0 || row == nil {
		return ""
	}
	parts := make([]string, 0, 2*len(pk))
	for _, f := range pk {
		v, ok := row[f]
		if !ok {
			return ""
		}
		parts = append(parts, url.PathEscape(f), url.PathEscape(keyText(v)))
	}
	u := requestURL(c)
	u.RawQuery = ""
	base := strings.TrimRight(u.String(), "/")
	if len(rc.PrimaryKey) > 0 {
		// PUT and PATCH already carry the key in the URL
		return base
	}
	return base + "/" + strings.Join(parts, "/")
}
