package graphql

import (
	"context"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"

	"datagate/internal/apierr"
	"datagate/internal/config"
	"datagate/internal/naming"
	"datagate/internal/odata"
	"datagate/internal/request"
	"datagate/internal/sqlmeta"
)

func (x *Executor) resolveRoot(ctx context.Context, o *operation, root naming.RootField, f *ast.Field) (any, error) {
	switch root.Kind {
	case naming.ListQuery:
		return x.list(ctx, o, root.Entity, f, nil)
	case naming.PKQuery:
		return x.byPK(ctx, o, root.Entity, f)
	case naming.CreateMutation:
		item, ok, err := o.objectArg(f, "item")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apierr.New(apierr.BadRequest, "Argument \"item\" is required.")
		}
		return x.create(ctx, o, root.Entity, item, o.collect(f.SelectionSet))
	case naming.CreateMultiple:
		return x.createMany(ctx, o, root.Entity, f)
	case naming.UpdateMutation:
		return x.update(ctx, o, root.Entity, f)
	case naming.DeleteMutation:
		return x.delete(ctx, o, root.Entity, f)
	case naming.ExecuteField:
		return x.execute(ctx, o, root.Entity, f)
	}
	return nil, apierr.New(apierr.GraphQLMapping, "Root field %s has no resolver.", root.Name)
}

// list resolves a connection: {items, endCursor, hasNextPage}. extra
// restricts the rows further, for relationship navigation.
func (x *Executor) list(ctx context.Context, o *operation, entity string, f *ast.Field, extra odata.Node) (any, error) {
	rc, err := x.svc.Authorize(o.cfg, entity, config.OpRead, o.caller.Role, o.caller.Claims)
	if err != nil {
		return nil, err
	}
	find := &request.FindRequestContext{Context: rc, IsMany: true, Filter: extra}
	filter, ok, err := o.objectArg(f, "filter")
	if err != nil {
		return nil, err
	}
	if ok {
		n, err := filterNode(rc.Object, filter)
		if err != nil {
			return nil, err
		}
		if n != nil {
			find.Filter = join(odata.OpAnd, nonNil(extra, n))
		}
	}
	if find.OrderBy, err = o.orderBy(rc.Object, f); err != nil {
		return nil, err
	}
	first, ok, err := o.arg(f, "first")
	if err != nil {
		return nil, err
	}
	raw := ""
	if ok && first != nil {
		raw = fmt.Sprint(first)
	}
	if find.First, err = request.PageSize(raw, o.cfg.Runtime.Pagination); err != nil {
		return nil, err
	}
	after, ok, err := o.arg(f, "after")
	if err != nil {
		return nil, err
	}
	if token, _ := after.(string); ok && token != "" {
		if find.After, err = request.DecodeCursor(token); err != nil {
			return nil, err
		}
	}

	conn := o.collect(f.SelectionSet)
	var itemSel []*ast.Field
	if items := o.subField(conn, "items"); items != nil {
		itemSel = o.collect(items.SelectionSet)
	}
	items, next, err := x.read(ctx, o, find, itemSel)
	if err != nil {
		return nil, err
	}

	e := o.cfg.Entities[entity]
	out := map[string]any{}
	for _, c := range conn {
		switch c.Name {
		case "items":
			out[c.Alias] = items
		case "endCursor":
			if next != nil {
				out[c.Alias] = next.Encode()
			} else {
				out[c.Alias] = nil
			}
		case "hasNextPage":
			out[c.Alias] = next != nil
		case "__typename":
			out[c.Alias] = naming.Pascal(naming.PluralName(entity, e)) + "Connection"
		default:
			return nil, apierr.New(apierr.BadRequest, "Cannot query field \"%s\" on a connection.", c.Name)
		}
	}
	return out, nil
}

func nonNil(nodes ...odata.Node) []odata.Node {
	out := nodes[:0]
	for _, n := range nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (x *Executor) byPK(ctx context.Context, o *operation, entity string, f *ast.Field) (any, error) {
	rc, err := x.svc.Authorize(o.cfg, entity, config.OpRead, o.caller.Role, o.caller.Claims)
	if err != nil {
		return nil, err
	}
	if rc.PrimaryKey, err = o.primaryKey(rc.Object, f); err != nil {
		return nil, err
	}
	items, _, err := x.read(ctx, o, &request.FindRequestContext{Context: rc}, o.collect(f.SelectionSet))
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

// primaryKey reads the key arguments of a by_pk, update or delete field.
func (o *operation) primaryKey(obj *sqlmeta.DatabaseObject, f *ast.Field) (map[string]any, error) {
	pk := obj.PrimaryKeyFields()
	out := make(map[string]any, len(pk))
	for _, name := range pk {
		v, ok, err := o.arg(f, name)
		if err != nil {
			return nil, err
		}
		if !ok || v == nil {
			return nil, apierr.New(apierr.BadRequest, "Argument \"%s\" of field \"%s\" is required.", name, f.Name)
		}
		col, _ := obj.Field(name)
		if out[name], err = request.Coerce(col, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (x *Executor) createMany(ctx context.Context, o *operation, entity string, f *ast.Field) (any, error) {
	v, ok, err := o.arg(f, "items")
	if err != nil {
		return nil, err
	}
	list, isList := v.([]any)
	if !ok || !isList {
		return nil, apierr.New(apierr.BadRequest, "Argument \"items\" must be a list of input objects.")
	}
	sel := o.collect(f.SelectionSet)
	out := make([]any, 0, len(list))
	for i, it := range list {
		item, ok := it.(map[string]any)
		if !ok {
			return nil, apierr.New(apierr.BadRequest, "Item %d of argument \"items\" is not an input object.", i)
		}
		row, err := x.create(ctx, o, entity, item, sel)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func (x *Executor) update(ctx context.Context, o *operation, entity string, f *ast.Field) (any, error) {
	rc, err := x.svc.Authorize(o.cfg, entity, config.OpUpdate, o.caller.Role, o.caller.Claims)
	if err != nil {
		return nil, err
	}
	if rc.PrimaryKey, err = o.primaryKey(rc.Object, f); err != nil {
		return nil, err
	}
	body, ok, err := o.objectArg(f, "item")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierr.New(apierr.BadRequest, "Argument \"item\" is required.")
	}
	if err := request.ValidateUpsertBody(rc.Object, body, true, true); err != nil {
		return nil, err
	}
	if err := x.svc.CheckWritableFields(o.cfg, rc, body); err != nil {
		return nil, err
	}
	sel := o.collect(f.SelectionSet)
	sh, fields, err := x.returning(o, entity, sel)
	if err != nil {
		return nil, err
	}
	me, err := x.svc.Engines.MutationEngine(entity)
	if err != nil {
		return nil, err
	}
	row, _, err := me.Upsert(ctx, &request.UpsertRequestContext{
		Context:     rc,
		Body:        body,
		Incremental: true,
		UpdateOnly:  true,
		Fields:      fields,
	})
	if err != nil {
		return nil, err
	}
	return x.project(ctx, o, entity, row, sh)
}

// delete returns the row as it was read just before removal.
func (x *Executor) delete(ctx context.Context, o *operation, entity string, f *ast.Field) (any, error) {
	rc, err := x.svc.Authorize(o.cfg, entity, config.OpDelete, o.caller.Role, o.caller.Claims)
	if err != nil {
		return nil, err
	}
	if rc.PrimaryKey, err = o.primaryKey(rc.Object, f); err != nil {
		return nil, err
	}
	var before any
	if sel := o.collect(f.SelectionSet); len(sel) > 0 {
		read, err := x.svc.Authorize(o.cfg, entity, config.OpRead, o.caller.Role, o.caller.Claims)
		if err != nil {
			return nil, err
		}
		read.PrimaryKey = rc.PrimaryKey
		items, _, err := x.read(ctx, o, &request.FindRequestContext{Context: read}, sel)
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			before = items[0]
		}
	}
	me, err := x.svc.Engines.MutationEngine(entity)
	if err != nil {
		return nil, err
	}
	if err := me.Delete(ctx, &request.DeleteRequestContext{Context: rc}); err != nil {
		return nil, err
	}
	return before, nil
}

func (x *Executor) execute(ctx context.Context, o *operation, entity string, f *ast.Field) (any, error) {
	rc, err := x.svc.Authorize(o.cfg, entity, config.OpExecute, o.caller.Role, o.caller.Claims)
	if err != nil {
		return nil, err
	}
	given := make(map[string]any, len(f.Arguments))
	for _, a := range f.Arguments {
		v, ok, err := o.arg(f, a.Name)
		if err != nil {
			return nil, err
		}
		if ok {
			given[a.Name] = v
		}
	}
	params, err := request.ValidateStoredProcedure(rc.Object, o.cfg.Entities[entity], entity, given)
	if err != nil {
		return nil, err
	}
	qe, err := x.svc.Engines.QueryEngine(entity)
	if err != nil {
		return nil, err
	}
	rows, err := qe.Execute(ctx, &request.StoredProcedureRequestContext{Context: rc, Params: params})
	if err != nil {
		return nil, err
	}
	sh, err := x.shapeOf(o, entity, o.collect(f.SelectionSet))
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		v, err := x.project(ctx, o, entity, row, sh)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
