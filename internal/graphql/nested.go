package graphql

import (
	"context"
	"sort"
	"time"

	"github.com/vektah/gqlparser/v2/ast"

	"datagate/internal/apierr"
	"datagate/internal/config"
	"datagate/internal/naming"
	"datagate/internal/odata"
	"datagate/internal/request"
	"datagate/internal/sqlmeta"
)

// link joins a source row to the rows of a relationship target:
// target.targetCols[i] = source.sourceCols[i], by exposed name.
type link struct {
	target     string
	many       bool
	sourceCols []string
	targetCols []string
}

// shape is what a selection needs from each row of an entity.
type shape struct {
	fields []*ast.Field
	leaves []string
	links  map[string]link
}

// joinColumns adds the source columns relationship fields join on. A nil
// list stands for every field and stays nil.
func (s shape) joinColumns(fields []string) []string {
	if fields == nil || len(s.links) == 0 {
		return fields
	}
	out := append([]string(nil), fields...)
	have := make(map[string]bool, len(out))
	for _, f := range out {
		have[f] = true
	}
	names := make([]string, 0, len(s.links))
	for name := range s.links {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, c := range s.links[name].sourceCols {
			if !have[c] {
				have[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

func (x *Executor) shapeOf(o *operation, entity string, sel []*ast.Field) (shape, error) {
	e := o.cfg.Entities[entity]
	sh := shape{fields: sel, links: map[string]link{}}
	nested := map[string]bool{}
	for _, f := range sel {
		rel, ok := e.Relationships[f.Name]
		if !ok {
			continue
		}
		l, err := x.linkFor(entity, rel)
		if err != nil {
			return shape{}, err
		}
		sh.links[f.Name] = l
		nested[f.Name] = true
	}
	sh.leaves = o.leafNames(sel, nested)
	return sh, nil
}

// linkFor picks the foreign key a relationship navigates. A to-many
// relationship prefers a key held by the target, a to-one a key held by
// the source.
func (x *Executor) linkFor(source string, rel config.Relationship) (link, error) {
	order := []string{source, rel.TargetEntity}
	if rel.Cardinality == config.Many {
		order = []string{rel.TargetEntity, source}
	}
	var firstErr error
	for _, referencing := range order {
		l, err := x.linkVia(source, rel.TargetEntity, referencing)
		if err == nil {
			l.many = rel.Cardinality == config.Many
			return l, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return link{}, firstErr
}

func (x *Executor) linkVia(source, target, referencing string) (link, error) {
	src, ok := x.svc.Metadata.Object(source)
	if !ok {
		return link{}, apierr.New(apierr.EntityNotFound, "Entity %s has no database object.", source)
	}
	tgt, ok := x.svc.Metadata.Object(target)
	if !ok {
		return link{}, apierr.New(apierr.EntityNotFound, "Entity %s has no database object.", target)
	}
	rm := src.Relationships[target]
	if rm != nil {
		for _, fk := range rm.ForeignKeys {
			if fk.Pair.ReferencingEntity != referencing {
				continue
			}
			if referencing == source {
				return link{target: target, sourceCols: exposed(src, fk.ReferencingColumns), targetCols: exposed(tgt, fk.ReferencedColumns)}, nil
			}
			return link{target: target, sourceCols: exposed(src, fk.ReferencedColumns), targetCols: exposed(tgt, fk.ReferencingColumns)}, nil
		}
	}
	return link{}, apierr.New(apierr.RelationshipNotFound,
		"Could not find a foreign key between entities: %s and %s held by %s.", source, target, referencing)
}

func exposed(obj *sqlmeta.DatabaseObject, backing []string) []string {
	out := make([]string, len(backing))
	for i, b := range backing {
		if c, ok := obj.Column(b); ok {
			out[i] = c.Exposed
		} else {
			out[i] = b
		}
	}
	return out
}

// read runs find with the fields sel asks for and projects every row.
func (x *Executor) read(ctx context.Context, o *operation, find *request.FindRequestContext, sel []*ast.Field) ([]any, request.Cursor, error) {
	sh, err := x.shapeOf(o, find.Entity, sel)
	if err != nil {
		return nil, nil, err
	}
	fields, err := x.svc.ReadableFields(o.cfg, find.Context, sh.leaves)
	if err != nil {
		return nil, nil, err
	}
	find.Fields = sh.joinColumns(fields)
	qe, err := x.svc.Engines.QueryEngine(find.Entity)
	if err != nil {
		return nil, nil, err
	}
	page, err := qe.Find(ctx, find)
	if err != nil {
		return nil, nil, err
	}
	items := make([]any, 0, len(page.Items))
	for _, row := range page.Items {
		v, err := x.project(ctx, o, find.Entity, row, sh)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, v)
	}
	return items, page.Next, nil
}

// returning resolves the fields a mutation reads back for sel.
func (x *Executor) returning(o *operation, entity string, sel []*ast.Field) (shape, []string, error) {
	sh, err := x.shapeOf(o, entity, sel)
	if err != nil {
		return shape{}, nil, err
	}
	rc, err := x.svc.Authorize(o.cfg, entity, config.OpRead, o.caller.Role, o.caller.Claims)
	if err != nil {
		return shape{}, nil, err
	}
	fields, err := x.svc.ReadableFields(o.cfg, rc, sh.leaves)
	if err != nil {
		return shape{}, nil, err
	}
	return sh, sh.joinColumns(fields), nil
}

// project renders row under the aliases of the selection, resolving
// relationship fields with one read per row.
func (x *Executor) project(ctx context.Context, o *operation, entity string, row map[string]any, sh shape) (map[string]any, error) {
	if row == nil {
		return nil, nil
	}
	out := make(map[string]any, len(sh.fields))
	for _, f := range sh.fields {
		if f.Name == "__typename" {
			out[f.Alias] = naming.Pascal(naming.Singular(entity, o.cfg.Entities[entity]))
			continue
		}
		if l, ok := sh.links[f.Name]; ok {
			v, err := x.related(ctx, o, row, l, f)
			if err != nil {
				return nil, err
			}
			out[f.Alias] = v
			continue
		}
		out[f.Alias] = row[f.Name]
	}
	return out, nil
}

func (x *Executor) related(ctx context.Context, o *operation, row map[string]any, l link, f *ast.Field) (any, error) {
	tgt, ok := x.svc.Metadata.Object(l.target)
	if !ok {
		return nil, apierr.New(apierr.EntityNotFound, "Entity %s has no database object.", l.target)
	}
	terms := make([]odata.Node, 0, len(l.sourceCols))
	for i, sc := range l.sourceCols {
		v := row[sc]
		if v == nil {
			if l.many {
				return emptyConnection(o, f), nil
			}
			return nil, nil
		}
		col, _ := tgt.Field(l.targetCols[i])
		c, err := constant(col, joinValue(col, v))
		if err != nil {
			return nil, err
		}
		terms = append(terms, &odata.BinaryNode{Op: odata.OpEq, Left: &odata.FieldNode{Name: col.Exposed}, Right: c})
	}
	filter := join(odata.OpAnd, terms)
	if l.many {
		return x.list(ctx, o, l.target, f, filter)
	}
	rc, err := x.svc.Authorize(o.cfg, l.target, config.OpRead, o.caller.Role, o.caller.Claims)
	if err != nil {
		return nil, err
	}
	items, _, err := x.read(ctx, o, &request.FindRequestContext{Context: rc, Filter: filter}, o.collect(f.SelectionSet))
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

func emptyConnection(o *operation, f *ast.Field) map[string]any {
	out := map[string]any{}
	for _, c := range o.collect(f.SelectionSet) {
		switch c.Name {
		case "items":
			out[c.Alias] = []any{}
		case "hasNextPage":
			out[c.Alias] = false
		default:
			out[c.Alias] = nil
		}
	}
	return out
}

// joinValue converts a value read from one row for use as a literal
// against another.
func joinValue(col sqlmeta.Column, v any) any {
	switch x := v.(type) {
	case time.Time:
		if col.Kind == odata.KindDate {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.RFC3339Nano)
	case []byte:
		return string(x)
	case int32:
		return int64(x)
	}
	return v
}

func (x *Executor) create(ctx context.Context, o *operation, entity string, item map[string]any, sel []*ast.Field) (map[string]any, error) {
	sh, fields, err := x.returning(o, entity, sel)
	if err != nil {
		return nil, err
	}
	row, err := x.insert(ctx, o, entity, item, fields)
	if err != nil {
		return nil, err
	}
	return x.project(ctx, o, entity, row, sh)
}

type pending struct {
	target string
	item   map[string]any
}

// insert writes item with its nested related items. Items the new row
// references are written first and their keys copied in; items that
// reference the new row are written after it. The writes are not one
// transaction.
func (x *Executor) insert(ctx context.Context, o *operation, entity string, item map[string]any, fields []string) (map[string]any, error) {
	rc, err := x.svc.Authorize(o.cfg, entity, config.OpCreate, o.caller.Role, o.caller.Claims)
	if err != nil {
		return nil, err
	}
	e := o.cfg.Entities[entity]
	body := make(map[string]any, len(item))
	var relNames []string
	for k, v := range item {
		if _, ok := e.Relationships[k]; ok {
			relNames = append(relNames, k)
			continue
		}
		body[k] = v
	}
	sort.Strings(relNames)

	var after []pending
	for _, name := range relNames {
		target := e.Relationships[name].TargetEntity
		children, err := nestedItems(name, item[name])
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			ref, err := x.svc.Metadata.ReferencingEntity(entity, target, body, child)
			if err != nil {
				return nil, err
			}
			switch ref {
			case entity:
				if len(children) > 1 {
					return nil, apierr.New(apierr.BadRequest,
						"Entity %s references a single %s; the nested field %s cannot be a list.", entity, target, name)
				}
				l, err := x.linkVia(entity, target, entity)
				if err != nil {
					return nil, err
				}
				row, err := x.insert(ctx, o, target, child, l.targetCols)
				if err != nil {
					return nil, err
				}
				for i, sc := range l.sourceCols {
					body[sc] = row[l.targetCols[i]]
				}
			case target:
				after = append(after, pending{target: target, item: child})
			default:
				return nil, apierr.New(apierr.NotSupported,
					"Nested inserts through the linking object %s are not supported.", ref)
			}
		}
	}

	if err := x.svc.CheckWritableFields(o.cfg, rc, body); err != nil {
		return nil, err
	}
	if err := request.ValidateInsertBody(rc.Object, body, true); err != nil {
		return nil, err
	}
	want := fields
	links := make([]link, len(after))
	for i, p := range after {
		if links[i], err = x.linkVia(entity, p.target, p.target); err != nil {
			return nil, err
		}
		want = shape{links: map[string]link{p.target: links[i]}}.joinColumns(want)
	}
	me, err := x.svc.Engines.MutationEngine(entity)
	if err != nil {
		return nil, err
	}
	row, err := me.Insert(ctx, &request.InsertRequestContext{Context: rc, Body: body, Fields: want})
	if err != nil {
		return nil, err
	}
	for i, p := range after {
		tgt, _ := x.svc.Metadata.Object(p.target)
		for j, tc := range links[i].targetCols {
			col, _ := tgt.Field(tc)
			p.item[tc] = joinValue(col, row[links[i].sourceCols[j]])
		}
		if _, err := x.insert(ctx, o, p.target, p.item, nil); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func nestedItems(name string, v any) ([]map[string]any, error) {
	switch x := v.(type) {
	case map[string]any:
		return []map[string]any{x}, nil
	case []any:
		out := make([]map[string]any, 0, len(x))
		for _, it := range x {
			m, ok := it.(map[string]any)
			if !ok {
				return nil, apierr.New(apierr.BadRequest, "The nested field %s must hold input objects.", name)
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, apierr.New(apierr.BadRequest, "The nested field %s must hold an input object or a list of them.", name)
}
