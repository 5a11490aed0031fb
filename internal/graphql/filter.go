package graphql

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"

	"datagate/internal/apierr"
	"datagate/internal/odata"
	"datagate/internal/sqlmeta"
)

var comparisons = map[string]odata.BinaryOp{
	"eq":  odata.OpEq,
	"neq": odata.OpNe,
	"gt":  odata.OpGt,
	"gte": odata.OpGe,
	"lt":  odata.OpLt,
	"lte": odata.OpLe,
}

var stringFunctions = map[string]string{
	"contains":   "contains",
	"startsWith": "startswith",
	"endsWith":   "endswith",
}

// filterNode converts a filter input object such as
// {title: {contains: "go"}, or: [{year: {gt: 2000}}, {year: {isNull: true}}]}
// into the tree the OData translator renders. Keys are visited in sorted
// order so equal inputs yield equal SQL.
func filterNode(obj *sqlmeta.DatabaseObject, in map[string]any) (odata.Node, error) {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var terms []odata.Node
	for _, k := range keys {
		v := in[k]
		switch k {
		case "and", "or":
			list, ok := v.([]any)
			if !ok {
				return nil, apierr.New(apierr.BadRequest, "The %s filter expects a list.", k)
			}
			op := odata.OpAnd
			if k == "or" {
				op = odata.OpOr
			}
			var parts []odata.Node
			for _, item := range list {
				m, ok := item.(map[string]any)
				if !ok {
					return nil, apierr.New(apierr.BadRequest, "The %s filter expects input objects.", k)
				}
				n, err := filterNode(obj, m)
				if err != nil {
					return nil, err
				}
				if n != nil {
					parts = append(parts, n)
				}
			}
			if n := join(op, parts); n != nil {
				terms = append(terms, n)
			}
		default:
			ops, ok := v.(map[string]any)
			if !ok {
				return nil, apierr.New(apierr.BadRequest, "The filter on %s expects an input object.", k)
			}
			col, ok := obj.Field(k)
			if !ok {
				return nil, apierr.New(apierr.BadRequest, "Invalid field in filter: %s", k)
			}
			n, err := fieldFilter(col, ops)
			if err != nil {
				return nil, err
			}
			terms = append(terms, n)
		}
	}
	return join(odata.OpAnd, terms), nil
}

func fieldFilter(col sqlmeta.Column, ops map[string]any) (odata.Node, error) {
	names := make([]string, 0, len(ops))
	for k := range ops {
		names = append(names, k)
	}
	sort.Strings(names)

	field := &odata.FieldNode{Name: col.Exposed}
	var terms []odata.Node
	for _, name := range names {
		v := ops[name]
		if op, ok := comparisons[name]; ok {
			c, err := constant(col, v)
			if err != nil {
				return nil, err
			}
			terms = append(terms, &odata.BinaryNode{Op: op, Left: field, Right: c})
			continue
		}
		if fn, ok := stringFunctions[name]; ok {
			c, err := constant(col, v)
			if err != nil {
				return nil, err
			}
			terms = append(terms, &odata.FunctionNode{Name: fn, Args: []odata.Node{field, c}})
			continue
		}
		switch name {
		case "notContains":
			c, err := constant(col, v)
			if err != nil {
				return nil, err
			}
			terms = append(terms, &odata.UnaryNode{Op: odata.OpNot,
				Operand: &odata.FunctionNode{Name: "contains", Args: []odata.Node{field, c}}})
		case "isNull":
			b, ok := v.(bool)
			if !ok {
				return nil, apierr.New(apierr.BadRequest, "isNull on %s expects a boolean.", col.Exposed)
			}
			op := odata.OpEq
			if !b {
				op = odata.OpNe
			}
			terms = append(terms, &odata.BinaryNode{Op: op, Left: field, Right: &odata.ConstantNode{Kind: odata.KindNull, Raw: "null"}})
		default:
			return nil, apierr.New(apierr.BadRequest, "Unknown filter operation %s on field %s.", name, col.Exposed)
		}
	}
	if len(terms) == 0 {
		return nil, apierr.New(apierr.BadRequest, "The filter on %s names no operation.", col.Exposed)
	}
	return join(odata.OpAnd, terms), nil
}

func join(op odata.BinaryOp, nodes []odata.Node) odata.Node {
	if len(nodes) == 0 {
		return nil
	}
	n := nodes[0]
	for _, next := range nodes[1:] {
		n = &odata.BinaryNode{Op: op, Left: n, Right: next}
	}
	return n
}

// constant turns an argument value into a literal of the column's kind.
// Strings keep the column kind so dates and guids are parsed as such.
func constant(col sqlmeta.Column, v any) (*odata.ConstantNode, error) {
	switch x := v.(type) {
	case nil:
		return &odata.ConstantNode{Kind: odata.KindNull, Raw: "null"}, nil
	case string:
		kind := col.Kind
		if kind == odata.KindUnknown || kind.IsNumeric() || kind == odata.KindBoolean {
			kind = odata.KindString
		}
		return &odata.ConstantNode{Kind: kind, Raw: x}, nil
	case bool:
		return &odata.ConstantNode{Kind: odata.KindBoolean, Raw: strconv.FormatBool(x)}, nil
	case int64:
		return &odata.ConstantNode{Kind: odata.KindInt64, Raw: strconv.FormatInt(x, 10)}, nil
	case int:
		return &odata.ConstantNode{Kind: odata.KindInt64, Raw: strconv.Itoa(x)}, nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return &odata.ConstantNode{Kind: odata.KindInt64, Raw: strconv.FormatInt(int64(x), 10)}, nil
		}
		return &odata.ConstantNode{Kind: odata.KindDouble, Raw: strconv.FormatFloat(x, 'g', -1, 64)}, nil
	}
	return nil, apierr.New(apierr.BadRequest, "Unsupported filter value %v for field %s.", v, col.Exposed)
}

// orderBy reads {field: ASC|DESC, ...} keeping the written order of a
// literal argument. Values supplied through a variable are ordered by name.
func (o *operation) orderBy(obj *sqlmeta.DatabaseObject, f *ast.Field) ([]odata.OrderByItem, error) {
	a := f.Arguments.ForName("orderBy")
	if a == nil {
		return nil, nil
	}
	var pairs [][2]string
	if a.Value.Kind == ast.ObjectValue {
		for _, c := range a.Value.Children {
			v, err := c.Value.Value(o.vars)
			if err != nil {
				return nil, apierr.Wrap(err, apierr.BadRequest, "Invalid orderBy value for %s.", c.Name)
			}
			if v == nil {
				continue
			}
			pairs = append(pairs, [2]string{c.Name, fmt.Sprint(v)})
		}
	} else {
		m, _, err := o.objectArg(f, "orderBy")
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if m[k] != nil {
				pairs = append(pairs, [2]string{k, fmt.Sprint(m[k])})
			}
		}
	}

	items := make([]odata.OrderByItem, 0, len(pairs))
	for _, p := range pairs {
		if _, ok := obj.Field(p[0]); !ok {
			return nil, apierr.New(apierr.BadRequest, "Invalid orderBy column requested: %s.", p[0])
		}
		switch p[1] {
		case "ASC":
			items = append(items, odata.OrderByItem{Field: p[0]})
		case "DESC":
			items = append(items, odata.OrderByItem{Field: p[0], Desc: true})
		default:
			return nil, apierr.New(apierr.BadRequest, "Invalid orderBy direction %s for %s.", p[1], p[0])
		}
	}
	return items, nil
}
