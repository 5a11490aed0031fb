package graphql

import (
	"github.com/vektah/gqlparser/v2/ast"

	"datagate/internal/apierr"
)

// collect flattens fragments into the fields of a selection set and drops
// fields excluded by @skip or @include.
func (o *operation) collect(set ast.SelectionSet) []*ast.Field {
	var out []*ast.Field
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if o.included(s.Directives) {
				out = append(out, s)
			}
		case *ast.InlineFragment:
			if o.included(s.Directives) {
				out = append(out, o.collect(s.SelectionSet)...)
			}
		case *ast.FragmentSpread:
			if !o.included(s.Directives) {
				continue
			}
			if def := o.fragments.ForName(s.Name); def != nil {
				out = append(out, o.collect(def.SelectionSet)...)
			}
		}
	}
	return out
}

func (o *operation) included(dirs ast.DirectiveList) bool {
	if d := dirs.ForName("skip"); d != nil && o.directiveIf(d) {
		return false
	}
	if d := dirs.ForName("include"); d != nil && !o.directiveIf(d) {
		return false
	}
	return true
}

func (o *operation) directiveIf(d *ast.Directive) bool {
	arg := d.Arguments.ForName("if")
	if arg == nil {
		return false
	}
	v, err := arg.Value.Value(o.vars)
	b, ok := v.(bool)
	return err == nil && ok && b
}

// arg resolves a field argument, variables included. A missing argument is
// reported as nil, false.
func (o *operation) arg(f *ast.Field, name string) (any, bool, error) {
	a := f.Arguments.ForName(name)
	if a == nil {
		return nil, false, nil
	}
	v, err := a.Value.Value(o.vars)
	if err != nil {
		return nil, false, apierr.Wrap(err, apierr.BadRequest, "Invalid value for argument \"%s\".", name)
	}
	if a.Value.Kind == ast.Variable {
		if _, ok := o.vars[a.Value.Raw]; !ok {
			return nil, false, nil
		}
	}
	return v, true, nil
}

// objectArg resolves an input object argument.
func (o *operation) objectArg(f *ast.Field, name string) (map[string]any, bool, error) {
	v, ok, err := o.arg(f, name)
	if err != nil || !ok || v == nil {
		return nil, false, err
	}
	m, isMap := v.(map[string]any)
	if !isMap {
		return nil, false, apierr.New(apierr.BadRequest, "Argument \"%s\" must be an input object.", name)
	}
	return m, true, nil
}

// leafNames lists the selected scalar fields, skipping __typename and the
// names in nested.
func (o *operation) leafNames(fields []*ast.Field, nested map[string]bool) []string {
	var out []string
	seen := map[string]bool{}
	for _, f := range fields {
		if f.Name == "__typename" || nested[f.Name] || seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		out = append(out, f.Name)
	}
	return out
}

// subField finds the first selection of name, for connection members.
func (o *operation) subField(fields []*ast.Field, name string) *ast.Field {
	for _, f := range fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}
