// Package graphql executes GraphQL operations against the generated root
// fields of the configured entities. Every root field is resolved on its
// own entity's engine and the results are merged under the field aliases.
package graphql

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"

	"datagate/internal/apierr"
	"datagate/internal/config"
	"datagate/internal/engine"
	"datagate/internal/naming"
)

// Request is the body of a GraphQL POST.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response follows the GraphQL over HTTP result shape.
type Response struct {
	Data   map[string]any `json:"data"`
	Errors gqlerror.List  `json:"errors,omitempty"`
}

// Caller is the resolved principal of a request.
type Caller struct {
	Role   string
	Claims map[string]any
}

type Executor struct {
	svc    *engine.Service
	logger *slog.Logger
}

func NewExecutor(svc *engine.Service, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{svc: svc, logger: logger.With("component", "graphql")}
}

// RootFieldIndex maps every generated root field name to its entity.
type RootFieldIndex struct {
	Queries   map[string]naming.RootField
	Mutations map[string]naming.RootField
}

func NewRootFieldIndex(cfg *config.RuntimeConfig) RootFieldIndex {
	idx := RootFieldIndex{Queries: map[string]naming.RootField{}, Mutations: map[string]naming.RootField{}}
	names := make([]string, 0, len(cfg.Entities))
	for name := range cfg.Entities {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, f := range naming.RootFields(name, cfg.Entities[name]) {
			if f.IsMutation {
				idx.Mutations[f.Name] = f
			} else {
				idx.Queries[f.Name] = f
			}
		}
	}
	return idx
}

// operation carries what the resolvers of one request share.
type operation struct {
	cfg       *config.RuntimeConfig
	caller    Caller
	vars      map[string]any
	fragments ast.FragmentDefinitionList
	errs      gqlerror.List
}

// Execute runs req. Failures of one root field null that field and are
// reported next to the data of the others.
func (x *Executor) Execute(ctx context.Context, caller Caller, req Request) *Response {
	cfg, err := x.svc.Config.GetConfig()
	if err != nil {
		return &Response{Errors: gqlerror.List{x.toGQLError(nil, err, false)}}
	}
	if !cfg.Runtime.GraphQL.Enabled {
		return &Response{Errors: gqlerror.List{x.toGQLError(nil,
			apierr.New(apierr.NotSupported, "GraphQL is disabled for this runtime."), false)}}
	}
	doc, err := parser.ParseQuery(&ast.Source{Input: req.Query})
	if err != nil {
		var ge *gqlerror.Error
		if errors.As(err, &ge) {
			return &Response{Errors: gqlerror.List{ge}}
		}
		return &Response{Errors: gqlerror.List{gqlerror.Errorf("%s", err.Error())}}
	}
	op, err := selectOperation(doc, req.OperationName)
	if err != nil {
		return &Response{Errors: gqlerror.List{x.toGQLError(nil, err, false)}}
	}

	o := &operation{
		cfg:       cfg,
		caller:    caller,
		vars:      variables(op, req.Variables),
		fragments: doc.Fragments,
	}
	idx := NewRootFieldIndex(cfg)
	roots := idx.Queries
	typeName := "Query"
	switch op.Operation {
	case ast.Mutation:
		roots, typeName = idx.Mutations, "Mutation"
	case ast.Subscription:
		return &Response{Errors: gqlerror.List{x.toGQLError(nil,
			apierr.New(apierr.NotSupported, "Subscriptions are not supported."), false)}}
	}

	data := map[string]any{}
	for _, f := range o.collect(op.SelectionSet) {
		path := ast.Path{ast.PathName(f.Alias)}
		switch f.Name {
		case "__typename":
			data[f.Alias] = typeName
			continue
		case "__schema", "__type":
			msg := "Introspection is not allowed for the current request."
			sub := apierr.AuthorizationCheckFailed
			if cfg.Runtime.GraphQL.AllowIntrospection {
				msg, sub = "Introspection queries are not supported by this endpoint.", apierr.NotSupported
			}
			o.fail(x, path, apierr.New(sub, "%s", msg))
			data[f.Alias] = nil
			continue
		}
		root, ok := roots[f.Name]
		if !ok {
			o.fail(x, path, apierr.New(apierr.BadRequest, "Cannot query field \"%s\" on type \"%s\".", f.Name, typeName))
			data[f.Alias] = nil
			continue
		}
		v, err := x.resolveRoot(ctx, o, root, f)
		if err != nil {
			o.fail(x, path, err)
			data[f.Alias] = nil
			continue
		}
		data[f.Alias] = v
	}
	return &Response{Data: data, Errors: o.errs}
}

// ErrorResponse reports a failure that happened before execution, such
// as an authentication error.
func (x *Executor) ErrorResponse(err error, developerMode bool) *Response {
	return &Response{Errors: gqlerror.List{x.toGQLError(nil, err, developerMode)}}
}

func (o *operation) fail(x *Executor, path ast.Path, err error) {
	o.errs = append(o.errs, x.toGQLError(path, err, o.cfg.IsDevelopmentMode()))
}

// toGQLError carries the sub-status as the error code extension.
func (x *Executor) toGQLError(path ast.Path, err error, developerMode bool) *gqlerror.Error {
	e := apierr.Classify(err)
	if e.Status >= 500 {
		x.logger.Error("graphql field failed", "path", path.String(), "sub_status", e.SubStatus, "error", err)
	}
	return &gqlerror.Error{
		Message: e.ClientMessage(developerMode),
		Path:    path,
		Extensions: map[string]any{
			"code":   string(e.SubStatus),
			"status": e.Status,
		},
	}
}

func selectOperation(doc *ast.QueryDocument, name string) (*ast.OperationDefinition, error) {
	if name != "" {
		op := doc.Operations.ForName(name)
		if op == nil {
			return nil, apierr.New(apierr.BadRequest, "Unknown operation named \"%s\".", name)
		}
		return op, nil
	}
	switch len(doc.Operations) {
	case 0:
		return nil, apierr.New(apierr.BadRequest, "The request contains no operation.")
	case 1:
		return doc.Operations[0], nil
	}
	return nil, apierr.New(apierr.BadRequest, "An operation name is required when the document contains several operations.")
}

// variables applies declared defaults to the supplied values.
func variables(op *ast.OperationDefinition, given map[string]any) map[string]any {
	out := make(map[string]any, len(given))
	for k, v := range given {
		out[k] = v
	}
	for _, vd := range op.VariableDefinitions {
		if _, ok := out[vd.Variable]; ok || vd.DefaultValue == nil {
			continue
		}
		if v, err := vd.DefaultValue.Value(nil); err == nil {
			out[vd.Variable] = v
		}
	}
	return out
}
