// Package validation checks a runtime config as a whole before it is
// served: data sources, permissions and policies, relationships, generated
// GraphQL names and REST paths.
package validation

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"datagate/internal/apierr"
	"datagate/internal/authz"
	"datagate/internal/config"
	"datagate/internal/naming"
)

// Issue is one validation finding.
type Issue struct {
	Entity  string `json:"entity,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i Issue) Error() string { return i.Message }

// Issue codes.
const (
	CodeDataSource    = "data_source"
	CodeEntityName    = "entity_name"
	CodePermission    = "permission"
	CodePolicy        = "policy"
	CodeRelationship  = "relationship"
	CodeGraphQLName   = "graphql_name"
	CodeRestPath      = "rest_path"
	CodeRuntime       = "runtime"
	CodeSchemaMapping = "schema_mapping"
)

type Validator struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger.With("component", "config-validator")}
}

// Issues runs every static check and returns the findings in a stable
// order.
func (v *Validator) Issues(cfg *config.RuntimeConfig) []Issue {
	var issues []Issue
	issues = append(issues, CheckRuntime(cfg)...)
	issues = append(issues, CheckDataSources(cfg)...)
	issues = append(issues, CheckEntityNames(cfg)...)
	issues = append(issues, CheckPermissions(cfg)...)
	issues = append(issues, CheckRelationships(cfg)...)
	issues = append(issues, CheckGraphQLNames(cfg)...)
	issues = append(issues, CheckRestPaths(cfg)...)
	return issues
}

// Validate is Issues as an error: nil, or a ConfigValidationError listing
// every finding.
func (v *Validator) Validate(cfg *config.RuntimeConfig) error {
	issues := v.Issues(cfg)
	if len(issues) == 0 {
		return nil
	}
	msgs := make([]string, len(issues))
	for i, is := range issues {
		msgs[i] = is.Message
		v.logger.Error("config validation failed", "entity", is.Entity, "code", is.Code, "message", is.Message)
	}
	return apierr.New(apierr.ConfigValidationError, "%s", strings.Join(msgs, " "))
}

func sortedEntities(cfg *config.RuntimeConfig) []string {
	names := make([]string, 0, len(cfg.Entities))
	for name := range cfg.Entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func CheckRuntime(cfg *config.RuntimeConfig) []Issue {
	var issues []Issue
	add := func(format string, args ...any) {
		issues = append(issues, Issue{Code: CodeRuntime, Message: fmt.Sprintf(format, args...)})
	}
	rt := cfg.Runtime
	switch rt.Host.Mode {
	case config.Development, config.Production:
	default:
		add("Host mode %s is not one of development, production.", rt.Host.Mode)
	}
	if p := rt.Pagination; p.DefaultPageSize > p.MaxPageSize {
		add("Pagination default-page-size %d cannot exceed max-page-size %d.", p.DefaultPageSize, p.MaxPageSize)
	}
	if rt.Cache.TTLSeconds < 0 {
		add("Cache ttl-seconds cannot be negative.")
	}
	if l2 := rt.Cache.Level2; l2 != nil && l2.Enabled {
		if !strings.EqualFold(l2.Provider, "redis") && l2.Provider != "" {
			add("Level 2 cache provider %s is not supported.", l2.Provider)
		}
		if strings.TrimSpace(l2.ConnectionString) == "" {
			add("Level 2 cache requires a connection-string.")
		}
	}
	if strings.EqualFold(rt.Host.Authentication.Provider, config.JwtProvider) {
		jwt := rt.Host.Authentication.Jwt
		if jwt == nil || jwt.Audience == "" || jwt.Issuer == "" {
			add("Authentication with %s requires jwt audience and issuer.", config.JwtProvider)
		}
	}
	return issues
}

func CheckDataSources(cfg *config.RuntimeConfig) []Issue {
	var issues []Issue
	names := make([]string, 0, len(cfg.DataSources))
	for name := range cfg.DataSources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ds := cfg.DataSources[name]
		switch ds.DatabaseType {
		case config.MSSQL, config.MySQL, config.PostgreSQL:
			if strings.TrimSpace(ds.ConnectionString) == "" {
				issues = append(issues, Issue{Code: CodeDataSource,
					Message: fmt.Sprintf("Data source %s has no connection-string.", name)})
			}
		case config.CosmosDB:
			if strings.TrimSpace(ds.ConnectionString) == "" {
				issues = append(issues, Issue{Code: CodeDataSource,
					Message: fmt.Sprintf("Data source %s has no connection-string.", name)})
			}
			if ds.Options.Database == "" {
				issues = append(issues, Issue{Code: CodeDataSource,
					Message: fmt.Sprintf("Cosmos DB data source %s requires options.database.", name)})
			}
		default:
			issues = append(issues, Issue{Code: CodeDataSource,
				Message: fmt.Sprintf("Data source %s has unsupported database-type %q.", name, ds.DatabaseType)})
		}
	}
	for _, entity := range sortedEntities(cfg) {
		if _, _, ok := cfg.DataSourceFor(entity); !ok {
			issues = append(issues, Issue{Entity: entity, Code: CodeDataSource,
				Message: fmt.Sprintf("Entity %s has no data source.", entity)})
		}
	}
	return issues
}

// CheckEntityNames requires GraphQL-safe names for every entity exposed
// over GraphQL, including singular and plural overrides.
func CheckEntityNames(cfg *config.RuntimeConfig) []Issue {
	var issues []Issue
	for _, name := range sortedEntities(cfg) {
		e := cfg.Entities[name]
		if strings.TrimSpace(e.Source.Object) == "" {
			issues = append(issues, Issue{Entity: name, Code: CodeEntityName,
				Message: fmt.Sprintf("Entity %s has no source object.", name)})
		}
		if !e.GraphQL.Enabled {
			continue
		}
		for _, n := range []string{name, e.GraphQL.Singular, e.GraphQL.Plural} {
			if n != "" && !naming.IsValidGraphQLName(n) {
				issues = append(issues, Issue{Entity: name, Code: CodeEntityName,
					Message: fmt.Sprintf("Entity %s contains characters disallowed by GraphQL.", n)})
			}
		}
	}
	return issues
}

// CheckPermissions validates the permission matrix of every entity.
func CheckPermissions(cfg *config.RuntimeConfig) []Issue {
	var issues []Issue
	staticWebApps := cfg.IsStaticWebAppsIdentityProvider()
	for _, name := range sortedEntities(cfg) {
		e := cfg.Entities[name]
		for _, p := range e.Permissions {
			if strings.TrimSpace(p.Role) == "" {
				issues = append(issues, Issue{Entity: name, Code: CodePermission,
					Message: fmt.Sprintf("Entity %s has a permission without a role.", name)})
			}
			for _, a := range p.Actions {
				if err := checkAction(name, e, p.Role, a, staticWebApps); err != nil {
					issues = append(issues, *err)
				}
			}
		}
	}
	return issues
}

func checkAction(entity string, e config.Entity, role string, a config.EntityAction, staticWebApps bool) *Issue {
	fail := func(code, format string, args ...any) *Issue {
		return &Issue{Entity: entity, Code: code, Message: fmt.Sprintf(format, args...)}
	}
	switch {
	case a.Op == "":
		return fail(CodePermission, "action:%s specified for entity:%s, role:%s is not valid.", a.Name, entity, role)
	case a.Op == config.OpUpsert || a.Op == config.OpUpsertIncremental:
		return fail(CodePermission, "action:%s specified for entity:%s, role:%s is not valid.", a.Name, entity, role)
	case e.IsStoredProcedure() && a.Op != config.OpExecute && a.Kind != config.WildcardAction:
		return fail(CodePermission,
			"Invalid operation for Entity: %s. Stored procedures can only be configured with the 'execute' operation.", entity)
	case !e.IsStoredProcedure() && a.Op == config.OpExecute:
		return fail(CodePermission,
			"Invalid operation for Entity: %s. The 'execute' operation is only valid for stored procedures.", entity)
	}

	label := naming.Pascal(a.Name)
	if a.Fields != nil {
		if hasWildcardWithOthers(a.Fields.Include) {
			return fail(CodePermission,
				"No other field can be present with wildcard in the included set for: entity:%s, role:%s, action:%s.", entity, role, label)
		}
		if hasWildcardWithOthers(a.Fields.Exclude) {
			return fail(CodePermission,
				"No other field can be present with wildcard in the excluded set for: entity:%s, role:%s, action:%s.", entity, role, label)
		}
	}

	if !a.HasDatabasePolicy() {
		return nil
	}
	policy := a.Policy.Database
	if e.IsStoredProcedure() {
		return fail(CodePolicy, "Database policy is not supported for stored procedure entity: %s.", entity)
	}
	if err := authz.ValidateClaims(policy, staticWebApps); err != nil {
		return fail(CodePolicy, "%s", apierr.Classify(err).Message)
	}
	for _, f := range authz.PolicyFields(policy) {
		if !fieldAccessible(a.Fields, f) {
			return fail(CodePolicy, "%s", authz.PolicyColumnsNotAllowed)
		}
	}
	return nil
}

func hasWildcardWithOthers(set []string) bool {
	if len(set) < 2 {
		return false
	}
	for _, f := range set {
		if f == "*" {
			return true
		}
	}
	return false
}

// fieldAccessible mirrors the resolver: a field is usable when included,
// explicitly or by wildcard, and not excluded.
func fieldAccessible(fields *config.ActionFields, f string) bool {
	if fields == nil {
		return true
	}
	for _, x := range fields.Exclude {
		if x == "*" || x == f {
			return false
		}
	}
	if fields.Include == nil {
		return true
	}
	for _, x := range fields.Include {
		if x == "*" || x == f {
			return true
		}
	}
	return false
}

// CheckRelationships checks what can be known without the database:
// targets exist on the same data source and field lists pair up.
func CheckRelationships(cfg *config.RuntimeConfig) []Issue {
	var issues []Issue
	for _, name := range sortedEntities(cfg) {
		e := cfg.Entities[name]
		relNames := make([]string, 0, len(e.Relationships))
		for r := range e.Relationships {
			relNames = append(relNames, r)
		}
		sort.Strings(relNames)
		for _, rn := range relNames {
			r := e.Relationships[rn]
			add := func(format string, args ...any) {
				issues = append(issues, Issue{Entity: name, Code: CodeRelationship, Message: fmt.Sprintf(format, args...)})
			}
			target, ok := cfg.Entities[r.TargetEntity]
			if !ok {
				add("Entity: %s used for relationship is not defined in the config.", r.TargetEntity)
				continue
			}
			if !e.GraphQL.Enabled {
				add("Entity: %s is disabled for GraphQL.", name)
				continue
			}
			if !target.GraphQL.Enabled {
				add("Entity: %s is disabled for GraphQL.", r.TargetEntity)
				continue
			}
			if r.Cardinality != config.One && r.Cardinality != config.Many {
				add("Relationship %s of entity %s has invalid cardinality %q.", rn, name, r.Cardinality)
			}
			if cfg.EntityDataSource[name] != cfg.EntityDataSource[r.TargetEntity] {
				add("Cannot define relationship for entity: %s to entity: %s on a different data source.", name, r.TargetEntity)
				continue
			}
			if len(r.SourceFields) != len(r.TargetFields) && len(r.SourceFields) > 0 && len(r.TargetFields) > 0 {
				add("Entity: %s has a relationship: %s with source.fields and target.fields of different lengths.", name, rn)
			}
			if r.LinkingObject == "" {
				if len(r.LinkingSourceFields) > 0 || len(r.LinkingTargetFields) > 0 {
					add("Entity: %s has a relationship: %s with linking fields but no linking.object.", name, rn)
				}
				continue
			}
			if len(r.LinkingSourceFields) > 0 && len(r.SourceFields) > 0 && len(r.LinkingSourceFields) != len(r.SourceFields) {
				add("Entity: %s has a relationship: %s with source.fields and linking.source.fields of different lengths.", name, rn)
			}
			if len(r.LinkingTargetFields) > 0 && len(r.TargetFields) > 0 && len(r.LinkingTargetFields) != len(r.TargetFields) {
				add("Entity: %s has a relationship: %s with target.fields and linking.target.fields of different lengths.", name, rn)
			}
		}
	}
	return issues
}

// CheckGraphQLNames rejects entities whose generated root fields collide
// with those of another entity or with each other.
func CheckGraphQLNames(cfg *config.RuntimeConfig) []Issue {
	var issues []Issue
	queries := map[string]string{}
	mutations := map[string]string{}
	for _, name := range sortedEntities(cfg) {
		e := cfg.Entities[name]
		var collided []string
		for _, f := range naming.RootFields(name, e) {
			seen := queries
			if f.IsMutation {
				seen = mutations
			}
			if _, ok := seen[f.Name]; ok {
				collided = append(collided, f.Name)
				continue
			}
			seen[f.Name] = name
		}
		if len(collided) > 0 {
			issues = append(issues, Issue{Entity: name, Code: CodeGraphQLName,
				Message: fmt.Sprintf("Entity %s generates queries/mutation that already exist: %s", name, strings.Join(collided, ", "))})
		}
	}
	return issues
}

// invalidPathChars are the characters a REST path segment may not carry.
var invalidPathChars = regexp.MustCompile(`[\s?#\[\]@!$&'()*+,;=%\\]`)

// CheckRestPaths validates the global paths and requires unique entity
// paths.
func CheckRestPaths(cfg *config.RuntimeConfig) []Issue {
	var issues []Issue
	rest, gql := cfg.Runtime.Rest.Path, cfg.Runtime.GraphQL.Path
	for _, p := range []string{rest, gql} {
		if !strings.HasPrefix(p, "/") || invalidPathChars.MatchString(p) {
			issues = append(issues, Issue{Code: CodeRestPath, Message: fmt.Sprintf("Path %s must start with '/' and contain no reserved characters.", p)})
		}
	}
	if cfg.Runtime.Rest.Enabled && cfg.Runtime.GraphQL.Enabled && strings.EqualFold(rest, gql) {
		issues = append(issues, Issue{Code: CodeRestPath, Message: "Conflicting GraphQL and REST path configuration."})
	}

	seen := map[string]string{}
	for _, name := range sortedEntities(cfg) {
		e := cfg.Entities[name]
		if !e.Rest.Enabled {
			continue
		}
		p := naming.RestPath(name, e)
		if p == "" || invalidPathChars.MatchString(p) {
			issues = append(issues, Issue{Entity: name, Code: CodeRestPath,
				Message: fmt.Sprintf("The rest path: %s specified for entity: %s contains one or more reserved characters.", p, name)})
			continue
		}
		key := strings.ToLower(p)
		if owner, ok := seen[key]; ok {
			issues = append(issues, Issue{Entity: name, Code: CodeRestPath,
				Message: fmt.Sprintf("The rest path: %s specified for entity: %s is already used by another entity: %s.", p, name, owner)})
			continue
		}
		seen[key] = name
	}
	return issues
}

// ValidatePermissionsInConfig is CheckPermissions as an error carrying
// the first finding.
func ValidatePermissionsInConfig(cfg *config.RuntimeConfig) error {
	return firstError(CheckPermissions(cfg))
}

func firstError(issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}
	return apierr.New(apierr.ConfigValidationError, "%s", issues[0].Message)
}
