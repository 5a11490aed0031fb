package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DatabaseType is the closed set of supported backends.
type DatabaseType string

const (
	MSSQL      DatabaseType = "mssql"
	MySQL      DatabaseType = "mysql"
	PostgreSQL DatabaseType = "postgresql"
	CosmosDB   DatabaseType = "cosmosdb_nosql"
)

func (d DatabaseType) IsRelational() bool {
	return d == MSSQL || d == MySQL || d == PostgreSQL
}

// HostMode controls error verbosity and is fixed for the process lifetime.
type HostMode string

const (
	Development HostMode = "development"
	Production  HostMode = "production"
)

// SourceType is the kind of database object backing an entity.
type SourceType string

const (
	Table           SourceType = "table"
	View            SourceType = "view"
	StoredProcedure SourceType = "stored-procedure"
)

// Default values applied to a minimal config.
const (
	DefaultRestPath        = "/api"
	DefaultGraphQLPath     = "/graphql"
	DefaultPageSize        = 100
	DefaultMaxPageSize     = 100000
	DefaultCacheTTLSeconds = 5

	StaticWebAppsProvider = "StaticWebApps"
	AppServiceProvider    = "AppService"
	JwtProvider           = "AzureAD"
	SimulatorProvider     = "Simulator"
)

// RuntimeConfig is an immutable snapshot of the whole configuration.
// Nothing mutates a RuntimeConfig after the loader returns it.
type RuntimeConfig struct {
	Schema          string            `json:"$schema,omitempty"`
	DataSource      DataSource        `json:"data-source"`
	DataSourceFiles []string          `json:"data-source-files,omitempty"`
	Runtime         Runtime           `json:"runtime"`
	Entities        map[string]Entity `json:"entities"`

	// Derived at load time.
	DefaultDataSourceName string                `json:"-"`
	DataSources           map[string]DataSource `json:"-"`
	EntityDataSource      map[string]string     `json:"-"`
}

type DataSource struct {
	DatabaseType     DatabaseType      `json:"database-type"`
	ConnectionString string            `json:"connection-string"`
	Options          DataSourceOptions `json:"options,omitempty"`

	// AccessToken is only set through late configuration.
	AccessToken string `json:"-"`
}

type DataSourceOptions struct {
	SetSessionContext bool   `json:"set-session-context,omitempty"`
	RetryDelayMs      int    `json:"retry-delay-ms,omitempty"`
	Database          string `json:"database,omitempty"`
	Container         string `json:"container,omitempty"`
	// PartitionKey names the document field holding the partition key.
	PartitionKey      string `json:"partition-key,omitempty"`
	Schema            string `json:"schema,omitempty"`
}

type Runtime struct {
	Rest       RestOptions       `json:"rest"`
	GraphQL    GraphQLOptions    `json:"graphql"`
	Host       HostOptions       `json:"host"`
	Cache      CacheOptions      `json:"cache"`
	Pagination PaginationOptions `json:"pagination"`
}

type RestOptions struct {
	Enabled           bool   `json:"enabled"`
	Path              string `json:"path"`
	RequestBodyStrict bool   `json:"request-body-strict"`
}

type GraphQLOptions struct {
	Enabled            bool   `json:"enabled"`
	Path               string `json:"path"`
	AllowIntrospection bool   `json:"allow-introspection"`
}

type HostOptions struct {
	Mode           HostMode              `json:"mode"`
	Cors           CorsOptions           `json:"cors"`
	Authentication AuthenticationOptions `json:"authentication"`
}

type CorsOptions struct {
	Origins          []string `json:"origins"`
	AllowCredentials bool     `json:"allow-credentials"`
}

type AuthenticationOptions struct {
	Provider string      `json:"provider"`
	Jwt      *JwtOptions `json:"jwt,omitempty"`
}

type JwtOptions struct {
	Audience string `json:"audience"`
	Issuer   string `json:"issuer"`
	// Key is the HMAC secret used to verify bearer tokens.
	Key string `json:"key,omitempty"`
}

type CacheOptions struct {
	Enabled    bool           `json:"enabled"`
	TTLSeconds int            `json:"ttl-seconds"`
	Level2     *Level2Options `json:"level-2,omitempty"`
}

type Level2Options struct {
	Enabled          bool   `json:"enabled"`
	Provider         string `json:"provider"`
	ConnectionString string `json:"connection-string"`
	Partition        string `json:"partition,omitempty"`
}

type PaginationOptions struct {
	DefaultPageSize int `json:"default-page-size"`
	MaxPageSize     int `json:"max-page-size"`
}

// DefaultRuntime returns the runtime section a minimal config resolves to.
func DefaultRuntime() Runtime {
	return Runtime{
		Rest:    RestOptions{Enabled: true, Path: DefaultRestPath},
		GraphQL: GraphQLOptions{Enabled: true, Path: DefaultGraphQLPath, AllowIntrospection: true},
		Host: HostOptions{
			Mode:           Production,
			Cors:           CorsOptions{Origins: []string{}},
			Authentication: AuthenticationOptions{Provider: StaticWebAppsProvider},
		},
		Cache:      CacheOptions{TTLSeconds: DefaultCacheTTLSeconds},
		Pagination: PaginationOptions{DefaultPageSize: DefaultPageSize, MaxPageSize: DefaultMaxPageSize},
	}
}

func (c *RuntimeConfig) IsDevelopmentMode() bool {
	return c.Runtime.Host.Mode == Development
}

// IsStaticWebAppsIdentityProvider matches the provider name case-insensitively.
func (c *RuntimeConfig) IsStaticWebAppsIdentityProvider() bool {
	return strings.EqualFold(c.Runtime.Host.Authentication.Provider, StaticWebAppsProvider)
}

// DataSourceFor returns the data source serving the entity.
func (c *RuntimeConfig) DataSourceFor(entity string) (string, DataSource, bool) {
	name, ok := c.EntityDataSource[entity]
	if !ok {
		return "", DataSource{}, false
	}
	ds, ok := c.DataSources[name]
	return name, ds, ok
}

// Entity ---------------------------------------------------------------------

type Entity struct {
	Source        EntitySource            `json:"source"`
	Rest          EntityRest              `json:"rest"`
	GraphQL       EntityGraphQL           `json:"graphql"`
	Permissions   []EntityPermission      `json:"permissions"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
	Mappings      map[string]string       `json:"mappings,omitempty"`
	Cache         *EntityCache            `json:"cache,omitempty"`
}

func (e *Entity) UnmarshalJSON(b []byte) error {
	type plain Entity
	p := plain{
		Rest:    EntityRest{Enabled: true},
		GraphQL: EntityGraphQL{Enabled: true},
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	if p.Source.Type == "" {
		p.Source.Type = Table
	}
	*e = Entity(p)
	return nil
}

func (e Entity) IsStoredProcedure() bool { return e.Source.Type == StoredProcedure }

// ExposedName maps a backing column to the name clients see.
func (e Entity) ExposedName(backing string) string {
	if alias, ok := e.Mappings[backing]; ok && alias != "" {
		return alias
	}
	return backing
}

// BackingName maps an exposed field back to its column.
func (e Entity) BackingName(exposed string) string {
	for col, alias := range e.Mappings {
		if alias == exposed {
			return col
		}
	}
	return exposed
}

type EntitySource struct {
	Object     string         `json:"object"`
	Type       SourceType     `json:"type"`
	KeyFields  []string       `json:"key-fields,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// UnmarshalJSON accepts either "schema.object" or the full object form.
func (s *EntitySource) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = EntitySource{Object: str, Type: Table}
		return nil
	}
	type plain EntitySource
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	p.Type = SourceType(strings.ToLower(string(p.Type)))
	*s = EntitySource(p)
	return nil
}

// SchemaAndName splits Object on its last dot.
func (s EntitySource) SchemaAndName() (string, string) {
	obj := strings.TrimSpace(s.Object)
	if i := strings.LastIndex(obj, "."); i >= 0 {
		return unbracket(obj[:i]), unbracket(obj[i+1:])
	}
	return "", unbracket(obj)
}

func unbracket(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	return strings.Trim(s, "\"`")
}

type EntityRest struct {
	Enabled bool     `json:"enabled"`
	Path    string   `json:"path,omitempty"`
	Methods []string `json:"methods,omitempty"`
}

// UnmarshalJSON accepts a bare boolean or the object form.
func (r *EntityRest) UnmarshalJSON(b []byte) error {
	var on bool
	if err := json.Unmarshal(b, &on); err == nil {
		*r = EntityRest{Enabled: on}
		return nil
	}
	type plain EntityRest
	p := plain{Enabled: true}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = EntityRest(p)
	return nil
}

type EntityGraphQL struct {
	Enabled   bool   `json:"enabled"`
	Singular  string `json:"-"`
	Plural    string `json:"-"`
	Operation string `json:"operation,omitempty"`
}

type graphQLType struct {
	Singular string `json:"singular,omitempty"`
	Plural   string `json:"plural,omitempty"`
}

// UnmarshalJSON accepts a boolean, a singular type name, or the object form
// whose "type" is itself a string or {singular, plural}.
func (g *EntityGraphQL) UnmarshalJSON(b []byte) error {
	var on bool
	if err := json.Unmarshal(b, &on); err == nil {
		*g = EntityGraphQL{Enabled: on}
		return nil
	}
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		*g = EntityGraphQL{Enabled: true, Singular: name}
		return nil
	}
	raw := struct {
		Enabled   *bool           `json:"enabled"`
		Type      json.RawMessage `json:"type"`
		Operation string          `json:"operation"`
	}{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := EntityGraphQL{Enabled: true, Operation: strings.ToLower(raw.Operation)}
	if raw.Enabled != nil {
		out.Enabled = *raw.Enabled
	}
	if len(raw.Type) > 0 {
		if err := json.Unmarshal(raw.Type, &out.Singular); err != nil {
			var t graphQLType
			if err := json.Unmarshal(raw.Type, &t); err != nil {
				return fmt.Errorf("graphql.type: %w", err)
			}
			out.Singular, out.Plural = t.Singular, t.Plural
		}
	}
	*g = out
	return nil
}

func (g EntityGraphQL) MarshalJSON() ([]byte, error) {
	out := map[string]any{"enabled": g.Enabled}
	if g.Singular != "" || g.Plural != "" {
		out["type"] = graphQLType{Singular: g.Singular, Plural: g.Plural}
	}
	if g.Operation != "" {
		out["operation"] = g.Operation
	}
	return json.Marshal(out)
}

type EntityCache struct {
	Enabled    bool `json:"enabled"`
	TTLSeconds int  `json:"ttl-seconds,omitempty"`
}

// Permissions ----------------------------------------------------------------

type EntityPermission struct {
	Role    string         `json:"role"`
	Actions []EntityAction `json:"actions"`
}

// Operation is a permission action name. Upsert variants only classify
// requests internally and are rejected in configuration.
type Operation string

const (
	OpCreate            Operation = "create"
	OpRead              Operation = "read"
	OpUpdate            Operation = "update"
	OpDelete            Operation = "delete"
	OpExecute           Operation = "execute"
	OpUpsert            Operation = "upsert"
	OpUpsertIncremental Operation = "upsert-incremental"
	OpAll               Operation = "*"
)

var knownOperations = map[string]Operation{
	"create":             OpCreate,
	"read":               OpRead,
	"update":             OpUpdate,
	"delete":             OpDelete,
	"execute":            OpExecute,
	"upsert":             OpUpsert,
	"upsert-incremental": OpUpsertIncremental,
	"*":                  OpAll,
	"all":                OpAll,
}

// ParseOperation matches case-insensitively.
func ParseOperation(s string) (Operation, bool) {
	op, ok := knownOperations[strings.ToLower(strings.TrimSpace(s))]
	return op, ok
}

// TableOperations are the operations "*" expands to for tables and views.
var TableOperations = []Operation{OpCreate, OpRead, OpUpdate, OpDelete}

// ActionKind tags EntityAction as wildcard or a single named operation.
type ActionKind int

const (
	NamedAction ActionKind = iota
	WildcardAction
)

type EntityAction struct {
	Kind   ActionKind
	Name   string
	Op     Operation
	Fields *ActionFields
	Policy *ActionPolicy
}

type ActionFields struct {
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

type ActionPolicy struct {
	Request  string `json:"request,omitempty"`
	Database string `json:"database,omitempty"`
}

// HasDatabasePolicy treats empty and whitespace-only policies as absent.
func (a EntityAction) HasDatabasePolicy() bool {
	return a.Policy != nil && strings.TrimSpace(a.Policy.Database) != ""
}

type actionJSON struct {
	Action string        `json:"action"`
	Fields *ActionFields `json:"fields,omitempty"`
	Policy *ActionPolicy `json:"policy,omitempty"`
}

// UnmarshalJSON accepts "read" or {"action":"read","fields":...,"policy":...}.
// Unknown action names are kept so validation can report them.
func (a *EntityAction) UnmarshalJSON(b []byte) error {
	var raw actionJSON
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		raw.Action = name
	} else if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := EntityAction{Name: raw.Action, Fields: raw.Fields, Policy: raw.Policy}
	if op, ok := ParseOperation(raw.Action); ok {
		out.Op = op
		if op == OpAll {
			out.Kind = WildcardAction
		}
	}
	*a = out
	return nil
}

func (a EntityAction) MarshalJSON() ([]byte, error) {
	if a.Fields == nil && a.Policy == nil {
		return json.Marshal(a.Name)
	}
	return json.Marshal(actionJSON{Action: a.Name, Fields: a.Fields, Policy: a.Policy})
}

// Relationships --------------------------------------------------------------

type Cardinality string

const (
	One  Cardinality = "one"
	Many Cardinality = "many"
)

type Relationship struct {
	Cardinality         Cardinality `json:"cardinality"`
	TargetEntity        string      `json:"target.entity"`
	SourceFields        []string    `json:"source.fields,omitempty"`
	TargetFields        []string    `json:"target.fields,omitempty"`
	LinkingObject       string      `json:"linking.object,omitempty"`
	LinkingSourceFields []string    `json:"linking.source.fields,omitempty"`
	LinkingTargetFields []string    `json:"linking.target.fields,omitempty"`
}
