package sqlmeta

import (
	"context"
	"log/slog"
	"slices"

	"datagate/internal/apierr"
	"datagate/internal/config"
	"datagate/internal/dialect"
)

// Provider holds the introspected objects of one data source. It is built
// once at startup and read-only afterwards.
type Provider struct {
	DataSource string
	Dialect    dialect.Dialect

	reader   SchemaReader
	logger   *slog.Logger
	objects  map[string]*DatabaseObject
	entities map[string]config.Entity
	fks      map[TableRef][]ForeignKeyInfo
}

func NewProvider(dataSource string, d dialect.Dialect, reader SchemaReader, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		DataSource: dataSource,
		Dialect:    d,
		reader:     reader,
		logger:     logger.With("component", "sqlmeta", "data_source", dataSource),
		objects:    map[string]*DatabaseObject{},
		entities:   map[string]config.Entity{},
		fks:        map[TableRef][]ForeignKeyInfo{},
	}
}

// Initialize introspects every entity bound to this data source and infers
// the foreign keys of their relationships.
func (p *Provider) Initialize(ctx context.Context, cfg *config.RuntimeConfig) error {
	names := make([]string, 0, len(cfg.Entities))
	for name := range cfg.Entities {
		if cfg.EntityDataSource[name] == p.DataSource {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	for _, name := range names {
		e := cfg.Entities[name]
		obj, err := p.load(ctx, name, e)
		if err != nil {
			return err
		}
		p.objects[name] = obj
		p.entities[name] = e
	}
	for _, name := range names {
		e := cfg.Entities[name]
		relNames := make([]string, 0, len(e.Relationships))
		for r := range e.Relationships {
			relNames = append(relNames, r)
		}
		slices.Sort(relNames)
		for _, r := range relNames {
			if err := p.inferRelationship(ctx, name, e.Relationships[r]); err != nil {
				return err
			}
		}
	}
	p.logger.Info("metadata initialized", "entities", len(names))
	return nil
}

func (p *Provider) tableRef(object string) TableRef {
	schema, name := config.EntitySource{Object: object}.SchemaAndName()
	if schema == "" {
		schema = p.Dialect.DefaultSchema
	}
	return TableRef{Schema: schema, Name: name}
}

func (p *Provider) load(ctx context.Context, name string, e config.Entity) (*DatabaseObject, error) {
	obj := &DatabaseObject{
		Entity:        name,
		Table:         p.tableRef(e.Source.Object),
		SourceType:    e.Source.Type,
		Relationships: map[string]*RelationshipMetadata{},
	}
	if e.IsStoredProcedure() {
		params, err := p.reader.Parameters(ctx, obj.Table)
		if err != nil {
			return nil, apierr.Wrap(err, apierr.ErrorInInitialization,
				"Cannot obtain Schema for entity %s with underlying database object source: %s.", name, obj.Table)
		}
		obj.Parameters = params
		for configured := range e.Source.Parameters {
			if !slices.ContainsFunc(params, func(pi ParameterInfo) bool { return pi.Name == configured }) {
				return nil, apierr.New(apierr.ConfigValidationError,
					"The parameter %s configured for stored procedure entity %s does not exist in %s.", configured, name, obj.Table)
			}
		}
		obj.index()
		return obj, nil
	}

	cols, err := p.reader.Columns(ctx, obj.Table)
	if err != nil {
		return nil, apierr.Wrap(err, apierr.ErrorInInitialization,
			"Cannot obtain Schema for entity %s with underlying database object source: %s.", name, obj.Table)
	}
	if len(cols) == 0 {
		return nil, apierr.New(apierr.ErrorInInitialization,
			"Cannot obtain Schema for entity %s with underlying database object source: %s.", name, obj.Table)
	}
	for _, c := range cols {
		obj.Columns = append(obj.Columns, Column{
			Name:          c.Name,
			Exposed:       e.ExposedName(c.Name),
			DataType:      c.DataType,
			Kind:          KindOf(c.DataType),
			Nullable:      c.Nullable,
			HasDefault:    c.HasDefault,
			AutoGenerated: c.AutoGenerated,
		})
	}
	obj.index()
	for backing := range e.Mappings {
		if _, ok := obj.Column(backing); !ok {
			return nil, apierr.New(apierr.ConfigValidationError,
				"Mapped column %s of entity %s does not exist in %s.", backing, name, obj.Table)
		}
	}

	if len(e.Source.KeyFields) > 0 {
		for _, f := range e.Source.KeyFields {
			if _, ok := obj.Column(f); !ok {
				return nil, apierr.New(apierr.ConfigValidationError,
					"Cannot define primary key for %s: field %s does not exist.", name, f)
			}
		}
		obj.PrimaryKey = slices.Clone(e.Source.KeyFields)
		return obj, nil
	}
	pk, err := p.reader.PrimaryKey(ctx, obj.Table)
	if err != nil {
		return nil, apierr.Wrap(err, apierr.ErrorInInitialization,
			"Cannot obtain primary key of %s.", obj.Table)
	}
	if len(pk) == 0 && e.Source.Type == config.Table {
		return nil, apierr.New(apierr.ErrorInInitialization,
			"Primary key not configured on the given database object %s.", obj.Table)
	}
	obj.PrimaryKey = pk
	return obj, nil
}

// Object returns the metadata of entity.
func (p *Provider) Object(entity string) (*DatabaseObject, bool) {
	o, ok := p.objects[entity]
	return o, ok
}

// Entities lists the entities served by this data source.
func (p *Provider) Entities() []string {
	out := make([]string, 0, len(p.objects))
	for n := range p.objects {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
