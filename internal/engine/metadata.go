package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"datagate/internal/apierr"
	"datagate/internal/config"
	"datagate/internal/dialect"
	"datagate/internal/sqlmeta"
)

// ReaderSource yields the introspection reader of a relational data source.
type ReaderSource interface {
	SchemaReader(dataSource string) (sqlmeta.SchemaReader, error)
}

// Metadata is the object arena of every entity across data sources.
type Metadata struct {
	providers map[string]*sqlmeta.Provider
	documents map[string]*sqlmeta.DatabaseObject
	entityDS  map[string]string
}

// LoadMetadata introspects every relational data source in name order and
// describes every document container.
func LoadMetadata(ctx context.Context, cfg *config.RuntimeConfig, readers ReaderSource, logger *slog.Logger) (*Metadata, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Metadata{
		providers: map[string]*sqlmeta.Provider{},
		documents: map[string]*sqlmeta.DatabaseObject{},
		entityDS:  map[string]string{},
	}
	for entity, ds := range cfg.EntityDataSource {
		m.entityDS[entity] = ds
	}
	names := make([]string, 0, len(cfg.DataSources))
	for name := range cfg.DataSources {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		ds := cfg.DataSources[name]
		if ds.DatabaseType == config.CosmosDB {
			for entity, e := range cfg.Entities {
				if cfg.EntityDataSource[entity] != name {
					continue
				}
				container := e.Source.Object
				if container == "" {
					container = ds.Options.Container
				}
				m.documents[entity] = sqlmeta.NewDocumentContainer(entity, container)
			}
			continue
		}
		d, err := dialect.For(ds.DatabaseType)
		if err != nil {
			return nil, err
		}
		reader, err := readers.SchemaReader(name)
		if err != nil {
			return nil, apierr.Wrap(err, apierr.ErrorInInitialization, "Cannot open data source %s.", name)
		}
		p := sqlmeta.NewProvider(name, d, reader, logger)
		if err := p.Initialize(ctx, cfg); err != nil {
			return nil, fmt.Errorf("data source %s: %w", name, err)
		}
		m.providers[name] = p
	}
	return m, nil
}

// NewMetadata assembles an arena from prepared objects, for tests and
// tools that skip introspection.
func NewMetadata(objects map[string]*sqlmeta.DatabaseObject, entityDS map[string]string) *Metadata {
	m := &Metadata{providers: map[string]*sqlmeta.Provider{}, documents: objects, entityDS: entityDS}
	return m
}

// Object returns the database object behind entity.
func (m *Metadata) Object(entity string) (*sqlmeta.DatabaseObject, bool) {
	if o, ok := m.documents[entity]; ok {
		return o, true
	}
	if p, ok := m.providers[m.entityDS[entity]]; ok {
		return p.Object(entity)
	}
	return nil, false
}

// ReferencingEntity decides which side of a relationship holds the
// foreign key for a nested write.
func (m *Metadata) ReferencingEntity(source, target string, sourceBody, targetBody map[string]any) (string, error) {
	src, ok := m.Object(source)
	if !ok || src.Schemaless {
		return "", apierr.New(apierr.NotSupported, "Nested writes are not supported for entity %s.", source)
	}
	tgt, ok := m.Object(target)
	if !ok || tgt.Schemaless {
		return "", apierr.New(apierr.NotSupported, "Nested writes are not supported for entity %s.", target)
	}
	return sqlmeta.ReferencingEntity(src, tgt, sourceBody, targetBody)
}
