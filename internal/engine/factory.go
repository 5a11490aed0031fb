package engine

import (
	"datagate/internal/apierr"
	"datagate/internal/config"
	"datagate/internal/executor"
)

// Factory routes an entity to the engine of its data source type.
type Factory struct {
	cfg     executor.ConfigSource
	engines map[config.DatabaseType]Engine
}

func NewFactory(cfg executor.ConfigSource, engines map[config.DatabaseType]Engine) *Factory {
	return &Factory{cfg: cfg, engines: engines}
}

// For returns the engine serving entity under the current snapshot.
func (f *Factory) For(entity string) (Engine, error) {
	cfg, err := f.cfg.GetConfig()
	if err != nil {
		return nil, err
	}
	name, ds, ok := cfg.DataSourceFor(entity)
	if !ok {
		return nil, apierr.New(apierr.DataSourceNotFound, "No data source is configured for entity %s.", entity)
	}
	e, ok := f.engines[ds.DatabaseType]
	if !ok {
		return nil, apierr.New(apierr.NotSupported, "Data source %s of type %s has no query engine.", name, ds.DatabaseType)
	}
	return e, nil
}

func (f *Factory) QueryEngine(entity string) (QueryEngine, error) { return f.For(entity) }

func (f *Factory) MutationEngine(entity string) (MutationEngine, error) { return f.For(entity) }
