package config

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"datagate/internal/apierr"
)

// State of a Provider.
type State int

const (
	Unloaded State = iota
	Loaded
	Watching
	PendingUpdate
)

func (s State) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Watching:
		return "watching"
	case PendingUpdate:
		return "pending-update"
	default:
		return "unloaded"
	}
}

// ProviderOptions configures a Provider.
type ProviderOptions struct {
	// Path of the config file. Empty means the config arrives later
	// through Initialize.
	Path      string
	HotReload bool
	Logger    *slog.Logger
	// Validate runs on every reloaded snapshot before it is published.
	Validate func(*RuntimeConfig) error
}

// Provider owns the live RuntimeConfig. Readers get whole snapshots; a
// reload publishes a new snapshot only after it parsed and validated.
type Provider struct {
	opts   ProviderOptions
	logger *slog.Logger

	current atomic.Pointer[RuntimeConfig]

	mu           sync.Mutex
	state        State
	lateConfig   bool
	watcher      *FileWatcher
	reloadErr    error
	subscribers  []func(*RuntimeConfig)
	reloadEvents int
}

func NewProvider(opts ProviderOptions) *Provider {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{opts: opts, logger: logger.With("component", "config-provider")}
}

// NewStaticProvider serves a fixed config, mostly for tests and tools.
func NewStaticProvider(cfg *RuntimeConfig) *Provider {
	p := NewProvider(ProviderOptions{})
	p.current.Store(cfg)
	p.state = Loaded
	return p
}

// GetConfig returns the live snapshot, loading it on first use. The first
// successful file load starts the watcher when hot reload is enabled.
func (p *Provider) GetConfig() (*RuntimeConfig, error) {
	if c := p.current.Load(); c != nil {
		return c, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.current.Load(); c != nil {
		return c, nil
	}
	if p.opts.Path == "" {
		return nil, apierr.New(apierr.ErrorInInitialization, "Runtime config isn't setup.")
	}
	cfg, err := LoadFile(p.opts.Path, ParseOptions{})
	if err != nil {
		return nil, err
	}
	p.current.Store(cfg)
	p.state = Loaded
	if p.opts.HotReload {
		p.startWatchingLocked()
	}
	return cfg, nil
}

// TryGetConfig never loads.
func (p *Provider) TryGetConfig() (*RuntimeConfig, bool) {
	c := p.current.Load()
	return c, c != nil
}

func (p *Provider) startWatchingLocked() {
	w, err := NewFileWatcher(p.opts.Path, p.logger, func() { _ = p.HotReload() })
	if err != nil {
		p.logger.Warn("hot reload disabled", "error", err)
		return
	}
	if err := w.Start(context.Background()); err != nil {
		p.logger.Warn("hot reload disabled", "error", err)
		return
	}
	p.watcher = w
	p.state = Watching
}

// Initialize loads a config supplied at runtime (hosted scenario). The
// access token, when present, is used for the default data source instead
// of a platform credential.
func (p *Provider) Initialize(content []byte, accessToken string) (*RuntimeConfig, error) {
	p.mu.Lock()
	if p.current.Load() != nil {
		p.mu.Unlock()
		return nil, apierr.New(apierr.ConfigAlreadyLoaded, "A configuration has already been loaded.")
	}
	cfg, err := ParseConfig(content, ParseOptions{})
	if err == nil {
		if accessToken != "" {
			setAccessToken(cfg, accessToken)
		}
		if p.opts.Validate != nil {
			err = p.opts.Validate(cfg)
		}
	}
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.current.Store(cfg)
	p.state = Loaded
	p.lateConfig = true
	subs := append([]func(*RuntimeConfig){}, p.subscribers...)
	p.mu.Unlock()

	notify(subs, cfg)
	return cfg, nil
}

func setAccessToken(cfg *RuntimeConfig, token string) {
	ds := cfg.DataSources[cfg.DefaultDataSourceName]
	ds.AccessToken = token
	cfg.DataSources[cfg.DefaultDataSourceName] = ds
	cfg.DataSource.AccessToken = token
}

// HotReload re-reads the file and publishes the hot-reloadable subset. On a
// parse or validation failure the live snapshot stays in place.
func (p *Provider) HotReload() error {
	p.mu.Lock()
	live := p.current.Load()
	if live == nil || p.opts.Path == "" {
		p.mu.Unlock()
		return nil
	}
	prev := p.state
	p.state = PendingUpdate
	p.reloadEvents++

	next, err := LoadFile(p.opts.Path, ParseOptions{DefaultDataSourceName: live.DefaultDataSourceName})
	modeChanged := false
	if err == nil {
		modeChanged = next.Runtime.Host.Mode != live.Runtime.Host.Mode
		next = mergeHotReloadable(live, next)
		if p.opts.Validate != nil {
			err = p.opts.Validate(next)
		}
	}
	p.state = prev
	if err != nil {
		p.reloadErr = err
		p.mu.Unlock()
		p.logger.Error("hot reload failed, keeping the last valid configuration", "error", err)
		return err
	}
	if modeChanged {
		p.logger.Info("host mode is not hot-reloadable, ignoring change",
			"live", live.Runtime.Host.Mode)
	}
	p.reloadErr = nil
	p.current.Store(next)
	subs := append([]func(*RuntimeConfig){}, p.subscribers...)
	p.mu.Unlock()

	p.logger.Info("configuration hot-reloaded",
		"rest_path", next.Runtime.Rest.Path, "graphql_path", next.Runtime.GraphQL.Path)
	notify(subs, next)
	return nil
}

// mergeHotReloadable copies the reloadable settings from next onto live.
// Host mode, data sources and entities keep their live values.
func mergeHotReloadable(live, next *RuntimeConfig) *RuntimeConfig {
	out := *live
	out.Runtime.Rest.Enabled = next.Runtime.Rest.Enabled
	out.Runtime.Rest.Path = next.Runtime.Rest.Path
	out.Runtime.GraphQL.Enabled = next.Runtime.GraphQL.Enabled
	out.Runtime.GraphQL.Path = next.Runtime.GraphQL.Path
	out.Runtime.GraphQL.AllowIntrospection = next.Runtime.GraphQL.AllowIntrospection
	return &out
}

func notify(subs []func(*RuntimeConfig), cfg *RuntimeConfig) {
	for _, fn := range subs {
		fn(cfg)
	}
}

// OnConfigChanged registers a callback run after every published reload.
func (p *Provider) OnConfigChanged(fn func(*RuntimeConfig)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Provider) IsLateConfigured() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lateConfig
}

// LastReloadError is the error of the most recent failed reload, if any.
func (p *Provider) LastReloadError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloadErr
}

// ReloadAttempts counts HotReload calls that found a live config.
func (p *Provider) ReloadAttempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloadEvents
}

// Watcher exposes the file watcher once watching has started.
func (p *Provider) Watcher() *FileWatcher {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watcher
}

func (p *Provider) Close() {
	p.mu.Lock()
	w := p.watcher
	p.watcher = nil
	if p.state == Watching {
		p.state = Loaded
	}
	p.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}
