package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"datagate/internal/apierr"
)

var envToken = regexp.MustCompile(`@env\('([^']*)'\)`)

// ParseOptions tunes ParseConfig.
type ParseOptions struct {
	// DefaultDataSourceName keeps the default data source name stable
	// across reloads. Empty generates a new one.
	DefaultDataSourceName string
	// BaseDir resolves relative data-source-files entries.
	BaseDir string
	// LookupEnv resolves @env('NAME') tokens. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// SkipEnv leaves @env tokens untouched.
	SkipEnv bool

	visited map[string]bool
}

// LoadFile reads a JSON or YAML runtime config. A .env file next to the
// config is loaded first without overriding the process environment.
func LoadFile(path string, opts ParseOptions) (*RuntimeConfig, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(abs)
	if envFile := filepath.Join(dir, ".env"); fileExists(envFile) {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", abs, err)
	}
	if isYAML(abs) {
		raw, err = yamlToJSON(raw)
		if err != nil {
			return nil, apierr.Wrap(err, apierr.ErrorInInitialization, "Failed to parse YAML config file %s.", abs)
		}
	}
	if opts.BaseDir == "" {
		opts.BaseDir = dir
	}
	if opts.visited == nil {
		opts.visited = map[string]bool{}
	}
	opts.visited[abs] = true
	return ParseConfig(raw, opts)
}

// ParseConfig turns config text into a RuntimeConfig with defaults applied
// and derived data-source maps populated.
func ParseConfig(data []byte, opts ParseOptions) (*RuntimeConfig, error) {
	text := stripComments(data)
	if !opts.SkipEnv {
		var err error
		text, err = replaceEnvTokens(text, opts.LookupEnv)
		if err != nil {
			return nil, err
		}
	}

	cfg := &RuntimeConfig{Runtime: DefaultRuntime()}
	if err := json.Unmarshal(text, cfg); err != nil {
		return nil, apierr.Wrap(err, apierr.ErrorInInitialization, "Failed to deserialize the runtime config.")
	}
	normalize(cfg)

	name := opts.DefaultDataSourceName
	if name == "" {
		name = NewDataSourceName()
	}
	cfg.DefaultDataSourceName = name
	cfg.DataSources = map[string]DataSource{name: cfg.DataSource}
	cfg.EntityDataSource = make(map[string]string, len(cfg.Entities))
	for entity := range cfg.Entities {
		cfg.EntityDataSource[entity] = name
	}

	if err := mergeChildren(cfg, opts); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewDataSourceName returns a fresh unique data source identifier.
func NewDataSourceName() string {
	return strings.ToLower(ulid.Make().String())
}

func normalize(cfg *RuntimeConfig) {
	cfg.DataSource.DatabaseType = DatabaseType(strings.ToLower(string(cfg.DataSource.DatabaseType)))
	cfg.Runtime.Host.Mode = HostMode(strings.ToLower(string(cfg.Runtime.Host.Mode)))
	if cfg.Runtime.Host.Mode == "" {
		cfg.Runtime.Host.Mode = Production
	}
	if cfg.Runtime.Rest.Path == "" {
		cfg.Runtime.Rest.Path = DefaultRestPath
	}
	if cfg.Runtime.GraphQL.Path == "" {
		cfg.Runtime.GraphQL.Path = DefaultGraphQLPath
	}
	if cfg.Runtime.Pagination.DefaultPageSize <= 0 {
		cfg.Runtime.Pagination.DefaultPageSize = DefaultPageSize
	}
	if cfg.Runtime.Pagination.MaxPageSize <= 0 {
		cfg.Runtime.Pagination.MaxPageSize = DefaultMaxPageSize
	}
	if cfg.Entities == nil {
		cfg.Entities = map[string]Entity{}
	}
}

func mergeChildren(cfg *RuntimeConfig, opts ParseOptions) error {
	if len(cfg.DataSourceFiles) == 0 {
		return nil
	}
	if opts.visited == nil {
		opts.visited = map[string]bool{}
	}
	for _, file := range cfg.DataSourceFiles {
		path := file
		if !filepath.IsAbs(path) {
			path = filepath.Join(opts.BaseDir, path)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		if opts.visited[abs] {
			continue
		}
		child, err := LoadFile(abs, ParseOptions{
			BaseDir:   filepath.Dir(abs),
			LookupEnv: opts.LookupEnv,
			SkipEnv:   opts.SkipEnv,
			visited:   opts.visited,
		})
		if err != nil {
			return fmt.Errorf("data-source-files %s: %w", file, err)
		}
		for dsName, ds := range child.DataSources {
			cfg.DataSources[dsName] = ds
		}
		for entity, def := range child.Entities {
			if _, dup := cfg.Entities[entity]; dup {
				return apierr.New(apierr.ConfigValidationError,
					"Entity %s is defined in more than one config file.", entity)
			}
			cfg.Entities[entity] = def
			cfg.EntityDataSource[entity] = child.EntityDataSource[entity]
		}
	}
	return nil
}

// stripComments removes // line comments outside of JSON strings.
func stripComments(src []byte) []byte {
	out := make([]byte, 0, len(src))
	inStr, esc := false, false
	for i := 0; i < len(src); i++ {
		c := src[i]
		if inStr {
			out = append(out, c)
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		if c == '"' {
			inStr = true
			out = append(out, c)
			continue
		}
		if c == '/' && i+1 < len(src) && src[i+1] == '/' {
			for i < len(src) && src[i] != '\n' {
				i++
			}
			if i < len(src) {
				out = append(out, '\n')
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

// replaceEnvTokens substitutes @env('NAME'). Values are JSON-escaped since
// tokens sit inside string literals.
func replaceEnvTokens(text []byte, lookup func(string) (string, bool)) ([]byte, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var missing []string
	out := envToken.ReplaceAllFunc(text, func(m []byte) []byte {
		name := string(envToken.FindSubmatch(m)[1])
		v, ok := lookup(name)
		if !ok {
			missing = append(missing, name)
			return m
		}
		esc, _ := json.Marshal(v)
		return esc[1 : len(esc)-1]
	})
	if len(missing) > 0 {
		errs := make([]error, 0, len(missing))
		for _, name := range missing {
			errs = append(errs, fmt.Errorf("environment variable %s is not set", name))
		}
		return nil, apierr.Wrap(errors.Join(errs...), apierr.ErrorInInitialization,
			"Failed to resolve environment variable tokens in the runtime config.")
	}
	return out, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
