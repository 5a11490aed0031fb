package engine

import (
	"context"
	"strings"

	"datagate/internal/config"
	"datagate/internal/dialect"
	"datagate/internal/executor"
)

// script answers a statement; the first matching prefix wins.
type script struct {
	prefix string
	rows   []map[string]any
	n      int64
	err    error
}

type fakeRunner struct {
	d       dialect.Dialect
	scripts []script
	seen    []string
	queries int
	aborted bool
}

func (f *fakeRunner) Dialect(string) (dialect.Dialect, error) { return f.d, nil }

func (f *fakeRunner) answer(stmt executor.Statement) script {
	f.seen = append(f.seen, stmt.SQL)
	for _, s := range f.scripts {
		if strings.HasPrefix(stmt.SQL, s.prefix) {
			return s
		}
	}
	return script{}
}

func (f *fakeRunner) QueryRows(_ context.Context, _ string, stmt executor.Statement) ([]map[string]any, error) {
	f.queries++
	s := f.answer(stmt)
	return s.rows, s.err
}

func (f *fakeRunner) InSession(ctx context.Context, _ string, fn func(context.Context, executor.Session) error) error {
	err := fn(ctx, fakeSession{f})
	f.aborted = err != nil
	return err
}

type fakeSession struct{ f *fakeRunner }

func (s fakeSession) Query(_ context.Context, stmt executor.Statement) ([]map[string]any, error) {
	a := s.f.answer(stmt)
	return a.rows, a.err
}

func (s fakeSession) Exec(_ context.Context, stmt executor.Statement) (int64, error) {
	a := s.f.answer(stmt)
	return a.n, a.err
}

type staticConfig struct{ cfg *config.RuntimeConfig }

func (s staticConfig) GetConfig() (*config.RuntimeConfig, error) { return s.cfg, nil }
