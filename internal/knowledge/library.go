package knowledge

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Library serves knowledge templates from the store, seeding them from the
// YAML file at startup.
type Library struct {
	store  TemplateStore
	logger zerolog.Logger
}

// NewLibrary creates a library over the given template store.
func NewLibrary(store TemplateStore, logger zerolog.Logger) *Library {
	return &Library{store: store, logger: logger}
}

// Seed parses the knowledge file at path and upserts every template,
// returning how many were written. Missing UpdatedAt stamps get the seed
// time so template freshness is always comparable.
func (l *Library) Seed(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read knowledge file %s: %w", path, err)
	}
	f, err := ParseFile(data)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	seeded := 0
	for i := range f.Templates {
		t := &f.Templates[i]
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = now
		}
		if err := l.store.UpsertTemplate(ctx, t); err != nil {
			return seeded, fmt.Errorf("failed to seed knowledge template %s: %w", t.Strategy, err)
		}
		seeded++
	}
	l.logger.Info().Int("templates", seeded).Str("path", path).Msg("trading knowledge seeded")
	return seeded, nil
}

// ForStrategy returns the template for a strategy, or an error naming the
// strategy when none exists.
func (l *Library) ForStrategy(ctx context.Context, strategy string) (*Template, error) {
	t, err := l.store.FindTemplate(ctx, strategy)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge for %s: %w", strategy, err)
	}
	if t == nil {
		return nil, fmt.Errorf("no trading knowledge for strategy %s", strategy)
	}
	return t, nil
}

// All returns every stored template.
func (l *Library) All(ctx context.Context) ([]*Template, error) {
	templates, err := l.store.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge templates: %w", err)
	}
	return templates, nil
}
