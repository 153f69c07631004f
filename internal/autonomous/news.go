package autonomous

import (
	"context"
	"time"
)

// NewsItem is one market headline with a provider-scored importance in
// [0, 1].
type NewsItem struct {
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	Importance  float64   `json:"importance"`
	PublishedAt time.Time `json:"published_at"`
}

// NewsProvider fetches recent market news. Implementations score each
// item's importance themselves; the supervisor only filters on it.
type NewsProvider interface {
	Fetch(ctx context.Context) ([]NewsItem, error)
}

// StaticProvider serves a fixed list of items. It backs tests and dry
// runs; production wiring injects a live feed.
type StaticProvider struct {
	Items []NewsItem
}

// Fetch returns a copy of the configured items.
func (p *StaticProvider) Fetch(ctx context.Context) ([]NewsItem, error) {
	items := make([]NewsItem, len(p.Items))
	copy(items, p.Items)
	return items, nil
}
