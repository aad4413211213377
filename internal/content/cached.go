package content

import (
	"context"
	"time"

	"github.com/cadogy/token-service/internal/cache"
)

// DefaultCacheTTL is how long fetched content stays fresh.
const DefaultCacheTTL = 10 * time.Minute

// Cached wraps a Client with a TTL cache. The upstream is slow and rarely
// changes; serving stale-by-minutes content is fine for the dashboard.
type Cached struct {
	upstream Client
	posts    *cache.TTL[string, []Post]
	tags     *cache.TTL[string, []Tag]
}

// NewCached creates a caching decorator over upstream.
func NewCached(upstream Client, ttl time.Duration, opts ...CacheOption) *Cached {
	c := &Cached{upstream: upstream}
	clock := time.Now
	for _, opt := range opts {
		clock = opt(clock)
	}
	c.posts = cache.New[string, []Post](ttl, cache.WithClock[string, []Post](clock))
	c.tags = cache.New[string, []Tag](ttl, cache.WithClock[string, []Tag](clock))
	return c
}

// CacheOption configures the decorator's clock, for expiry tests.
type CacheOption func(func() time.Time) func() time.Time

// WithClock injects a clock.
func WithClock(nowFn func() time.Time) CacheOption {
	return func(func() time.Time) func() time.Time { return nowFn }
}

func (c *Cached) FetchPosts(ctx context.Context) ([]Post, error) {
	return c.posts.GetOrFill("posts", func() ([]Post, error) {
		return c.upstream.FetchPosts(ctx)
	})
}

func (c *Cached) FetchTags(ctx context.Context) ([]Tag, error) {
	return c.tags.GetOrFill("tags", func() ([]Tag, error) {
		return c.upstream.FetchTags(ctx)
	})
}

// Reset drops all cached content, forcing the next fetch upstream.
func (c *Cached) Reset() {
	c.posts.Reset()
	c.tags.Reset()
}
