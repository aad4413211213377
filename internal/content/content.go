// Package content fetches published articles from the external content API
// (a headless WordPress install) and caches them in-process. Rendering
// stays in the dashboard; this service only proxies and caches.
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Post is one published article, trimmed to what the dashboard lists.
type Post struct {
	ID          int       `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Excerpt     string    `json:"excerpt"`
	PublishedAt time.Time `json:"publishedAt"`
	TagIDs      []int     `json:"tagIds"`
}

// Tag is a content taxonomy term.
type Tag struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Client fetches content from the upstream API.
type Client interface {
	FetchPosts(ctx context.Context) ([]Post, error)
	FetchTags(ctx context.Context) ([]Tag, error)
}

// HTTPClient talks to a WordPress-compatible REST API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a content client for the given API base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// wpPost is the upstream wire shape; rendered fields arrive wrapped.
type wpPost struct {
	ID      int        `json:"id"`
	Slug    string     `json:"slug"`
	Date    string     `json:"date_gmt"`
	Title   wpRendered `json:"title"`
	Excerpt wpRendered `json:"excerpt"`
	Tags    []int      `json:"tags"`
}

type wpRendered struct {
	Rendered string `json:"rendered"`
}

func (c *HTTPClient) FetchPosts(ctx context.Context) ([]Post, error) {
	var raw []wpPost
	if err := c.getJSON(ctx, "/wp-json/wp/v2/posts?per_page=100&_fields=id,slug,date_gmt,title,excerpt,tags", &raw); err != nil {
		return nil, err
	}

	posts := make([]Post, 0, len(raw))
	for _, p := range raw {
		published, _ := time.Parse("2006-01-02T15:04:05", p.Date)
		posts = append(posts, Post{
			ID:          p.ID,
			Slug:        p.Slug,
			Title:       p.Title.Rendered,
			Excerpt:     p.Excerpt.Rendered,
			PublishedAt: published,
			TagIDs:      p.Tags,
		})
	}
	return posts, nil
}

func (c *HTTPClient) FetchTags(ctx context.Context) ([]Tag, error) {
	var tags []Tag
	if err := c.getJSON(ctx, "/wp-json/wp/v2/tags?per_page=100", &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("content fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("content fetch: upstream status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
