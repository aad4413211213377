package content

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// countingClient records upstream fetches.
type countingClient struct {
	postCalls atomic.Int64
	tagCalls  atomic.Int64
	err       error
}

func (c *countingClient) FetchPosts(_ context.Context) ([]Post, error) {
	c.postCalls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return []Post{{ID: 1, Slug: "hello", Title: "Hello"}}, nil
}

func (c *countingClient) FetchTags(_ context.Context) ([]Tag, error) {
	c.tagCalls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return []Tag{{ID: 7, Name: "Go", Slug: "go"}}, nil
}

func TestCachedServesFromCache(t *testing.T) {
	upstream := &countingClient{}
	cached := NewCached(upstream, time.Minute)

	for i := 0; i < 3; i++ {
		posts, err := cached.FetchPosts(context.Background())
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if len(posts) != 1 || posts[0].Slug != "hello" {
			t.Fatalf("posts = %+v", posts)
		}
	}

	if got := upstream.postCalls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

func TestCachedExpires(t *testing.T) {
	now := time.Now()
	upstream := &countingClient{}
	cached := NewCached(upstream, time.Minute, WithClock(func() time.Time { return now }))

	if _, err := cached.FetchPosts(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := cached.FetchPosts(context.Background()); err != nil {
		t.Fatalf("fetch after expiry: %v", err)
	}

	if got := upstream.postCalls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
}

func TestCachedErrorNotCached(t *testing.T) {
	upstream := &countingClient{err: errors.New("upstream down")}
	cached := NewCached(upstream, time.Minute)

	if _, err := cached.FetchTags(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	// Recovery is immediate: the failure was not cached.
	upstream.err = nil
	tags, err := cached.FetchTags(context.Background())
	if err != nil {
		t.Fatalf("fetch after recovery: %v", err)
	}
	if len(tags) != 1 || tags[0].Slug != "go" {
		t.Fatalf("tags = %+v", tags)
	}
}

func TestCachedReset(t *testing.T) {
	upstream := &countingClient{}
	cached := NewCached(upstream, time.Hour)

	_, _ = cached.FetchPosts(context.Background())
	cached.Reset()
	_, _ = cached.FetchPosts(context.Background())

	if got := upstream.postCalls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2 after reset", got)
	}
}

func TestHTTPClientParsesWordPressShapes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wp-json/wp/v2/posts":
			_, _ = w.Write([]byte(`[{"id":12,"slug":"launch","date_gmt":"2026-01-15T09:30:00",
				"title":{"rendered":"Launch Day"},"excerpt":{"rendered":"<p>We shipped.</p>"},"tags":[3,4]}]`))
		case "/wp-json/wp/v2/tags":
			_, _ = w.Write([]byte(`[{"id":3,"name":"News","slug":"news"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)

	posts, err := client.FetchPosts(context.Background())
	if err != nil {
		t.Fatalf("fetch posts: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("posts = %+v", posts)
	}
	p := posts[0]
	if p.Title != "Launch Day" || p.Slug != "launch" || len(p.TagIDs) != 2 {
		t.Errorf("post = %+v", p)
	}
	if p.PublishedAt.Year() != 2026 {
		t.Errorf("published at = %v", p.PublishedAt)
	}

	tags, err := client.FetchTags(context.Background())
	if err != nil {
		t.Fatalf("fetch tags: %v", err)
	}
	if len(tags) != 1 || tags[0].Name != "News" {
		t.Errorf("tags = %+v", tags)
	}
}

func TestHTTPClientUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	if _, err := client.FetchPosts(context.Background()); err == nil {
		t.Fatal("expected error on 500")
	}
}
