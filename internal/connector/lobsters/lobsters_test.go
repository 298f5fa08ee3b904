package lobsters

import (
	"encoding/json"
	"testing"

	"github.com/inletfeed/inlet/internal/connector"
)

func TestFeedURL(t *testing.T) {
	tests := []struct {
		name string
		tags []string
		want string
	}{
		{"front page", nil, "https://lobste.rs/rss"},
		{"single tag", []string{"go"}, "https://lobste.rs/t/go.rss"},
		{"multiple tags", []string{"go", "security"}, "https://lobste.rs/t/go,security.rss"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FeedURL(tt.tags); got != tt.want {
				t.Errorf("FeedURL(%v) = %q, want %q", tt.tags, got, tt.want)
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(map[string]any{"tags": "go, security", "max_items": 500})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if len(cfg.Tags) != 2 || cfg.Tags[0] != "go" {
		t.Errorf("tags = %v", cfg.Tags)
	}
	if cfg.MaxItems != 100 {
		t.Errorf("max_items = %d, want clamp to 100", cfg.MaxItems)
	}
}

func TestFetch_MissingConfigIsFine(t *testing.T) {
	// Lobsters has no required fields; an empty config must not be a setup
	// error. The fetch itself will fail against the real network in tests,
	// so only the parse path is exercised here.
	if _, err := ParseConfig(nil); err != nil {
		t.Fatalf("empty config: %v", err)
	}
}

func TestNormalize_StoryMetadata(t *testing.T) {
	raw := json.RawMessage(`{
		"guid":"https://lobste.rs/s/abc123",
		"link":"https://research.example.org/paper",
		"title":"A paper",
		"author":"alice",
		"published_at":"2025-01-06T10:00:00.000Z",
		"content":"<p>Interesting paper.</p><p><a href=\"https://lobste.rs/s/abc123\">12 comments</a></p>",
		"categories":["go","performance"]
	}`)

	c := New(nil)
	draft, err := c.Normalize(raw, connector.FetchParams{SourceType: SourceType})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if draft.SourceType != "lobsters" {
		t.Errorf("source type = %q", draft.SourceType)
	}
	if draft.CanonicalURL != "https://research.example.org/paper" {
		t.Errorf("canonical url = %q", draft.CanonicalURL)
	}
	if draft.Metadata["domain"] != "research.example.org" {
		t.Errorf("domain = %v", draft.Metadata["domain"])
	}
	if draft.Metadata["comments_url"] != "https://lobste.rs/s/abc123" {
		t.Errorf("comments_url = %v", draft.Metadata["comments_url"])
	}
	if draft.Metadata["comment_count"] != 12 {
		t.Errorf("comment_count = %v", draft.Metadata["comment_count"])
	}
	tags, ok := draft.Metadata["tags"].([]string)
	if !ok || len(tags) != 2 {
		t.Errorf("tags = %v", draft.Metadata["tags"])
	}
}

func TestNormalize_NoCommentMarkers(t *testing.T) {
	raw := json.RawMessage(`{"guid":"external-guid","link":"https://example.com/x","title":"t"}`)

	c := New(nil)
	draft, err := c.Normalize(raw, connector.FetchParams{SourceType: SourceType})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if _, found := draft.Metadata["comments_url"]; found {
		t.Error("comments_url should be absent for non-lobsters GUID")
	}
	if _, found := draft.Metadata["comment_count"]; found {
		t.Error("comment_count should be absent without a marker")
	}
}
