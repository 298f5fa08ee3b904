package hn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/inletfeed/inlet/internal/connector"
)

func newTestConnector(baseURL string) *Connector {
	c := New(nil)
	c.baseURL = baseURL
	return c
}

func serveHN(t *testing.T, ids []int, items map[int]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "stories.json"):
			_ = json.NewEncoder(w).Encode(ids)
		case strings.HasPrefix(r.URL.Path, "/item/"):
			var id int
			if _, err := fmt.Sscanf(r.URL.Path, "/item/%d.json", &id); err != nil {
				http.NotFound(w, r)
				return
			}
			body, ok := items[id]
			if !ok {
				_, _ = w.Write([]byte("null"))
				return
			}
			_, _ = w.Write([]byte(body))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_StoriesFiltered(t *testing.T) {
	items := map[int]string{
		1: `{"id":1,"type":"story","title":"one","time":1736157600,"score":10,"by":"alice"}`,
		2: `{"id":2,"type":"comment","text":"not a story","time":1736157700}`,
		3: `{"id":3,"type":"story","title":"too old","time":1706000000}`,
		4: `{"id":4,"type":"story","title":"four","time":1736158000,"score":3,"by":"bob"}`,
	}
	srv := serveHN(t, []int{1, 2, 3, 4, 5}, items)
	c := newTestConnector(srv.URL)

	params := connector.FetchParams{
		Config:      map[string]any{"story_list": "top"},
		WindowStart: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC),
	}

	res, err := c.Fetch(context.Background(), params)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if len(res.RawItems) != 2 {
		t.Fatalf("got %d items, want 2", len(res.RawItems))
	}
	// id 2 is a comment, id 3 is before the window, id 5 resolves to null.
	if res.Meta.Skipped != 3 {
		t.Errorf("skipped = %d, want 3", res.Meta.Skipped)
	}

	var cur Cursor
	connector.DecodeCursor(res.NextCursor, &cur)
	if cur.LastRunAt != "2025-01-07T00:00:00.000Z" {
		t.Errorf("cursor last_run_at = %q", cur.LastRunAt)
	}
}

func TestFetch_LimitApplied(t *testing.T) {
	items := make(map[int]string)
	var ids []int
	for i := 1; i <= 30; i++ {
		ids = append(ids, i)
		items[i] = fmt.Sprintf(`{"id":%d,"type":"story","title":"t%d","time":1736157600}`, i, i)
	}
	srv := serveHN(t, ids, items)
	c := newTestConnector(srv.URL)

	res, err := c.Fetch(context.Background(), connector.FetchParams{
		Config: map[string]any{"max_items": 5},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(res.RawItems) != 5 {
		t.Errorf("got %d items, want 5", len(res.RawItems))
	}
}

func TestFetch_IDsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	c := newTestConnector(srv.URL)

	prev := json.RawMessage(`{"last_run_at":"2025-01-01T00:00:00.000Z"}`)
	res, err := c.Fetch(context.Background(), connector.FetchParams{Cursor: prev})
	if err != nil {
		t.Fatalf("unreachable API must not fail the fetch: %v", err)
	}
	if res.Meta.ErrorCode != "fetch_failed" {
		t.Errorf("error code = %q, want fetch_failed", res.Meta.ErrorCode)
	}
	if string(res.NextCursor) != string(prev) {
		t.Errorf("cursor changed on failure: %s", res.NextCursor)
	}
}

func TestNormalize_TextPost(t *testing.T) {
	raw := json.RawMessage(`{"id":87654321,"type":"story","title":"Ask HN","time":1736157600,"text":"<p>I&#x27;m curious</p>","score":5,"by":"carol"}`)
	c := New(nil)

	draft, err := c.Normalize(raw, connector.FetchParams{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if draft.CanonicalURL != "https://news.ycombinator.com/item?id=87654321" {
		t.Errorf("canonical url = %q", draft.CanonicalURL)
	}
	if draft.BodyText != "I'm curious" {
		t.Errorf("body = %q, want %q", draft.BodyText, "I'm curious")
	}
	if got := connector.FormatTime(draft.PublishedAt); got != "2025-01-06T10:00:00.000Z" {
		t.Errorf("published at = %q", got)
	}
	if draft.ExternalID != "87654321" {
		t.Errorf("external id = %q", draft.ExternalID)
	}
	if draft.SourceType != "hn" {
		t.Errorf("source type = %q", draft.SourceType)
	}
}

func TestNormalize_URLPreference(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			"external url wins",
			`{"id":1,"type":"story","url":"https://example.com/post"}`,
			"https://example.com/post",
		},
		{
			"permalink fallback",
			`{"id":2,"type":"story"}`,
			"https://news.ycombinator.com/item?id=2",
		},
		{
			"no id no url",
			`{"type":"story","title":"orphan"}`,
			"",
		},
	}

	c := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft, err := c.Normalize(json.RawMessage(tt.raw), connector.FetchParams{})
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if draft.CanonicalURL != tt.want {
				t.Errorf("canonical url = %q, want %q", draft.CanonicalURL, tt.want)
			}
		})
	}
}

func TestNormalize_Malformed(t *testing.T) {
	c := New(nil)
	if _, err := c.Normalize(json.RawMessage(`{not json`), connector.FetchParams{}); err == nil {
		t.Fatal("expected error for malformed raw item")
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.List != "top" || cfg.MaxItems != 30 {
		t.Errorf("defaults = %+v", cfg)
	}

	cfg, _ = ParseConfig(map[string]any{"story_list": "best", "max_items": 500})
	if cfg.List != "top" {
		t.Errorf("unknown list should fall back to top, got %q", cfg.List)
	}
	if cfg.MaxItems != 100 {
		t.Errorf("max_items = %d, want clamp to 100", cfg.MaxItems)
	}
}
