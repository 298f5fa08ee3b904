// Package lobsters specializes the RSS connector for lobste.rs: it rewrites
// its own config into feed config, delegates fetching, and applies its own
// normalizer to pull tag, domain, and comment-count metadata out of entries.
package lobsters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inletfeed/inlet/internal/connector"
	"github.com/inletfeed/inlet/internal/connector/podcast"
)

const (
	SourceType = "lobsters"

	baseURL         = "https://lobste.rs"
	defaultMaxItems = 25
)

var commentCountRe = regexp.MustCompile(`(?i)(\d+)\s+comments?`)

// Config is the validated subset of Lobsters knobs.
type Config struct {
	Tags     []string
	MaxItems int
}

// ParseConfig validates and clamps the untyped config object.
func ParseConfig(m map[string]any) (Config, error) {
	return Config{
		Tags:     connector.GetStringSlice(m, "tags"),
		MaxItems: connector.ClampInt(m, "max_items", defaultMaxItems, 1, 100),
	}, nil
}

// Connector delegates fetching to the RSS connector against lobste.rs feeds.
type Connector struct {
	rss *podcast.Connector
}

// New creates the Lobsters connector.
func New(log *logrus.Logger) *Connector {
	return &Connector{rss: podcast.New(log)}
}

func (c *Connector) SourceType() string {
	return SourceType
}

// FeedURL derives the lobste.rs feed for the configured tags; no tags means
// the front page feed.
func FeedURL(tags []string) string {
	if len(tags) == 0 {
		return baseURL + "/rss"
	}
	return baseURL + "/t/" + strings.Join(tags, ",") + ".rss"
}

// Fetch rewrites the Lobsters config into RSS config and delegates.
func (c *Connector) Fetch(ctx context.Context, params connector.FetchParams) (connector.FetchResult, error) {
	cfg, err := ParseConfig(params.Config)
	if err != nil {
		return connector.FetchResult{}, err
	}

	delegated := params
	delegated.Config = map[string]any{
		"feed_url":  FeedURL(cfg.Tags),
		"max_items": cfg.MaxItems,
	}
	return c.rss.Fetch(ctx, delegated)
}

// Normalize maps a feed entry to a draft with Lobsters story metadata.
func (c *Connector) Normalize(raw json.RawMessage, params connector.FetchParams) (connector.ContentItemDraft, error) {
	draft, err := c.rss.Normalize(raw, params)
	if err != nil {
		return connector.ContentItemDraft{}, fmt.Errorf("lobsters: %w", err)
	}
	draft.SourceType = SourceType

	var entry podcast.Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return connector.ContentItemDraft{}, fmt.Errorf("lobsters: decode raw item: %w", err)
	}

	if draft.Metadata == nil {
		draft.Metadata = map[string]any{}
	}
	if len(entry.Categories) > 0 {
		draft.Metadata["tags"] = entry.Categories
	}
	if entry.Link != "" {
		if u, err := url.Parse(entry.Link); err == nil && u.Host != "" {
			draft.Metadata["domain"] = u.Host
		}
	}
	// The comments page lives behind the GUID; the entry link points at the
	// submitted URL.
	if entry.GUID != "" && strings.HasPrefix(entry.GUID, baseURL) {
		draft.Metadata["comments_url"] = entry.GUID
	}
	if m := commentCountRe.FindStringSubmatch(entry.Content); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			draft.Metadata["comment_count"] = n
		}
	}

	return draft, nil
}
