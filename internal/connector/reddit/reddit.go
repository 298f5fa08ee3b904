// Package reddit implements the Reddit connector over the OAuth-gated API.
// Token and rate-limit state live on the client owned by this connector, so
// sequential fetches share the bearer token without global state.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inletfeed/inlet/internal/connector"
)

const (
	SourceType = "reddit"

	siteBase = "https://www.reddit.com"

	defaultMaxItems = 50
	listingPageSize = 100
)

// Config is the validated subset of Reddit knobs.
type Config struct {
	Subreddits []string
	Listing    string
	MaxItems   int
}

// ParseConfig validates and clamps the untyped config object. At least one
// subreddit is required.
func ParseConfig(m map[string]any) (Config, error) {
	subs := connector.GetStringSlice(m, "subreddits")
	if len(subs) == 0 {
		return Config{}, connector.Setupf("%s: config field %q is required", SourceType, "subreddits")
	}
	return Config{
		Subreddits: subs,
		Listing:    connector.GetEnum(m, "listing", "new", "new", "hot", "top"),
		MaxItems:   connector.ClampInt(m, "max_items", defaultMaxItems, 1, 100),
	}, nil
}

// Cursor keeps a per-subreddit high-water mark on created_utc.
type Cursor struct {
	LastCreatedUTC map[string]float64 `json:"last_created_utc,omitempty"`
}

type listing struct {
	Data struct {
		Children []struct {
			Data json.RawMessage `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type post struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	CreatedUTC  float64 `json:"created_utc"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	Stickied    bool    `json:"stickied"`
}

// Connector fetches and normalizes subreddit posts.
type Connector struct {
	log *logrus.Logger

	mu      sync.Mutex
	client  *Client
	apiBase string
}

// New creates the Reddit connector.
func New(log *logrus.Logger) *Connector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Connector{log: log, apiBase: oauthBase}
}

func (c *Connector) SourceType() string {
	return SourceType
}

// authClient lazily builds the OAuth client from environment credentials.
// The token cache persists across fetches of the same connector instance.
func (c *Connector) authClient() (*Client, bool) {
	creds, ok := CredentialsFromEnv()
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		c.client = NewClient(creds)
	}
	return c.client, true
}

// Fetch pulls each configured subreddit's listing sequentially. An
// unreachable subreddit is skipped; missing credentials report through meta
// with the cursor unchanged.
func (c *Connector) Fetch(ctx context.Context, params connector.FetchParams) (connector.FetchResult, error) {
	cfg, err := ParseConfig(params.Config)
	if err != nil {
		return connector.FetchResult{}, err
	}

	client, ok := c.authClient()
	if !ok {
		return connector.FetchResult{
			NextCursor: params.Cursor,
			Meta:       connector.Meta{Error: "reddit credentials not configured", ErrorCode: "missing_credentials"},
		}, nil
	}

	var cur Cursor
	connector.DecodeCursor(params.Cursor, &cur)
	if cur.LastCreatedUTC == nil {
		cur.LastCreatedUTC = make(map[string]float64)
	}

	limit := connector.EffectiveLimit(cfg.MaxItems, params.Limits.MaxItems)

	var (
		rawItems []json.RawMessage
		skipped  int
		firstErr error
	)
	nextSeen := make(map[string]float64, len(cfg.Subreddits))
	for sub, v := range cur.LastCreatedUTC {
		nextSeen[sub] = v
	}

	for _, sub := range cfg.Subreddits {
		url := fmt.Sprintf("%s/r/%s/%s?limit=%d&raw_json=1", c.apiBase, sub, cfg.Listing, listingPageSize)
		body, err := client.Get(ctx, url)
		if err != nil {
			c.log.WithFields(logrus.Fields{"source": SourceType, "subreddit": sub}).Warnf("fetch failed: %v", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		var page listing
		if err := json.Unmarshal(body, &page); err != nil {
			c.log.WithFields(logrus.Fields{"source": SourceType, "subreddit": sub}).Warnf("decode failed: %v", err)
			continue
		}

		for _, child := range page.Data.Children {
			var p post
			if err := json.Unmarshal(child.Data, &p); err != nil {
				skipped++
				continue
			}
			if p.CreatedUTC <= cur.LastCreatedUTC[p.Subreddit] {
				skipped++
				continue
			}
			postedAt := connector.FromUnix(int64(p.CreatedUTC))
			if !params.WindowStart.IsZero() && postedAt.Before(params.WindowStart) {
				skipped++
				continue
			}
			if !params.WindowEnd.IsZero() && postedAt.After(params.WindowEnd) {
				skipped++
				continue
			}
			if limit > 0 && len(rawItems) >= limit {
				skipped++
				continue
			}

			rawItems = append(rawItems, child.Data)
			if p.CreatedUTC > nextSeen[p.Subreddit] {
				nextSeen[p.Subreddit] = p.CreatedUTC
			}
		}
	}

	meta := connector.Meta{Fetched: len(rawItems), Skipped: skipped}
	if len(rawItems) == 0 && firstErr != nil {
		meta.Error = firstErr.Error()
		meta.ErrorCode = "fetch_failed"
		return connector.FetchResult{NextCursor: params.Cursor, Meta: meta}, nil
	}

	return connector.FetchResult{
		RawItems:   rawItems,
		NextCursor: connector.EncodeCursor(Cursor{LastCreatedUTC: nextSeen}, params.Cursor),
		Meta:       meta,
	}, nil
}

// Normalize maps one listing post to a draft.
func (c *Connector) Normalize(raw json.RawMessage, params connector.FetchParams) (connector.ContentItemDraft, error) {
	var p post
	if err := json.Unmarshal(raw, &p); err != nil {
		return connector.ContentItemDraft{}, fmt.Errorf("reddit: decode raw item: %w", err)
	}

	canonicalURL := ""
	if p.Permalink != "" {
		canonicalURL = siteBase + p.Permalink
	} else if p.URL != "" {
		canonicalURL = p.URL
	}

	externalID := p.Name
	if externalID == "" {
		externalID = p.ID
	}

	metadata := map[string]any{
		"score":         p.Score,
		"comment_count": p.NumComments,
	}
	if p.Subreddit != "" {
		metadata["subreddit"] = p.Subreddit
	}
	if p.URL != "" && p.URL != canonicalURL {
		metadata["link_url"] = p.URL
	}
	if p.Stickied {
		metadata["stickied"] = true
	}

	var publishedAt time.Time
	if p.CreatedUTC > 0 {
		publishedAt = connector.FromUnix(int64(p.CreatedUTC))
	}

	return connector.ContentItemDraft{
		Title:        p.Title,
		BodyText:     p.Selftext,
		CanonicalURL: canonicalURL,
		SourceType:   SourceType,
		ExternalID:   externalID,
		PublishedAt:  publishedAt,
		Author:       p.Author,
		Metadata:     metadata,
		Raw:          connector.BoundRaw(raw),
	}, nil
}
