// Package podcast implements the RSS/Atom/RDF feed connector, including
// podcast-specific enclosure and iTunes metadata. Incremental fetching is
// driven by a bounded seen-GUID set plus a last-published high-water mark.
package podcast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"

	"github.com/inletfeed/inlet/internal/connector"
)

const (
	SourceType = "podcast"

	fetchTimeout = 30 * time.Second
	userAgent    = "Mozilla/5.0 (compatible; inlet/1.0; +https://github.com/inletfeed/inlet)"

	defaultMaxItems = 50

	// Cursor GUID lists are capped so cursor size stays bounded across runs.
	maxRecentGUIDs = 200
)

// Config is the validated subset of feed knobs.
type Config struct {
	FeedURL  string
	MaxItems int
}

// ParseConfig validates and clamps the untyped config object. feed_url is
// genuinely required; its absence is a setup error.
func ParseConfig(m map[string]any) (Config, error) {
	feedURL, err := connector.RequireString(m, "feed_url", SourceType)
	if err != nil {
		return Config{}, err
	}
	return Config{
		FeedURL:  feedURL,
		MaxItems: connector.ClampInt(m, "max_items", defaultMaxItems, 1, 200),
	}, nil
}

// Cursor tracks the newest published timestamp seen and a bounded,
// order-preserving set of recently seen GUIDs.
type Cursor struct {
	LastPublishedAt string   `json:"last_published_at,omitempty"`
	RecentGUIDs     []string `json:"recent_guids,omitempty"`
}

// Enclosure is the media attachment on a podcast entry.
type Enclosure struct {
	URL    string `json:"url"`
	Type   string `json:"type,omitempty"`
	Length int64  `json:"length,omitempty"`
}

// Entry is the provider-neutral raw item produced by Fetch.
type Entry struct {
	GUID         string     `json:"guid,omitempty"`
	Link         string     `json:"link,omitempty"`
	Title        string     `json:"title,omitempty"`
	Author       string     `json:"author,omitempty"`
	PublishedAt  string     `json:"published_at,omitempty"`
	Content      string     `json:"content,omitempty"`
	Categories   []string   `json:"categories,omitempty"`
	Enclosure    *Enclosure `json:"enclosure,omitempty"`
	DurationSecs int        `json:"duration_secs,omitempty"`
	Episode      string     `json:"episode,omitempty"`
	Season       string     `json:"season,omitempty"`
	FeedTitle    string     `json:"feed_title,omitempty"`
	FeedURL      string     `json:"feed_url,omitempty"`
}

// Connector fetches and normalizes feed entries.
type Connector struct {
	client *http.Client
	log    *logrus.Logger
}

// New creates the podcast/RSS connector.
func New(log *logrus.Logger) *Connector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Connector{
		client: &http.Client{
			Timeout:   fetchTimeout,
			Transport: &uaTransport{base: http.DefaultTransport},
		},
		log: log,
	}
}

func (c *Connector) SourceType() string {
	return SourceType
}

// uaTransport injects a User-Agent header into every request.
type uaTransport struct {
	base http.RoundTripper
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	return t.base.RoundTrip(req)
}

// Fetch parses the configured feed and emits entries not yet seen.
//
// An entry is skipped when its GUID is in the cursor's seen set, or when it
// has no GUID at all and a published date at or before the cursor mark.
// Entries with a GUID are never skipped purely on date: some feeds reuse
// dates across entries.
func (c *Connector) Fetch(ctx context.Context, params connector.FetchParams) (connector.FetchResult, error) {
	cfg, err := ParseConfig(params.Config)
	if err != nil {
		return connector.FetchResult{}, err
	}

	var cur Cursor
	connector.DecodeCursor(params.Cursor, &cur)
	lastPublished := connector.ParseTime(cur.LastPublishedAt)
	seen := make(map[string]bool, len(cur.RecentGUIDs))
	for _, g := range cur.RecentGUIDs {
		seen[g] = true
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	parser := gofeed.NewParser()
	parser.Client = c.client
	feed, err := parser.ParseURLWithContext(cfg.FeedURL, ctx)
	if err != nil {
		return connector.FetchResult{
			NextCursor: params.Cursor,
			Meta:       connector.Meta{Error: fmt.Sprintf("fetch %s: %v", cfg.FeedURL, err), ErrorCode: "fetch_failed"},
		}, nil
	}

	limit := connector.EffectiveLimit(cfg.MaxItems, params.Limits.MaxItems)

	var (
		rawItems  []json.RawMessage
		newGUIDs  []string
		newestPub = lastPublished
		skipped   int
	)

	for _, item := range feed.Items {
		entry := entryFromItem(item, feed, cfg.FeedURL)
		publishedAt := connector.ParseTime(entry.PublishedAt)

		if entry.GUID != "" && seen[entry.GUID] {
			skipped++
			continue
		}
		if entry.GUID == "" && !publishedAt.IsZero() && !publishedAt.After(lastPublished) {
			skipped++
			continue
		}
		if limit > 0 && len(rawItems) >= limit {
			skipped++
			continue
		}

		raw, err := json.Marshal(entry)
		if err != nil {
			skipped++
			continue
		}
		rawItems = append(rawItems, raw)
		// The mark only advances past emitted entries: an entry dropped by
		// the item cap must stay fetchable on the next run.
		if !publishedAt.IsZero() && publishedAt.After(newestPub) {
			newestPub = publishedAt
		}
		if entry.GUID != "" {
			newGUIDs = append(newGUIDs, entry.GUID)
		}
	}

	next := Cursor{
		LastPublishedAt: connector.FormatTime(newestPub),
		RecentGUIDs:     mergeGUIDs(cur.RecentGUIDs, newGUIDs),
	}

	return connector.FetchResult{
		RawItems:   rawItems,
		NextCursor: connector.EncodeCursor(next, params.Cursor),
		Meta:       connector.Meta{Fetched: len(rawItems), Skipped: skipped},
	}, nil
}

// Normalize maps one entry to a draft. All fields are optional; normalize
// never fails on absence.
func (c *Connector) Normalize(raw json.RawMessage, params connector.FetchParams) (connector.ContentItemDraft, error) {
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return connector.ContentItemDraft{}, fmt.Errorf("podcast: decode raw item: %w", err)
	}

	externalID := entry.GUID
	if externalID == "" {
		externalID = entry.Link
	}

	metadata := map[string]any{}
	if len(entry.Categories) > 0 {
		metadata["categories"] = entry.Categories
	}
	if entry.Enclosure != nil {
		metadata["enclosure_url"] = entry.Enclosure.URL
		if entry.Enclosure.Type != "" {
			metadata["enclosure_type"] = entry.Enclosure.Type
		}
		if entry.Enclosure.Length > 0 {
			metadata["enclosure_length"] = entry.Enclosure.Length
		}
	}
	if entry.DurationSecs > 0 {
		metadata["duration_secs"] = entry.DurationSecs
	}
	if entry.Episode != "" {
		metadata["episode"] = entry.Episode
	}
	if entry.Season != "" {
		metadata["season"] = entry.Season
	}
	if entry.FeedTitle != "" {
		metadata["feed_title"] = entry.FeedTitle
	}

	return connector.ContentItemDraft{
		Title:        entry.Title,
		BodyText:     connector.StripHTML(entry.Content),
		CanonicalURL: entry.Link,
		SourceType:   params.SourceType,
		ExternalID:   externalID,
		PublishedAt:  connector.ParseTime(entry.PublishedAt),
		Author:       entry.Author,
		Metadata:     metadata,
		Raw:          connector.BoundRaw(raw),
	}, nil
}

// entryFromItem maps a parsed feed item to the neutral entry shape. Author
// preference: dc:creator, then itunes:author, then the generic author.
// Content preference: content:encoded / Atom content over description.
func entryFromItem(item *gofeed.Item, feed *gofeed.Feed, feedURL string) Entry {
	entry := Entry{
		GUID:       item.GUID,
		Link:       item.Link,
		Title:      item.Title,
		Author:     itemAuthor(item),
		Content:    itemContent(item),
		Categories: item.Categories,
		FeedTitle:  feed.Title,
		FeedURL:    feedURL,
	}

	if item.PublishedParsed != nil {
		entry.PublishedAt = connector.FormatTime(*item.PublishedParsed)
	} else if item.UpdatedParsed != nil {
		entry.PublishedAt = connector.FormatTime(*item.UpdatedParsed)
	}

	if len(item.Enclosures) > 0 {
		enc := item.Enclosures[0]
		length, _ := strconv.ParseInt(enc.Length, 10, 64)
		entry.Enclosure = &Enclosure{URL: enc.URL, Type: enc.Type, Length: length}
	}

	if item.ITunesExt != nil {
		entry.DurationSecs = ParseDuration(item.ITunesExt.Duration)
		entry.Episode = item.ITunesExt.Episode
		entry.Season = item.ITunesExt.Season
	}

	return entry
}

func itemAuthor(item *gofeed.Item) string {
	if item.DublinCoreExt != nil && len(item.DublinCoreExt.Creator) > 0 {
		return item.DublinCoreExt.Creator[0]
	}
	if item.ITunesExt != nil && item.ITunesExt.Author != "" {
		return item.ITunesExt.Author
	}
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	return ""
}

func itemContent(item *gofeed.Item) string {
	if item.Content != "" {
		return item.Content
	}
	return item.Description
}

// ParseDuration reads an iTunes duration: either raw seconds ("1834") or
// clock notation ("HH:MM:SS" / "MM:SS"). Unparseable values yield 0.
func ParseDuration(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if secs, err := strconv.Atoi(s); err == nil {
		if secs < 0 {
			return 0
		}
		return secs
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}

// mergeGUIDs unions old and new GUIDs, deduplicated and order-preserving,
// dropping the oldest entries once the bound is exceeded.
func mergeGUIDs(old, fresh []string) []string {
	seen := make(map[string]bool, len(old)+len(fresh))
	merged := make([]string, 0, len(old)+len(fresh))
	for _, g := range old {
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		merged = append(merged, g)
	}
	for _, g := range fresh {
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		merged = append(merged, g)
	}
	if len(merged) > maxRecentGUIDs {
		merged = merged[len(merged)-maxRecentGUIDs:]
	}
	return merged
}
