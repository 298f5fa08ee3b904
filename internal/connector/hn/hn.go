// Package hn implements the Hacker News connector over the public Firebase
// API. The API offers no incremental cursor, so the cursor is a pass-through
// of the fetch window's end.
package hn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inletfeed/inlet/internal/connector"
)

const (
	SourceType = "hn"

	apiBase       = "https://hacker-news.firebaseio.com/v0"
	permalinkBase = "https://news.ycombinator.com/item?id="
	fetchTimeout  = 30 * time.Second

	// Item bodies are resolved 10 at a time: issue 10 concurrent requests,
	// await all, move to the next batch. The bound respects the public
	// API's informal fairness expectations.
	batchSize = 10

	defaultMaxItems = 30
)

// Config is the validated subset of HN knobs.
type Config struct {
	List     string // "top" or "new"
	MaxItems int
}

// ParseConfig validates and clamps the untyped config object.
func ParseConfig(m map[string]any) (Config, error) {
	return Config{
		List:     connector.GetEnum(m, "story_list", "top", "top", "new"),
		MaxItems: connector.ClampInt(m, "max_items", defaultMaxItems, 1, 100),
	}, nil
}

// Cursor carries no incremental state; last_run_at records the window end
// of the most recent run for observability.
type Cursor struct {
	LastRunAt string `json:"last_run_at,omitempty"`
}

type item struct {
	ID          int    `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Text        string `json:"text"`
	Score       int    `json:"score"`
	Time        int64  `json:"time"`
	Descendants int    `json:"descendants"`
	By          string `json:"by"`
}

// Connector fetches and normalizes Hacker News stories.
type Connector struct {
	client  *http.Client
	log     *logrus.Logger
	baseURL string
}

// New creates the HN connector. A nil logger falls back to the logrus
// standard logger.
func New(log *logrus.Logger) *Connector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Connector{
		client:  &http.Client{Timeout: fetchTimeout},
		log:     log,
		baseURL: apiBase,
	}
}

func (c *Connector) SourceType() string {
	return SourceType
}

// Fetch pulls the story ID list, then resolves item bodies in bounded
// batches. A failing item is dropped; one bad item never aborts the batch.
func (c *Connector) Fetch(ctx context.Context, params connector.FetchParams) (connector.FetchResult, error) {
	cfg, err := ParseConfig(params.Config)
	if err != nil {
		return connector.FetchResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	nextCursor := connector.EncodeCursor(Cursor{LastRunAt: connector.FormatTime(params.WindowEnd)}, params.Cursor)

	ids, err := c.fetchStoryIDs(ctx, cfg.List)
	if err != nil {
		// Unreachable API is an expected condition: report it and leave the
		// cursor as-is so the next run retries identically.
		return connector.FetchResult{
			NextCursor: params.Cursor,
			Meta:       connector.Meta{Error: err.Error(), ErrorCode: "fetch_failed"},
		}, nil
	}

	limit := connector.EffectiveLimit(cfg.MaxItems, params.Limits.MaxItems)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	var (
		rawItems []json.RawMessage
		skipped  int
	)

	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		results := make([]json.RawMessage, len(batch))
		var wg sync.WaitGroup
		for i, id := range batch {
			wg.Add(1)
			go func() {
				defer wg.Done()
				raw, err := c.fetchItem(ctx, id)
				if err != nil {
					c.log.WithFields(logrus.Fields{"source": SourceType, "item": id}).Debugf("item dropped: %v", err)
					return
				}
				results[i] = raw
			}()
		}
		wg.Wait()

		for _, raw := range results {
			if raw == nil {
				skipped++
				continue
			}
			var it item
			if err := json.Unmarshal(raw, &it); err != nil || it.Type != "story" {
				skipped++
				continue
			}
			if postedAt := connector.FromUnix(it.Time); !postedAt.IsZero() {
				if !params.WindowStart.IsZero() && postedAt.Before(params.WindowStart) {
					skipped++
					continue
				}
				if !params.WindowEnd.IsZero() && postedAt.After(params.WindowEnd) {
					skipped++
					continue
				}
			}
			rawItems = append(rawItems, raw)
		}
	}

	return connector.FetchResult{
		RawItems:   rawItems,
		NextCursor: nextCursor,
		Meta:       connector.Meta{Fetched: len(rawItems), Skipped: skipped},
	}, nil
}

// Normalize maps one raw story to a draft. Missing optional fields yield
// zero values, never errors.
func (c *Connector) Normalize(raw json.RawMessage, params connector.FetchParams) (connector.ContentItemDraft, error) {
	var it item
	if err := json.Unmarshal(raw, &it); err != nil {
		return connector.ContentItemDraft{}, fmt.Errorf("hn: decode raw item: %w", err)
	}

	canonicalURL := it.URL
	if canonicalURL == "" && it.ID > 0 {
		canonicalURL = permalinkBase + strconv.Itoa(it.ID)
	}

	externalID := ""
	if it.ID > 0 {
		externalID = strconv.Itoa(it.ID)
	}

	metadata := map[string]any{
		"score": it.Score,
	}
	if it.Descendants > 0 {
		metadata["comment_count"] = it.Descendants
	}

	return connector.ContentItemDraft{
		Title:        it.Title,
		BodyText:     connector.StripHTML(it.Text),
		CanonicalURL: canonicalURL,
		SourceType:   SourceType,
		ExternalID:   externalID,
		PublishedAt:  connector.FromUnix(it.Time),
		Author:       it.By,
		Metadata:     metadata,
		Raw:          connector.BoundRaw(raw),
	}, nil
}

func (c *Connector) fetchStoryIDs(ctx context.Context, list string) ([]int, error) {
	url := c.baseURL + "/" + list + "stories.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%sstories: %w", list, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%sstories: HTTP %d", list, resp.StatusCode)
	}

	var ids []int
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, fmt.Errorf("%sstories: %w", list, err)
	}
	return ids, nil
}

func (c *Connector) fetchItem(ctx context.Context, id int) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/item/%d.json", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("item %d: HTTP %d", id, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", id, err)
	}
	if len(body) == 0 || string(body) == "null" {
		return nil, fmt.Errorf("item %d: empty body", id)
	}
	return json.RawMessage(body), nil
}
