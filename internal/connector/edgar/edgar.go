// Package edgar implements the SEC EDGAR filings connector. EDGAR enforces
// a hard 10 requests/sec ceiling, so every call waits on a shared limiter
// and transient statuses retry with exponential backoff. Each configured
// filing type keeps its own accession high-water mark in the cursor.
package edgar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/inletfeed/inlet/internal/connector"
)

const (
	SourceType = "sec_edgar"

	secBase      = "https://www.sec.gov"
	fetchTimeout = 60 * time.Second

	// Minimum spacing between requests keeps us safely inside EDGAR's
	// 10 req/s limit.
	minRequestGap = 100 * time.Millisecond

	// 429/503 retry up to 3 times with 500ms * 2^attempt backoff.
	maxRetries        = 3
	defaultRetryDelay = 500 * time.Millisecond

	defaultMaxFilings = 20
)

// Supported filing types.
const (
	FilingForm4 = "form4"
	Filing13F   = "13f"
)

var (
	accessionRe = regexp.MustCompile(`\d{10}-\d{2}-\d{6}`)

	// Atom entry titles look like "13F-HR - FUND LP (0001067983) (Filer)".
	entryCompanyRe = regexp.MustCompile(`^\s*[^-]+-\s*(.+?)\s*\(\d`)
)

// feedTypeParam maps filing types to the EDGAR browse type parameter.
var feedTypeParam = map[string]string{
	FilingForm4: "4",
	Filing13F:   "13F-HR",
}

// Config is the validated subset of EDGAR knobs.
type Config struct {
	FilingTypes         []string
	MinTransactionValue float64
	MaxFilings          int
}

// ParseConfig validates and clamps the untyped config object. filing_types
// is required; unknown entries are dropped, and an empty result is a setup
// error.
func ParseConfig(m map[string]any) (Config, error) {
	requested := connector.GetStringSlice(m, "filing_types")
	if len(requested) == 0 {
		return Config{}, connector.Setupf("%s: config field %q is required", SourceType, "filing_types")
	}
	var types []string
	for _, t := range requested {
		t = strings.ToLower(t)
		if _, ok := feedTypeParam[t]; ok {
			types = append(types, t)
		}
	}
	if len(types) == 0 {
		return Config{}, connector.Setupf("%s: no supported filing types in %v", SourceType, requested)
	}
	return Config{
		FilingTypes:         types,
		MinTransactionValue: connector.ClampFloat(m, "min_transaction_value", 0, 0, 1e12),
		MaxFilings:          connector.ClampInt(m, "max_filings_per_type", defaultMaxFilings, 1, 100),
	}, nil
}

// TypeCursor is the per-filing-type incremental state: a single high-water
// accession number, not a full seen set.
type TypeCursor struct {
	LastAccession string `json:"last_accession,omitempty"`
	LastFetchAt   string `json:"last_fetch_at,omitempty"`
}

// Cursor maps filing type to its cursor.
type Cursor map[string]TypeCursor

// Connector fetches and normalizes EDGAR filings.
type Connector struct {
	client     *http.Client
	log        *logrus.Logger
	limiter    *rate.Limiter
	baseURL    string
	retryDelay time.Duration
	now        func() time.Time
}

// New creates the EDGAR connector.
func New(log *logrus.Logger) *Connector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Connector{
		client:     &http.Client{Timeout: fetchTimeout},
		log:        log,
		limiter:    rate.NewLimiter(rate.Every(minRequestGap), 1),
		baseURL:    secBase,
		retryDelay: defaultRetryDelay,
		now:        time.Now,
	}
}

func (c *Connector) SourceType() string {
	return SourceType
}

// userAgent reads the SEC contact user agent from the environment. EDGAR
// rejects anonymous clients, so this is a hard requirement at call time.
func userAgent() string {
	return os.Getenv("SEC_EDGAR_USER_AGENT")
}

// Fetch walks each configured filing type's Atom feed of recent filings,
// stops at the cursor's high-water accession, and resolves filing detail
// XML per entry. A detail failure skips that entry only.
func (c *Connector) Fetch(ctx context.Context, params connector.FetchParams) (connector.FetchResult, error) {
	cfg, err := ParseConfig(params.Config)
	if err != nil {
		return connector.FetchResult{}, err
	}

	if userAgent() == "" {
		return connector.FetchResult{
			NextCursor: params.Cursor,
			Meta:       connector.Meta{Error: "SEC_EDGAR_USER_AGENT not set", ErrorCode: "missing_credentials"},
		}, nil
	}

	cur := Cursor{}
	connector.DecodeCursor(params.Cursor, &cur)

	var (
		rawItems []json.RawMessage
		skipped  int
	)
	next := Cursor{}
	for t, tc := range cur {
		next[t] = tc
	}

	for _, filingType := range cfg.FilingTypes {
		entries, err := c.fetchFeed(ctx, filingType, cfg.MaxFilings)
		if err != nil {
			// Exhausted retries on the feed itself: propagate with context.
			return connector.FetchResult{}, fmt.Errorf("edgar: %s feed: %w", filingType, err)
		}

		lastAccession := cur[filingType].LastAccession
		typeCursor := TypeCursor{
			LastAccession: lastAccession,
			LastFetchAt:   connector.FormatTime(c.now().UTC()),
		}

		count := 0
		for i, entry := range entries {
			if entry.accession == lastAccession {
				break
			}
			if count >= cfg.MaxFilings {
				skipped++
				continue
			}
			if i == 0 {
				// Entries are newest-first; the first one becomes the new
				// high-water mark whether or not its detail parse succeeds.
				typeCursor.LastAccession = entry.accession
			}

			raw, err := c.fetchFilingDetail(ctx, filingType, entry, cfg)
			if err != nil {
				c.log.WithFields(logrus.Fields{"source": SourceType, "accession": entry.accession}).
					Warnf("filing skipped: %v", err)
				skipped++
				continue
			}
			if raw == nil {
				skipped++
				continue
			}
			rawItems = append(rawItems, raw)
			count++
		}

		next[filingType] = typeCursor
	}

	return connector.FetchResult{
		RawItems:   rawItems,
		NextCursor: connector.EncodeCursor(next, params.Cursor),
		Meta:       connector.Meta{Fetched: len(rawItems), Skipped: skipped},
	}, nil
}

// feedEntry is one Atom entry with its extracted accession number.
type feedEntry struct {
	accession string
	title     string
	link      string
	filedAt   time.Time
}

func (c *Connector) fetchFeed(ctx context.Context, filingType string, count int) ([]feedEntry, error) {
	feedURL := fmt.Sprintf(
		"%s/cgi-bin/browse-edgar?action=getcurrent&type=%s&company=&dateb=&owner=include&count=%d&output=atom",
		c.baseURL, feedTypeParam[filingType], count*2,
	)

	body, err := c.doGet(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse atom feed: %w", err)
	}

	var entries []feedEntry
	for _, item := range feed.Items {
		accession := accessionRe.FindString(item.Link)
		if accession == "" {
			accession = accessionRe.FindString(item.Title)
		}
		if accession == "" {
			accession = accessionRe.FindString(item.GUID)
		}
		if accession == "" {
			continue
		}
		entry := feedEntry{accession: accession, title: item.Title, link: item.Link}
		if item.UpdatedParsed != nil {
			entry.filedAt = *item.UpdatedParsed
		} else if item.PublishedParsed != nil {
			entry.filedAt = *item.PublishedParsed
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// doGet performs one rate-limited GET with bounded retries on 429/503.
func (c *Connector) doGet(ctx context.Context, url string) ([]byte, error) {
	var body []byte

	err := retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			// Accept-Encoding is left to the transport so it also
			// transparently decompresses EDGAR's gzipped responses.
			req.Header.Set("User-Agent", userAgent())

			resp, err := c.client.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}

			switch resp.StatusCode {
			case http.StatusOK:
				body = data
				return nil
			case http.StatusTooManyRequests, http.StatusServiceUnavailable:
				return &connector.TransientError{StatusCode: resp.StatusCode, Body: connector.TruncateBody(data)}
			default:
				return retry.Unrecoverable(&connector.TransientError{
					StatusCode: resp.StatusCode,
					Body:       connector.TruncateBody(data),
				})
			}
		},
		retry.Attempts(maxRetries+1),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if !retry.IsRecoverable(err) {
				return false
			}
			var te *connector.TransientError
			return errors.As(err, &te) || !errors.Is(err, context.Canceled)
		}),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}
