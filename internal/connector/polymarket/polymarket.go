// Package polymarket implements the prediction-market connector against the
// Polymarket gamma API. The fetcher classifies markets as new or spiking by
// comparing the current observation with the prior one carried in cursor
// state, and emits only classified candidates.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inletfeed/inlet/internal/connector"
)

const (
	SourceType = "polymarket"

	gammaAPI     = "https://gamma-api.polymarket.com"
	siteBase     = "https://polymarket.com"
	fetchTimeout = 30 * time.Second

	defaultMaxMarkets = 50
	maxDescriptionLen = 300
)

// Spike reasons attached to candidates.
const (
	SpikeProbability = "probability"
	SpikeVolume      = "volume"
	SpikeBoth        = "both"
)

// Config is the validated subset of Polymarket knobs.
type Config struct {
	MaxMarkets       int
	MinVolume24h     float64
	SpikeProbDelta   float64 // probability-point threshold, as a fraction
	SpikeVolumeRatio float64 // 24h volume growth threshold, as a fraction
	Categories       []string
}

// ParseConfig validates and clamps the untyped config object.
func ParseConfig(m map[string]any) (Config, error) {
	return Config{
		MaxMarkets:       connector.ClampInt(m, "max_markets_per_fetch", defaultMaxMarkets, 1, 200),
		MinVolume24h:     connector.ClampFloat(m, "min_volume_24h", 0, 0, math.MaxFloat64),
		SpikeProbDelta:   connector.ClampFloat(m, "spike_prob_delta", 0.10, 0.01, 0.50),
		SpikeVolumeRatio: connector.ClampFloat(m, "spike_volume_ratio", 0.50, 0.10, 10),
		Categories:       connector.GetStringSlice(m, "categories"),
	}, nil
}

// Observation is the per-market state carried between runs.
type Observation struct {
	Prob       float64 `json:"prob"`
	Volume24h  float64 `json:"volume_24h,omitempty"`
	ObservedAt string  `json:"observed_at,omitempty"`
}

// UnmarshalJSON accepts both the observation object and the older bare
// probability number.
func (o *Observation) UnmarshalJSON(data []byte) error {
	var prob float64
	if err := json.Unmarshal(data, &prob); err == nil {
		*o = Observation{Prob: prob}
		return nil
	}
	type observation Observation
	var full observation
	if err := json.Unmarshal(data, &full); err != nil {
		return err
	}
	*o = Observation(full)
	return nil
}

// Cursor keys prior observations by condition ID. It is rebuilt from the
// current fetch each run, so its size is bounded by the market limit.
type Cursor struct {
	LastPrices map[string]Observation `json:"last_prices,omitempty"`
}

// Candidate is the canonical raw item: a market already classified as new
// and/or spiking, with deltas precomputed against the prior observation.
type Candidate struct {
	ConditionID string   `json:"condition_id"`
	Question    string   `json:"question"`
	Description string   `json:"description,omitempty"`
	EventSlug   string   `json:"event_slug,omitempty"`
	Category    string   `json:"category,omitempty"`
	Outcomes    []string `json:"outcomes,omitempty"`
	CurrentProb float64  `json:"current_prob"`
	Volume24h   float64  `json:"volume_24h,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	ObservedAt  string   `json:"observed_at,omitempty"`
	IsNew       bool     `json:"is_new,omitempty"`
	IsSpike     bool     `json:"is_spike,omitempty"`
	SpikeReason string   `json:"spike_reason,omitempty"`
	ProbDelta   float64  `json:"prob_delta,omitempty"`
	VolumeDelta float64  `json:"volume_delta,omitempty"`
}

// market mirrors the gamma API response shape.
type market struct {
	ConditionID   string  `json:"conditionId"`
	Question      string  `json:"question"`
	Description   string  `json:"description"`
	Slug          string  `json:"slug"`
	Category      string  `json:"category"`
	Volume24h     float64 `json:"volume24hr"`
	OutcomePrices string  `json:"outcomePrices"` // JSON string "[0.65, 0.35]"
	Outcomes      string  `json:"outcomes"`      // JSON string "[\"Yes\", \"No\"]"
	CreatedAt     string  `json:"createdAt"`
	Events        []struct {
		Slug string `json:"slug"`
	} `json:"events"`
}

// Connector fetches and normalizes Polymarket candidates.
type Connector struct {
	client  *http.Client
	log     *logrus.Logger
	baseURL string
	now     func() time.Time
}

// New creates the Polymarket connector.
func New(log *logrus.Logger) *Connector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Connector{
		client:  &http.Client{Timeout: fetchTimeout},
		log:     log,
		baseURL: gammaAPI,
		now:     time.Now,
	}
}

func (c *Connector) SourceType() string {
	return SourceType
}

// Fetch pulls active markets ordered by 24h volume and emits candidates
// that are new or spiking relative to the cursor's prior observations.
func (c *Connector) Fetch(ctx context.Context, params connector.FetchParams) (connector.FetchResult, error) {
	cfg, err := ParseConfig(params.Config)
	if err != nil {
		return connector.FetchResult{}, err
	}

	var cur Cursor
	connector.DecodeCursor(params.Cursor, &cur)

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	limit := connector.EffectiveLimit(cfg.MaxMarkets, params.Limits.MaxItems)
	markets, err := c.fetchMarkets(ctx, limit)
	if err != nil {
		return connector.FetchResult{
			NextCursor: params.Cursor,
			Meta:       connector.Meta{Error: err.Error(), ErrorCode: "fetch_failed"},
		}, nil
	}

	observedAt := params.WindowEnd
	if observedAt.IsZero() {
		observedAt = c.now().UTC()
	}

	var (
		rawItems []json.RawMessage
		skipped  int
	)
	nextPrices := make(map[string]Observation, len(markets))

	for _, m := range markets {
		if m.ConditionID == "" || m.Question == "" {
			skipped++
			continue
		}
		if len(cfg.Categories) > 0 && !containsFold(cfg.Categories, m.Category) {
			skipped++
			continue
		}
		if m.Volume24h < cfg.MinVolume24h {
			skipped++
			continue
		}

		prob := firstOutcomePrice(m.OutcomePrices)
		nextPrices[m.ConditionID] = Observation{
			Prob:       prob,
			Volume24h:  m.Volume24h,
			ObservedAt: connector.FormatTime(observedAt),
		}

		prior, seen := cur.LastPrices[m.ConditionID]

		cand := Candidate{
			ConditionID: m.ConditionID,
			Question:    m.Question,
			Description: m.Description,
			EventSlug:   eventSlug(m),
			Category:    m.Category,
			Outcomes:    decodeStringList(m.Outcomes),
			CurrentProb: prob,
			Volume24h:   m.Volume24h,
			CreatedAt:   m.CreatedAt,
			ObservedAt:  connector.FormatTime(observedAt),
			IsNew:       !seen,
		}

		if seen {
			cand.ProbDelta = prob - prior.Prob
			if prior.Volume24h > 0 {
				cand.VolumeDelta = (m.Volume24h - prior.Volume24h) / prior.Volume24h
			}
			spikeProb := math.Abs(cand.ProbDelta) >= cfg.SpikeProbDelta
			spikeVol := cand.VolumeDelta >= cfg.SpikeVolumeRatio
			switch {
			case spikeProb && spikeVol:
				cand.IsSpike, cand.SpikeReason = true, SpikeBoth
			case spikeProb:
				cand.IsSpike, cand.SpikeReason = true, SpikeProbability
			case spikeVol:
				cand.IsSpike, cand.SpikeReason = true, SpikeVolume
			}
		}

		if !cand.IsNew && !cand.IsSpike {
			skipped++
			continue
		}

		raw, err := json.Marshal(cand)
		if err != nil {
			skipped++
			continue
		}
		rawItems = append(rawItems, raw)
	}

	return connector.FetchResult{
		RawItems:   rawItems,
		NextCursor: connector.EncodeCursor(Cursor{LastPrices: nextPrices}, params.Cursor),
		Meta:       connector.Meta{Fetched: len(rawItems), Skipped: skipped},
	}, nil
}

// Normalize maps one candidate to a draft. A candidate without a condition
// ID or question is an upstream contract violation and fails.
func (c *Connector) Normalize(raw json.RawMessage, params connector.FetchParams) (connector.ContentItemDraft, error) {
	var cand Candidate
	if err := json.Unmarshal(raw, &cand); err != nil {
		return connector.ContentItemDraft{}, fmt.Errorf("polymarket: decode raw item: %w", err)
	}
	if cand.ConditionID == "" {
		return connector.ContentItemDraft{}, fmt.Errorf("polymarket: candidate missing condition id")
	}
	if cand.Question == "" {
		return connector.ContentItemDraft{}, fmt.Errorf("polymarket: candidate %s missing question", cand.ConditionID)
	}

	var lines []string
	if cand.IsNew {
		lines = append(lines, "**New Market**")
	}
	if cand.IsSpike {
		lines = append(lines, spikeLine(cand))
	}
	lines = append(lines, statusLine(cand))
	if desc := strings.TrimSpace(cand.Description); desc != "" {
		if len(desc) > maxDescriptionLen {
			desc = desc[:maxDescriptionLen] + "..."
		}
		lines = append(lines, desc)
	}

	// Spiking markets re-enter the recency window at observation time; only
	// quiet new markets keep their creation time.
	publishedAt := connector.ParseTime(cand.CreatedAt)
	if cand.IsSpike {
		publishedAt = connector.ParseTime(cand.ObservedAt)
	}

	canonicalURL := siteBase + "/market/" + cand.ConditionID
	if cand.EventSlug != "" {
		canonicalURL = siteBase + "/event/" + cand.EventSlug
	}

	metadata := map[string]any{
		"probability": cand.CurrentProb,
		"volume_24h":  cand.Volume24h,
		"is_new":      cand.IsNew,
		"is_spike":    cand.IsSpike,
	}
	if cand.Category != "" {
		metadata["category"] = cand.Category
	}
	if cand.SpikeReason != "" {
		metadata["spike_reason"] = cand.SpikeReason
		metadata["prob_delta"] = cand.ProbDelta
		metadata["volume_delta"] = cand.VolumeDelta
	}

	return connector.ContentItemDraft{
		Title:        cand.Question,
		BodyText:     strings.Join(lines, "\n"),
		CanonicalURL: canonicalURL,
		SourceType:   SourceType,
		ExternalID:   cand.ConditionID,
		PublishedAt:  publishedAt,
		Metadata:     metadata,
		Raw:          connector.BoundRaw(raw),
	}, nil
}

func (c *Connector) fetchMarkets(ctx context.Context, limit int) ([]market, error) {
	url := fmt.Sprintf("%s/markets?active=true&closed=false&limit=%d&order=volume24hr&ascending=false", c.baseURL, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("markets: HTTP %d", resp.StatusCode)
	}

	var markets []market
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return nil, fmt.Errorf("decode markets: %w", err)
	}
	return markets, nil
}

func spikeLine(cand Candidate) string {
	var parts []string
	if cand.SpikeReason == SpikeProbability || cand.SpikeReason == SpikeBoth {
		parts = append(parts, fmt.Sprintf("probability %+.1fpp", cand.ProbDelta*100))
	}
	if cand.SpikeReason == SpikeVolume || cand.SpikeReason == SpikeBoth {
		parts = append(parts, fmt.Sprintf("24h volume %+.0f%%", cand.VolumeDelta*100))
	}
	return "**Spike Alert** " + strings.Join(parts, ", ")
}

func statusLine(cand Candidate) string {
	line := fmt.Sprintf("Currently %.0f%% YES", cand.CurrentProb*100)
	if cand.Volume24h > 0 {
		line += fmt.Sprintf(" · $%.0fK 24h volume", cand.Volume24h/1000)
	}
	return line
}

func eventSlug(m market) string {
	if len(m.Events) > 0 && m.Events[0].Slug != "" {
		return m.Events[0].Slug
	}
	return m.Slug
}

// firstOutcomePrice parses the outcomePrices JSON string; an unreadable
// value reads as an even 50%.
func firstOutcomePrice(pricesJSON string) float64 {
	var prices []json.Number
	if err := json.Unmarshal([]byte(pricesJSON), &prices); err != nil || len(prices) == 0 {
		// Some responses double-encode prices as a list of strings.
		var strs []string
		if err := json.Unmarshal([]byte(pricesJSON), &strs); err != nil || len(strs) == 0 {
			return 0.5
		}
		var f float64
		if _, err := fmt.Sscanf(strs[0], "%f", &f); err != nil {
			return 0.5
		}
		return f
	}
	f, err := prices[0].Float64()
	if err != nil {
		return 0.5
	}
	return f
}

func decodeStringList(s string) []string {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, e := range list {
		if strings.EqualFold(e, s) {
			return true
		}
	}
	return false
}
