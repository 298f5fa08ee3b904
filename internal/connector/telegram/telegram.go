// Package telegram implements the Telegram channel connector over the Bot
// API's getUpdates long-poll. One shared offset serves all configured
// channels: it sits one past the minimum per-channel last-seen update_id,
// so no channel's updates are skipped.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/sirupsen/logrus"

	"github.com/inletfeed/inlet/internal/connector"
)

const (
	SourceType = "telegram"

	apiBase      = "https://api.telegram.org"
	fetchTimeout = 60 * time.Second

	// 429s retry up to 3 times honoring the server-specified wait.
	maxRetries        = 3
	defaultRetryDelay = time.Second

	defaultMaxPerChannel = 20

	globalCursorKey  = "last_update_id"
	channelKeyPrefix = "last_update_id_"
)

// Config is the validated subset of Telegram knobs.
type Config struct {
	Channels        []string
	MaxPerChannel   int
	IncludeForwards bool
}

// ParseConfig validates and clamps the untyped config object. At least one
// channel is required.
func ParseConfig(m map[string]any) (Config, error) {
	channels := connector.GetStringSlice(m, "channels")
	if len(channels) == 0 {
		return Config{}, connector.Setupf("%s: config field %q is required", SourceType, "channels")
	}
	for i, ch := range channels {
		channels[i] = strings.ToLower(strings.TrimPrefix(ch, "@"))
	}
	return Config{
		Channels:        channels,
		MaxPerChannel:   connector.ClampInt(m, "max_messages_per_channel", defaultMaxPerChannel, 1, 100),
		IncludeForwards: connector.GetBool(m, "include_forwards", false),
	}, nil
}

// Cursor is a flat map: a global last_update_id plus one
// last_update_id_<channel> per channel, each monotonically non-decreasing.
type Cursor map[string]int64

type update struct {
	UpdateID    int64    `json:"update_id"`
	Message     *message `json:"message"`
	ChannelPost *message `json:"channel_post"`
}

type message struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		Title    string `json:"title"`
		Username string `json:"username"`
		Type     string `json:"type"`
	} `json:"chat"`
	Date            int64           `json:"date"`
	Text            string          `json:"text"`
	Caption         string          `json:"caption"`
	ForwardOrigin   json.RawMessage `json:"forward_origin"`
	ForwardFromChat json.RawMessage `json:"forward_from_chat"`
}

// RawMessage is the provider-neutral raw item emitted by Fetch.
type RawMessage struct {
	UpdateID     int64  `json:"update_id"`
	Channel      string `json:"channel"`
	ChannelTitle string `json:"channel_title,omitempty"`
	MessageID    int64  `json:"message_id"`
	Date         int64  `json:"date"`
	Text         string `json:"text,omitempty"`
	IsForward    bool   `json:"is_forward,omitempty"`
}

// Connector fetches and normalizes Telegram channel posts.
type Connector struct {
	client     *http.Client
	log        *logrus.Logger
	baseURL    string
	retryDelay time.Duration
}

// New creates the Telegram connector.
func New(log *logrus.Logger) *Connector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Connector{
		client:     &http.Client{Timeout: fetchTimeout},
		log:        log,
		baseURL:    apiBase,
		retryDelay: defaultRetryDelay,
	}
}

func (c *Connector) SourceType() string {
	return SourceType
}

// Offset computes the getUpdates offset: one past the minimum last-seen
// update_id across the configured channels. Channels with no recorded state
// fall back to the global mark so a newly added channel cannot advance the
// offset past unseen updates.
func Offset(cur Cursor, channels []string) int64 {
	min := int64(-1)
	for _, ch := range channels {
		v, ok := cur[channelKeyPrefix+ch]
		if !ok {
			v = cur[globalCursorKey]
		}
		if min < 0 || v < min {
			min = v
		}
	}
	if min <= 0 {
		return 0
	}
	return min + 1
}

// Fetch long-polls getUpdates and filters the result down to configured
// channels, the fetch window, and the per-channel cap.
func (c *Connector) Fetch(ctx context.Context, params connector.FetchParams) (connector.FetchResult, error) {
	cfg, err := ParseConfig(params.Config)
	if err != nil {
		return connector.FetchResult{}, err
	}

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return connector.FetchResult{
			NextCursor: params.Cursor,
			Meta:       connector.Meta{Error: "TELEGRAM_BOT_TOKEN not set", ErrorCode: "missing_credentials"},
		}, nil
	}

	cur := Cursor{}
	connector.DecodeCursor(params.Cursor, &cur)

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	updates, err := c.getUpdates(ctx, token, Offset(cur, cfg.Channels))
	if err != nil {
		return connector.FetchResult{
			NextCursor: params.Cursor,
			Meta:       connector.Meta{Error: err.Error(), ErrorCode: "fetch_failed"},
		}, nil
	}
	c.log.WithField("source", SourceType).Debugf("getUpdates returned %d updates", len(updates))

	wanted := make(map[string]bool, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		wanted[ch] = true
	}

	next := Cursor{}
	for k, v := range cur {
		next[k] = v
	}
	advance := func(key string, id int64) {
		if id > next[key] {
			next[key] = id
		}
	}

	var (
		rawItems []json.RawMessage
		skipped  int
	)
	perChannel := make(map[string]int)

	for _, upd := range updates {
		advance(globalCursorKey, upd.UpdateID)

		msg := upd.ChannelPost
		if msg == nil {
			msg = upd.Message
		}
		if msg == nil {
			continue
		}

		channel := strings.ToLower(msg.Chat.Username)
		if channel == "" || !wanted[channel] {
			continue
		}
		advance(channelKeyPrefix+channel, upd.UpdateID)

		isForward := len(msg.ForwardOrigin) > 0 || len(msg.ForwardFromChat) > 0
		if isForward && !cfg.IncludeForwards {
			skipped++
			continue
		}

		postedAt := connector.FromUnix(msg.Date)
		if !params.WindowStart.IsZero() && postedAt.Before(params.WindowStart) {
			skipped++
			continue
		}
		if !params.WindowEnd.IsZero() && postedAt.After(params.WindowEnd) {
			skipped++
			continue
		}

		if perChannel[channel] >= cfg.MaxPerChannel {
			skipped++
			continue
		}

		text := msg.Text
		if text == "" {
			text = msg.Caption
		}
		raw, err := json.Marshal(RawMessage{
			UpdateID:     upd.UpdateID,
			Channel:      channel,
			ChannelTitle: msg.Chat.Title,
			MessageID:    msg.MessageID,
			Date:         msg.Date,
			Text:         text,
			IsForward:    isForward,
		})
		if err != nil {
			skipped++
			continue
		}
		rawItems = append(rawItems, raw)
		perChannel[channel]++
	}

	return connector.FetchResult{
		RawItems:   rawItems,
		NextCursor: connector.EncodeCursor(next, params.Cursor),
		Meta:       connector.Meta{Fetched: len(rawItems), Skipped: skipped},
	}, nil
}

// Normalize maps one channel message to a draft.
func (c *Connector) Normalize(raw json.RawMessage, params connector.FetchParams) (connector.ContentItemDraft, error) {
	var msg RawMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return connector.ContentItemDraft{}, fmt.Errorf("telegram: decode raw item: %w", err)
	}

	externalID := ""
	canonicalURL := ""
	if msg.Channel != "" && msg.MessageID > 0 {
		externalID = msg.Channel + ":" + strconv.FormatInt(msg.MessageID, 10)
		canonicalURL = "https://t.me/" + msg.Channel + "/" + strconv.FormatInt(msg.MessageID, 10)
	}

	author := msg.ChannelTitle
	if author == "" {
		author = msg.Channel
	}

	metadata := map[string]any{
		"channel":    msg.Channel,
		"message_id": msg.MessageID,
	}
	if msg.IsForward {
		metadata["forwarded"] = true
	}

	return connector.ContentItemDraft{
		Title:        firstLine(msg.Text),
		BodyText:     msg.Text,
		CanonicalURL: canonicalURL,
		SourceType:   SourceType,
		ExternalID:   externalID,
		PublishedAt:  connector.FromUnix(msg.Date),
		Author:       author,
		Metadata:     metadata,
		Raw:          connector.BoundRaw(raw),
	}, nil
}

// firstLine truncates a message to a headline-sized title.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	runes := []rune(s)
	if len(runes) > 120 {
		return string(runes[:117]) + "..."
	}
	return s
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	Parameters  struct {
		RetryAfter int64 `json:"retry_after"`
	} `json:"parameters"`
}

// rateLimited carries the server-specified wait from a 429 response.
type rateLimited struct {
	retryAfter time.Duration
	desc       string
}

func (e *rateLimited) Error() string {
	return fmt.Sprintf("telegram: rate limited (retry after %s): %s", e.retryAfter, e.desc)
}

func (c *Connector) getUpdates(ctx context.Context, token string, offset int64) ([]update, error) {
	query := url.Values{
		"timeout":         {"0"},
		"allowed_updates": {`["message","channel_post"]`},
	}
	if offset > 0 {
		query.Set("offset", strconv.FormatInt(offset, 10))
	}
	reqURL := fmt.Sprintf("%s/bot%s/getUpdates?%s", c.baseURL, token, query.Encode())

	var updates []update
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}

			resp, err := c.client.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}

			var envelope apiResponse
			if err := json.Unmarshal(body, &envelope); err != nil {
				return retry.Unrecoverable(fmt.Errorf("getUpdates: decode: %w", err))
			}

			if resp.StatusCode == http.StatusTooManyRequests || envelope.Parameters.RetryAfter > 0 {
				return &rateLimited{
					retryAfter: time.Duration(envelope.Parameters.RetryAfter) * time.Second,
					desc:       envelope.Description,
				}
			}
			if !envelope.OK {
				return retry.Unrecoverable(&connector.TransientError{
					StatusCode: resp.StatusCode,
					Body:       connector.TruncateBody(body),
				})
			}

			return json.Unmarshal(envelope.Result, &updates)
		},
		retry.Attempts(maxRetries+1),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var rl *rateLimited
			return errors.As(err, &rl)
		}),
		retry.DelayType(func(_ uint, err error, _ *retry.Config) time.Duration {
			var rl *rateLimited
			if errors.As(err, &rl) && rl.retryAfter > 0 {
				return rl.retryAfter
			}
			return c.retryDelay
		}),
	)
	if err != nil {
		return nil, err
	}
	return updates, nil
}
