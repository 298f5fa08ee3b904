// Package connector defines the contract shared by every content source:
// a Fetch that speaks the provider's protocol and returns raw items plus a
// resumable cursor, and a Normalize that maps one raw item to the canonical
// draft shape. The scheduler treats all sources identically through this
// contract.
package connector

import (
	"context"
	"encoding/json"
	"sort"
	"time"
)

// MaxRawBytes caps the raw payload carried on a draft. Oversized payloads
// are replaced with a truncation stub rather than stored.
const MaxRawBytes = 16 * 1024

// Limits bounds a single fetch invocation.
type Limits struct {
	MaxItems int
}

// FetchParams is the immutable per-invocation input to Fetch. Config and
// Cursor are source-defined; WindowStart/WindowEnd bound what counts as new.
type FetchParams struct {
	UserID      string
	SourceID    string
	SourceType  string
	Config      map[string]any
	Cursor      json.RawMessage
	Limits      Limits
	WindowStart time.Time
	WindowEnd   time.Time
}

// Meta carries fetch diagnostics. Error/ErrorCode report expected runtime
// conditions (missing credentials, unreachable channel) without failing the
// run; the cursor stays unchanged so the next run retries identically.
type Meta struct {
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Fetched   int    `json:"fetched,omitempty"`
	Skipped   int    `json:"skipped,omitempty"`
}

// FetchResult is the uniform output of Fetch. NextCursor must always let the
// next call avoid re-emitting everything already seen, even when RawItems is
// empty.
type FetchResult struct {
	RawItems   []json.RawMessage
	NextCursor json.RawMessage
	Meta       Meta
}

// ContentItemDraft is the canonical unit handed to the persistence layer.
// Zero values stand in for absent optional fields; Normalize only fails on
// structurally malformed required identifiers.
type ContentItemDraft struct {
	Title        string          `json:"title,omitempty"`
	BodyText     string          `json:"body_text,omitempty"`
	CanonicalURL string          `json:"canonical_url,omitempty"`
	SourceType   string          `json:"source_type"`
	ExternalID   string          `json:"external_id,omitempty"`
	PublishedAt  time.Time       `json:"published_at,omitzero"`
	Author       string          `json:"author,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// Connector pairs a source type with its fetch and normalize operations.
type Connector interface {
	// SourceType returns the source identifier (e.g. "hn", "podcast").
	SourceType() string

	// Fetch performs the provider protocol. It may return an error only for
	// setup problems detected before any network call; expected provider
	// conditions are reported via Meta with an unchanged cursor.
	Fetch(ctx context.Context, params FetchParams) (FetchResult, error)

	// Normalize maps one raw item to a draft. It performs no I/O and is
	// deterministic: same raw input, same draft.
	Normalize(raw json.RawMessage, params FetchParams) (ContentItemDraft, error)
}

// Registry maps source types to connectors.
type Registry struct {
	byType map[string]Connector
}

// NewRegistry builds a registry from the given connectors. A duplicate
// source type panics: that is a wiring bug, not a runtime condition.
func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{byType: make(map[string]Connector, len(connectors))}
	for _, c := range connectors {
		if _, exists := r.byType[c.SourceType()]; exists {
			panic("connector: duplicate source type " + c.SourceType())
		}
		r.byType[c.SourceType()] = c
	}
	return r
}

// Lookup returns the connector registered for sourceType.
func (r *Registry) Lookup(sourceType string) (Connector, bool) {
	c, ok := r.byType[sourceType]
	return c, ok
}

// Types returns all registered source types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// DecodeCursor unmarshals an opaque cursor into v. Empty, null, or
// malformed cursors leave v at its zero value: a broken cursor must reset
// incremental state, never abort the fetch.
func DecodeCursor(raw json.RawMessage, v any) {
	if len(raw) == 0 || string(raw) == "null" {
		return
	}
	_ = json.Unmarshal(raw, v)
}

// EncodeCursor marshals a cursor struct. Cursors are plain data; a marshal
// failure here means a programming error, so fall back to the previous raw
// cursor instead of corrupting stored state.
func EncodeCursor(v any, prev json.RawMessage) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return prev
	}
	return data
}

// BoundRaw enforces MaxRawBytes on a raw payload.
func BoundRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) <= MaxRawBytes {
		return raw
	}
	return json.RawMessage(`{"truncated":true}`)
}

// EffectiveLimit resolves the per-fetch item cap from config and limits.
// Both must be positive to apply; the smaller wins.
func EffectiveLimit(configMax, limitMax int) int {
	switch {
	case configMax <= 0:
		return limitMax
	case limitMax <= 0:
		return configMax
	case limitMax < configMax:
		return limitMax
	default:
		return configMax
	}
}
