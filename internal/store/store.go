// Package store persists normalized content items and per-source fetch
// cursors in a local sqlite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

type Item struct {
	ID          int64
	SourceID    string
	SourceType  string
	ExternalID  string
	Title       string
	BodyText    string
	URL         string
	Author      string
	PublishedAt time.Time
	FetchedAt   time.Time
	Metadata    json.RawMessage
	Raw         json.RawMessage
}

type ItemInput struct {
	SourceID    string
	SourceType  string
	ExternalID  string
	Title       string
	BodyText    string
	URL         string
	Author      string
	PublishedAt time.Time
	FetchedAt   time.Time
	Metadata    json.RawMessage
	Raw         json.RawMessage
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertItem inserts a normalized item or refreshes the stored row when the
// same (source_id, external_id) pair arrives again. Returns true when the
// item was new.
func (s *Store) UpsertItem(ctx context.Context, in ItemInput) (Item, bool, error) {
	if s == nil || s.db == nil {
		return Item{}, false, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(in.SourceID) == "" {
		return Item{}, false, errors.New("source_id is required")
	}
	if strings.TrimSpace(in.SourceType) == "" {
		return Item{}, false, errors.New("source_type is required")
	}
	if strings.TrimSpace(in.ExternalID) == "" {
		return Item{}, false, errors.New("external_id is required")
	}
	if in.FetchedAt.IsZero() {
		return Item{}, false, errors.New("fetched_at is required")
	}

	var existed bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM items WHERE source_id = ? AND external_id = ?)",
		in.SourceID, in.ExternalID,
	).Scan(&existed)
	if err != nil {
		return Item{}, false, fmt.Errorf("check item: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO items (
			source_id, source_type, external_id, title, body_text, url, author,
			published_at, fetched_at, metadata, raw
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, external_id) DO UPDATE SET
			source_type = excluded.source_type,
			title = excluded.title,
			body_text = excluded.body_text,
			url = excluded.url,
			author = excluded.author,
			published_at = excluded.published_at,
			fetched_at = excluded.fetched_at,
			metadata = excluded.metadata,
			raw = excluded.raw
	`,
		in.SourceID,
		in.SourceType,
		in.ExternalID,
		in.Title,
		nullString(in.BodyText),
		nullString(in.URL),
		nullString(in.Author),
		formatTime(in.PublishedAt),
		formatTime(in.FetchedAt),
		nullString(string(in.Metadata)),
		nullString(string(in.Raw)),
	)
	if err != nil {
		return Item{}, false, fmt.Errorf("upsert item: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_id, source_type, external_id, title, body_text, url, author,
			published_at, fetched_at, metadata, raw
		FROM items
		WHERE source_id = ? AND external_id = ?
	`, in.SourceID, in.ExternalID)

	item, err := scanItem(row)
	if err != nil {
		return Item{}, false, err
	}

	return item, !existed, nil
}

// ItemFilter holds optional filters for GetItems.
type ItemFilter struct {
	SourceID   string
	SourceType string
}

func (s *Store) GetItems(ctx context.Context, since time.Time, filters ...ItemFilter) ([]Item, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	query := `
		SELECT id, source_id, source_type, external_id, title, body_text, url, author,
			published_at, fetched_at, metadata, raw
		FROM items
		WHERE published_at >= ?`
	args := []any{formatTime(since)}

	var filter ItemFilter
	if len(filters) > 0 {
		filter = filters[0]
	}
	if filter.SourceID != "" {
		query += " AND source_id = ?"
		args = append(args, filter.SourceID)
	}
	if filter.SourceType != "" {
		query += " AND source_type = ?"
		args = append(args, filter.SourceType)
	}

	query += " ORDER BY published_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get items: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}

	return items, nil
}

// GetCursor returns the stored cursor for a source, or nil when none exists.
func (s *Store) GetCursor(ctx context.Context, sourceID string) (json.RawMessage, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var cursor string
	err := s.db.QueryRowContext(ctx, "SELECT cursor FROM cursors WHERE source_id = ?", sourceID).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor: %w", err)
	}
	return json.RawMessage(cursor), nil
}

// SaveCursor stores a source's cursor verbatim. An empty cursor is treated
// as a reset and removes the row.
func (s *Store) SaveCursor(ctx context.Context, sourceID string, cursor json.RawMessage) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(sourceID) == "" {
		return errors.New("source_id is required")
	}

	if len(cursor) == 0 {
		return s.DeleteCursor(ctx, sourceID)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (source_id, cursor, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			cursor = excluded.cursor,
			updated_at = excluded.updated_at
	`, sourceID, string(cursor), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// DeleteCursor removes a source's cursor so the next fetch starts cold.
func (s *Store) DeleteCursor(ctx context.Context, sourceID string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cursors WHERE source_id = ?", sourceID); err != nil {
		return fmt.Errorf("delete cursor: %w", err)
	}
	return nil
}

// CursorInfo pairs a stored cursor with its last update time.
type CursorInfo struct {
	SourceID  string
	Cursor    json.RawMessage
	UpdatedAt time.Time
}

// ListCursors returns all stored cursors ordered by source id.
func (s *Store) ListCursors(ctx context.Context) ([]CursorInfo, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, "SELECT source_id, cursor, updated_at FROM cursors ORDER BY source_id")
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var infos []CursorInfo
	for rows.Next() {
		var (
			info      CursorInfo
			cursor    string
			updatedAt string
		)
		if err := rows.Scan(&info.SourceID, &cursor, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		info.Cursor = json.RawMessage(cursor)
		info.UpdatedAt, err = parseTime(updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursors: %w", err)
	}

	return infos, nil
}

// SourceStats holds aggregated item counts for one source.
type SourceStats struct {
	SourceID      string
	SourceType    string
	Total         int
	LastPublished time.Time
	LastFetched   time.Time
}

// GetSourceStats returns per-source aggregates for items since the given time.
func (s *Store) GetSourceStats(ctx context.Context, since time.Time) ([]SourceStats, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, source_type,
			COUNT(*) AS total,
			MAX(published_at) AS last_published,
			MAX(fetched_at) AS last_fetched
		FROM items
		WHERE published_at >= ?
		GROUP BY source_id, source_type
		ORDER BY source_id
	`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("get source stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []SourceStats
	for rows.Next() {
		var (
			ss                          SourceStats
			lastPublished, lastFetched string
		)
		if err := rows.Scan(&ss.SourceID, &ss.SourceType, &ss.Total, &lastPublished, &lastFetched); err != nil {
			return nil, fmt.Errorf("scan source stats: %w", err)
		}
		ss.LastPublished, err = parseTime(lastPublished)
		if err != nil {
			return nil, fmt.Errorf("parse last_published: %w", err)
		}
		ss.LastFetched, err = parseTime(lastFetched)
		if err != nil {
			return nil, fmt.Errorf("parse last_fetched: %w", err)
		}
		stats = append(stats, ss)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source stats: %w", err)
	}

	return stats, nil
}

// PruneOld deletes items older than retainDays. Returns the number removed.
func (s *Store) PruneOld(ctx context.Context, retainDays int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if retainDays <= 0 {
		return 0, nil
	}

	cutoff := formatTime(time.Now().AddDate(0, 0, -retainDays))

	res, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE published_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune old items: %w", err)
	}

	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(scanner rowScanner) (Item, error) {
	var (
		item                   Item
		bodyVal, urlVal        sql.NullString
		authorVal              sql.NullString
		metadataVal, rawVal    sql.NullString
		publishedAt, fetchedAt string
	)

	if err := scanner.Scan(
		&item.ID,
		&item.SourceID,
		&item.SourceType,
		&item.ExternalID,
		&item.Title,
		&bodyVal,
		&urlVal,
		&authorVal,
		&publishedAt,
		&fetchedAt,
		&metadataVal,
		&rawVal,
	); err != nil {
		return Item{}, fmt.Errorf("scan item: %w", err)
	}

	if bodyVal.Valid {
		item.BodyText = bodyVal.String
	}
	if urlVal.Valid {
		item.URL = urlVal.String
	}
	if authorVal.Valid {
		item.Author = authorVal.String
	}
	if metadataVal.Valid {
		item.Metadata = json.RawMessage(metadataVal.String)
	}
	if rawVal.Valid {
		item.Raw = json.RawMessage(rawVal.String)
	}

	var err error
	item.PublishedAt, err = parseTime(publishedAt)
	if err != nil {
		return Item{}, fmt.Errorf("parse published_at: %w", err)
	}
	item.FetchedAt, err = parseTime(fetchedAt)
	if err != nil {
		return Item{}, fmt.Errorf("parse fetched_at: %w", err)
	}

	return item, nil
}

func nullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return time.Time{}.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}
