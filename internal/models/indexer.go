// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/autobrr/crossseed/internal/dbinterface"
)

var ErrIndexerNotFound = errors.New("indexer not found")

// IndexerStatus classifies the last observed health of an indexer.
type IndexerStatus string

const (
	IndexerStatusOK           IndexerStatus = "OK"
	IndexerStatusUnknownError IndexerStatus = "UNKNOWN_ERROR"
	IndexerStatusRateLimited  IndexerStatus = "RATE_LIMITED"
	IndexerStatusInvalidAuth  IndexerStatus = "INVALID_AUTH"
)

// rateLimitBackoff is the cooldown ladder applied on consecutive 429s.
// Offenses beyond the ladder repeat the final step.
var rateLimitBackoff = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
}

// IndexerCaps is the advertised Torznab capability set.
type IndexerCaps struct {
	Search  bool
	TV      bool
	Movie   bool
	Music   bool
	Audio   bool
	Book    bool
	IDCaps  []string
	CatCaps []string
	Limits  IndexerLimits
}

// IndexerLimits carries the caps-reported result limits.
type IndexerLimits struct {
	Max     int
	Default int
}

// SupportsQueryKind reports whether the caps include the given Torznab
// query kind ("search", "tvsearch", "movie", "music", "book").
func (c IndexerCaps) SupportsQueryKind(kind string) bool {
	switch kind {
	case "tvsearch":
		return c.TV
	case "movie":
		return c.Movie
	case "music":
		return c.Music || c.Audio
	case "book":
		return c.Book
	default:
		return c.Search
	}
}

// SupportsAny reports whether any query capability has been recorded. False
// means caps were never fetched or the indexer advertises nothing.
func (c IndexerCaps) SupportsAny() bool {
	return c.Search || c.TV || c.Movie || c.Music || c.Audio || c.Book
}

// HasIDCap reports whether the indexer advertises the id parameter.
func (c IndexerCaps) HasIDCap(name string) bool {
	for _, id := range c.IDCaps {
		if strings.EqualFold(id, name) {
			return true
		}
	}
	return false
}

// Indexer is a persistent Torznab endpoint with health state.
type Indexer struct {
	ID           int
	URL          string
	APIKey       string
	Name         string
	Active       bool
	Status       IndexerStatus
	RetryAfter   *time.Time
	FailureCount int
	Caps         IndexerCaps

	RSSCursorGUID    string
	RSSCursorPubDate *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName is the configured name or the endpoint host.
func (i *Indexer) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	if u, err := url.Parse(i.URL); err == nil && u.Host != "" {
		return u.Host
	}
	return i.URL
}

// Available reports whether query planning may use this indexer now. An
// indexer in cooldown stays enumerable but is skipped here.
func (i *Indexer) Available(now time.Time) bool {
	if !i.Active || i.Status == IndexerStatusInvalidAuth {
		return false
	}
	if i.RetryAfter != nil && i.RetryAfter.After(now) {
		return false
	}
	return true
}

// CanonicalizeIndexerURL strips query and fragment so the same endpoint
// configured twice maps to one row.
func CanonicalizeIndexerURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse indexer url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("indexer url %q must be http or https", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}

// IndexerStore manages indexer rows.
type IndexerStore struct {
	db dbinterface.Querier
}

func NewIndexerStore(db dbinterface.Querier) *IndexerStore {
	return &IndexerStore{db: db}
}

const indexerColumns = `id, url, apikey, name, active, status, retry_after, failure_count,
	search_cap, tv_search_cap, movie_search_cap, music_search_cap, audio_search_cap, book_search_cap,
	id_caps, cat_caps, limits_max, limits_default, rss_cursor_guid, rss_cursor_pubdate,
	created_at, updated_at`

func scanIndexer(row interface{ Scan(...any) error }) (*Indexer, error) {
	var (
		idx        Indexer
		name       sql.NullString
		retryAfter sql.NullTime
		rssPubDate sql.NullTime
		idCaps     string
		catCaps    string
	)
	err := row.Scan(
		&idx.ID, &idx.URL, &idx.APIKey, &name, &idx.Active, &idx.Status, &retryAfter, &idx.FailureCount,
		&idx.Caps.Search, &idx.Caps.TV, &idx.Caps.Movie, &idx.Caps.Music, &idx.Caps.Audio, &idx.Caps.Book,
		&idCaps, &catCaps, &idx.Caps.Limits.Max, &idx.Caps.Limits.Default,
		&idx.RSSCursorGUID, &rssPubDate,
		&idx.CreatedAt, &idx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	idx.Name = name.String
	if retryAfter.Valid {
		idx.RetryAfter = &retryAfter.Time
	}
	if rssPubDate.Valid {
		idx.RSSCursorPubDate = &rssPubDate.Time
	}
	idx.Caps.IDCaps = splitList(idCaps)
	idx.Caps.CatCaps = splitList(catCaps)
	return &idx, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func joinList(items []string) string {
	return strings.Join(items, ",")
}

// Upsert inserts the indexer by canonical URL or updates its API key and
// name, returning the stored row. Health state is preserved on update.
func (s *IndexerStore) Upsert(ctx context.Context, rawURL, apiKey, name string) (*Indexer, error) {
	canonical, err := CanonicalizeIndexerURL(rawURL)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO indexer (url, apikey, name)
		VALUES (?, ?, NULLIF(?, ''))
		ON CONFLICT (url) DO UPDATE SET
			apikey = excluded.apikey,
			name = COALESCE(excluded.name, indexer.name),
			active = 1,
			updated_at = CURRENT_TIMESTAMP
	`, canonical, apiKey, name)
	if err != nil {
		return nil, fmt.Errorf("upsert indexer: %w", err)
	}

	return s.GetByURL(ctx, canonical)
}

// Get retrieves an indexer by ID.
func (s *IndexerStore) Get(ctx context.Context, id int) (*Indexer, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+indexerColumns+" FROM indexer WHERE id = ?", id)
	idx, err := scanIndexer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIndexerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get indexer: %w", err)
	}
	return idx, nil
}

// GetByURL retrieves an indexer by canonical URL.
func (s *IndexerStore) GetByURL(ctx context.Context, canonical string) (*Indexer, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+indexerColumns+" FROM indexer WHERE url = ?", canonical)
	idx, err := scanIndexer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIndexerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get indexer by url: %w", err)
	}
	return idx, nil
}

// List returns every indexer ordered by name then URL.
func (s *IndexerStore) List(ctx context.Context) ([]*Indexer, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+indexerColumns+" FROM indexer ORDER BY name, url")
	if err != nil {
		return nil, fmt.Errorf("list indexers: %w", err)
	}
	defer rows.Close()

	var out []*Indexer
	for rows.Next() {
		idx, err := scanIndexer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan indexer: %w", err)
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

// ListActive returns indexers enabled for searching. Cooldown filtering is
// left to the caller so cooled-down indexers remain enumerable.
func (s *IndexerStore) ListActive(ctx context.Context) ([]*Indexer, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+indexerColumns+" FROM indexer WHERE active = 1 ORDER BY name, url")
	if err != nil {
		return nil, fmt.Errorf("list active indexers: %w", err)
	}
	defer rows.Close()

	var out []*Indexer
	for rows.Next() {
		idx, err := scanIndexer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan indexer: %w", err)
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

// MarkSuccess records a successful request: status returns to OK and the
// failure counter resets.
func (s *IndexerStore) MarkSuccess(ctx context.Context, id int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE indexer
		SET status = ?, retry_after = NULL, failure_count = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, IndexerStatusOK, id)
	if err != nil {
		return fmt.Errorf("mark indexer success: %w", err)
	}
	return nil
}

// MarkRateLimited records a 429 and arms the exponential cooldown ladder.
func (s *IndexerStore) MarkRateLimited(ctx context.Context, id int, now time.Time) (retryAfter time.Time, err error) {
	idx, err := s.Get(ctx, id)
	if err != nil {
		return time.Time{}, err
	}

	step := idx.FailureCount
	if step >= len(rateLimitBackoff) {
		step = len(rateLimitBackoff) - 1
	}
	retryAfter = now.Add(rateLimitBackoff[step])

	_, err = s.db.ExecContext(ctx, `
		UPDATE indexer
		SET status = ?, retry_after = ?, failure_count = failure_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, IndexerStatusRateLimited, retryAfter, id)
	if err != nil {
		return time.Time{}, fmt.Errorf("mark indexer rate limited: %w", err)
	}
	return retryAfter, nil
}

// MarkAuthFailure records a 401: the indexer is skipped until its config
// changes or failures are cleared.
func (s *IndexerStore) MarkAuthFailure(ctx context.Context, id int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE indexer
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, IndexerStatusInvalidAuth, id)
	if err != nil {
		return fmt.Errorf("mark indexer auth failure: %w", err)
	}
	return nil
}

// MarkUnknownError records a transient failure. No cooldown: the indexer is
// retried on the next pass.
func (s *IndexerStore) MarkUnknownError(ctx context.Context, id int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE indexer
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, IndexerStatusUnknownError, id)
	if err != nil {
		return fmt.Errorf("mark indexer unknown error: %w", err)
	}
	return nil
}

// ClearFailures resets status and cooldown for all rows.
func (s *IndexerStore) ClearFailures(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE indexer
		SET status = ?, retry_after = NULL, failure_count = 0, updated_at = CURRENT_TIMESTAMP
	`, IndexerStatusOK)
	if err != nil {
		return fmt.Errorf("clear indexer failures: %w", err)
	}
	return nil
}

// ClearFailuresFor resets status and cooldown for one indexer.
func (s *IndexerStore) ClearFailuresFor(ctx context.Context, id int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE indexer
		SET status = ?, retry_after = NULL, failure_count = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, IndexerStatusOK, id)
	if err != nil {
		return fmt.Errorf("clear indexer failures: %w", err)
	}
	return nil
}

// UpdateCaps stores a freshly fetched capability set.
func (s *IndexerStore) UpdateCaps(ctx context.Context, id int, caps IndexerCaps) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE indexer
		SET search_cap = ?, tv_search_cap = ?, movie_search_cap = ?,
			music_search_cap = ?, audio_search_cap = ?, book_search_cap = ?,
			id_caps = ?, cat_caps = ?, limits_max = ?, limits_default = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, caps.Search, caps.TV, caps.Movie, caps.Music, caps.Audio, caps.Book,
		joinList(caps.IDCaps), joinList(caps.CatCaps), caps.Limits.Max, caps.Limits.Default, id)
	if err != nil {
		return fmt.Errorf("update indexer caps: %w", err)
	}
	return nil
}

// UpdateRSSCursor advances the per-indexer RSS high-water mark.
func (s *IndexerStore) UpdateRSSCursor(ctx context.Context, id int, guid string, pubDate time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE indexer
		SET rss_cursor_guid = ?, rss_cursor_pubdate = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, guid, pubDate, id)
	if err != nil {
		return fmt.Errorf("update rss cursor: %w", err)
	}
	return nil
}

// Deactivate marks indexers absent from the configured set as inactive.
func (s *IndexerStore) Deactivate(ctx context.Context, id int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE indexer SET active = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("deactivate indexer: %w", err)
	}
	return nil
}
