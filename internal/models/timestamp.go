// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/autobrr/crossseed/internal/dbinterface"
)

// SearchTimestamp records when a searchee was last searched on an indexer,
// backing the excludeOlder and excludeRecentSearch windows.
type SearchTimestamp struct {
	SearcheeName  string
	IndexerID     int
	FirstSearched time.Time
	LastSearched  time.Time
}

// TimestampStore manages per-(searchee, indexer) search timestamps.
type TimestampStore struct {
	db dbinterface.Querier
}

func NewTimestampStore(db dbinterface.Querier) *TimestampStore {
	return &TimestampStore{db: db}
}

// Touch records that a search ran now. first_searched is set once.
func (s *TimestampStore) Touch(ctx context.Context, searcheeName string, indexerID int, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timestamp (searchee_name, indexer_id, first_searched, last_searched)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (searchee_name, indexer_id) DO UPDATE SET
			last_searched = excluded.last_searched
	`, searcheeName, indexerID, now, now)
	if err != nil {
		return fmt.Errorf("touch search timestamp: %w", err)
	}
	return nil
}

// Get returns the timestamp row, or nil when the pair was never searched.
func (s *TimestampStore) Get(ctx context.Context, searcheeName string, indexerID int) (*SearchTimestamp, error) {
	var ts SearchTimestamp
	err := s.db.QueryRowContext(ctx, `
		SELECT searchee_name, indexer_id, first_searched, last_searched
		FROM timestamp WHERE searchee_name = ? AND indexer_id = ?
	`, searcheeName, indexerID).Scan(&ts.SearcheeName, &ts.IndexerID, &ts.FirstSearched, &ts.LastSearched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get search timestamp: %w", err)
	}
	return &ts, nil
}

// ShouldSearch applies the age windows: a searchee first seen longer ago
// than excludeOlder, or searched on this indexer more recently than
// excludeRecentSearch, is skipped. Zero durations disable a window.
func (s *TimestampStore) ShouldSearch(ctx context.Context, searcheeName string, indexerID int, excludeOlder, excludeRecent time.Duration, now time.Time) (bool, error) {
	ts, err := s.Get(ctx, searcheeName, indexerID)
	if err != nil {
		return false, err
	}
	if ts == nil {
		return true, nil
	}
	if excludeOlder > 0 && now.Sub(ts.FirstSearched) > excludeOlder {
		return false, nil
	}
	if excludeRecent > 0 && now.Sub(ts.LastSearched) < excludeRecent {
		return false, nil
	}
	return true, nil
}
