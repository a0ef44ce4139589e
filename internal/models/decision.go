// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/autobrr/crossseed/internal/dbinterface"
)

var ErrDecisionNotFound = errors.New("decision not found")

// Verdict is the outcome of evaluating one candidate against one searchee.
type Verdict string

const (
	VerdictMatch                 Verdict = "MATCH"
	VerdictMatchSizeOnly         Verdict = "MATCH_SIZE_ONLY"
	VerdictMatchPartial          Verdict = "MATCH_PARTIAL"
	VerdictInfoHashAlreadyExists Verdict = "INFO_HASH_ALREADY_EXISTS"
	VerdictFileTreeMismatch      Verdict = "FILE_TREE_MISMATCH"
	VerdictSizeMismatch          Verdict = "SIZE_MISMATCH"
	VerdictNoDownloadLink        Verdict = "NO_DOWNLOAD_LINK"
	VerdictRateLimited           Verdict = "RATE_LIMITED"
	VerdictBlockedRelease        Verdict = "BLOCKED_RELEASE"
)

// IsMatch reports whether the verdict permits injection.
func (v Verdict) IsMatch() bool {
	switch v {
	case VerdictMatch, VerdictMatchSizeOnly, VerdictMatchPartial:
		return true
	}
	return false
}

// Terminal verdicts are cached and never re-evaluated: matches stay matched,
// and a candidate rejected on its file tree will not change shape.
func (v Verdict) Terminal() bool {
	switch v {
	case VerdictRateLimited, VerdictNoDownloadLink:
		return false
	}
	return true
}

// Decision is one cached evaluation of a candidate for a searchee.
type Decision struct {
	ID              int
	SearcheeName    string
	CandidateGUID   string
	CandidateTitle  string
	InfoHash        string
	IndexerID       *int
	Verdict         Verdict
	FuzzySizeFactor *float64
	FirstSeen       time.Time
	LastSeen        time.Time
}

// DecisionStore caches per-(searchee, candidate) verdicts.
type DecisionStore struct {
	db dbinterface.Querier
}

func NewDecisionStore(db dbinterface.Querier) *DecisionStore {
	return &DecisionStore{db: db}
}

const decisionColumns = `id, searchee_name, candidate_guid, candidate_title, info_hash,
	indexer_id, verdict, fuzzy_size_factor, first_seen, last_seen`

func scanDecision(row interface{ Scan(...any) error }) (*Decision, error) {
	var (
		d         Decision
		infoHash  sql.NullString
		indexerID sql.NullInt64
		fuzzy     sql.NullFloat64
	)
	err := row.Scan(&d.ID, &d.SearcheeName, &d.CandidateGUID, &d.CandidateTitle,
		&infoHash, &indexerID, &d.Verdict, &fuzzy, &d.FirstSeen, &d.LastSeen)
	if err != nil {
		return nil, err
	}
	d.InfoHash = infoHash.String
	if indexerID.Valid {
		id := int(indexerID.Int64)
		d.IndexerID = &id
	}
	if fuzzy.Valid {
		f := fuzzy.Float64
		d.FuzzySizeFactor = &f
	}
	return &d, nil
}

// Record upserts a decision. first_seen is written only on insert; a cached
// match verdict is never downgraded by a later non-match evaluation.
func (s *DecisionStore) Record(ctx context.Context, d *Decision) error {
	var indexerID any
	if d.IndexerID != nil {
		indexerID = *d.IndexerID
	}
	var fuzzy any
	if d.FuzzySizeFactor != nil {
		fuzzy = *d.FuzzySizeFactor
	}
	var infoHash any
	if d.InfoHash != "" {
		infoHash = strings.ToLower(d.InfoHash)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision (searchee_name, candidate_guid, candidate_title, info_hash,
			indexer_id, verdict, fuzzy_size_factor)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (searchee_name, candidate_guid) DO UPDATE SET
			candidate_title = excluded.candidate_title,
			info_hash = COALESCE(excluded.info_hash, decision.info_hash),
			indexer_id = COALESCE(excluded.indexer_id, decision.indexer_id),
			verdict = CASE
				WHEN decision.verdict IN ('MATCH', 'MATCH_SIZE_ONLY', 'MATCH_PARTIAL')
				THEN decision.verdict
				ELSE excluded.verdict
			END,
			fuzzy_size_factor = COALESCE(excluded.fuzzy_size_factor, decision.fuzzy_size_factor),
			last_seen = CURRENT_TIMESTAMP
	`, d.SearcheeName, d.CandidateGUID, d.CandidateTitle, infoHash, indexerID, d.Verdict, fuzzy)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

// Get returns the cached decision for a (searchee, candidate) pair.
func (s *DecisionStore) Get(ctx context.Context, searcheeName, candidateGUID string) (*Decision, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+decisionColumns+" FROM decision WHERE searchee_name = ? AND candidate_guid = ?",
		searcheeName, candidateGUID)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDecisionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return d, nil
}

// ListForSearchee returns every cached decision for a searchee.
func (s *DecisionStore) ListForSearchee(ctx context.Context, searcheeName string) ([]*Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+decisionColumns+" FROM decision WHERE searchee_name = ? ORDER BY last_seen DESC",
		searcheeName)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []*Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// HasInfoHash reports whether a match with the given infohash was already
// recorded for any searchee.
func (s *DecisionStore) HasInfoHash(ctx context.Context, infoHash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM decision
		WHERE info_hash = ? AND verdict IN ('MATCH', 'MATCH_SIZE_ONLY', 'MATCH_PARTIAL')
	`, strings.ToLower(infoHash)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check info hash: %w", err)
	}
	return n > 0, nil
}

// ClearUndecided deletes cached decisions that never recorded an infohash,
// so candidates rejected on feed metadata alone are re-evaluated. Rows with
// a hash came from a snatched torrent and stay authoritative, match or not.
// Returns the number of rows removed.
func (s *DecisionStore) ClearUndecided(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM decision
		WHERE info_hash IS NULL OR info_hash = ''
	`)
	if err != nil {
		return 0, fmt.Errorf("clear undecided decisions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
