// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autobrr/crossseed/internal/database"
	"github.com/autobrr/crossseed/internal/searchee"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "crossseed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestIndexerStore_UpsertAndCanonicalize(t *testing.T) {
	db := newTestDB(t)
	store := NewIndexerStore(db)
	ctx := context.Background()

	idx, err := store.Upsert(ctx, "https://indexer.example/api/?apikey=stale", "key1", "example")
	require.NoError(t, err)
	require.Equal(t, "https://indexer.example/api", idx.URL)
	require.Equal(t, "key1", idx.APIKey)
	require.Equal(t, IndexerStatusOK, idx.Status)

	// Same endpoint again updates the key, keeps one row.
	again, err := store.Upsert(ctx, "https://indexer.example/api", "key2", "")
	require.NoError(t, err)
	require.Equal(t, idx.ID, again.ID)
	require.Equal(t, "key2", again.APIKey)
	require.Equal(t, "example", again.Name)

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestIndexerStore_RateLimitBackoffLadder(t *testing.T) {
	db := newTestDB(t)
	store := NewIndexerStore(db)
	ctx := context.Background()

	idx, err := store.Upsert(ctx, "https://indexer.example/api", "k", "")
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	expected := []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute, time.Hour, time.Hour}
	for i, want := range expected {
		retryAfter, err := store.MarkRateLimited(ctx, idx.ID, now)
		require.NoError(t, err)
		require.Equal(t, now.Add(want), retryAfter, "offense %d", i+1)
	}

	got, err := store.Get(ctx, idx.ID)
	require.NoError(t, err)
	require.Equal(t, IndexerStatusRateLimited, got.Status)
	require.Equal(t, 5, got.FailureCount)
	require.False(t, got.Available(now))
	require.True(t, got.Available(now.Add(2*time.Hour)))

	// Success resets the ladder.
	require.NoError(t, store.MarkSuccess(ctx, idx.ID))
	retryAfter, err := store.MarkRateLimited(ctx, idx.ID, now)
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Minute), retryAfter)
}

func TestIndexerStore_AuthFailureExcludesFromPlanning(t *testing.T) {
	db := newTestDB(t)
	store := NewIndexerStore(db)
	ctx := context.Background()

	idx, err := store.Upsert(ctx, "https://indexer.example/api", "bad", "")
	require.NoError(t, err)

	require.NoError(t, store.MarkAuthFailure(ctx, idx.ID))
	got, err := store.Get(ctx, idx.ID)
	require.NoError(t, err)
	require.False(t, got.Available(time.Now()))

	// ClearFailures makes it eligible again.
	require.NoError(t, store.ClearFailures(ctx))
	got, err = store.Get(ctx, idx.ID)
	require.NoError(t, err)
	require.True(t, got.Available(time.Now()))
}

func TestIndexerStore_CapsAndRSSCursor(t *testing.T) {
	db := newTestDB(t)
	store := NewIndexerStore(db)
	ctx := context.Background()

	idx, err := store.Upsert(ctx, "https://indexer.example/api", "k", "")
	require.NoError(t, err)

	caps := IndexerCaps{
		Search: true,
		TV:     true,
		IDCaps: []string{"tvdbid", "imdbid"},
		Limits: IndexerLimits{Max: 100, Default: 50},
	}
	require.NoError(t, store.UpdateCaps(ctx, idx.ID, caps))

	pub := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateRSSCursor(ctx, idx.ID, "guid-123", pub))

	got, err := store.Get(ctx, idx.ID)
	require.NoError(t, err)
	require.True(t, got.Caps.SupportsQueryKind("tvsearch"))
	require.False(t, got.Caps.SupportsQueryKind("movie"))
	require.True(t, got.Caps.HasIDCap("TVDBID"))
	require.Equal(t, 100, got.Caps.Limits.Max)
	require.Equal(t, "guid-123", got.RSSCursorGUID)
	require.True(t, got.RSSCursorPubDate.Equal(pub))
}

func TestDecisionStore_RecordIdempotentAndNoDowngrade(t *testing.T) {
	db := newTestDB(t)
	store := NewDecisionStore(db)
	ctx := context.Background()

	d := &Decision{
		SearcheeName:  "Example.Movie.2020-GROUP",
		CandidateGUID: "https://indexer.example/details/1",
		Verdict:       VerdictSizeMismatch,
	}
	require.NoError(t, store.Record(ctx, d))

	first, err := store.Get(ctx, d.SearcheeName, d.CandidateGUID)
	require.NoError(t, err)
	firstSeen := first.FirstSeen

	// Re-evaluation upgrades to MATCH.
	hash := "ABCDEF0123456789abcdef0123456789abcdef01"
	require.NoError(t, store.Record(ctx, &Decision{
		SearcheeName:  d.SearcheeName,
		CandidateGUID: d.CandidateGUID,
		InfoHash:      hash,
		Verdict:       VerdictMatch,
	}))

	got, err := store.Get(ctx, d.SearcheeName, d.CandidateGUID)
	require.NoError(t, err)
	require.Equal(t, VerdictMatch, got.Verdict)
	require.Equal(t, "abcdef0123456789abcdef0123456789abcdef01", got.InfoHash)
	require.Equal(t, firstSeen, got.FirstSeen)

	// A later non-match never downgrades the cached match.
	require.NoError(t, store.Record(ctx, &Decision{
		SearcheeName:  d.SearcheeName,
		CandidateGUID: d.CandidateGUID,
		Verdict:       VerdictFileTreeMismatch,
	}))
	got, err = store.Get(ctx, d.SearcheeName, d.CandidateGUID)
	require.NoError(t, err)
	require.Equal(t, VerdictMatch, got.Verdict)

	exists, err := store.HasInfoHash(ctx, hash)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestDecisionStore_ClearUndecided(t *testing.T) {
	db := newTestDB(t)
	store := NewDecisionStore(db)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, &Decision{
		SearcheeName: "a", CandidateGUID: "g1", Verdict: VerdictMatch, InfoHash: "aa",
	}))
	require.NoError(t, store.Record(ctx, &Decision{
		SearcheeName: "a", CandidateGUID: "g2", Verdict: VerdictSizeMismatch,
	}))
	require.NoError(t, store.Record(ctx, &Decision{
		SearcheeName: "b", CandidateGUID: "g3", Verdict: VerdictNoDownloadLink,
	}))
	// A snatched evaluation keeps its hash even as a rejection; it is
	// authoritative and survives the clear.
	require.NoError(t, store.Record(ctx, &Decision{
		SearcheeName: "b", CandidateGUID: "g4", Verdict: VerdictFileTreeMismatch, InfoHash: "bb",
	}))

	n, err := store.ClearUndecided(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	remaining, err := store.ListForSearchee(ctx, "a")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, VerdictMatch, remaining[0].Verdict)

	remaining, err = store.ListForSearchee(ctx, "b")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, VerdictFileTreeMismatch, remaining[0].Verdict)
}

func TestVerdict_Terminal(t *testing.T) {
	require.True(t, VerdictMatch.Terminal())
	require.True(t, VerdictFileTreeMismatch.Terminal())
	require.False(t, VerdictRateLimited.Terminal())
	require.False(t, VerdictNoDownloadLink.Terminal())
}

func TestTimestampStore_Windows(t *testing.T) {
	db := newTestDB(t)
	indexers := NewIndexerStore(db)
	store := NewTimestampStore(db)
	ctx := context.Background()

	idx, err := indexers.Upsert(ctx, "https://indexer.example/api", "k", "")
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// Never searched: eligible.
	ok, err := store.ShouldSearch(ctx, "name", idx.ID, 30*24*time.Hour, 7*24*time.Hour, now)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Touch(ctx, "name", idx.ID, now))

	// Searched just now: excludeRecentSearch blocks it.
	ok, err = store.ShouldSearch(ctx, "name", idx.ID, 0, 7*24*time.Hour, now.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, ok)

	// After the recent window passes it is eligible again.
	ok, err = store.ShouldSearch(ctx, "name", idx.ID, 0, 7*24*time.Hour, now.Add(8*24*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	// excludeOlder keys off first_searched.
	require.NoError(t, store.Touch(ctx, "name", idx.ID, now.Add(40*24*time.Hour)))
	ok, err = store.ShouldSearch(ctx, "name", idx.ID, 30*24*time.Hour, 0, now.Add(41*24*time.Hour))
	require.NoError(t, err)
	require.False(t, ok)

	ts, err := store.Get(ctx, "name", idx.ID)
	require.NoError(t, err)
	require.True(t, ts.FirstSearched.Equal(now))
}

func TestSearcheeStore_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	store := NewSearcheeStore(db)
	ctx := context.Background()

	se := &searchee.Searchee{
		Name:      "Example.Show.S01.1080p.WEB-DL-GROUP",
		Origin:    searchee.OriginTorrent,
		InfoHash:  "0123456789abcdef0123456789abcdef01234567",
		TotalSize: 30,
		Files: []searchee.File{
			{RelPath: "Example.Show.S01E01.mkv", Size: 10},
			{RelPath: "Example.Show.S01E02.mkv", Size: 20},
		},
	}
	require.NoError(t, store.Save(ctx, se))

	got, err := store.Get(ctx, se.Name)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, searchee.OriginTorrent, got.Origin)
	require.Equal(t, se.InfoHash, got.InfoHash)
	require.Equal(t, se.TotalSize, got.TotalSize)
	require.Equal(t, se.Files, got.Files)

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

// Data-origin snapshots must keep origin and path, or reloaded searchees
// could never be linked or injected.
func TestSearcheeStore_DataOriginKeepsPath(t *testing.T) {
	db := newTestDB(t)
	store := NewSearcheeStore(db)
	ctx := context.Background()

	se := &searchee.Searchee{
		Name:      "Example.Movie.2020",
		Origin:    searchee.OriginData,
		Path:      "/data/movies/Example.Movie.2020",
		TotalSize: 5,
		Files:     []searchee.File{{RelPath: "Example.Movie.2020.mkv", Size: 5}},
	}
	require.NoError(t, store.Save(ctx, se))

	got, err := store.Get(ctx, se.Name)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, searchee.OriginData, got.Origin)
	require.Equal(t, se.Path, got.Path)

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, searchee.OriginData, all[0].Origin)
	require.Equal(t, se.Path, all[0].Path)
}

func TestSettingsStore_APIKey(t *testing.T) {
	db := newTestDB(t)
	store := NewSettingsStore(db)
	ctx := context.Background()

	key, err := store.APIKey(ctx)
	require.NoError(t, err)
	require.Len(t, key, 48)

	// Stable across calls.
	same, err := store.APIKey(ctx)
	require.NoError(t, err)
	require.Equal(t, key, same)

	fresh, err := store.ResetAPIKey(ctx)
	require.NoError(t, err)
	require.NotEqual(t, key, fresh)
}

func TestJobStateStore_RecordRun(t *testing.T) {
	db := newTestDB(t)
	store := NewJobStateStore(db)
	ctx := context.Background()

	state, err := store.Get(ctx, "search")
	require.NoError(t, err)
	require.Nil(t, state)

	ranAt := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordRun(ctx, "search", ranAt, 24*time.Hour))

	state, err = store.Get(ctx, "search")
	require.NoError(t, err)
	require.NotNil(t, state)
	require.True(t, state.LastRun.Equal(ranAt))
	require.True(t, state.NextRun.Equal(ranAt.Add(24*time.Hour)))
}
