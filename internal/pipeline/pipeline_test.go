// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/crossseed/internal/clients"
	"github.com/autobrr/crossseed/internal/database"
	"github.com/autobrr/crossseed/internal/domain"
	"github.com/autobrr/crossseed/internal/metafile"
	"github.com/autobrr/crossseed/internal/models"
	"github.com/autobrr/crossseed/internal/searchee"
	"github.com/autobrr/crossseed/internal/torznab"
)

func buildTorrentBytes(t *testing.T, name string, size int64) []byte {
	t.Helper()
	info := metainfo.Info{
		Name:        name,
		PieceLength: 16384,
		Length:      size,
		Pieces:      make([]byte, 20),
	}
	infoBytes, err := bencode.Marshal(info)
	require.NoError(t, err)
	mi := metainfo.MetaInfo{InfoBytes: infoBytes, Announce: "https://tracker.example/announce"}
	var buf strings.Builder
	require.NoError(t, mi.Write(&buf))
	return []byte(buf.String())
}

type testEnv struct {
	pipeline  *Pipeline
	indexers  *models.IndexerStore
	decisions *models.DecisionStore
	indexer   *models.Indexer
	cfg       domain.Config
}

// newTestEnv stands up a SQLite store, one indexer pointing at srv, and a
// save-only pipeline.
func newTestEnv(t *testing.T, srvURL string) *testEnv {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "crossseed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	indexers := models.NewIndexerStore(db)
	idx, err := indexers.Upsert(ctx, srvURL, "secret", "example")
	require.NoError(t, err)
	require.NoError(t, indexers.UpdateCaps(ctx, idx.ID, models.IndexerCaps{Search: true, TV: true, Movie: true}))
	idx, err = indexers.Get(ctx, idx.ID)
	require.NoError(t, err)

	cfg := domain.DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.Delay = 0

	client, err := clients.New(domain.Config{})
	require.NoError(t, err)

	decisions := models.NewDecisionStore(db)
	p := New(Deps{
		Config:     cfg,
		Indexers:   indexers,
		Decisions:  decisions,
		Timestamps: models.NewTimestampStore(db),
		Searchees:  models.NewSearcheeStore(db),
		Torznab:    torznab.NewClient(5*time.Second, 5*time.Second),
		Client:     client,
		Logger:     zerolog.Nop(),
	})
	return &testEnv{pipeline: p, indexers: indexers, decisions: decisions, indexer: idx, cfg: cfg}
}

func feedFor(title, guid, link string, size int64) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:torznab="http://torznab.com/schemas/2015/feed">
  <channel>
    <title>ExampleTracker</title>
    <item>
      <title>%s</title>
      <guid>%s</guid>
      <pubDate>Mon, 02 Feb 2026 15:04:05 +0000</pubDate>
      <size>%d</size>
      <enclosure url="%s" length="%d"/>
    </item>
  </channel>
</rss>`, title, guid, size, link, size)
}

func TestSearchSearchees_MatchWritesDecisionAndArtifact(t *testing.T) {
	const name = "Example.Movie.2020.1080p.BluRay.x264-GROUP"
	const size = int64(1_000_000)
	torrent := buildTorrentBytes(t, name+".mkv", size)

	var snatches int
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("t") != "" {
			w.Write([]byte(feedFor(name, "guid-1", srv.URL+"/dl/1", size)))
			return
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/dl/1", func(w http.ResponseWriter, r *http.Request) {
		snatches++
		w.Write(torrent)
	})

	env := newTestEnv(t, srv.URL)
	s := &searchee.Searchee{
		Name:      name,
		Origin:    searchee.OriginTorrent,
		InfoHash:  "1111111111111111111111111111111111111111",
		Files:     []searchee.File{{RelPath: name + ".mkv", Size: size}},
		TotalSize: size,
	}

	ctx := context.Background()
	summary, err := env.pipeline.SearchSearchees(ctx, []*searchee.Searchee{s})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Searchees)
	require.Equal(t, 1, summary.Matches)
	require.Equal(t, 0, summary.Failures)
	require.Equal(t, 1, snatches)

	d, err := env.decisions.Get(ctx, name, "guid-1")
	require.NoError(t, err)
	require.Equal(t, models.VerdictMatch, d.Verdict)
	require.NotEmpty(t, d.InfoHash)

	artifact := filepath.Join(env.cfg.OutputDir, "ExampleTracker", name+".mkv.cross-seed.torrent")
	_, err = os.Stat(artifact)
	require.NoError(t, err)

	// A second pass short-circuits on the cached terminal decision: no new
	// snatch, no new match.
	summary, err = env.pipeline.SearchSearchees(ctx, []*searchee.Searchee{s})
	require.NoError(t, err)
	require.Equal(t, 0, summary.Matches)
	require.Equal(t, 1, snatches)

	// clear-cache leaves the snatched match untouched.
	_, err = env.decisions.ClearUndecided(ctx)
	require.NoError(t, err)
	d, err = env.decisions.Get(ctx, name, "guid-1")
	require.NoError(t, err)
	require.Equal(t, models.VerdictMatch, d.Verdict)
}

func TestSearchSearchees_SizeMismatchRecordedNotMatched(t *testing.T) {
	const name = "Example.Movie.2020.1080p.BluRay.x264-GROUP"
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Feed size is 10% off, so the candidate never gets snatched.
		w.Write([]byte(feedFor(name, "guid-2", srv.URL+"/dl/2", 1_100_000)))
	})
	mux.HandleFunc("/dl/2", func(w http.ResponseWriter, r *http.Request) {
		t.Error("size-mismatched candidate must not be snatched")
	})

	env := newTestEnv(t, srv.URL)
	s := &searchee.Searchee{
		Name:      name,
		Origin:    searchee.OriginTorrent,
		Files:     []searchee.File{{RelPath: name + ".mkv", Size: 1_000_000}},
		TotalSize: 1_000_000,
	}

	summary, err := env.pipeline.SearchSearchees(context.Background(), []*searchee.Searchee{s})
	require.NoError(t, err)
	require.Equal(t, 0, summary.Matches)

	d, err := env.decisions.Get(context.Background(), name, "guid-2")
	require.NoError(t, err)
	require.Equal(t, models.VerdictSizeMismatch, d.Verdict)
}

func TestSearchSearchees_RateLimitedIndexerCoolsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL)
	s := &searchee.Searchee{
		Name:      "Example.Movie.2020.1080p.BluRay.x264-GROUP",
		Origin:    searchee.OriginTorrent,
		Files:     []searchee.File{{RelPath: "a.mkv", Size: 1}},
		TotalSize: 1,
	}

	_, err := env.pipeline.SearchSearchees(context.Background(), []*searchee.Searchee{s})
	require.NoError(t, err)

	idx, err := env.indexers.Get(context.Background(), env.indexer.ID)
	require.NoError(t, err)
	require.Equal(t, models.IndexerStatusRateLimited, idx.Status)
	require.False(t, idx.Available(time.Now()))
}

func TestScanRSS_MatchesStoredSearcheeAndAdvancesCursor(t *testing.T) {
	const name = "Example.Movie.2020.1080p.BluRay.x264-GROUP"
	const size = int64(500_000)
	torrent := buildTorrentBytes(t, name+".mkv", size)

	var feedHits int
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		feedHits++
		w.Write([]byte(feedFor(name, "rss-guid-1", srv.URL+"/dl/3", size)))
	})
	mux.HandleFunc("/dl/3", func(w http.ResponseWriter, r *http.Request) {
		w.Write(torrent)
	})

	env := newTestEnv(t, srv.URL)
	ctx := context.Background()

	s := &searchee.Searchee{
		Name:      name,
		Origin:    searchee.OriginTorrent,
		Files:     []searchee.File{{RelPath: name + ".mkv", Size: size}},
		TotalSize: size,
	}
	require.NoError(t, env.pipeline.searchees.Save(ctx, s))

	summary, err := env.pipeline.ScanRSS(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Matches)

	idx, err := env.indexers.Get(ctx, env.indexer.ID)
	require.NoError(t, err)
	require.Equal(t, "rss-guid-1", idx.RSSCursorGUID)

	// The same feed again stops at the cursor and matches nothing new.
	summary, err = env.pipeline.ScanRSS(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, summary.Candidates)
	require.Equal(t, 2, feedHits)
}

func TestTrimAtCursor(t *testing.T) {
	older := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	feed := []torznab.Candidate{
		{GUID: "c", PubDate: newer},
		{GUID: "b", PubDate: older.Add(time.Minute)},
		{GUID: "a", PubDate: older},
	}

	// Fresh indexer sees everything.
	idx := &models.Indexer{}
	require.Len(t, trimAtCursor(feed, idx), 3)

	// GUID cursor cuts at the seen item.
	idx = &models.Indexer{RSSCursorGUID: "b"}
	got := trimAtCursor(feed, idx)
	require.Len(t, got, 1)
	require.Equal(t, "c", got[0].GUID)

	// PubDate high-water mark covers guid rotation.
	cursor := older.Add(30 * time.Minute)
	idx = &models.Indexer{RSSCursorGUID: "gone", RSSCursorPubDate: &cursor}
	got = trimAtCursor(feed, idx)
	require.Len(t, got, 1)
	require.Equal(t, "c", got[0].GUID)
}

func TestTitleIndex_GroupsByParsedTitle(t *testing.T) {
	a := &searchee.Searchee{Name: "Example.Movie.2020.1080p.BluRay.x264-GROUP"}
	b := &searchee.Searchee{Name: "Example.Movie.2020.2160p.WEB-DL.x265-OTHER"}
	c := &searchee.Searchee{Name: "Different.Title.2021.720p.WEB.x264-GRP"}

	index := buildTitleIndex([]*searchee.Searchee{a, b, c})
	require.Len(t, index.lookup("Example.Movie.2020.1080p.BluRay.x264-REPACK"), 2)
	require.Len(t, index.lookup("Different.Title.2021.1080p.BluRay.x264-NEW"), 1)
	require.Empty(t, index.lookup("Unknown.Thing.2022"))
}

func TestWriteArtifact_IdempotentAndSanitized(t *testing.T) {
	env := newTestEnv(t, "https://indexer.example/api")

	torrent := buildTorrentBytes(t, "Weird/Name.mkv", 10)
	meta, err := metafile.Parse(torrent)
	require.NoError(t, err)

	first, err := env.pipeline.writeArtifact(meta, "tracker")
	require.NoError(t, err)
	require.NotContains(t, filepath.Base(first), "/")

	again, err := env.pipeline.writeArtifact(meta, "tracker")
	require.NoError(t, err)
	require.Equal(t, first, again)
}
