// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torznab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/crossseed/internal/models"
	"github.com/autobrr/crossseed/internal/searchee"
)

const capsXML = `<?xml version="1.0" encoding="UTF-8"?>
<caps>
  <limits max="100" default="50"/>
  <searching>
    <search available="yes" supportedParams="q"/>
    <tv-search available="yes" supportedParams="q,season,ep,tvdbid"/>
    <movie-search available="no" supportedParams="q,imdbid"/>
    <music-search available="no" supportedParams="q"/>
    <audio-search available="no" supportedParams="q"/>
    <book-search available="no" supportedParams="q"/>
  </searching>
  <categories>
    <category id="5000" name="TV"/>
    <category id="2000" name="Movies"/>
  </categories>
</caps>`

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:torznab="http://torznab.com/schemas/2015/feed">
  <channel>
    <title>ExampleTracker</title>
    <item>
      <title>Example.Show.S01.1080p.WEB-DL.x264-GROUP</title>
      <guid>https://tracker.example/details/42</guid>
      <link>https://tracker.example/dl/42</link>
      <pubDate>Mon, 02 Feb 2026 15:04:05 +0000</pubDate>
      <size>1500000000</size>
      <enclosure url="https://tracker.example/dl/42.torrent" length="1500000000"/>
      <torznab:attr name="seeders" value="12"/>
      <torznab:attr name="infohash" value="ABCDEF0123456789ABCDEF0123456789ABCDEF01"/>
    </item>
    <item>
      <title></title>
      <guid>dropped-no-title</guid>
    </item>
  </channel>
</rss>`

func testIndexer(url string) *models.Indexer {
	return &models.Indexer{
		ID:     1,
		URL:    url,
		APIKey: "secret",
		Active: true,
		Caps:   models.IndexerCaps{Search: true, TV: true},
	}
}

func TestCaps_ParsesAvailabilityAndLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "caps", r.URL.Query().Get("t"))
		require.Equal(t, "secret", r.URL.Query().Get("apikey"))
		w.Write([]byte(capsXML))
	}))
	defer srv.Close()

	client := NewClient(5*time.Second, 5*time.Second)
	caps, err := client.Caps(context.Background(), testIndexer(srv.URL))
	require.NoError(t, err)
	require.True(t, caps.Search)
	require.True(t, caps.TV)
	require.False(t, caps.Movie)
	require.Equal(t, 100, caps.Limits.Max)
	require.Contains(t, caps.IDCaps, "tvdbid")
	require.Contains(t, caps.CatCaps, "5000")
}

func TestTest_ClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code int
		want models.IndexerStatus
	}{
		{http.StatusUnauthorized, models.IndexerStatusInvalidAuth},
		{http.StatusTooManyRequests, models.IndexerStatusRateLimited},
		{http.StatusInternalServerError, models.IndexerStatusUnknownError},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.code)
		}))
		client := NewClient(5*time.Second, 5*time.Second)
		require.Equal(t, tc.want, client.Test(context.Background(), testIndexer(srv.URL)))
		srv.Close()
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(capsXML))
	}))
	defer srv.Close()
	client := NewClient(5*time.Second, 5*time.Second)
	require.Equal(t, models.IndexerStatusOK, client.Test(context.Background(), testIndexer(srv.URL)))
}

func TestSearch_ParsesFeedAndSendsUserAgent(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.Header.Get("User-Agent"), "crossseed/")
		gotQuery = r.URL.Query()
		w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	client := NewClient(5*time.Second, 5*time.Second)
	s := &searchee.Searchee{Name: "Example.Show.S01.1080p.WEB-DL.x264-GROUP"}
	idx := testIndexer(srv.URL)
	plan := PlanQuery(s, idx.Caps, nil)
	require.NotNil(t, plan)
	require.Equal(t, "tvsearch", plan.Kind)

	candidates, err := client.Search(context.Background(), idx, plan)
	require.NoError(t, err)
	require.Equal(t, "tvsearch", gotQuery["t"][0])
	require.Contains(t, gotQuery["q"][0], "Example Show")

	// The empty-title item is dropped.
	require.Len(t, candidates, 1)
	c := candidates[0]
	require.Equal(t, "ExampleTracker", c.Tracker)
	require.Equal(t, "https://tracker.example/details/42", c.GUID)
	require.Equal(t, "https://tracker.example/dl/42.torrent", c.Link)
	require.Equal(t, int64(1500000000), c.Size)
	require.Equal(t, 12, c.Seeders)
	require.Equal(t, "abcdef0123456789abcdef0123456789abcdef01", c.InfoHash)
	require.Equal(t, 2026, c.PubDate.Year())
}

func TestSearch_RateLimitNotRetried(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(5*time.Second, 5*time.Second)
	idx := testIndexer(srv.URL)
	_, err := client.Search(context.Background(), idx, &QueryPlan{Kind: "search", Params: map[string]string{"q": "x"}})
	require.Error(t, err)
	require.Equal(t, models.IndexerStatusRateLimited, Classify(err))
	require.Equal(t, 1, hits)
}

func TestPlanQuery_KindSelectionAndCapsFallback(t *testing.T) {
	tv := &searchee.Searchee{Name: "Example.Show.S02E05.720p.HDTV.x264-GROUP"}
	movie := &searchee.Searchee{Name: "Example.Movie.2020.1080p.BluRay.x264-GROUP"}
	generic := &searchee.Searchee{Name: "Some Random Thing"}

	full := models.IndexerCaps{Search: true, TV: true, Movie: true}
	plan := PlanQuery(tv, full, nil)
	require.Equal(t, "tvsearch", plan.Kind)
	require.Equal(t, "2", plan.Params["season"])
	require.Equal(t, "5", plan.Params["ep"])

	plan = PlanQuery(movie, full, nil)
	require.Equal(t, "movie", plan.Kind)
	require.Equal(t, "2020", plan.Params["year"])
	require.Contains(t, plan.Params["q"], "2020")

	plan = PlanQuery(generic, full, nil)
	require.Equal(t, "search", plan.Kind)

	// Missing specific capability falls back to the generic query.
	searchOnly := models.IndexerCaps{Search: true}
	plan = PlanQuery(tv, searchOnly, nil)
	require.NotNil(t, plan)
	require.Equal(t, "search", plan.Kind)

	// No capability at all is skipped.
	require.Nil(t, PlanQuery(generic, models.IndexerCaps{}, nil))
}

func TestPlanQuery_IDParamsGatedByCaps(t *testing.T) {
	tv := &searchee.Searchee{Name: "Example.Show.S02E05.720p.HDTV.x264-GROUP"}
	movie := &searchee.Searchee{Name: "Example.Movie.2020.1080p.BluRay.x264-GROUP"}
	ids := map[string]string{"tvdbid": "12345", "tmdbid": "603", "imdbid": "0133093"}

	// Only advertised id caps are emitted.
	caps := models.IndexerCaps{TV: true, Movie: true, IDCaps: []string{"tvdbid"}}
	plan := PlanQuery(tv, caps, ids)
	require.Equal(t, "12345", plan.Params["tvdbid"])
	require.NotContains(t, plan.Params, "imdbid")
	require.NotContains(t, plan.Params, "tmdbid")

	// Movie queries use tmdbid/imdbid, never tvdbid.
	caps.IDCaps = []string{"tmdbid", "imdbid"}
	plan = PlanQuery(movie, caps, ids)
	require.Equal(t, "603", plan.Params["tmdbid"])
	require.Equal(t, "0133093", plan.Params["imdbid"])
	require.NotContains(t, plan.Params, "tvdbid")

	// No id caps advertised: the text query carries the search alone.
	plan = PlanQuery(tv, models.IndexerCaps{TV: true}, ids)
	require.NotContains(t, plan.Params, "tvdbid")
}

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

func TestSnatch(t *testing.T) {
	torrent := buildTorrentBytes(t, "Example.Movie.2020.mkv", 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write(torrent)
		case "/html":
			w.Write([]byte("<html>login required</html>"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(5*time.Second, 5*time.Second)
	idx := testIndexer(srv.URL)

	meta, err := client.Snatch(context.Background(), idx, srv.URL+"/ok")
	require.NoError(t, err)
	require.Equal(t, "Example.Movie.2020.mkv", meta.Name())

	// Non-bencode payload is NO_DOWNLOAD_LINK.
	_, err = client.Snatch(context.Background(), idx, srv.URL+"/html")
	require.ErrorIs(t, err, ErrNoDownloadLink)

	// Missing link short-circuits without a request.
	_, err = client.Snatch(context.Background(), idx, "")
	require.ErrorIs(t, err, ErrNoDownloadLink)
}
