// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package arr resolves external database ids (tvdb, tmdb, imdb) for release
// names through configured Sonarr and Radarr instances, so indexers that
// advertise id capabilities can be queried precisely.
package arr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/moistari/rls"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/autobrr/crossseed/internal/buildinfo"
)

const requestTimeout = 10 * time.Second

// endpoint is one arr instance. The API key travels in the configured URL's
// apikey query parameter, like Torznab endpoints.
type endpoint struct {
	baseURL string
	apiKey  string
}

// Client fans a release name out to the configured instances and returns the
// first id set an instance recognizes.
type Client struct {
	sonarr []endpoint
	radarr []endpoint
	http   *http.Client
	logger zerolog.Logger
}

func New(sonarrURLs, radarrURLs []string, logger zerolog.Logger) (*Client, error) {
	sonarr, err := parseEndpoints(sonarrURLs)
	if err != nil {
		return nil, errors.Wrap(err, "sonarr")
	}
	radarr, err := parseEndpoints(radarrURLs)
	if err != nil {
		return nil, errors.Wrap(err, "radarr")
	}
	return &Client{
		sonarr: sonarr,
		radarr: radarr,
		http:   &http.Client{Timeout: requestTimeout},
		logger: logger.With().Str("component", "arr").Logger(),
	}, nil
}

func parseEndpoints(raws []string) ([]endpoint, error) {
	out := make([]endpoint, 0, len(raws))
	for _, raw := range raws {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, errors.Wrapf(err, "parse url %q", raw)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, errors.Errorf("invalid url %q", raw)
		}
		apiKey := u.Query().Get("apikey")
		u.RawQuery = ""
		u.Fragment = ""
		out = append(out, endpoint{baseURL: strings.TrimRight(u.String(), "/"), apiKey: apiKey})
	}
	return out, nil
}

// Enabled reports whether any instance is configured. Nil-safe so callers
// can hold an optional client.
func (c *Client) Enabled() bool {
	return c != nil && len(c.sonarr)+len(c.radarr) > 0
}

// Resolve returns Torznab id parameters ("tvdbid", "tmdbid", "imdbid") for a
// release name. TV-shaped names ask Sonarr, movies ask Radarr, anything
// ambiguous asks both. Lookup failures are logged and yield no ids; a search
// without ids still proceeds on the text query.
func (c *Client) Resolve(ctx context.Context, name string) map[string]string {
	if !c.Enabled() {
		return nil
	}

	release := rls.ParseString(name)
	var endpoints []endpoint
	switch release.Type {
	case rls.Episode, rls.Series:
		endpoints = c.sonarr
	case rls.Movie:
		endpoints = c.radarr
	default:
		endpoints = append(append([]endpoint{}, c.sonarr...), c.radarr...)
	}

	for _, ep := range endpoints {
		ids, err := c.parse(ctx, ep, name)
		if err != nil {
			c.logger.Warn().Err(err).Str("instance", ep.baseURL).Str("release", name).
				Msg("Id lookup failed")
			continue
		}
		if len(ids) > 0 {
			return ids
		}
	}
	return nil
}

// parseResponse covers both Sonarr and Radarr /api/v3/parse payloads; the
// instance that recognizes the title fills its half.
type parseResponse struct {
	Series *struct {
		TvdbID int    `json:"tvdbId"`
		TmdbID int    `json:"tmdbId"`
		ImdbID string `json:"imdbId"`
	} `json:"series"`
	Movie *struct {
		TmdbID int    `json:"tmdbId"`
		ImdbID string `json:"imdbId"`
	} `json:"movie"`
}

func (c *Client) parse(ctx context.Context, ep endpoint, name string) (map[string]string, error) {
	reqURL := ep.baseURL + "/api/v3/parse?title=" + url.QueryEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build parse request")
	}
	req.Header.Set("X-Api-Key", ep.apiKey)
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "parse request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("parse request returned status %d", resp.StatusCode)
	}

	var body parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decode parse response")
	}

	ids := map[string]string{}
	if body.Series != nil {
		putID(ids, "tvdbid", body.Series.TvdbID)
		putID(ids, "tmdbid", body.Series.TmdbID)
		putIMDB(ids, body.Series.ImdbID)
	}
	if body.Movie != nil {
		putID(ids, "tmdbid", body.Movie.TmdbID)
		putIMDB(ids, body.Movie.ImdbID)
	}
	return ids, nil
}

func putID(ids map[string]string, key string, value int) {
	if value > 0 {
		ids[key] = strconv.Itoa(value)
	}
}

// putIMDB stores the numeric part; Torznab imdbid omits the tt prefix.
func putIMDB(ids map[string]string, value string) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "tt")
	if value != "" {
		ids["imdbid"] = value
	}
}
