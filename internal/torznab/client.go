// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torznab implements the Torznab search dialect: caps discovery,
// query planning, RSS result parsing, and snatching candidate torrents.
package torznab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/crossseed/internal/buildinfo"
	"github.com/autobrr/crossseed/internal/metafile"
	"github.com/autobrr/crossseed/internal/models"
)

// 16 MiB ceiling for torrent blobs.
const maxSnatchBytes int64 = 16 << 20

// ErrNoDownloadLink marks a snatch whose response was not a torrent.
var ErrNoDownloadLink = errors.New("no download link")

// StatusError carries a non-2xx HTTP status for classification.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Classify maps a request error to an indexer status. nil means OK.
func Classify(err error) models.IndexerStatus {
	if err == nil {
		return models.IndexerStatusOK
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return models.IndexerStatusInvalidAuth
		case http.StatusTooManyRequests:
			return models.IndexerStatusRateLimited
		}
	}
	return models.IndexerStatusUnknownError
}

// Client talks to one or more Torznab endpoints.
type Client struct {
	httpClient    *http.Client
	searchTimeout time.Duration
	snatchTimeout time.Duration
}

func NewClient(searchTimeout, snatchTimeout time.Duration) *Client {
	if searchTimeout <= 0 {
		searchTimeout = 30 * time.Second
	}
	if snatchTimeout <= 0 {
		snatchTimeout = 30 * time.Second
	}
	return &Client{
		httpClient:    &http.Client{},
		searchTimeout: searchTimeout,
		snatchTimeout: snatchTimeout,
	}
}

// Caps fetches and parses the indexer's capability document.
func (c *Client) Caps(ctx context.Context, indexer *models.Indexer) (models.IndexerCaps, error) {
	body, err := c.get(ctx, indexer, map[string]string{"t": "caps"}, c.searchTimeout)
	if err != nil {
		return models.IndexerCaps{}, err
	}
	defer body.Close()
	return parseCaps(body)
}

// Test issues a caps query and classifies the outcome.
func (c *Client) Test(ctx context.Context, indexer *models.Indexer) models.IndexerStatus {
	_, err := c.Caps(ctx, indexer)
	status := Classify(err)
	if err != nil {
		log.Debug().Err(err).Str("indexer", indexer.DisplayName()).
			Str("status", string(status)).Msg("Indexer test failed")
	}
	return status
}

// Search executes a query plan against one indexer. Transient network
// failures are retried once; HTTP status errors are returned for
// classification without retry.
func (c *Client) Search(ctx context.Context, indexer *models.Indexer, plan *QueryPlan) ([]Candidate, error) {
	params := map[string]string{"t": plan.Kind}
	for k, v := range plan.Params {
		params[k] = v
	}
	if indexer.Caps.Limits.Max > 0 {
		params["limit"] = fmt.Sprint(indexer.Caps.Limits.Max)
	}

	var candidates []Candidate
	err := retry.Do(
		func() error {
			body, err := c.get(ctx, indexer, params, c.searchTimeout)
			if err != nil {
				return err
			}
			defer body.Close()
			candidates, err = parseFeed(body)
			return err
		},
		retry.Attempts(2),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return statusErr.Code >= 500
			}
			return !errors.Is(err, context.Canceled)
		}),
	)
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

// Latest fetches the newest items via the generic search query with no
// terms, for RSS scanning.
func (c *Client) Latest(ctx context.Context, indexer *models.Indexer) ([]Candidate, error) {
	return c.Search(ctx, indexer, &QueryPlan{Kind: "search", Params: map[string]string{"q": ""}})
}

// Snatch fetches a candidate's torrent bytes and parses them. A response
// that is not a valid metafile yields ErrNoDownloadLink.
func (c *Client) Snatch(ctx context.Context, indexer *models.Indexer, link string) (*metafile.Metafile, error) {
	if link == "" {
		return nil, ErrNoDownloadLink
	}

	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, ErrNoDownloadLink
	}
	query := u.Query()
	if indexer.APIKey != "" && query.Get("apikey") == "" {
		query.Set("apikey", indexer.APIKey)
		u.RawQuery = query.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, c.snatchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build snatch request: %w", err)
	}
	req.Header.Set("Accept", "application/x-bittorrent, application/octet-stream")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snatch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnatchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read snatch body: %w", err)
	}
	if int64(len(data)) > maxSnatchBytes {
		return nil, fmt.Errorf("snatch exceeded %d byte limit", maxSnatchBytes)
	}

	meta, err := metafile.Parse(data)
	if err != nil {
		log.Debug().Err(err).Str("link", link).Msg("Snatch response was not a torrent")
		return nil, ErrNoDownloadLink
	}
	return meta, nil
}

// get issues an authenticated GET against the indexer endpoint.
func (c *Client) get(ctx context.Context, indexer *models.Indexer, params map[string]string, timeout time.Duration) (io.ReadCloser, error) {
	u, err := url.Parse(indexer.URL)
	if err != nil {
		return nil, fmt.Errorf("parse indexer url: %w", err)
	}
	query := u.Query()
	if indexer.APIKey != "" {
		query.Set("apikey", indexer.APIKey)
	}
	for k, v := range params {
		query.Set(k, v)
	}
	u.RawQuery = query.Encode()

	ctx, cancel := context.WithTimeout(ctx, timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build torznab request: %w", err)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("torznab request: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		resp.Body.Close()
		cancel()
		return nil, &StatusError{Code: resp.StatusCode}
	}

	return &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}, nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
