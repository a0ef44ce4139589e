// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package clients provides torrent client adapters behind a capability
// interface. Exactly one adapter is active per process, selected at startup
// by which RPC URL is configured.
package clients

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/autobrr/crossseed/internal/domain"
	"github.com/autobrr/crossseed/internal/metafile"
	"github.com/autobrr/crossseed/internal/searchee"
)

// InjectOutcome is the result of handing a matched torrent to the client.
type InjectOutcome string

const (
	InjectSuccess            InjectOutcome = "SUCCESS"
	InjectAlreadyExists      InjectOutcome = "ALREADY_EXISTS"
	InjectTorrentNotComplete InjectOutcome = "TORRENT_NOT_COMPLETE"
	InjectFailure            InjectOutcome = "FAILURE"
)

// Download-dir resolution outcomes.
var (
	ErrTorrentNotFound    = errors.New("torrent not found in client")
	ErrTorrentNotComplete = errors.New("torrent is not complete")
)

// TorrentEntry is one torrent as reported by the client.
type TorrentEntry struct {
	InfoHash string
	Name     string
	Category string
	Tags     []string
	Trackers [][]string
	SavePath string
	Complete bool
}

// InjectRequest hands a matched candidate to the active adapter.
type InjectRequest struct {
	Meta     *metafile.Metafile
	Searchee *searchee.Searchee

	// SavePath overrides path resolution (set for linked data matches).
	SavePath string

	Category string
	Tags     []string

	// SkipChecking is false when the pipeline wants a recheck after add.
	SkipChecking bool
}

// Client is the adapter capability interface.
type Client interface {
	Kind() string

	// ValidateConfig probes connectivity once at startup.
	ValidateConfig(ctx context.Context) error

	IsTorrentComplete(ctx context.Context, infoHash string) (bool, error)

	GetAllTorrents(ctx context.Context) ([]TorrentEntry, error)

	// GetDownloadDir resolves the save path of the torrent matching the
	// searchee's infohash. Returns ErrTorrentNotFound or
	// ErrTorrentNotComplete (when onlyCompleted is set) as applicable.
	GetDownloadDir(ctx context.Context, infoHash string, onlyCompleted bool) (string, error)

	Inject(ctx context.Context, req *InjectRequest) (InjectOutcome, error)

	RecheckTorrent(ctx context.Context, infoHash string) error
}

// New selects and constructs the active adapter from config. With no RPC URL
// configured the save-only stub is returned, which keeps the pipeline free
// of nil-client branches.
func New(cfg domain.Config) (Client, error) {
	kind, rpcURL := cfg.ActiveClientURL()
	switch kind {
	case "":
		return &SaveOnly{}, nil
	case "rtorrent":
		return newRtorrent(rpcURL)
	case "qbittorrent":
		return newQbittorrent(rpcURL, cfg.DuplicateCategories)
	case "transmission":
		return newTransmission(rpcURL)
	case "deluge":
		return newDeluge(rpcURL)
	}
	return nil, fmt.Errorf("unknown client kind %q", kind)
}

// splitUserinfo extracts credentials embedded in an RPC URL and returns the
// URL without them.
func splitUserinfo(rpcURL string) (clean, username, password string, err error) {
	u, err := url.Parse(rpcURL)
	if err != nil {
		return "", "", "", fmt.Errorf("parse rpc url: %w", err)
	}
	if u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
		u.User = nil
	}
	return strings.TrimRight(u.String(), "/"), username, password, nil
}

// SaveOnly satisfies the adapter interface without a client: matches are
// saved to outputDir and nothing is injected.
type SaveOnly struct{}

func (s *SaveOnly) Kind() string { return "saveonly" }

func (s *SaveOnly) ValidateConfig(ctx context.Context) error { return nil }

func (s *SaveOnly) IsTorrentComplete(ctx context.Context, infoHash string) (bool, error) {
	return false, ErrTorrentNotFound
}

func (s *SaveOnly) GetAllTorrents(ctx context.Context) ([]TorrentEntry, error) {
	return nil, nil
}

func (s *SaveOnly) GetDownloadDir(ctx context.Context, infoHash string, onlyCompleted bool) (string, error) {
	return "", ErrTorrentNotFound
}

func (s *SaveOnly) Inject(ctx context.Context, req *InjectRequest) (InjectOutcome, error) {
	return InjectFailure, errors.New("no torrent client configured")
}

func (s *SaveOnly) RecheckTorrent(ctx context.Context, infoHash string) error {
	return errors.New("no torrent client configured")
}
