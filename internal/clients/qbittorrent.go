// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package clients

import (
	"context"
	"fmt"
	"strings"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"
)

// Qbittorrent adapts the qBittorrent Web API.
type Qbittorrent struct {
	client *qbt.Client

	// duplicateCategories creates a "<category>.cross-seed" sibling with
	// the same save path instead of reusing the original category, so
	// category-based automation does not act on injected copies.
	duplicateCategories bool
}

func newQbittorrent(rpcURL string, duplicateCategories bool) (*Qbittorrent, error) {
	clean, username, password, err := splitUserinfo(rpcURL)
	if err != nil {
		return nil, err
	}
	client := qbt.NewClient(qbt.Config{
		Host:     clean,
		Username: username,
		Password: password,
		Timeout:  30,
	})
	return &Qbittorrent{client: client, duplicateCategories: duplicateCategories}, nil
}

func (q *Qbittorrent) Kind() string { return "qbittorrent" }

func (q *Qbittorrent) ValidateConfig(ctx context.Context) error {
	if err := q.client.LoginCtx(ctx); err != nil {
		return fmt.Errorf("qbittorrent login: %w", err)
	}
	return nil
}

func (q *Qbittorrent) getTorrent(ctx context.Context, infoHash string) (*qbt.Torrent, error) {
	torrents, err := q.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{
		Hashes: []string{strings.ToLower(infoHash)},
	})
	if err != nil {
		return nil, fmt.Errorf("qbittorrent get torrents: %w", err)
	}
	if len(torrents) == 0 {
		return nil, ErrTorrentNotFound
	}
	return &torrents[0], nil
}

func (q *Qbittorrent) IsTorrentComplete(ctx context.Context, infoHash string) (bool, error) {
	torrent, err := q.getTorrent(ctx, infoHash)
	if err != nil {
		return false, err
	}
	return torrent.Progress >= 1.0, nil
}

func (q *Qbittorrent) GetAllTorrents(ctx context.Context) ([]TorrentEntry, error) {
	torrents, err := q.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		return nil, fmt.Errorf("qbittorrent get torrents: %w", err)
	}

	entries := make([]TorrentEntry, 0, len(torrents))
	for _, t := range torrents {
		entry := TorrentEntry{
			InfoHash: strings.ToLower(t.Hash),
			Name:     t.Name,
			Category: t.Category,
			SavePath: t.SavePath,
			Complete: t.Progress >= 1.0,
		}
		if t.Tags != "" {
			entry.Tags = strings.Split(t.Tags, ",")
		}
		if t.Tracker != "" {
			entry.Trackers = [][]string{{t.Tracker}}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (q *Qbittorrent) GetDownloadDir(ctx context.Context, infoHash string, onlyCompleted bool) (string, error) {
	torrent, err := q.getTorrent(ctx, infoHash)
	if err != nil {
		return "", err
	}
	if onlyCompleted && torrent.Progress < 1.0 {
		return "", ErrTorrentNotComplete
	}
	return torrent.SavePath, nil
}

func (q *Qbittorrent) Inject(ctx context.Context, req *InjectRequest) (InjectOutcome, error) {
	hash := req.Meta.InfoHash()
	if _, err := q.getTorrent(ctx, hash); err == nil {
		return InjectAlreadyExists, nil
	}

	data, err := req.Meta.Serialize()
	if err != nil {
		return InjectFailure, fmt.Errorf("serialize torrent: %w", err)
	}

	category := req.Category
	if category != "" && q.duplicateCategories {
		category = category + ".cross-seed"
		if err := q.client.CreateCategoryCtx(ctx, category, req.SavePath); err != nil {
			log.Debug().Err(err).Str("category", category).Msg("Create category failed, may already exist")
		}
	}

	options := map[string]string{
		"autoTMM":       "false",
		"savepath":      req.SavePath,
		"contentLayout": "Original",
	}
	if category != "" {
		options["category"] = category
	}
	if len(req.Tags) > 0 {
		options["tags"] = strings.Join(req.Tags, ",")
	}
	if req.SkipChecking {
		options["skip_checking"] = "true"
	}

	if err := q.client.AddTorrentFromMemoryCtx(ctx, data, options); err != nil {
		return InjectFailure, fmt.Errorf("qbittorrent add torrent: %w", err)
	}
	return InjectSuccess, nil
}

func (q *Qbittorrent) RecheckTorrent(ctx context.Context, infoHash string) error {
	if err := q.client.RecheckCtx(ctx, []string{strings.ToLower(infoHash)}); err != nil {
		return fmt.Errorf("qbittorrent recheck: %w", err)
	}
	return nil
}
