// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/autobrr/crossseed/internal/buildinfo"
)

const transmissionSessionHeader = "X-Transmission-Session-Id"

// Transmission adapts the Transmission JSON RPC.
type Transmission struct {
	endpoint   string
	username   string
	password   string
	sessionID  string
	httpClient *http.Client
}

func newTransmission(rpcURL string) (*Transmission, error) {
	clean, username, password, err := splitUserinfo(rpcURL)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(clean, "/transmission/rpc") {
		clean = strings.TrimRight(clean, "/") + "/transmission/rpc"
	}
	return &Transmission{
		endpoint:   clean,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (t *Transmission) Kind() string { return "transmission" }

type transmissionRequest struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments,omitempty"`
}

type transmissionResponse struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

type transmissionTorrent struct {
	HashString  string  `json:"hashString"`
	Name        string  `json:"name"`
	DownloadDir string  `json:"downloadDir"`
	PercentDone float64 `json:"percentDone"`
	Labels      []string `json:"labels"`
	Trackers    []struct {
		Announce string `json:"announce"`
		Tier     int    `json:"tier"`
	} `json:"trackers"`
}

var transmissionTorrentFields = []string{
	"hashString", "name", "downloadDir", "percentDone", "labels", "trackers",
}

// call issues one RPC, retrying once on the 409 CSRF handshake.
func (t *Transmission) call(ctx context.Context, method string, args any, out any) error {
	for attempt := 0; attempt < 2; attempt++ {
		body, err := json.Marshal(transmissionRequest{Method: method, Arguments: args})
		if err != nil {
			return errors.Wrap(err, "marshal rpc request")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
		if err != nil {
			return errors.Wrap(err, "build rpc request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", buildinfo.UserAgent)
		if t.sessionID != "" {
			req.Header.Set(transmissionSessionHeader, t.sessionID)
		}
		if t.username != "" {
			req.SetBasicAuth(t.username, t.password)
		}

		resp, err := t.httpClient.Do(req)
		if err != nil {
			return errors.Wrap(err, "transmission rpc")
		}

		if resp.StatusCode == http.StatusConflict {
			t.sessionID = resp.Header.Get(transmissionSessionHeader)
			resp.Body.Close()
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return errors.Wrap(err, "read rpc response")
		}
		if resp.StatusCode != http.StatusOK {
			return errors.Errorf("transmission rpc status %d", resp.StatusCode)
		}

		var rpcResp transmissionResponse
		if err := json.Unmarshal(data, &rpcResp); err != nil {
			return errors.Wrap(err, "decode rpc response")
		}
		if rpcResp.Result != "success" {
			return errors.Errorf("transmission rpc result %q", rpcResp.Result)
		}
		if out != nil {
			if err := json.Unmarshal(rpcResp.Arguments, out); err != nil {
				return errors.Wrap(err, "decode rpc arguments")
			}
		}
		return nil
	}
	return errors.New("transmission session handshake failed")
}

func (t *Transmission) ValidateConfig(ctx context.Context) error {
	return t.call(ctx, "session-get", nil, nil)
}

func (t *Transmission) torrents(ctx context.Context, hashes ...string) ([]transmissionTorrent, error) {
	args := map[string]any{"fields": transmissionTorrentFields}
	if len(hashes) > 0 {
		args["ids"] = hashes
	}
	var out struct {
		Torrents []transmissionTorrent `json:"torrents"`
	}
	if err := t.call(ctx, "torrent-get", args, &out); err != nil {
		return nil, err
	}
	return out.Torrents, nil
}

func (t *Transmission) IsTorrentComplete(ctx context.Context, infoHash string) (bool, error) {
	torrents, err := t.torrents(ctx, strings.ToLower(infoHash))
	if err != nil {
		return false, err
	}
	if len(torrents) == 0 {
		return false, ErrTorrentNotFound
	}
	return torrents[0].PercentDone >= 1.0, nil
}

func (t *Transmission) GetAllTorrents(ctx context.Context) ([]TorrentEntry, error) {
	torrents, err := t.torrents(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]TorrentEntry, 0, len(torrents))
	for _, tor := range torrents {
		entry := TorrentEntry{
			InfoHash: strings.ToLower(tor.HashString),
			Name:     tor.Name,
			SavePath: tor.DownloadDir,
			Tags:     tor.Labels,
			Complete: tor.PercentDone >= 1.0,
		}
		tiers := map[int][]string{}
		maxTier := -1
		for _, tr := range tor.Trackers {
			tiers[tr.Tier] = append(tiers[tr.Tier], tr.Announce)
			if tr.Tier > maxTier {
				maxTier = tr.Tier
			}
		}
		for i := 0; i <= maxTier; i++ {
			if urls := tiers[i]; len(urls) > 0 {
				entry.Trackers = append(entry.Trackers, urls)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (t *Transmission) GetDownloadDir(ctx context.Context, infoHash string, onlyCompleted bool) (string, error) {
	torrents, err := t.torrents(ctx, strings.ToLower(infoHash))
	if err != nil {
		return "", err
	}
	if len(torrents) == 0 {
		return "", ErrTorrentNotFound
	}
	if onlyCompleted && torrents[0].PercentDone < 1.0 {
		return "", ErrTorrentNotComplete
	}
	return torrents[0].DownloadDir, nil
}

func (t *Transmission) Inject(ctx context.Context, req *InjectRequest) (InjectOutcome, error) {
	data, err := req.Meta.Serialize()
	if err != nil {
		return InjectFailure, errors.Wrap(err, "serialize torrent")
	}

	args := map[string]any{
		"metainfo":     base64.StdEncoding.EncodeToString(data),
		"download-dir": req.SavePath,
		"paused":       false,
	}
	if len(req.Tags) > 0 {
		args["labels"] = req.Tags
	}

	var out struct {
		Added     *struct{ HashString string } `json:"torrent-added"`
		Duplicate *struct{ HashString string } `json:"torrent-duplicate"`
	}
	if err := t.call(ctx, "torrent-add", args, &out); err != nil {
		return InjectFailure, err
	}
	if out.Duplicate != nil {
		return InjectAlreadyExists, nil
	}
	return InjectSuccess, nil
}

func (t *Transmission) RecheckTorrent(ctx context.Context, infoHash string) error {
	return t.call(ctx, "torrent-verify", map[string]any{
		"ids": []string{strings.ToLower(infoHash)},
	}, nil)
}
