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
	"net/http/cookiejar"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/autobrr/crossseed/internal/buildinfo"
)

// Deluge adapts the Deluge Web JSON-RPC API.
type Deluge struct {
	endpoint   string
	password   string
	httpClient *http.Client
	requestID  atomic.Int64
	loggedIn   atomic.Bool
}

func newDeluge(rpcURL string) (*Deluge, error) {
	clean, _, password, err := splitUserinfo(rpcURL)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(clean, "/json") {
		clean = strings.TrimRight(clean, "/") + "/json"
	}

	// The web API authenticates via a session cookie.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Deluge{
		endpoint: clean,
		password: password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
	}, nil
}

func (d *Deluge) Kind() string { return "deluge" }

type delugeError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (d *Deluge) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(map[string]any{
		"method": method,
		"params": params,
		"id":     d.requestID.Add(1),
	})
	if err != nil {
		return errors.Wrap(err, "marshal rpc request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build rpc request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "deluge rpc")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read rpc response")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("deluge rpc status %d", resp.StatusCode)
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *delugeError    `json:"error"`
	}
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return errors.Wrap(err, "decode rpc response")
	}
	if rpcResp.Error != nil {
		return errors.Errorf("deluge rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return errors.Wrap(err, "decode rpc result")
		}
	}
	return nil
}

func (d *Deluge) login(ctx context.Context) error {
	if d.loggedIn.Load() {
		return nil
	}
	var ok bool
	if err := d.call(ctx, "auth.login", []any{d.password}, &ok); err != nil {
		return err
	}
	if !ok {
		return errors.New("deluge auth rejected")
	}
	d.loggedIn.Store(true)
	return nil
}

func (d *Deluge) ValidateConfig(ctx context.Context) error {
	if err := d.login(ctx); err != nil {
		return err
	}
	var connected bool
	if err := d.call(ctx, "web.connected", nil, &connected); err != nil {
		return err
	}
	if !connected {
		return errors.New("deluge web ui is not connected to a daemon")
	}
	return nil
}

type delugeTorrent struct {
	Name     string  `json:"name"`
	Progress float64 `json:"progress"`
	SavePath string  `json:"save_path"`
	Label    string  `json:"label"`
	Trackers []struct {
		URL  string `json:"url"`
		Tier int    `json:"tier"`
	} `json:"trackers"`
}

var delugeTorrentKeys = []any{"name", "progress", "save_path", "label", "trackers"}

func (d *Deluge) torrentsStatus(ctx context.Context, filter map[string]any) (map[string]delugeTorrent, error) {
	if err := d.login(ctx); err != nil {
		return nil, err
	}
	var out map[string]delugeTorrent
	if err := d.call(ctx, "core.get_torrents_status", []any{filter, delugeTorrentKeys}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Deluge) getTorrent(ctx context.Context, infoHash string) (*delugeTorrent, error) {
	hash := strings.ToLower(infoHash)
	torrents, err := d.torrentsStatus(ctx, map[string]any{"id": []string{hash}})
	if err != nil {
		return nil, err
	}
	t, ok := torrents[hash]
	if !ok {
		return nil, ErrTorrentNotFound
	}
	return &t, nil
}

func (d *Deluge) IsTorrentComplete(ctx context.Context, infoHash string) (bool, error) {
	t, err := d.getTorrent(ctx, infoHash)
	if err != nil {
		return false, err
	}
	return t.Progress >= 100.0, nil
}

func (d *Deluge) GetAllTorrents(ctx context.Context) ([]TorrentEntry, error) {
	torrents, err := d.torrentsStatus(ctx, map[string]any{})
	if err != nil {
		return nil, err
	}
	entries := make([]TorrentEntry, 0, len(torrents))
	for hash, t := range torrents {
		entry := TorrentEntry{
			InfoHash: strings.ToLower(hash),
			Name:     t.Name,
			Category: t.Label,
			SavePath: t.SavePath,
			Complete: t.Progress >= 100.0,
		}
		for _, tr := range t.Trackers {
			entry.Trackers = append(entry.Trackers, []string{tr.URL})
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (d *Deluge) GetDownloadDir(ctx context.Context, infoHash string, onlyCompleted bool) (string, error) {
	t, err := d.getTorrent(ctx, infoHash)
	if err != nil {
		return "", err
	}
	if onlyCompleted && t.Progress < 100.0 {
		return "", ErrTorrentNotComplete
	}
	return t.SavePath, nil
}

func (d *Deluge) Inject(ctx context.Context, req *InjectRequest) (InjectOutcome, error) {
	if err := d.login(ctx); err != nil {
		return InjectFailure, err
	}

	if _, err := d.getTorrent(ctx, req.Meta.InfoHash()); err == nil {
		return InjectAlreadyExists, nil
	}

	data, err := req.Meta.Serialize()
	if err != nil {
		return InjectFailure, errors.Wrap(err, "serialize torrent")
	}

	options := map[string]any{
		"download_location": req.SavePath,
		"seed_mode":         req.SkipChecking,
		"add_paused":        false,
	}
	var torrentID string
	err = d.call(ctx, "core.add_torrent_file", []any{
		req.Meta.Name() + ".torrent",
		base64.StdEncoding.EncodeToString(data),
		options,
	}, &torrentID)
	if err != nil {
		return InjectFailure, err
	}

	if req.Category != "" {
		// Label plugin may be absent; a failure here is not fatal.
		_ = d.call(ctx, "label.set_torrent", []any{torrentID, req.Category}, nil)
	}
	return InjectSuccess, nil
}

func (d *Deluge) RecheckTorrent(ctx context.Context, infoHash string) error {
	if err := d.login(ctx); err != nil {
		return err
	}
	return d.call(ctx, "core.force_recheck", []any{[]string{strings.ToLower(infoHash)}}, nil)
}
