// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// MatchMode controls how strict the matcher is when comparing file trees.
type MatchMode string

const (
	MatchModeSafe    MatchMode = "safe"
	MatchModeRisky   MatchMode = "risky"
	MatchModePartial MatchMode = "partial"
)

// LinkType selects how data-origin matches are materialized on disk.
type LinkType string

const (
	LinkTypeHardlink LinkType = "hardlink"
	LinkTypeSymlink  LinkType = "symlink"
	LinkTypeReflink  LinkType = "reflink"
)

// Action selects what happens with a confirmed match.
type Action string

const (
	ActionSave   Action = "save"
	ActionInject Action = "inject"
)

// Config is the frozen runtime configuration. It is assembled once at
// startup from config file, environment, and flags, then passed by value
// to each component. Components never mutate it.
type Config struct {
	Host    string `toml:"host" mapstructure:"host"`
	Port    int    `toml:"port" mapstructure:"port"`
	NoPort  bool   `toml:"noPort" mapstructure:"noPort"`
	APIKey  string `toml:"apiKey" mapstructure:"apiKey"`
	Verbose int    `toml:"verbose" mapstructure:"verbose"`

	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`

	DataDir string `toml:"dataDir" mapstructure:"dataDir"`

	Torznab []string `toml:"torznab" mapstructure:"torznab"`

	TorrentDir string   `toml:"torrentDir" mapstructure:"torrentDir"`
	DataDirs   []string `toml:"dataDirs" mapstructure:"dataDirs"`
	OutputDir  string   `toml:"outputDir" mapstructure:"outputDir"`

	MaxDataDepth          int      `toml:"maxDataDepth" mapstructure:"maxDataDepth"`
	IncludeNonVideos      bool     `toml:"includeNonVideos" mapstructure:"includeNonVideos"`
	IncludeSingleEpisodes bool     `toml:"includeSingleEpisodes" mapstructure:"includeSingleEpisodes"`
	BlockList             []string `toml:"blockList" mapstructure:"blockList"`

	MatchMode          MatchMode `toml:"matchMode" mapstructure:"matchMode"`
	FuzzySizeThreshold float64   `toml:"fuzzySizeThreshold" mapstructure:"fuzzySizeThreshold"`

	// IgnorableExtensions and VideoExtensions override the built-in sets
	// when non-empty.
	IgnorableExtensions []string `toml:"ignorableExtensions" mapstructure:"ignorableExtensions"`
	VideoExtensions     []string `toml:"videoExtensions" mapstructure:"videoExtensions"`

	LinkDir     string   `toml:"linkDir" mapstructure:"linkDir"`
	LinkType    LinkType `toml:"linkType" mapstructure:"linkType"`
	FlatLinking bool     `toml:"flatLinking" mapstructure:"flatLinking"`

	Action              Action `toml:"action" mapstructure:"action"`
	DuplicateCategories bool   `toml:"duplicateCategories" mapstructure:"duplicateCategories"`

	RtorrentRPCURL     string `toml:"rtorrentRpcUrl" mapstructure:"rtorrentRpcUrl"`
	QbittorrentRPCURL  string `toml:"qbittorrentRpcUrl" mapstructure:"qbittorrentRpcUrl"`
	TransmissionRPCURL string `toml:"transmissionRpcUrl" mapstructure:"transmissionRpcUrl"`
	DelugeRPCURL       string `toml:"delugeRpcUrl" mapstructure:"delugeRpcUrl"`

	NotificationWebhookURL string `toml:"notificationWebhookUrl" mapstructure:"notificationWebhookUrl"`

	Sonarr []string `toml:"sonarr" mapstructure:"sonarr"`
	Radarr []string `toml:"radarr" mapstructure:"radarr"`

	Delay               int    `toml:"delay" mapstructure:"delay"`
	SearchLimit         int    `toml:"searchLimit" mapstructure:"searchLimit"`
	ExcludeOlder        string `toml:"excludeOlder" mapstructure:"excludeOlder"`
	ExcludeRecentSearch string `toml:"excludeRecentSearch" mapstructure:"excludeRecentSearch"`
	SearchTimeout       string `toml:"searchTimeout" mapstructure:"searchTimeout"`
	SnatchTimeout       string `toml:"snatchTimeout" mapstructure:"snatchTimeout"`
	SearchCadence       string `toml:"searchCadence" mapstructure:"searchCadence"`
	RSSCadence          string `toml:"rssCadence" mapstructure:"rssCadence"`
}

// DefaultConfig mirrors the documented flag defaults.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               2468,
		LogLevel:           "info",
		LogMaxSize:         50,
		LogMaxBackups:      3,
		MaxDataDepth:       2,
		MatchMode:          MatchModeSafe,
		FuzzySizeThreshold: 0.02,
		LinkType:           LinkTypeHardlink,
		Action:             ActionSave,
		Delay:              10,
		SearchTimeout:      "30s",
		SnatchTimeout:      "30s",
	}
}

// SearchTimeoutDuration returns the parsed search timeout, falling back to
// 30 seconds when unset.
func (c *Config) SearchTimeoutDuration() time.Duration {
	return c.durationOrDefault(c.SearchTimeout, 30*time.Second)
}

// SnatchTimeoutDuration returns the parsed snatch timeout, falling back to
// 30 seconds when unset.
func (c *Config) SnatchTimeoutDuration() time.Duration {
	return c.durationOrDefault(c.SnatchTimeout, 30*time.Second)
}

// SearchCadenceDuration returns the parsed search cadence, zero when the
// periodic search loop is disabled.
func (c *Config) SearchCadenceDuration() time.Duration {
	return c.durationOrDefault(c.SearchCadence, 0)
}

// RSSCadenceDuration returns the parsed RSS cadence, zero when the RSS loop
// is disabled.
func (c *Config) RSSCadenceDuration() time.Duration {
	return c.durationOrDefault(c.RSSCadence, 0)
}

func (c *Config) durationOrDefault(raw string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	d, err := ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

// ExcludeOlderDuration returns the age window beyond which searchees are
// skipped, zero when disabled.
func (c *Config) ExcludeOlderDuration() time.Duration {
	return c.durationOrDefault(c.ExcludeOlder, 0)
}

// ExcludeRecentSearchDuration returns the window inside which a recently
// searched searchee is skipped, zero when disabled.
func (c *Config) ExcludeRecentSearchDuration() time.Duration {
	return c.durationOrDefault(c.ExcludeRecentSearch, 0)
}

// DelayDuration is the pause between indexer batches for one searchee.
func (c *Config) DelayDuration() time.Duration {
	if c.Delay <= 0 {
		return 0
	}
	return time.Duration(c.Delay) * time.Second
}

// ActiveClientURL returns the RPC URL of the selected torrent client and its
// kind. Selection order is fixed: rtorrent, qbittorrent, transmission,
// deluge. Empty kind means no client is configured (save-only mode).
func (c *Config) ActiveClientURL() (kind, rpcURL string) {
	switch {
	case c.RtorrentRPCURL != "":
		return "rtorrent", c.RtorrentRPCURL
	case c.QbittorrentRPCURL != "":
		return "qbittorrent", c.QbittorrentRPCURL
	case c.TransmissionRPCURL != "":
		return "transmission", c.TransmissionRPCURL
	case c.DelugeRPCURL != "":
		return "deluge", c.DelugeRPCURL
	}
	return "", ""
}

// Validate checks the configuration for fatal problems. Any error returned
// here means the process must exit with reason before entering any
// scheduling loop.
func (c *Config) Validate() error {
	if len(c.Torznab) == 0 {
		return errors.New("at least one torznab endpoint is required")
	}
	for _, raw := range c.Torznab {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("invalid torznab url %q", raw)
		}
	}

	if c.TorrentDir == "" && len(c.DataDirs) == 0 {
		return errors.New("torrentDir or dataDirs is required")
	}
	if c.OutputDir == "" {
		return errors.New("outputDir is required")
	}
	for _, dir := range append([]string{c.TorrentDir, c.OutputDir, c.LinkDir}, c.DataDirs...) {
		if dir != "" && !filepath.IsAbs(dir) {
			return fmt.Errorf("directory %q must be an absolute path", dir)
		}
	}

	switch c.MatchMode {
	case MatchModeSafe, MatchModeRisky, MatchModePartial:
	default:
		return fmt.Errorf("invalid matchMode %q", c.MatchMode)
	}

	switch c.LinkType {
	case LinkTypeHardlink, LinkTypeSymlink, LinkTypeReflink:
	default:
		return fmt.Errorf("invalid linkType %q", c.LinkType)
	}

	switch c.Action {
	case ActionSave, ActionInject:
	default:
		return fmt.Errorf("invalid action %q", c.Action)
	}

	if c.FuzzySizeThreshold < 0 || c.FuzzySizeThreshold >= 1 {
		return fmt.Errorf("fuzzySizeThreshold must be in [0,1), got %v", c.FuzzySizeThreshold)
	}
	if c.MaxDataDepth < 1 {
		return fmt.Errorf("maxDataDepth must be at least 1, got %d", c.MaxDataDepth)
	}

	if len(c.DataDirs) > 0 && c.LinkDir == "" {
		return errors.New("linkDir is required when dataDirs is set")
	}

	for _, raw := range []string{c.SearchTimeout, c.SnatchTimeout, c.SearchCadence, c.RSSCadence, c.ExcludeOlder, c.ExcludeRecentSearch} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if _, err := ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
	}

	clientURLs := 0
	for _, u := range []string{c.RtorrentRPCURL, c.QbittorrentRPCURL, c.TransmissionRPCURL, c.DelugeRPCURL} {
		if u != "" {
			clientURLs++
		}
	}
	if c.Action == ActionInject && clientURLs == 0 {
		return errors.New("action=inject requires a configured client rpc url")
	}

	return nil
}
