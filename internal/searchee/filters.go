// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package searchee

import (
	"strings"

	"github.com/moistari/rls"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/crossseed/internal/domain"
)

// Filter drops searchees excluded by policy before any indexer is queried.
type Filter struct {
	includeNonVideos      bool
	includeSingleEpisodes bool
	videos                domain.ExtensionSet
	blockList             []string
}

// NewFilter builds the pre-search filter from config.
func NewFilter(cfg domain.Config) *Filter {
	blocked := make([]string, 0, len(cfg.BlockList))
	for _, b := range cfg.BlockList {
		if b = strings.ToLower(strings.TrimSpace(b)); b != "" {
			blocked = append(blocked, b)
		}
	}
	return &Filter{
		includeNonVideos:      cfg.IncludeNonVideos,
		includeSingleEpisodes: cfg.IncludeSingleEpisodes,
		videos:                cfg.VideoExtensionSet(),
		blockList:             blocked,
	}
}

// Keep reports whether the searchee survives the configured filters, with a
// reason when it does not.
func (f *Filter) Keep(s *Searchee) (bool, string) {
	if f.Blocked(s.Name) || f.Blocked(s.InfoHash) {
		return false, "block list"
	}

	if !f.includeNonVideos && !s.HasVideo(f.videos) {
		return false, "no video files"
	}

	if !f.includeSingleEpisodes && IsSingleEpisode(s.Name) {
		return false, "single episode"
	}

	return true, ""
}

// Blocked reports whether the value hits any blockList entry
// (case-insensitive substring, matching block lists of release titles,
// groups, or infohashes).
func (f *Filter) Blocked(value string) bool {
	if value == "" {
		return false
	}
	lower := strings.ToLower(value)
	for _, b := range f.blockList {
		if strings.Contains(lower, b) {
			return true
		}
	}
	return false
}

// Apply filters a slice in place order-preserving, logging each drop.
func (f *Filter) Apply(in []*Searchee) []*Searchee {
	out := in[:0]
	for _, s := range in {
		keep, reason := f.Keep(s)
		if !keep {
			log.Debug().Str("searchee", s.Name).Str("reason", reason).Msg("Filtered out searchee")
			continue
		}
		out = append(out, s)
	}
	return out
}

// IsSingleEpisode reports whether the name parses as one TV episode with no
// pack indication (SxxExx with a concrete episode number).
func IsSingleEpisode(name string) bool {
	r := rls.ParseString(name)
	return r.Series > 0 && r.Episode > 0
}
