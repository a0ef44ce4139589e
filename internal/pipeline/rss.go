// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/moistari/rls"

	"github.com/autobrr/crossseed/internal/matcher"
	"github.com/autobrr/crossseed/internal/models"
	"github.com/autobrr/crossseed/internal/searchee"
	"github.com/autobrr/crossseed/internal/torznab"
)

// ScanRSS pulls the latest feed from every available indexer and matches new
// items against the stored searchee snapshot. Each indexer keeps a cursor
// (newest seen guid plus pubDate high-water mark) so items are processed at
// most once.
func (p *Pipeline) ScanRSS(ctx context.Context) (*Summary, error) {
	indexers, err := p.indexers.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	stored, err := p.searchees.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		p.logger.Debug().Msg("No stored searchees, skipping RSS scan")
		return &Summary{}, nil
	}

	known, err := p.knownHashes(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Client unreachable, continuing without its hashes")
		known = matcher.NewHashSet()
	}

	index := buildTitleIndex(stored)
	summary := &Summary{Searchees: len(stored)}
	now := time.Now()

	for _, idx := range indexers {
		if !idx.Available(now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		sub := p.scanIndexerFeed(ctx, idx, index, known)
		summary.Candidates += sub.Candidates
		summary.Matches += sub.Matches
		summary.Failures += sub.Failures
	}

	p.logger.Info().Int("candidates", summary.Candidates).Int("matches", summary.Matches).
		Int("failures", summary.Failures).Msg("RSS scan finished")
	return summary, nil
}

func (p *Pipeline) scanIndexerFeed(ctx context.Context, idx *models.Indexer, index titleIndex, known matcher.HashSet) Summary {
	var summary Summary

	candidates, err := p.torznab.Latest(ctx, idx)
	if err != nil {
		p.recordIndexerFailure(ctx, idx, err)
		return summary
	}
	_ = p.indexers.MarkSuccess(ctx, idx.ID)

	fresh := trimAtCursor(candidates, idx)
	if len(fresh) == 0 {
		return summary
	}

	for _, candidate := range fresh {
		for _, s := range index.lookup(candidate.Title) {
			summary.Candidates++
			matched, err := p.processCandidate(ctx, s, idx, candidate, known)
			if err != nil {
				summary.Failures++
				p.logger.Error().Err(err).Str("searchee", s.Name).
					Str("candidate", candidate.Title).Msg("RSS candidate failed")
				continue
			}
			if matched {
				summary.Matches++
			}
		}
	}

	// Feeds are newest-first; the head is the new high-water mark.
	head := fresh[0]
	cursorTime := head.PubDate
	if idx.RSSCursorPubDate != nil && idx.RSSCursorPubDate.After(cursorTime) {
		cursorTime = *idx.RSSCursorPubDate
	}
	if err := p.indexers.UpdateRSSCursor(ctx, idx.ID, head.GUID, cursorTime); err != nil {
		p.logger.Error().Err(err).Str("indexer", idx.DisplayName()).Msg("Failed to advance RSS cursor")
	}
	return summary
}

// Announce processes one externally pushed candidate (an IRC announce relay
// or tracker webhook) against the stored searchee snapshot.
func (p *Pipeline) Announce(ctx context.Context, idx *models.Indexer, candidate torznab.Candidate) (*Summary, error) {
	stored, err := p.searchees.All(ctx)
	if err != nil {
		return nil, err
	}

	known, err := p.knownHashes(ctx)
	if err != nil {
		known = matcher.NewHashSet()
	}

	summary := &Summary{}
	for _, s := range buildTitleIndex(stored).lookup(candidate.Title) {
		summary.Candidates++
		matched, err := p.processCandidate(ctx, s, idx, candidate, known)
		if err != nil {
			summary.Failures++
			p.logger.Error().Err(err).Str("searchee", s.Name).
				Str("candidate", candidate.Title).Msg("Announced candidate failed")
			continue
		}
		if matched {
			summary.Matches++
		}
	}
	return summary, nil
}

// trimAtCursor keeps the prefix of a newest-first feed that the cursor has
// not seen: items stop at the cursor guid, or at items no newer than the
// pubDate high-water mark.
func trimAtCursor(candidates []torznab.Candidate, idx *models.Indexer) []torznab.Candidate {
	out := make([]torznab.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if idx.RSSCursorGUID != "" && c.GUID == idx.RSSCursorGUID {
			break
		}
		if idx.RSSCursorPubDate != nil && !c.PubDate.IsZero() && !c.PubDate.After(*idx.RSSCursorPubDate) {
			break
		}
		out = append(out, c)
	}
	return out
}

// titleIndex groups stored searchees by parsed release title so one feed
// item is only matched against plausible searchees, not the whole snapshot.
type titleIndex map[string][]*searchee.Searchee

func buildTitleIndex(searchees []*searchee.Searchee) titleIndex {
	index := make(titleIndex, len(searchees))
	for _, s := range searchees {
		key := titleKey(s.Name)
		index[key] = append(index[key], s)
	}
	return index
}

func (ti titleIndex) lookup(candidateTitle string) []*searchee.Searchee {
	return ti[titleKey(candidateTitle)]
}

func titleKey(name string) string {
	r := rls.ParseString(name)
	title := strings.ToLower(strings.TrimSpace(r.Title))
	if title == "" {
		title = strings.ToLower(name)
	}
	return title
}
