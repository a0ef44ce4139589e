// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pipeline

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/autobrr/crossseed/internal/matcher"
	"github.com/autobrr/crossseed/internal/metafile"
	"github.com/autobrr/crossseed/internal/searchee"
)

// InjectArtifacts matches every torrent file under the given directories
// against the local searchees and injects the ones that still match. With no
// directories it walks outputDir for saved artifacts. Candidates counts
// files considered, Matches counts successful injections.
func (p *Pipeline) InjectArtifacts(ctx context.Context, dirs ...string) (*Summary, error) {
	searchees, err := p.EnumerateSearchees(ctx)
	if err != nil {
		return nil, err
	}
	index := buildTitleIndex(searchees)

	known, err := p.knownHashes(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Client unreachable, continuing without its hashes")
		known = matcher.NewHashSet()
	}

	if len(dirs) == 0 {
		dirs = []string{p.cfg.OutputDir}
	}

	summary := &Summary{Searchees: len(searchees)}
	for _, dir := range dirs {
		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ".torrent") {
				return nil
			}

			summary.Candidates++
			if err := p.injectArtifact(ctx, path, index, known); err != nil {
				summary.Failures++
				p.logger.Error().Err(err).Str("artifact", path).Msg("Artifact injection failed")
				return nil
			}
			summary.Matches++
			return nil
		})
		if err != nil {
			return summary, err
		}
	}

	p.logger.Info().Int("artifacts", summary.Candidates).Int("injected", summary.Matches).
		Int("failures", summary.Failures).Msg("Artifact injection finished")
	return summary, nil
}

func (p *Pipeline) injectArtifact(ctx context.Context, path string, index titleIndex, known matcher.HashSet) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	meta, err := metafile.Parse(data)
	if err != nil {
		return err
	}

	s, res, err := p.matchArtifact(meta, index, known)
	if err != nil {
		return err
	}

	savePath := ""
	if s.Origin == searchee.OriginData && p.linker.Enabled() {
		tracker := trackerFromArtifactPath(p.cfg.OutputDir, path)
		savePath, err = p.linker.LinkTree(meta, s, tracker, res.FileMap)
		if err != nil {
			return err
		}
	}
	return p.inject(ctx, s, meta, res, savePath)
}

// matchArtifact finds the searchee this artifact belongs to. Already-present
// torrents and stale artifacts that no longer match anything are errors.
func (p *Pipeline) matchArtifact(meta *metafile.Metafile, index titleIndex, known matcher.HashSet) (*searchee.Searchee, matcher.Result, error) {
	for _, s := range index.lookup(meta.Name()) {
		res := matcher.Evaluate(s, meta, known, p.blocked, p.policy)
		if res.Verdict.IsMatch() {
			return s, res, nil
		}
	}
	return nil, matcher.Result{}, errNoMatchingSearchee(meta.Name())
}

type errNoMatchingSearchee string

func (e errNoMatchingSearchee) Error() string {
	return "no local searchee matches " + string(e)
}

// trackerFromArtifactPath recovers the tracker grouping directory, when the
// artifact was written under one.
func trackerFromArtifactPath(outputDir, path string) string {
	rel, err := filepath.Rel(outputDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	dir := filepath.Dir(rel)
	if dir == "." {
		return ""
	}
	return filepath.Base(dir)
}
