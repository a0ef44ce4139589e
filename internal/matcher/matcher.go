// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package matcher decides whether a candidate torrent is a cross-seed of a
// local searchee.
package matcher

import (
	"math"
	"sort"
	"strings"

	"github.com/autobrr/crossseed/internal/domain"
	"github.com/autobrr/crossseed/internal/metafile"
	"github.com/autobrr/crossseed/internal/models"
	"github.com/autobrr/crossseed/internal/searchee"
)

// Policy is the runtime matching strictness.
type Policy struct {
	Mode               domain.MatchMode
	FuzzySizeThreshold float64
	Ignorable          domain.ExtensionSet
}

// PolicyFromConfig builds the policy from runtime config.
func PolicyFromConfig(cfg domain.Config) Policy {
	return Policy{
		Mode:               cfg.MatchMode,
		FuzzySizeThreshold: cfg.FuzzySizeThreshold,
		Ignorable:          cfg.IgnorableExtensionSet(),
	}
}

// Result is the matcher's decision for one (searchee, candidate) pair.
type Result struct {
	Verdict models.Verdict

	// FuzzySizeFactor is the observed relative total-size delta.
	FuzzySizeFactor float64

	// FileMap maps candidate relative paths to searchee relative paths for
	// match verdicts. The linker consumes it for data-origin searchees.
	FileMap map[string]string
}

// ShouldRecheck reports whether an injected match needs a hash recheck:
// partial matches have extra or missing files, and disc images are prone to
// subtle layout drift.
func ShouldRecheck(s *searchee.Searchee, verdict models.Verdict) bool {
	return verdict == models.VerdictMatchPartial || s.HasDiscImage()
}

// KnownHashes answers whether an infohash already exists locally (the
// searchee's own hash or any hash in the active client).
type KnownHashes interface {
	Contains(infoHash string) bool
}

// HashSet is a static KnownHashes.
type HashSet map[string]struct{}

func (h HashSet) Contains(infoHash string) bool {
	_, ok := h[strings.ToLower(infoHash)]
	return ok
}

// NewHashSet lowercases and collects the given hashes.
func NewHashSet(hashes ...string) HashSet {
	set := make(HashSet, len(hashes))
	for _, h := range hashes {
		if h != "" {
			set[strings.ToLower(h)] = struct{}{}
		}
	}
	return set
}

// PreScreen evaluates a candidate before snatching, using only feed
// metadata. A nil verdict means the candidate is worth snatching.
func PreScreen(s *searchee.Searchee, title, infoHash string, size int64, known KnownHashes, blocked func(name, infoHash string) bool, p Policy) *Result {
	if infoHash != "" {
		if strings.EqualFold(infoHash, s.InfoHash) || known.Contains(infoHash) {
			return &Result{Verdict: models.VerdictInfoHashAlreadyExists}
		}
	}
	if blocked != nil && blocked(title, infoHash) {
		return &Result{Verdict: models.VerdictBlockedRelease}
	}
	if size > 0 {
		factor := relativeDelta(s.TotalSize, size)
		if factor > p.FuzzySizeThreshold {
			return &Result{Verdict: models.VerdictSizeMismatch, FuzzySizeFactor: factor}
		}
	}
	return nil
}

// Evaluate runs the full decision procedure against a snatched metafile.
// The verdict is deterministic in (s.Files, c.Files, policy).
func Evaluate(s *searchee.Searchee, c *metafile.Metafile, known KnownHashes, blocked func(name, infoHash string) bool, p Policy) Result {
	hash := c.InfoHash()
	if strings.EqualFold(hash, s.InfoHash) || known.Contains(hash) {
		return Result{Verdict: models.VerdictInfoHashAlreadyExists}
	}
	if blocked != nil && blocked(c.Name(), hash) {
		return Result{Verdict: models.VerdictBlockedRelease}
	}

	factor := relativeDelta(s.TotalSize, c.TotalSize())
	if factor > p.FuzzySizeThreshold {
		return Result{Verdict: models.VerdictSizeMismatch, FuzzySizeFactor: factor}
	}

	sFiles := searcheeFiles(s)
	cFiles := candidateFiles(c)

	if fileMap, ok := exactTreeMatch(sFiles, cFiles); ok {
		return Result{Verdict: models.VerdictMatch, FuzzySizeFactor: factor, FileMap: fileMap}
	}

	if p.Mode == domain.MatchModeRisky || p.Mode == domain.MatchModePartial {
		if fileMap, ok := sizeBijection(sFiles, cFiles); ok {
			return Result{Verdict: models.VerdictMatchSizeOnly, FuzzySizeFactor: factor, FileMap: fileMap}
		}
	}

	if p.Mode == domain.MatchModePartial {
		sKept := dropIgnorable(sFiles, p.Ignorable)
		cKept := dropIgnorable(cFiles, p.Ignorable)
		if len(sKept) > 0 && len(cKept) > 0 &&
			(len(sKept) < len(sFiles) || len(cKept) < len(cFiles)) {
			if fileMap, ok := exactTreeMatch(sKept, cKept); ok {
				return Result{Verdict: models.VerdictMatchPartial, FuzzySizeFactor: factor, FileMap: fileMap}
			}
			if fileMap, ok := sizeBijection(sKept, cKept); ok {
				return Result{Verdict: models.VerdictMatchPartial, FuzzySizeFactor: factor, FileMap: fileMap}
			}
		}
	}

	return Result{Verdict: models.VerdictFileTreeMismatch, FuzzySizeFactor: factor}
}

type flatFile struct {
	// relPath is the original path; normPath is the comparison key. The
	// file map always carries originals so the linker sees real paths.
	relPath  string
	normPath string
	size     int64
}

func searcheeFiles(s *searchee.Searchee) []flatFile {
	out := make([]flatFile, 0, len(s.Files))
	for _, f := range s.Files {
		out = append(out, flatFile{relPath: f.RelPath, normPath: normalizePath(f.RelPath), size: f.Size})
	}
	return out
}

func candidateFiles(c *metafile.Metafile) []flatFile {
	files := c.Files()
	out := make([]flatFile, 0, len(files))
	for _, f := range files {
		rel := f.RelPath()
		out = append(out, flatFile{relPath: rel, normPath: normalizePath(rel), size: f.Length})
	}
	return out
}

// normalizePath lowercases and slash-normalizes for comparison. Top-level
// directory naming is already excluded: both sides carry root-relative
// paths.
func normalizePath(p string) string {
	return strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
}

// exactTreeMatch requires an identical flat list: same paths, same lengths.
func exactTreeMatch(s, c []flatFile) (map[string]string, bool) {
	if len(s) != len(c) {
		return nil, false
	}
	byNorm := make(map[string]flatFile, len(s))
	for _, f := range s {
		byNorm[f.normPath] = f
	}
	fileMap := make(map[string]string, len(c))
	for _, f := range c {
		match, ok := byNorm[f.normPath]
		if !ok || match.size != f.size {
			return nil, false
		}
		fileMap[f.relPath] = match.relPath
	}
	return fileMap, true
}

// sizeBijection requires equal counts and a one-to-one pairing by length,
// ignoring paths. Files of equal length are paired in path order, which
// keeps the verdict deterministic.
func sizeBijection(s, c []flatFile) (map[string]string, bool) {
	if len(s) != len(c) {
		return nil, false
	}

	group := func(files []flatFile) map[int64][]flatFile {
		m := make(map[int64][]flatFile)
		for _, f := range files {
			m[f.size] = append(m[f.size], f)
		}
		for _, paths := range m {
			sort.Slice(paths, func(i, j int) bool { return paths[i].normPath < paths[j].normPath })
		}
		return m
	}

	sGroups := group(s)
	cGroups := group(c)
	if len(sGroups) != len(cGroups) {
		return nil, false
	}

	fileMap := make(map[string]string, len(c))
	for size, cFiles := range cGroups {
		sFiles, ok := sGroups[size]
		if !ok || len(sFiles) != len(cFiles) {
			return nil, false
		}
		for i, cf := range cFiles {
			fileMap[cf.relPath] = sFiles[i].relPath
		}
	}
	return fileMap, true
}

func dropIgnorable(files []flatFile, ignorable domain.ExtensionSet) []flatFile {
	out := make([]flatFile, 0, len(files))
	for _, f := range files {
		if ignorable.Contains(f.relPath) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func relativeDelta(a, b int64) float64 {
	if a == 0 && b == 0 {
		return 0
	}
	larger := math.Max(float64(a), float64(b))
	return math.Abs(float64(a)-float64(b)) / larger
}
