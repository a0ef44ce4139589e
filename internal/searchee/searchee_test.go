// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package searchee

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autobrr/crossseed/internal/domain"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestScanDataDirs_LeafDirectoriesBecomeSearchees(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Example.Show.S01.1080p.WEB-DL-GROUP", "Example.Show.S01E01.mkv"), 10)
	writeFile(t, filepath.Join(root, "Example.Show.S01.1080p.WEB-DL-GROUP", "Example.Show.S01E02.mkv"), 20)
	writeFile(t, filepath.Join(root, "Example.Movie.2020.mkv"), 30)
	writeFile(t, filepath.Join(root, ".hidden", "x.mkv"), 5)

	cfg := domain.DefaultConfig()
	sc := NewScanner(cfg)

	searchees, err := sc.ScanDataDirs(context.Background(), []string{root})
	require.NoError(t, err)
	require.Len(t, searchees, 2)

	byName := make(map[string]*Searchee)
	for _, s := range searchees {
		byName[s.Name] = s
	}

	pack := byName["Example.Show.S01.1080p.WEB-DL-GROUP"]
	require.NotNil(t, pack)
	require.Equal(t, OriginData, pack.Origin)
	require.Len(t, pack.Files, 2)
	require.Equal(t, int64(30), pack.TotalSize)
	require.Empty(t, pack.InfoHash)

	single := byName["Example.Movie.2020"]
	require.NotNil(t, single)
	require.Len(t, single.Files, 1)
	require.Equal(t, "Example.Movie.2020.mkv", single.Files[0].RelPath)
}

func TestScanDataDirs_DepthBound(t *testing.T) {
	root := t.TempDir()
	// Level 1 container with subdirectories; level 2 holds the releases.
	writeFile(t, filepath.Join(root, "movies", "Example.Movie.2020-GROUP", "movie.mkv"), 10)
	writeFile(t, filepath.Join(root, "movies", "Other.Movie.2021-GROUP", "movie.mkv"), 10)

	cfg := domain.DefaultConfig()
	cfg.MaxDataDepth = 2
	sc := NewScanner(cfg)

	searchees, err := sc.ScanDataDirs(context.Background(), []string{root})
	require.NoError(t, err)
	require.Len(t, searchees, 2)

	cfg.MaxDataDepth = 1
	sc = NewScanner(cfg)
	searchees, err = sc.ScanDataDirs(context.Background(), []string{root})
	require.NoError(t, err)
	// Depth bound 1: "movies" itself is the searchee.
	require.Len(t, searchees, 1)
	require.Equal(t, "movies", searchees[0].Name)
	require.Len(t, searchees[0].Files, 2)
}

func TestScanDataDirs_BlockListAndSymlinks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Wanted.Release", "a.mkv"), 10)
	writeFile(t, filepath.Join(root, "sample", "s.mkv"), 1)
	require.NoError(t, os.Symlink(filepath.Join(root, "Wanted.Release"), filepath.Join(root, "linked")))

	cfg := domain.DefaultConfig()
	cfg.BlockList = []string{"sample"}
	sc := NewScanner(cfg)

	searchees, err := sc.ScanDataDirs(context.Background(), []string{root})
	require.NoError(t, err)
	require.Len(t, searchees, 1)
	require.Equal(t, "Wanted.Release", searchees[0].Name)
}

func TestFilter_NonVideoAndSingleEpisode(t *testing.T) {
	cfg := domain.DefaultConfig()
	f := NewFilter(cfg)

	movie := &Searchee{Name: "Example.Movie.2020.1080p.BluRay.x264-GROUP", Files: []File{{RelPath: "m.mkv", Size: 1}}}
	keep, _ := f.Keep(movie)
	require.True(t, keep)

	flacOnly := &Searchee{Name: "Artist - Album (2020) [FLAC]", Files: []File{{RelPath: "01.flac", Size: 1}}}
	keep, reason := f.Keep(flacOnly)
	require.False(t, keep)
	require.Equal(t, "no video files", reason)

	episode := &Searchee{Name: "Example.Show.S01E03.1080p.WEB-DL.x264-GROUP", Files: []File{{RelPath: "e.mkv", Size: 1}}}
	keep, reason = f.Keep(episode)
	require.False(t, keep)
	require.Equal(t, "single episode", reason)

	pack := &Searchee{Name: "Example.Show.S01.1080p.WEB-DL.x264-GROUP", Files: []File{{RelPath: "e.mkv", Size: 1}}}
	keep, _ = f.Keep(pack)
	require.True(t, keep)

	cfg.IncludeNonVideos = true
	cfg.IncludeSingleEpisodes = true
	f = NewFilter(cfg)
	keep, _ = f.Keep(flacOnly)
	require.True(t, keep)
	keep, _ = f.Keep(episode)
	require.True(t, keep)
}

func TestFilter_BlockList(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.IncludeNonVideos = true
	cfg.BlockList = []string{"-BADGROUP", "0123456789abcdef0123"}
	f := NewFilter(cfg)

	blocked := &Searchee{Name: "Example.Movie.2020.1080p.x264-BADGROUP", Files: []File{{RelPath: "m.mkv", Size: 1}}}
	keep, reason := f.Keep(blocked)
	require.False(t, keep)
	require.Equal(t, "block list", reason)

	byHash := &Searchee{
		Name:     "Fine.Name",
		InfoHash: "0123456789abcdef0123456789abcdef01234567",
		Files:    []File{{RelPath: "m.mkv", Size: 1}},
	}
	keep, _ = f.Keep(byHash)
	require.False(t, keep)
}

func TestValidate_RejectsTraversal(t *testing.T) {
	s := &Searchee{Name: "x", Files: []File{{RelPath: "../escape.mkv", Size: 1}}}
	require.ErrorContains(t, s.Validate(), "escapes root")

	s = &Searchee{Name: "x", Files: []File{{RelPath: "ok/inner.mkv", Size: 1}}}
	require.NoError(t, s.Validate())

	s = &Searchee{Name: "x"}
	require.ErrorContains(t, s.Validate(), "no files")
}
