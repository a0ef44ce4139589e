// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package matcher

import (
	"strings"
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/crossseed/internal/domain"
	"github.com/autobrr/crossseed/internal/metafile"
	"github.com/autobrr/crossseed/internal/models"
	"github.com/autobrr/crossseed/internal/searchee"
)

type fileSpec struct {
	path string
	size int64
}

func buildMetafile(t *testing.T, name string, files []fileSpec) *metafile.Metafile {
	t.Helper()
	info := metainfo.Info{
		Name:        name,
		PieceLength: 16384,
		Pieces:      make([]byte, 20),
	}
	if len(files) == 1 && files[0].path == "" {
		info.Length = files[0].size
	} else {
		for _, f := range files {
			info.Files = append(info.Files, metainfo.FileInfo{
				Path:   strings.Split(f.path, "/"),
				Length: f.size,
			})
		}
	}
	infoBytes, err := bencode.Marshal(info)
	require.NoError(t, err)
	mi := metainfo.MetaInfo{InfoBytes: infoBytes, Announce: "https://other.example/announce"}
	data, err := bencode.Marshal(mi)
	require.NoError(t, err)
	meta, err := metafile.Parse(data)
	require.NoError(t, err)
	return meta
}

func testSearchee(name string, files ...fileSpec) *searchee.Searchee {
	s := &searchee.Searchee{Name: name, Origin: searchee.OriginData}
	for _, f := range files {
		s.Files = append(s.Files, searchee.File{RelPath: f.path, Size: f.size})
		s.TotalSize += f.size
	}
	return s
}

func policy(mode domain.MatchMode) Policy {
	cfg := domain.DefaultConfig()
	cfg.MatchMode = mode
	return PolicyFromConfig(cfg)
}

func TestEvaluate_IdenticalSingleFileDifferentTracker(t *testing.T) {
	s := testSearchee("foo", fileSpec{"foo.mkv", 1_000_000_000})
	c := buildMetafile(t, "foo.mkv", []fileSpec{{"", 1_000_000_000}})

	res := Evaluate(s, c, NewHashSet(), nil, policy(domain.MatchModeSafe))
	require.Equal(t, models.VerdictMatch, res.Verdict)
	require.False(t, ShouldRecheck(s, res.Verdict))
	require.Equal(t, "foo.mkv", res.FileMap["foo.mkv"])
}

func TestEvaluate_RenamedFiles(t *testing.T) {
	s := testSearchee("pack",
		fileSpec{"A.mkv", 1_000_000_000},
		fileSpec{"B.mkv", 500_000_000})
	c := buildMetafile(t, "pack", []fileSpec{
		{"renamedA.mkv", 1_000_000_000},
		{"renamedB.mkv", 500_000_000},
	})

	res := Evaluate(s, c, NewHashSet(), nil, policy(domain.MatchModeRisky))
	require.Equal(t, models.VerdictMatchSizeOnly, res.Verdict)
	require.Equal(t, "A.mkv", res.FileMap["renamedA.mkv"])
	require.Equal(t, "B.mkv", res.FileMap["renamedB.mkv"])

	res = Evaluate(s, c, NewHashSet(), nil, policy(domain.MatchModeSafe))
	require.Equal(t, models.VerdictFileTreeMismatch, res.Verdict)
}

func TestEvaluate_PartialWithNFO(t *testing.T) {
	s := testSearchee("ep", fileSpec{"ep.mkv", 1_000_000_000})
	c := buildMetafile(t, "ep", []fileSpec{
		{"ep.mkv", 1_000_000_000},
		{"ep.nfo", 2048},
	})

	res := Evaluate(s, c, NewHashSet(), nil, policy(domain.MatchModePartial))
	require.Equal(t, models.VerdictMatchPartial, res.Verdict)
	require.True(t, ShouldRecheck(s, res.Verdict))
	require.Equal(t, "ep.mkv", res.FileMap["ep.mkv"])

	res = Evaluate(s, c, NewHashSet(), nil, policy(domain.MatchModeRisky))
	require.Equal(t, models.VerdictFileTreeMismatch, res.Verdict)
}

func TestEvaluate_FuzzySizeThreshold(t *testing.T) {
	s := testSearchee("x", fileSpec{"x.mkv", 1_000_000_000})
	c := buildMetafile(t, "x", []fileSpec{{"x.mkv", 1_025_000_000}})

	// 2.5% over the default 2% threshold.
	res := Evaluate(s, c, NewHashSet(), nil, policy(domain.MatchModeSafe))
	require.Equal(t, models.VerdictSizeMismatch, res.Verdict)
	require.InDelta(t, 0.0244, res.FuzzySizeFactor, 0.001)

	// Raised threshold passes totals and falls through to the per-file
	// check, which still requires exact lengths.
	p := policy(domain.MatchModeSafe)
	p.FuzzySizeThreshold = 0.05
	res = Evaluate(s, c, NewHashSet(), nil, p)
	require.Equal(t, models.VerdictFileTreeMismatch, res.Verdict)
}

func TestEvaluate_InfoHashAlreadyExists(t *testing.T) {
	s := testSearchee("foo", fileSpec{"foo.mkv", 1000})
	c := buildMetafile(t, "foo.mkv", []fileSpec{{"", 1000}})

	// Searchee's own hash.
	s.InfoHash = c.InfoHash()
	res := Evaluate(s, c, NewHashSet(), nil, policy(domain.MatchModeSafe))
	require.Equal(t, models.VerdictInfoHashAlreadyExists, res.Verdict)

	// Hash known to the client.
	s.InfoHash = ""
	res = Evaluate(s, c, NewHashSet(c.InfoHash()), nil, policy(domain.MatchModeSafe))
	require.Equal(t, models.VerdictInfoHashAlreadyExists, res.Verdict)
}

func TestEvaluate_BlockedRelease(t *testing.T) {
	s := testSearchee("foo", fileSpec{"foo.mkv", 1000})
	c := buildMetafile(t, "foo.mkv", []fileSpec{{"", 1000}})

	blocked := func(name, infoHash string) bool { return name == "foo.mkv" }
	res := Evaluate(s, c, NewHashSet(), blocked, policy(domain.MatchModeSafe))
	require.Equal(t, models.VerdictBlockedRelease, res.Verdict)
}

func TestEvaluate_DiscImageNeedsRecheck(t *testing.T) {
	s := testSearchee("disc", fileSpec{"BDMV/STREAM/00000.m2ts", 2_000_000_000})
	c := buildMetafile(t, "disc", []fileSpec{{"BDMV/STREAM/00000.m2ts", 2_000_000_000}})

	res := Evaluate(s, c, NewHashSet(), nil, policy(domain.MatchModeSafe))
	require.Equal(t, models.VerdictMatch, res.Verdict)
	require.True(t, ShouldRecheck(s, res.Verdict))
}

func TestEvaluate_Deterministic(t *testing.T) {
	s := testSearchee("pack",
		fileSpec{"a.mkv", 100},
		fileSpec{"b.mkv", 100},
		fileSpec{"c.mkv", 200})
	c := buildMetafile(t, "pack", []fileSpec{
		{"y.mkv", 100},
		{"x.mkv", 100},
		{"z.mkv", 200},
	})

	first := Evaluate(s, c, NewHashSet(), nil, policy(domain.MatchModeRisky))
	for i := 0; i < 5; i++ {
		again := Evaluate(s, c, NewHashSet(), nil, policy(domain.MatchModeRisky))
		require.Equal(t, first, again)
	}
	require.Equal(t, models.VerdictMatchSizeOnly, first.Verdict)
}

func TestPreScreen(t *testing.T) {
	s := testSearchee("foo", fileSpec{"foo.mkv", 1_000_000_000})
	s.InfoHash = "aa00000000000000000000000000000000000000"
	p := policy(domain.MatchModeSafe)

	// Candidate advertising the searchee's own hash is rejected before
	// snatch.
	res := PreScreen(s, "foo", s.InfoHash, 1_000_000_000, NewHashSet(), nil, p)
	require.NotNil(t, res)
	require.Equal(t, models.VerdictInfoHashAlreadyExists, res.Verdict)

	// Oversized candidate is rejected on feed size alone.
	res = PreScreen(s, "foo", "", 2_000_000_000, NewHashSet(), nil, p)
	require.NotNil(t, res)
	require.Equal(t, models.VerdictSizeMismatch, res.Verdict)

	// Plausible candidate proceeds to snatch.
	require.Nil(t, PreScreen(s, "foo", "", 1_000_000_000, NewHashSet(), nil, p))

	// Unknown size proceeds to snatch.
	require.Nil(t, PreScreen(s, "foo", "", 0, NewHashSet(), nil, p))
}
