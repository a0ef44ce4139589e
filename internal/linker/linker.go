// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package linker materializes data-origin matches as link trees mirroring
// the candidate torrent's layout.
package linker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/crossseed/internal/domain"
	"github.com/autobrr/crossseed/internal/metafile"
	"github.com/autobrr/crossseed/internal/searchee"
	"github.com/autobrr/crossseed/pkg/fsutil"
	"github.com/autobrr/crossseed/pkg/reflink"
)

// ErrCrossFilesystem is returned when a hardlink would span filesystems.
// There is no automatic fallback; the match is surfaced for remediation.
var ErrCrossFilesystem = errors.New("source and link directory are on different filesystems")

// Linker creates hardlink, symlink, or reflink trees under linkDir.
type Linker struct {
	linkDir     string
	linkType    domain.LinkType
	flatLinking bool
}

func New(cfg domain.Config) *Linker {
	return &Linker{
		linkDir:     cfg.LinkDir,
		linkType:    cfg.LinkType,
		flatLinking: cfg.FlatLinking,
	}
}

// Enabled reports whether a link directory is configured.
func (l *Linker) Enabled() bool {
	return l.linkDir != ""
}

// LinkTree builds the candidate's file layout under
// linkDir/[tracker/]candidate-name/, linking each candidate file to its
// source inside the searchee's root directory per fileMap (candidate
// relative path to searchee relative path). Returns the directory the
// client should be pointed at as the torrent's save path.
func (l *Linker) LinkTree(c *metafile.Metafile, s *searchee.Searchee, tracker string, fileMap map[string]string) (string, error) {
	if l.linkDir == "" {
		return "", errors.New("link directory not configured")
	}
	if s.Path == "" {
		return "", fmt.Errorf("searchee %s has no root directory", s.Name)
	}

	base := l.linkDir
	if !l.flatLinking && tracker != "" {
		base = filepath.Join(base, sanitizeComponent(tracker))
	}

	if l.linkType == domain.LinkTypeHardlink {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return "", fmt.Errorf("create link directory: %w", err)
		}
		same, err := fsutil.SameFilesystem(s.Path, base)
		if err != nil {
			return "", fmt.Errorf("probe filesystems: %w", err)
		}
		if !same {
			return "", ErrCrossFilesystem
		}
	}

	// Single-file candidates link directly under base; multi-file trees get
	// a sanitized directory named after the candidate.
	root := s.Root()
	for _, file := range c.Files() {
		rel := file.RelPath()
		srcRel, ok := fileMap[rel]
		if !ok {
			return "", fmt.Errorf("no source mapping for %s", rel)
		}
		src := filepath.Join(root, filepath.FromSlash(srcRel))

		var dst string
		if c.IsSingleFile() {
			dst = filepath.Join(base, filepath.FromSlash(rel))
		} else {
			dst = filepath.Join(base, sanitizeComponent(c.Name()), filepath.FromSlash(rel))
		}

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return "", fmt.Errorf("create link parent: %w", err)
		}
		if err := l.link(src, dst); err != nil {
			return "", err
		}
	}

	log.Debug().Str("searchee", s.Name).Str("candidate", c.Name()).
		Str("linkType", string(l.linkType)).Str("dir", base).Msg("Created link tree")
	return base, nil
}

func (l *Linker) link(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		// An existing link from a previous pass is fine.
		return nil
	}

	switch l.linkType {
	case domain.LinkTypeHardlink:
		if err := os.Link(src, dst); err != nil {
			return fmt.Errorf("hardlink %s: %w", dst, err)
		}
	case domain.LinkTypeSymlink:
		if err := os.Symlink(src, dst); err != nil {
			return fmt.Errorf("symlink %s: %w", dst, err)
		}
	case domain.LinkTypeReflink:
		if err := reflink.Clone(src, dst); err != nil {
			return fmt.Errorf("reflink %s: %w", dst, err)
		}
	default:
		return fmt.Errorf("unknown link type %q", l.linkType)
	}
	return nil
}

// sanitizeComponent makes a tracker or torrent name safe as one path
// element.
func sanitizeComponent(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
