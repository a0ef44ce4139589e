// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/autobrr/crossseed/internal/metafile"
)

const artifactSuffix = ".cross-seed.torrent"

// writeArtifact serializes a matched torrent under outputDir, grouped by
// tracker unless flat linking is on. Writing is idempotent: an existing
// artifact is left alone.
func (p *Pipeline) writeArtifact(meta *metafile.Metafile, tracker string) (string, error) {
	dir := p.cfg.OutputDir
	if tracker != "" && !p.cfg.FlatLinking {
		dir = filepath.Join(dir, sanitizeComponent(tracker))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	path := filepath.Join(dir, sanitizeComponent(meta.Name())+artifactSuffix)
	if _, err := os.Lstat(path); err == nil {
		return path, nil
	}

	data, err := meta.Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize torrent: %w", err)
	}

	// Write through a temp file so a crash never leaves a truncated torrent.
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("finalize artifact: %w", err)
	}
	return path, nil
}

// sanitizeComponent strips path separators and control characters from a
// single path component.
func sanitizeComponent(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == 0:
			return '_'
		case r < 0x20:
			return -1
		default:
			return r
		}
	}, name)
	cleaned = strings.Trim(cleaned, ". ")
	if cleaned == "" {
		return "_"
	}
	return cleaned
}
