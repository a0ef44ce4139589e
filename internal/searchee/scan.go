// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package searchee

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/crossseed/internal/domain"
)

// Scanner walks data directories and collects candidate searchees.
type Scanner struct {
	maxDepth  int
	blockList map[string]struct{}
}

// NewScanner creates a scanner honoring maxDataDepth and blockList.
func NewScanner(cfg domain.Config) *Scanner {
	blocked := make(map[string]struct{}, len(cfg.BlockList))
	for _, b := range cfg.BlockList {
		if b = strings.TrimSpace(b); b != "" {
			blocked[strings.ToLower(b)] = struct{}{}
		}
	}
	depth := cfg.MaxDataDepth
	if depth < 1 {
		depth = 1
	}
	return &Scanner{maxDepth: depth, blockList: blocked}
}

// ScanDataDirs walks every configured data directory. A leaf directory at
// or below the depth bound becomes one searchee spanning its descendant
// regular files; plain files become single-file searchees. Hidden entries,
// block-listed names, and symlinks are skipped.
func (sc *Scanner) ScanDataDirs(ctx context.Context, dataDirs []string) ([]*Searchee, error) {
	var out []*Searchee
	for _, dir := range dataDirs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		found, err := sc.scanDir(ctx, filepath.Clean(dir), 1)
		if err != nil {
			return out, fmt.Errorf("scan %s: %w", dir, err)
		}
		out = append(out, found...)
	}
	return out, nil
}

func (sc *Scanner) scanDir(ctx context.Context, dir string, depth int) ([]*Searchee, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []*Searchee
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if sc.skipEntry(entry) {
			continue
		}

		entryPath := filepath.Join(dir, entry.Name())
		if !entry.IsDir() {
			s, err := sc.singleFileSearchee(entryPath, entry)
			if err != nil {
				log.Debug().Err(err).Str("path", entryPath).Msg("Skipping unreadable file")
				continue
			}
			out = append(out, s)
			continue
		}

		if depth < sc.maxDepth && hasSubdirectories(entryPath) {
			nested, err := sc.scanDir(ctx, entryPath, depth+1)
			if err != nil {
				return out, err
			}
			out = append(out, nested...)
			continue
		}

		s, err := sc.dirSearchee(entryPath, entry.Name())
		if err != nil {
			log.Debug().Err(err).Str("path", entryPath).Msg("Skipping unreadable directory")
			continue
		}
		if s != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func (sc *Scanner) skipEntry(entry fs.DirEntry) bool {
	name := entry.Name()
	if strings.HasPrefix(name, ".") {
		return true
	}
	if entry.Type()&fs.ModeSymlink != 0 {
		return true
	}
	if _, blocked := sc.blockList[strings.ToLower(name)]; blocked {
		return true
	}
	return false
}

func (sc *Scanner) singleFileSearchee(path string, entry fs.DirEntry) (*Searchee, error) {
	fi, err := entry.Info()
	if err != nil {
		return nil, err
	}
	base := filepath.Base(path)
	s := &Searchee{
		Name:      strings.TrimSuffix(base, filepath.Ext(base)),
		Origin:    OriginData,
		Path:      path,
		Files:     []File{{RelPath: base, Size: fi.Size()}},
		TotalSize: fi.Size(),
		Mtime:     fi.ModTime(),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (sc *Scanner) dirSearchee(dirPath, name string) (*Searchee, error) {
	s := &Searchee{
		Name:   name,
		Origin: OriginData,
		Path:   dirPath,
	}

	err := filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsPermission(walkErr) {
				return nil
			}
			return walkErr
		}
		if path != dirPath && sc.skipEntry(d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr // skip files we can't stat
		}
		relPath, err := filepath.Rel(dirPath, path)
		if err != nil {
			relPath = filepath.Base(path)
		}
		s.Files = append(s.Files, File{RelPath: filepath.ToSlash(relPath), Size: fi.Size()})
		s.TotalSize += fi.Size()
		if fi.ModTime().After(s.Mtime) {
			s.Mtime = fi.ModTime()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(s.Files) == 0 {
		return nil, nil
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func hasSubdirectories(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			return true
		}
	}
	return false
}
