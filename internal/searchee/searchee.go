// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package searchee provides the uniform view of "something we want to
// cross-seed": a parsed torrent, a torrent-client entry, or a directory of
// data files.
package searchee

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/autobrr/crossseed/internal/domain"
	"github.com/autobrr/crossseed/internal/metafile"
)

// Origin tags where a searchee came from.
type Origin string

const (
	OriginTorrent Origin = "torrent"
	OriginClient  Origin = "client"
	OriginData    Origin = "data"
)

// File is one payload file, relative to the searchee root.
type File struct {
	RelPath string
	Size    int64
}

// Searchee is the uniform shape all three origins expose. The file list is
// never empty and paths never traverse outside the root.
type Searchee struct {
	Name      string
	Origin    Origin
	Files     []File
	TotalSize int64
	Mtime     time.Time

	// InfoHash is set for torrent and client origins, empty for data.
	InfoHash string

	// Path is the absolute data root for data-origin searchees, or the
	// client-reported save path for client origin.
	Path string

	// Complete is the client's reported completion state (client origin).
	Complete bool
}

// Validate enforces the searchee invariants.
func (s *Searchee) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("searchee has no name")
	}
	if len(s.Files) == 0 {
		return fmt.Errorf("searchee %q has no files", s.Name)
	}
	for _, f := range s.Files {
		if strings.HasPrefix(f.RelPath, "/") || strings.HasPrefix(f.RelPath, "../") ||
			strings.Contains(f.RelPath, "/../") || f.RelPath == ".." {
			return fmt.Errorf("searchee %q file %q escapes root", s.Name, f.RelPath)
		}
	}
	return nil
}

// Root returns the directory the searchee's relative file paths resolve
// against. A single-file data searchee points Path at the file itself, so
// its parent directory is the root; everywhere else Path already is one.
func (s *Searchee) Root() string {
	if s.Path == "" {
		return ""
	}
	if len(s.Files) == 1 && s.Files[0].RelPath == filepath.Base(s.Path) {
		return filepath.Dir(s.Path)
	}
	return s.Path
}

// HasDiscImage reports whether any file carries a disc-image extension,
// which forces a recheck after injection.
func (s *Searchee) HasDiscImage() bool {
	for _, f := range s.Files {
		if domain.IsDiscImage(f.RelPath) {
			return true
		}
	}
	return false
}

// HasVideo reports whether any file has a recognized video extension.
func (s *Searchee) HasVideo(videos domain.ExtensionSet) bool {
	for _, f := range s.Files {
		if videos.Contains(f.RelPath) {
			return true
		}
	}
	return false
}

// FromMetafile builds a torrent-origin searchee. mtime is the torrent
// file's modification time when known.
func FromMetafile(m *metafile.Metafile, mtime time.Time) (*Searchee, error) {
	s := &Searchee{
		Name:      m.Name(),
		Origin:    OriginTorrent,
		InfoHash:  m.InfoHash(),
		TotalSize: m.TotalSize(),
		Mtime:     mtime,
	}
	for _, f := range m.Files() {
		s.Files = append(s.Files, File{RelPath: f.RelPath(), Size: f.Length})
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ClientEntry is what a torrent-client adapter reports for one torrent.
type ClientEntry struct {
	Name     string
	InfoHash string
	SavePath string
	Complete bool
	Files    []File
	AddedAt  time.Time
}

// FromClient builds a client-origin searchee from an adapter entry.
func FromClient(entry ClientEntry) (*Searchee, error) {
	s := &Searchee{
		Name:     entry.Name,
		Origin:   OriginClient,
		InfoHash: strings.ToLower(entry.InfoHash),
		Path:     entry.SavePath,
		Complete: entry.Complete,
		Files:    entry.Files,
		Mtime:    entry.AddedAt,
	}
	for _, f := range entry.Files {
		s.TotalSize += f.Size
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
