// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metafile parses and serializes the bencoded torrent format.
//
// The info dictionary is retained as the exact byte span observed during
// parse, so the infohash is stable across a parse/serialize round trip even
// when the source encoder ordered keys unusually.
package metafile

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/zeebo/bencode"
)

// File is a single payload file: path segments relative to the torrent root
// and its length in bytes.
type File struct {
	Path   []string
	Length int64
}

// RelPath joins the path segments with "/".
func (f File) RelPath() string {
	return strings.Join(f.Path, "/")
}

// Metafile is a parsed torrent.
type Metafile struct {
	Announce     string
	AnnounceList [][]string
	Comment      string
	CreatedBy    string
	CreationDate int64

	name        string
	pieceLength int64
	private     bool
	infoBytes   bencode.RawMessage
	infoHash    [sha1.Size]byte
	files       []File
	singleFile  bool
	totalSize   int64
}

type outerDict struct {
	Announce     string             `bencode:"announce,omitempty"`
	AnnounceList [][]string         `bencode:"announce-list,omitempty"`
	Comment      string             `bencode:"comment,omitempty"`
	CreatedBy    string             `bencode:"created by,omitempty"`
	CreationDate int64              `bencode:"creation date,omitempty"`
	Info         bencode.RawMessage `bencode:"info"`
}

type infoDict struct {
	Name        string      `bencode:"name"`
	PieceLength int64       `bencode:"piece length"`
	Pieces      []byte      `bencode:"pieces"`
	Private     int64       `bencode:"private,omitempty"`
	Length      *int64      `bencode:"length,omitempty"`
	Files       []fileEntry `bencode:"files,omitempty"`
}

type fileEntry struct {
	Path   []string `bencode:"path"`
	Length int64    `bencode:"length"`
}

// Parse decodes a torrent file. It rejects inputs whose root is not a
// dictionary, whose info key is missing, or whose info dictionary mixes
// single-file and multi-file modes.
func Parse(data []byte) (*Metafile, error) {
	if len(data) == 0 || data[0] != 'd' {
		return nil, fmt.Errorf("metafile: root is not a dictionary")
	}

	var outer outerDict
	if err := bencode.DecodeBytes(data, &outer); err != nil {
		return nil, fmt.Errorf("metafile: decode: %w", err)
	}
	if len(outer.Info) == 0 {
		return nil, fmt.Errorf("metafile: missing info dictionary")
	}

	var info infoDict
	if err := bencode.DecodeBytes(outer.Info, &info); err != nil {
		return nil, fmt.Errorf("metafile: decode info: %w", err)
	}
	if info.Name == "" {
		return nil, fmt.Errorf("metafile: info has no name")
	}

	single := info.Length != nil
	if single && len(info.Files) > 0 {
		return nil, fmt.Errorf("metafile: info mixes single-file and multi-file modes")
	}
	if !single && len(info.Files) == 0 {
		return nil, fmt.Errorf("metafile: info has neither length nor files")
	}

	m := &Metafile{
		Announce:     outer.Announce,
		AnnounceList: outer.AnnounceList,
		Comment:      outer.Comment,
		CreatedBy:    outer.CreatedBy,
		CreationDate: outer.CreationDate,
		name:         info.Name,
		pieceLength:  info.PieceLength,
		private:      info.Private == 1,
		infoBytes:    outer.Info,
		infoHash:     sha1.Sum(outer.Info),
		singleFile:   single,
	}

	if single {
		m.files = []File{{Path: []string{info.Name}, Length: *info.Length}}
		m.totalSize = *info.Length
	} else {
		m.files = make([]File, 0, len(info.Files))
		for _, fe := range info.Files {
			if err := validatePath(fe.Path); err != nil {
				return nil, err
			}
			m.files = append(m.files, File{Path: fe.Path, Length: fe.Length})
			m.totalSize += fe.Length
		}
	}

	return m, nil
}

func validatePath(segments []string) error {
	if len(segments) == 0 {
		return fmt.Errorf("metafile: file entry has empty path")
	}
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsRune(seg, '/') {
			return fmt.Errorf("metafile: unsafe path segment %q", seg)
		}
	}
	// Belt and braces: the joined path must stay inside the root.
	joined := path.Join(segments...)
	if strings.HasPrefix(joined, "..") || path.IsAbs(joined) {
		return fmt.Errorf("metafile: path %q escapes torrent root", joined)
	}
	return nil
}

// Serialize re-encodes the metafile. The info dictionary is emitted as the
// exact byte span captured at parse time, so the infohash is preserved.
func (m *Metafile) Serialize() ([]byte, error) {
	out, err := bencode.EncodeBytes(outerDict{
		Announce:     m.Announce,
		AnnounceList: m.AnnounceList,
		Comment:      m.Comment,
		CreatedBy:    m.CreatedBy,
		CreationDate: m.CreationDate,
		Info:         m.infoBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("metafile: encode: %w", err)
	}
	return out, nil
}

// Name returns the torrent display name (info.name).
func (m *Metafile) Name() string { return m.name }

// InfoHash returns the SHA-1 of the info dictionary as lowercase hex.
func (m *Metafile) InfoHash() string { return hex.EncodeToString(m.infoHash[:]) }

// InfoHashBytes returns the raw 20-byte infohash.
func (m *Metafile) InfoHashBytes() [sha1.Size]byte { return m.infoHash }

// Files returns the ordered file list. Single-file torrents expose one
// entry named after the torrent.
func (m *Metafile) Files() []File { return m.files }

// TotalSize is the sum of all file lengths.
func (m *Metafile) TotalSize() int64 { return m.totalSize }

// PieceLength returns info.piece length.
func (m *Metafile) PieceLength() int64 { return m.pieceLength }

// IsSingleFile reports whether the torrent uses single-file mode.
func (m *Metafile) IsSingleFile() bool { return m.singleFile }

// Private reports the info.private flag.
func (m *Metafile) Private() bool { return m.private }

// Trackers returns every announce URL, flattened and deduplicated, with the
// top-level announce first.
func (m *Metafile) Trackers() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	add(m.Announce)
	for _, tier := range m.AnnounceList {
		for _, u := range tier {
			add(u)
		}
	}
	return out
}
