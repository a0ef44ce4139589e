// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/autobrr/crossseed/internal/dbinterface"
	"github.com/autobrr/crossseed/internal/searchee"
)

// SearcheeStore snapshots scanned searchees so the RSS loop can match feed
// items without rescanning the filesystem or client.
type SearcheeStore struct {
	db dbinterface.Querier
}

func NewSearcheeStore(db dbinterface.Querier) *SearcheeStore {
	return &SearcheeStore{db: db}
}

type searcheeFileRecord struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Save upserts a searchee snapshot keyed by name.
func (s *SearcheeStore) Save(ctx context.Context, se *searchee.Searchee) error {
	files := make([]searcheeFileRecord, 0, len(se.Files))
	for _, f := range se.Files {
		files = append(files, searcheeFileRecord{Path: f.RelPath, Size: f.Size})
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("marshal searchee files: %w", err)
	}

	var infoHash any
	if se.InfoHash != "" {
		infoHash = se.InfoHash
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO searchee (name, origin, info_hash, path, total_size, files_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (name) DO UPDATE SET
			origin = excluded.origin,
			info_hash = excluded.info_hash,
			path = excluded.path,
			total_size = excluded.total_size,
			files_json = excluded.files_json,
			updated_at = CURRENT_TIMESTAMP
	`, se.Name, string(se.Origin), infoHash, se.Path, se.TotalSize, string(filesJSON))
	if err != nil {
		return fmt.Errorf("save searchee: %w", err)
	}
	return nil
}

// SaveAll snapshots a batch.
func (s *SearcheeStore) SaveAll(ctx context.Context, searchees []*searchee.Searchee) error {
	for _, se := range searchees {
		if err := s.Save(ctx, se); err != nil {
			return err
		}
	}
	return nil
}

// Get loads a snapshot by name, or nil when unknown.
func (s *SearcheeStore) Get(ctx context.Context, name string) (*searchee.Searchee, error) {
	var (
		origin    string
		infoHash  sql.NullString
		path      string
		totalSize int64
		filesJSON string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT origin, info_hash, path, total_size, files_json FROM searchee WHERE name = ?", name).
		Scan(&origin, &infoHash, &path, &totalSize, &filesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get searchee: %w", err)
	}

	var records []searcheeFileRecord
	if err := json.Unmarshal([]byte(filesJSON), &records); err != nil {
		return nil, fmt.Errorf("unmarshal searchee files: %w", err)
	}
	files := make([]searchee.File, 0, len(records))
	for _, r := range records {
		files = append(files, searchee.File{RelPath: r.Path, Size: r.Size})
	}

	return &searchee.Searchee{
		Name:      name,
		Origin:    searchee.Origin(origin),
		InfoHash:  infoHash.String,
		Path:      path,
		TotalSize: totalSize,
		Files:     files,
	}, nil
}

// All loads every snapshot.
func (s *SearcheeStore) All(ctx context.Context) ([]*searchee.Searchee, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM searchee ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list searchees: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan searchee name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*searchee.Searchee, 0, len(names))
	for _, name := range names {
		se, err := s.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		if se != nil {
			out = append(out, se)
		}
	}
	return out, nil
}
