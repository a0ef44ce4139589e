// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/autobrr/crossseed/internal/dbinterface"
)

const apiKeySetting = "api_key"

// SettingsStore holds small key-value settings, most notably the generated
// API key.
type SettingsStore struct {
	db dbinterface.Querier
}

func NewSettingsStore(db dbinterface.Querier) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// APIKey returns the stored API key, generating and persisting one on first
// use.
func (s *SettingsStore) APIKey(ctx context.Context) (string, error) {
	key, err := s.Get(ctx, apiKeySetting)
	if err != nil {
		return "", err
	}
	if key != "" {
		return key, nil
	}
	return s.ResetAPIKey(ctx)
}

// ResetAPIKey generates a fresh API key, replacing any existing one.
func (s *SettingsStore) ResetAPIKey(ctx context.Context) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	key := hex.EncodeToString(buf)
	if err := s.Set(ctx, apiKeySetting, key); err != nil {
		return "", err
	}
	return key, nil
}
