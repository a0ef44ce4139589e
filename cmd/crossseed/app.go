// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/crossseed/internal/arr"
	"github.com/autobrr/crossseed/internal/clients"
	"github.com/autobrr/crossseed/internal/config"
	"github.com/autobrr/crossseed/internal/database"
	"github.com/autobrr/crossseed/internal/domain"
	"github.com/autobrr/crossseed/internal/models"
	"github.com/autobrr/crossseed/internal/notifications"
	"github.com/autobrr/crossseed/internal/pipeline"
	"github.com/autobrr/crossseed/internal/torznab"
)

// app wires the full runtime: config, database, stores, clients, pipeline.
type app struct {
	cfg        domain.Config
	appCfg     *config.AppConfig
	db         *database.DB
	indexers   *models.IndexerStore
	decisions  *models.DecisionStore
	settings   *models.SettingsStore
	searchees  *models.SearcheeStore
	jobState   *models.JobStateStore
	torznab    *torznab.Client
	client     clients.Client
	notifier   *notifications.Service
	pipeline   *pipeline.Pipeline
}

// newApp loads config, opens the database, and registers the configured
// indexers. Maintenance commands that do not need the full stack use
// openStores instead.
func newApp(ctx context.Context) (*app, error) {
	appCfg, err := config.Load(configDir, rootFlags)
	if err != nil {
		return nil, err
	}
	setupLogger(appCfg.Config)

	if err := appCfg.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := database.New(appCfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &app{
		cfg:       appCfg.Config,
		appCfg:    appCfg,
		db:        db,
		indexers:  models.NewIndexerStore(db),
		decisions: models.NewDecisionStore(db),
		settings:  models.NewSettingsStore(db),
		searchees: models.NewSearcheeStore(db),
		jobState:  models.NewJobStateStore(db),
		torznab: torznab.NewClient(
			appCfg.Config.SearchTimeoutDuration(),
			appCfg.Config.SnatchTimeoutDuration()),
		notifier: notifications.NewService(appCfg.Config.NotificationWebhookURL, log.Logger),
	}

	a.client, err = clients.New(a.cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("configure torrent client: %w", err)
	}

	arrClient, err := arr.New(a.cfg.Sonarr, a.cfg.Radarr, log.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("configure arr instances: %w", err)
	}

	if err := a.registerIndexers(ctx); err != nil {
		db.Close()
		return nil, err
	}

	a.pipeline = pipeline.New(pipeline.Deps{
		Config:     a.cfg,
		Indexers:   a.indexers,
		Decisions:  a.decisions,
		Timestamps: models.NewTimestampStore(db),
		Searchees:  a.searchees,
		Torznab:    a.torznab,
		Client:     a.client,
		Arr:        arrClient,
		Notifier:   a.notifier,
		Logger:     log.Logger,
	})
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// registerIndexers upserts every configured Torznab endpoint and fetches
// capabilities for indexers that have none yet. The API key travels in the
// endpoint's apikey query parameter.
func (a *app) registerIndexers(ctx context.Context) error {
	for _, raw := range a.cfg.Torznab {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid torznab url %q: %w", raw, err)
		}
		apiKey := u.Query().Get("apikey")

		idx, err := a.indexers.Upsert(ctx, raw, apiKey, "")
		if err != nil {
			return fmt.Errorf("register indexer %q: %w", raw, err)
		}

		if !idx.Caps.SupportsAny() {
			caps, err := a.torznab.Caps(ctx, idx)
			if err != nil {
				log.Warn().Err(err).Str("indexer", idx.DisplayName()).Msg("Failed to fetch indexer capabilities")
				continue
			}
			if err := a.indexers.UpdateCaps(ctx, idx.ID, caps); err != nil {
				return fmt.Errorf("store indexer caps: %w", err)
			}
		}
	}
	return nil
}

// probeStartup validates the client and each indexer before the daemon
// enters its loops. Failures are logged, not fatal: a tracker being down at
// boot should not keep the daemon from starting.
func (a *app) probeStartup(ctx context.Context) {
	if err := a.client.ValidateConfig(ctx); err != nil {
		log.Warn().Err(err).Str("client", a.client.Kind()).Msg("Torrent client unreachable at startup")
	} else {
		log.Info().Str("client", a.client.Kind()).Msg("Torrent client connected")
	}

	indexers, err := a.indexers.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to enumerate indexers")
		return
	}
	for _, idx := range indexers {
		status := a.torznab.Test(ctx, idx)
		if status == models.IndexerStatusOK {
			log.Info().Str("indexer", idx.DisplayName()).Msg("Indexer reachable")
			continue
		}
		log.Warn().Str("indexer", idx.DisplayName()).Str("status", string(status)).Msg("Indexer probe failed")
	}
}
