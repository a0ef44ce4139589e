// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/crossseed/internal/config"
	"github.com/autobrr/crossseed/internal/database"
	"github.com/autobrr/crossseed/internal/matcher"
	"github.com/autobrr/crossseed/internal/metafile"
	"github.com/autobrr/crossseed/internal/models"
	"github.com/autobrr/crossseed/internal/notifications"
	"github.com/autobrr/crossseed/internal/searchee"
)

// openStores loads config and opens the database without requiring a fully
// valid search configuration, for maintenance commands.
func openStores() (*config.AppConfig, *database.DB, error) {
	appCfg, err := config.Load(configDir, rootFlags)
	if err != nil {
		return nil, nil, err
	}
	setupLogger(appCfg.Config)

	db, err := database.New(appCfg.DatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return appCfg, db, nil
}

func runGenConfigCommand() *cobra.Command {
	var docker bool
	cmd := &cobra.Command{
		Use:   "gen-config",
		Short: "Write a commented config.toml template",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.WriteDefault(configDir, docker)
			if err != nil {
				return err
			}
			cmd.Printf("Wrote configuration template to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&docker, "docker", false, "Use container-friendly defaults")
	return cmd
}

func runClearCacheCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Delete cached decisions with no recorded infohash so candidates are re-evaluated",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, err := openStores()
			if err != nil {
				return err
			}
			defer db.Close()

			count, err := models.NewDecisionStore(db).ClearUndecided(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("Cleared %d cached decisions\n", count)
			return nil
		},
	}
}

func runClearIndexerFailuresCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-indexer-failures",
		Short: "Reset failure counters and cooldowns on every indexer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, err := openStores()
			if err != nil {
				return err
			}
			defer db.Close()

			store := models.NewIndexerStore(db)
			if err := store.ClearFailures(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("Cleared failure state on all indexers")
			return nil
		},
	}
}

func runTestNotificationCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test-notification",
		Short: "Send a test event to the configured webhook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appCfg, err := config.Load(configDir, rootFlags)
			if err != nil {
				return err
			}
			setupLogger(appCfg.Config)

			notifier := notifications.NewService(appCfg.Config.NotificationWebhookURL, log.Logger)
			if !notifier.Enabled() {
				return fmt.Errorf("notificationWebhookUrl is not configured")
			}
			if err := notifier.Send(cmd.Context(), notifications.Event{
				Title: "crossseed test notification",
				Body:  fmt.Sprintf("Webhook reachable at %s", time.Now().Format(time.RFC3339)),
			}); err != nil {
				return err
			}
			cmd.Println("Notification delivered")
			return nil
		},
	}
}

func runAPIKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "api-key",
		Short: "Print the admin API key, generating one on first use",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appCfg, db, err := openStores()
			if err != nil {
				return err
			}
			defer db.Close()

			if appCfg.Config.APIKey != "" {
				cmd.Println(appCfg.Config.APIKey)
				return nil
			}
			key, err := models.NewSettingsStore(db).APIKey(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Println(key)
			return nil
		},
	}
}

func runResetAPIKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-api-key",
		Short: "Rotate the stored admin API key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, err := openStores()
			if err != nil {
				return err
			}
			defer db.Close()

			key, err := models.NewSettingsStore(db).ResetAPIKey(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Println(key)
			return nil
		},
	}
}

func runDiffCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <a.torrent> <b.torrent>",
		Short: "Compare two torrents with the configured match policy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := config.Load(configDir, rootFlags)
			if err != nil {
				return err
			}
			setupLogger(appCfg.Config)

			metaA, err := readMetafile(args[0])
			if err != nil {
				return err
			}
			metaB, err := readMetafile(args[1])
			if err != nil {
				return err
			}

			s, err := searchee.FromMetafile(metaA, time.Time{})
			if err != nil {
				return err
			}

			policy := matcher.PolicyFromConfig(appCfg.Config)
			res := matcher.Evaluate(s, metaB, matcher.NewHashSet(), nil, policy)

			cmd.Printf("Verdict: %s\n", res.Verdict)
			if res.FuzzySizeFactor > 0 {
				cmd.Printf("Size delta: %.4f\n", res.FuzzySizeFactor)
			}
			for from, to := range res.FileMap {
				if from != to {
					cmd.Printf("  %s -> %s\n", from, to)
				}
			}
			if !res.Verdict.IsMatch() {
				return fmt.Errorf("torrents do not match")
			}
			return nil
		},
	}
}

func runTreeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tree <file.torrent>",
		Short: "Print the file tree of a torrent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := readMetafile(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("%s  %s\n", meta.Name(), meta.InfoHash())
			return meta.Tree(cmd.OutOrStdout())
		},
	}
}

func runInjectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inject [dir...]",
		Short: "Match saved torrent files against local searchees and inject them",
		Long:  "Walks the given directories (outputDir when none are given) and injects every torrent that matches a local searchee.",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			a.notifier.Start(cmd.Context())

			summary, err := a.pipeline.InjectArtifacts(cmd.Context(), args...)
			if err != nil {
				return err
			}
			cmd.Printf("Injected %d of %d artifacts (%d failures)\n",
				summary.Matches, summary.Candidates, summary.Failures)
			return nil
		},
	}
}

func readMetafile(path string) (*metafile.Metafile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	meta, err := metafile.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return meta, nil
}
