// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/crossseed/internal/buildinfo"
	"github.com/autobrr/crossseed/internal/domain"
)

var (
	configDir string

	// rootFlags is the shared option surface; config.Load binds it so a
	// changed flag outranks environment and file values.
	rootFlags *pflag.FlagSet
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "crossseed",
		Short:         "Cross-seed automation for torrent trackers",
		Version:       fmt.Sprintf("%s (%s) %s", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	registerSharedFlags(rootCmd)
	rootFlags = rootCmd.PersistentFlags()

	rootCmd.AddCommand(
		runGenConfigCommand(),
		runDaemonCommand(),
		runSearchCommand(),
		runRSSCommand(),
		runInjectCommand(),
		runClearCacheCommand(),
		runClearIndexerFailuresCommand(),
		runTestNotificationCommand(),
		runAPIKeyCommand(),
		runResetAPIKeyCommand(),
		runDiffCommand(),
		runTreeCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// registerSharedFlags exposes the common configuration surface on every
// command. Each maps onto a config key, with flags > env > file precedence.
func registerSharedFlags(cmd *cobra.Command) {
	defaults := domain.DefaultConfig()
	flags := cmd.PersistentFlags()

	flags.StringVar(&configDir, "config", "", "Directory holding config.toml and the database")
	flags.CountP("verbose", "v", "Raise log verbosity (-v debug, -vv trace)")

	flags.String("host", defaults.Host, "Address the API server binds to")
	flags.Int("port", defaults.Port, "Port the API server listens on")
	flags.Bool("no-port", false, "Disable the API server")
	flags.String("api-key", "", "Admin API key (overrides the stored key)")
	flags.String("log-level", defaults.LogLevel, "Log level: trace, debug, info, warn, error")

	flags.StringSlice("torznab", nil, "Torznab endpoint, repeatable")
	flags.String("torrent-dir", "", "Directory of existing .torrent files")
	flags.StringSlice("data-dirs", nil, "Data directory to scan, repeatable")
	flags.String("output-dir", "", "Directory for matched .torrent artifacts")
	flags.Int("max-data-depth", defaults.MaxDataDepth, "How deep data directories are scanned")
	flags.Bool("include-non-videos", false, "Search data searchees without video files")
	flags.Bool("include-single-episodes", false, "Search single-episode data searchees")

	flags.String("match-mode", string(defaults.MatchMode), "Match mode: safe, risky, partial")
	flags.Float64("fuzzy-size-threshold", defaults.FuzzySizeThreshold, "Allowed relative total-size deviation")

	flags.String("link-dir", "", "Directory for link trees of data-origin matches")
	flags.String("link-type", string(defaults.LinkType), "Link type: hardlink, symlink, reflink")
	flags.Bool("flat-linking", false, "Skip the per-tracker directory level")
	flags.String("action", string(defaults.Action), "What to do with a match: save, inject")

	flags.StringSlice("sonarr", nil, "Sonarr instance url for id lookups, repeatable")
	flags.StringSlice("radarr", nil, "Radarr instance url for id lookups, repeatable")

	flags.Int("delay", defaults.Delay, "Seconds to pause between indexer batches")
	flags.Int("search-limit", 0, "Cap on searchees per bulk pass, 0 for all")
	flags.String("exclude-older", "", "Skip searchees first searched longer ago than this")
	flags.String("exclude-recent-search", "", "Skip searchees searched within this window")
	flags.String("search-cadence", "", "Cadence of the periodic bulk search, empty disables")
	flags.String("rss-cadence", "", "Cadence of the periodic RSS scan, empty disables")
	flags.String("notification-webhook-url", "", "Webhook receiving match notifications")
}

// setupLogger configures the global zerolog logger from config: console
// output, optional rotated file, level from logLevel. Verbose counts
// override the configured level.
func setupLogger(cfg domain.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	switch {
	case cfg.Verbose >= 2:
		level = zerolog.TraceLevel
	case cfg.Verbose == 1:
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var writers []io.Writer
	writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	if cfg.LogPath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.LogPath,
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
}
