// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/crossseed/internal/api"
	"github.com/autobrr/crossseed/internal/scheduler"
)

func runDaemonCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the cross-seed daemon: periodic search, RSS scan, and admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			a.probeStartup(ctx)
			a.notifier.Start(ctx)

			sched := scheduler.New(a.jobState, log.Logger)
			go sched.Run(ctx, scheduler.JobSearch, a.cfg.SearchCadenceDuration(), func(ctx context.Context) error {
				_, err := a.pipeline.SearchAll(ctx)
				return err
			})
			go sched.Run(ctx, scheduler.JobRSS, a.cfg.RSSCadenceDuration(), func(ctx context.Context) error {
				_, err := a.pipeline.ScanRSS(ctx)
				return err
			})

			server := api.NewServer(api.Deps{
				Config:    a.cfg,
				Settings:  a.settings,
				Indexers:  a.indexers,
				Searchees: a.searchees,
				Torznab:   a.torznab,
				Pipeline:  a.pipeline,
				Logger:    log.Logger,
			})

			errCh := make(chan error, 1)
			if a.cfg.NoPort {
				log.Info().Msg("API server disabled (noPort)")
			} else {
				go func() { errCh <- server.ListenAndServe() }()
			}

			select {
			case <-ctx.Done():
				log.Info().Msg("Shutting down")
				return nil
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			}
		},
	}
}

func runSearchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "search",
		Short: "Run one bulk search pass over all searchees and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			a.notifier.Start(ctx)

			summary, err := a.pipeline.SearchAll(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("Searched %d searchees: %d candidates, %d matches, %d failures\n",
				summary.Searchees, summary.Candidates, summary.Matches, summary.Failures)
			return nil
		},
	}
}

func runRSSCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rss",
		Short: "Run one RSS scan against the stored searchee snapshot and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			a.notifier.Start(ctx)

			summary, err := a.pipeline.ScanRSS(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("RSS scan: %d candidates, %d matches, %d failures\n",
				summary.Candidates, summary.Matches, summary.Failures)
			return nil
		},
	}
}
