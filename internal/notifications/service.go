// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package notifications delivers fire-and-forget webhook events for
// terminal pipeline outcomes.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/autobrr/crossseed/internal/buildinfo"
)

const (
	defaultQueueSize = 100
	defaultWorkers   = 2
	webhookTimeout   = 10 * time.Second
)

type Notifier interface {
	Notify(event Event)
}

var _ Notifier = (*Service)(nil)

// Event is one notification. Title and Body form the webhook payload.
type Event struct {
	Title string
	Body  string
}

// Service queues events and posts them from background workers. A full
// queue drops the event rather than blocking the pipeline.
type Service struct {
	webhookURL string
	logger     zerolog.Logger
	httpClient *http.Client
	queue      chan Event
	startOnce  sync.Once
}

func NewService(webhookURL string, logger zerolog.Logger) *Service {
	return &Service{
		webhookURL: webhookURL,
		logger:     logger.With().Str("component", "notifications").Logger(),
		httpClient: &http.Client{Timeout: webhookTimeout},
		queue:      make(chan Event, defaultQueueSize),
	}
}

// Enabled reports whether a webhook URL is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.webhookURL != ""
}

func (s *Service) Start(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	s.startOnce.Do(func() {
		for range defaultWorkers {
			go s.worker(ctx)
		}
	})
}

// Notify enqueues an event. It never blocks.
func (s *Service) Notify(event Event) {
	if !s.Enabled() {
		return
	}
	select {
	case s.queue <- event:
	default:
		s.logger.Warn().Str("title", event.Title).Msg("Notification queue full, dropping event")
	}
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.queue:
			if err := s.Send(ctx, event); err != nil {
				s.logger.Error().Err(err).Str("title", event.Title).Msg("Webhook delivery failed")
			}
		}
	}
}

// Send posts one event synchronously. The CLI test-notification command
// calls this directly.
func (s *Service) Send(ctx context.Context, event Event) error {
	payload, err := json.Marshal(map[string]string{
		"title": event.Title,
		"body":  event.Body,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
