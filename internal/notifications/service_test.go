// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSend_PostsTitleAndBody(t *testing.T) {
	received := make(chan map[string]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received <- payload
	}))
	defer srv.Close()

	s := NewService(srv.URL, zerolog.Nop())
	require.True(t, s.Enabled())
	require.NoError(t, s.Send(context.Background(), Event{Title: "Matched", Body: "details"}))

	payload := <-received
	require.Equal(t, "Matched", payload["title"])
	require.Equal(t, "details", payload["body"])
}

func TestNotify_QueuedAndDelivered(t *testing.T) {
	received := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- struct{}{}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewService(srv.URL, zerolog.Nop())
	s.Start(ctx)
	s.Notify(Event{Title: "t", Body: "b"})

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestNotify_DisabledIsNoop(t *testing.T) {
	s := NewService("", zerolog.Nop())
	require.False(t, s.Enabled())
	s.Start(context.Background())
	s.Notify(Event{Title: "dropped"})
}
