// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api exposes the admin HTTP interface: trigger searches, inspect
// indexers, and test connectivity.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/autobrr/crossseed/internal/domain"
	"github.com/autobrr/crossseed/internal/models"
	"github.com/autobrr/crossseed/internal/pipeline"
	"github.com/autobrr/crossseed/internal/searchee"
	"github.com/autobrr/crossseed/internal/torznab"
)

// Deps carries everything the HTTP layer needs.
type Deps struct {
	Config    domain.Config
	Settings  *models.SettingsStore
	Indexers  *models.IndexerStore
	Searchees *models.SearcheeStore
	Torznab   *torznab.Client
	Pipeline  *pipeline.Pipeline
	Logger    zerolog.Logger
}

type Server struct {
	deps   Deps
	logger zerolog.Logger
}

func NewServer(deps Deps) *Server {
	return &Server{
		deps:   deps,
		logger: deps.Logger.With().Str("component", "api").Logger(),
	}
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.deps.Config.Host, strconv.Itoa(s.deps.Config.Port))
}

// Handler builds the chi router with CORS and API-key auth.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: false,
	}).Handler)

	r.Get("/api/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Get("/api/indexers", s.handleListIndexers)
		r.Post("/api/indexers/{indexerID}/test", s.handleTestIndexer)
		r.Post("/api/indexers/{indexerID}/clear-failures", s.handleClearFailures)
		r.Post("/api/search", s.handleSearch)
		r.Post("/api/webhook", s.handleAnnounce)
		r.Post("/api/rss", s.handleRSS)
	})

	return r
}

// ListenAndServe blocks until the server fails or the listener closes.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", srv.Addr).Msg("Starting API server")
	return srv.ListenAndServe()
}

// requireAPIKey accepts the key as X-API-Key, a bearer token, or an apikey
// query parameter.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected := s.deps.Config.APIKey
		if expected == "" {
			stored, err := s.deps.Settings.APIKey(r.Context())
			if err != nil {
				s.logger.Error().Err(err).Msg("Failed to load API key")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			expected = stored
		}

		provided := r.Header.Get("X-API-Key")
		if provided == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				provided = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if provided == "" {
			provided = r.URL.Query().Get("apikey")
		}

		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			s.logger.Warn().Str("remote", r.RemoteAddr).Msg("Rejected request with invalid API key")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type indexerResponse struct {
	ID           int        `json:"id"`
	Name         string     `json:"name"`
	URL          string     `json:"url"`
	Active       bool       `json:"active"`
	Status       string     `json:"status"`
	FailureCount int        `json:"failureCount"`
	RetryAfter   *time.Time `json:"retryAfter,omitempty"`
}

func toIndexerResponse(idx *models.Indexer) indexerResponse {
	return indexerResponse{
		ID:           idx.ID,
		Name:         idx.DisplayName(),
		URL:          idx.URL,
		Active:       idx.Active,
		Status:       string(idx.Status),
		FailureCount: idx.FailureCount,
		RetryAfter:   idx.RetryAfter,
	}
}

func (s *Server) handleListIndexers(w http.ResponseWriter, r *http.Request) {
	indexers, err := s.deps.Indexers.List(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list indexers")
		writeError(w, http.StatusInternalServerError, "failed to list indexers")
		return
	}
	out := make([]indexerResponse, 0, len(indexers))
	for _, idx := range indexers {
		out = append(out, toIndexerResponse(idx))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) indexerFromURL(r *http.Request) (*models.Indexer, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "indexerID"))
	if err != nil {
		return nil, fmt.Errorf("invalid indexer id")
	}
	return s.deps.Indexers.Get(r.Context(), id)
}

func (s *Server) handleTestIndexer(w http.ResponseWriter, r *http.Request) {
	idx, err := s.indexerFromURL(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "indexer not found")
		return
	}
	status := s.deps.Torznab.Test(r.Context(), idx)
	writeJSON(w, http.StatusOK, map[string]string{
		"indexer": idx.DisplayName(),
		"status":  string(status),
	})
}

func (s *Server) handleClearFailures(w http.ResponseWriter, r *http.Request) {
	idx, err := s.indexerFromURL(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "indexer not found")
		return
	}
	if err := s.deps.Indexers.ClearFailuresFor(r.Context(), idx.ID); err != nil {
		s.logger.Error().Err(err).Msg("Failed to clear indexer failures")
		writeError(w, http.StatusInternalServerError, "failed to clear failures")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"indexer": idx.DisplayName(), "status": "cleared"})
}

type searchRequest struct {
	InfoHash string `json:"infoHash"`
	Name     string `json:"name"`
	Path     string `json:"path"`
}

// handleSearch triggers a search for one searchee, identified by infohash,
// name, or data path. The searchee must already be in the stored snapshot.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.InfoHash == "" && req.Name == "" && req.Path == "" {
		writeError(w, http.StatusBadRequest, "infoHash, name, or path is required")
		return
	}

	target, err := s.findSearchee(r, req)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	summary, err := s.deps.Pipeline.SearchOne(r.Context(), target)
	if err != nil {
		s.logger.Error().Err(err).Str("searchee", target.Name).Msg("Triggered search failed")
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"searchee":   target.Name,
		"candidates": summary.Candidates,
		"matches":    summary.Matches,
	})
}

type announceRequest struct {
	Title     string `json:"title"`
	GUID      string `json:"guid"`
	Link      string `json:"link"`
	Size      int64  `json:"size"`
	Tracker   string `json:"tracker"`
	InfoHash  string `json:"infoHash"`
	IndexerID int    `json:"indexerId"`
}

// handleAnnounce accepts one pushed candidate (announce relay style) and
// matches it against the stored searchees. The indexer is resolved by id, by
// the download link's host, or falls back to the first available one.
func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	var req announceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.GUID == "" || req.Link == "" {
		writeError(w, http.StatusBadRequest, "title, guid, and link are required")
		return
	}

	idx, err := s.resolveIndexer(r, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := s.deps.Pipeline.Announce(r.Context(), idx, torznab.Candidate{
		Title:    req.Title,
		GUID:     req.GUID,
		Link:     req.Link,
		Size:     req.Size,
		Tracker:  req.Tracker,
		InfoHash: strings.ToLower(req.InfoHash),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("candidate", req.Title).Msg("Announce processing failed")
		writeError(w, http.StatusInternalServerError, "announce failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": summary.Candidates,
		"matches":    summary.Matches,
	})
}

func (s *Server) resolveIndexer(r *http.Request, req announceRequest) (*models.Indexer, error) {
	ctx := r.Context()
	if req.IndexerID != 0 {
		return s.deps.Indexers.Get(ctx, req.IndexerID)
	}

	indexers, err := s.deps.Indexers.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if linkURL, err := url.Parse(req.Link); err == nil {
		for _, idx := range indexers {
			if u, err := url.Parse(idx.URL); err == nil && u.Host == linkURL.Host {
				return idx, nil
			}
		}
	}
	now := time.Now()
	for _, idx := range indexers {
		if idx.Available(now) {
			return idx, nil
		}
	}
	return nil, fmt.Errorf("no available indexer for announce")
}

func (s *Server) findSearchee(r *http.Request, req searchRequest) (*searchee.Searchee, error) {
	ctx := r.Context()
	if req.Name != "" {
		se, err := s.deps.Searchees.Get(ctx, req.Name)
		if err != nil {
			return nil, err
		}
		if se == nil {
			return nil, fmt.Errorf("no searchee named %q", req.Name)
		}
		return se, nil
	}

	all, err := s.deps.Searchees.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, se := range all {
		if req.InfoHash != "" && strings.EqualFold(se.InfoHash, req.InfoHash) {
			return se, nil
		}
		if req.Path != "" && se.Path == req.Path {
			return se, nil
		}
	}
	return nil, fmt.Errorf("no stored searchee for request")
}

func (s *Server) handleRSS(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Pipeline.ScanRSS(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("RSS scan failed")
		writeError(w, http.StatusInternalServerError, "rss scan failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": summary.Candidates,
		"matches":    summary.Matches,
	})
}
