// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pipeline orchestrates a cross-seed pass: enumerate searchees, fan
// out to indexers, match candidates, persist decisions, emit artifacts, and
// optionally inject.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/crossseed/internal/arr"
	"github.com/autobrr/crossseed/internal/clients"
	"github.com/autobrr/crossseed/internal/domain"
	"github.com/autobrr/crossseed/internal/linker"
	"github.com/autobrr/crossseed/internal/matcher"
	"github.com/autobrr/crossseed/internal/metafile"
	"github.com/autobrr/crossseed/internal/models"
	"github.com/autobrr/crossseed/internal/notifications"
	"github.com/autobrr/crossseed/internal/searchee"
	"github.com/autobrr/crossseed/internal/torznab"
)

// Pipeline wires the stores, the Torznab client, the matcher policy, the
// linker, and the active client adapter.
type Pipeline struct {
	cfg        domain.Config
	policy     matcher.Policy
	indexers   *models.IndexerStore
	decisions  *models.DecisionStore
	timestamps *models.TimestampStore
	searchees  *models.SearcheeStore
	torznab    *torznab.Client
	client     clients.Client
	linker     *linker.Linker
	arr        *arr.Client
	notifier   *notifications.Service
	filter     *searchee.Filter
	blocked    func(name, infoHash string) bool
	scanner    *searchee.Scanner
	logger     zerolog.Logger
}

// Deps carries the pipeline's collaborators.
type Deps struct {
	Config     domain.Config
	Indexers   *models.IndexerStore
	Decisions  *models.DecisionStore
	Timestamps *models.TimestampStore
	Searchees  *models.SearcheeStore
	Torznab    *torznab.Client
	Client     clients.Client
	Arr        *arr.Client
	Notifier   *notifications.Service
	Logger     zerolog.Logger
}

func New(deps Deps) *Pipeline {
	filter := searchee.NewFilter(deps.Config)
	return &Pipeline{
		cfg:        deps.Config,
		policy:     matcher.PolicyFromConfig(deps.Config),
		indexers:   deps.Indexers,
		decisions:  deps.Decisions,
		timestamps: deps.Timestamps,
		searchees:  deps.Searchees,
		torznab:    deps.Torznab,
		client:     deps.Client,
		linker:     linker.New(deps.Config),
		arr:        deps.Arr,
		notifier:   deps.Notifier,
		filter:     filter,
		blocked: func(name, infoHash string) bool {
			return filter.Blocked(name) || filter.Blocked(infoHash)
		},
		scanner: searchee.NewScanner(deps.Config),
		logger:  deps.Logger.With().Str("component", "pipeline").Logger(),
	}
}

// Summary aggregates one pass.
type Summary struct {
	Searchees  int
	Candidates int
	Matches    int
	Failures   int
}

// EnumerateSearchees builds the searchee set from torrentDir and dataDirs,
// applies the configured filters, and snapshots the result for RSS matching.
func (p *Pipeline) EnumerateSearchees(ctx context.Context) ([]*searchee.Searchee, error) {
	var all []*searchee.Searchee

	if p.cfg.TorrentDir != "" {
		fromTorrents, err := p.searcheesFromTorrentDir(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, fromTorrents...)
	}

	if len(p.cfg.DataDirs) > 0 {
		fromData, err := p.scanner.ScanDataDirs(ctx, p.cfg.DataDirs)
		if err != nil {
			return nil, err
		}
		all = append(all, fromData...)
	}

	kept := p.filter.Apply(all)
	sort.Slice(kept, func(i, j int) bool { return kept[i].Name < kept[j].Name })

	if err := p.searchees.SaveAll(ctx, kept); err != nil {
		return nil, err
	}

	p.logger.Info().Int("total", len(all)).Int("kept", len(kept)).Msg("Enumerated searchees")
	return kept, nil
}

func (p *Pipeline) searcheesFromTorrentDir(ctx context.Context) ([]*searchee.Searchee, error) {
	entries, err := os.ReadDir(p.cfg.TorrentDir)
	if err != nil {
		return nil, fmt.Errorf("read torrent directory: %w", err)
	}

	var out []*searchee.Searchee
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".torrent") {
			continue
		}
		path := filepath.Join(p.cfg.TorrentDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			p.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping unreadable torrent")
			continue
		}
		meta, err := metafile.Parse(data)
		if err != nil {
			p.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping invalid torrent")
			continue
		}
		mtime := time.Time{}
		if info, err := entry.Info(); err == nil {
			mtime = info.ModTime()
		}
		s, err := searchee.FromMetafile(meta, mtime)
		if err != nil {
			p.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping torrent searchee")
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// SearchAll runs the bulk search across all searchees and indexers.
func (p *Pipeline) SearchAll(ctx context.Context) (*Summary, error) {
	searchees, err := p.EnumerateSearchees(ctx)
	if err != nil {
		return nil, err
	}
	return p.SearchSearchees(ctx, searchees)
}

// SearchSearchees searches the given set. Different searchees run
// concurrently in a small worker pool; candidates of one searchee are
// serialized so the decision cache stays observably consistent.
func (p *Pipeline) SearchSearchees(ctx context.Context, searchees []*searchee.Searchee) (*Summary, error) {
	indexers, err := p.indexers.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if len(indexers) == 0 {
		return nil, errors.New("no active indexers")
	}

	known, err := p.knownHashes(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Client unreachable, continuing without its hashes")
		known = matcher.NewHashSet()
	}

	if p.cfg.SearchLimit > 0 && len(searchees) > p.cfg.SearchLimit {
		searchees = searchees[:p.cfg.SearchLimit]
	}

	summary := &Summary{Searchees: len(searchees)}

	workers := len(indexers)
	if workers > 4 {
		workers = 4
	}
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	results := make(chan Summary, len(searchees))

	for _, s := range searchees {
		g.Go(func() error {
			sub := p.searchOne(gctx, s, indexers, known)
			results <- sub
			// Pause between indexer batches; cancellation cuts it short.
			if delay := p.cfg.DelayDuration(); delay > 0 {
				select {
				case <-gctx.Done():
				case <-time.After(delay):
				}
			}
			return gctx.Err()
		})
	}

	err = g.Wait()
	close(results)
	for sub := range results {
		summary.Candidates += sub.Candidates
		summary.Matches += sub.Matches
		summary.Failures += sub.Failures
	}

	p.logger.Info().Int("searchees", summary.Searchees).Int("candidates", summary.Candidates).
		Int("matches", summary.Matches).Int("failures", summary.Failures).Msg("Search pass finished")
	if err != nil && !errors.Is(err, context.Canceled) {
		return summary, err
	}
	return summary, nil
}

// SearchOne searches a single searchee, for the admin API and CLI.
func (p *Pipeline) SearchOne(ctx context.Context, s *searchee.Searchee) (*Summary, error) {
	indexers, err := p.indexers.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	known, err := p.knownHashes(ctx)
	if err != nil {
		known = matcher.NewHashSet()
	}
	summary := p.searchOne(ctx, s, indexers, known)
	summary.Searchees = 1
	return &summary, nil
}

// searchOne fans out to indexers concurrently, then processes the collected
// candidates serially.
func (p *Pipeline) searchOne(ctx context.Context, s *searchee.Searchee, indexers []*models.Indexer, known matcher.HashSet) Summary {
	var summary Summary
	now := time.Now()

	var ids map[string]string
	if p.arr.Enabled() {
		ids = p.arr.Resolve(ctx, s.Name)
	}

	type indexerResult struct {
		indexer    *models.Indexer
		candidates []torznab.Candidate
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make(chan indexerResult, len(indexers))

	for _, idx := range indexers {
		if !idx.Available(now) {
			continue
		}

		ok, err := p.timestamps.ShouldSearch(ctx, s.Name, idx.ID,
			p.cfg.ExcludeOlderDuration(), p.cfg.ExcludeRecentSearchDuration(), now)
		if err != nil {
			p.logger.Error().Err(err).Str("searchee", s.Name).Msg("Timestamp lookup failed")
			continue
		}
		if !ok {
			continue
		}

		plan := torznab.PlanQuery(s, idx.Caps, ids)
		if plan == nil {
			continue
		}

		g.Go(func() error {
			candidates, err := p.torznab.Search(gctx, idx, plan)
			if err != nil {
				p.recordIndexerFailure(ctx, idx, err)
				return nil
			}
			_ = p.indexers.MarkSuccess(ctx, idx.ID)
			_ = p.timestamps.Touch(ctx, s.Name, idx.ID, now)
			results <- indexerResult{indexer: idx, candidates: candidates}
			return nil
		})
	}

	_ = g.Wait()
	close(results)

	for res := range results {
		for _, candidate := range res.candidates {
			summary.Candidates++
			matched, err := p.processCandidate(ctx, s, res.indexer, candidate, known)
			if err != nil {
				summary.Failures++
				p.logger.Error().Err(err).Str("searchee", s.Name).
					Str("candidate", candidate.Title).Msg("Candidate failed")
				continue
			}
			if matched {
				summary.Matches++
			}
		}
	}
	return summary
}

func (p *Pipeline) recordIndexerFailure(ctx context.Context, idx *models.Indexer, err error) {
	status := torznab.Classify(err)
	switch status {
	case models.IndexerStatusRateLimited:
		retryAfter, markErr := p.indexers.MarkRateLimited(ctx, idx.ID, time.Now())
		if markErr == nil {
			p.logger.Warn().Str("indexer", idx.DisplayName()).
				Time("retryAfter", retryAfter).Msg("Indexer rate limited, cooling down")
		}
	case models.IndexerStatusInvalidAuth:
		_ = p.indexers.MarkAuthFailure(ctx, idx.ID)
		p.logger.Warn().Str("indexer", idx.DisplayName()).Msg("Indexer rejected API key")
	default:
		_ = p.indexers.MarkUnknownError(ctx, idx.ID)
		p.logger.Warn().Err(err).Str("indexer", idx.DisplayName()).Msg("Indexer query failed")
	}
}

// processCandidate runs the decision procedure for one candidate. Returns
// whether it ended in a match. Per-candidate errors are returned for
// counting; they never abort the pass.
func (p *Pipeline) processCandidate(ctx context.Context, s *searchee.Searchee, idx *models.Indexer, candidate torznab.Candidate, known matcher.HashSet) (bool, error) {
	// Cached terminal decision short-circuits re-matching.
	if cached, err := p.decisions.Get(ctx, s.Name, candidate.GUID); err == nil {
		if cached.Verdict.Terminal() {
			return false, nil
		}
	} else if !errors.Is(err, models.ErrDecisionNotFound) {
		return false, err
	}

	record := func(verdict models.Verdict, infoHash string, fuzzy float64) error {
		d := &models.Decision{
			SearcheeName:   s.Name,
			CandidateGUID:  candidate.GUID,
			CandidateTitle: candidate.Title,
			InfoHash:       infoHash,
			IndexerID:      &idx.ID,
			Verdict:        verdict,
		}
		if fuzzy > 0 {
			d.FuzzySizeFactor = &fuzzy
		}
		return p.decisions.Record(ctx, d)
	}

	// Feed-level screen before spending a snatch.
	if res := matcher.PreScreen(s, candidate.Title, candidate.InfoHash, candidate.Size, known, p.blocked, p.policy); res != nil {
		return false, record(res.Verdict, "", res.FuzzySizeFactor)
	}

	meta, err := p.torznab.Snatch(ctx, idx, candidate.Link)
	if err != nil {
		switch {
		case errors.Is(err, torznab.ErrNoDownloadLink):
			return false, record(models.VerdictNoDownloadLink, "", 0)
		case torznab.Classify(err) == models.IndexerStatusRateLimited:
			p.recordIndexerFailure(ctx, idx, err)
			return false, record(models.VerdictRateLimited, "", 0)
		default:
			return false, fmt.Errorf("snatch: %w", err)
		}
	}

	// Re-run against the now-known full file list; feed items may lie.
	res := matcher.Evaluate(s, meta, known, p.blocked, p.policy)
	if err := record(res.Verdict, meta.InfoHash(), res.FuzzySizeFactor); err != nil {
		return false, err
	}
	if !res.Verdict.IsMatch() {
		return false, nil
	}

	if err := p.completeMatch(ctx, s, idx, candidate, meta, res); err != nil {
		return true, err
	}
	return true, nil
}

// completeMatch writes the artifact, links data-origin payloads, and
// optionally injects.
func (p *Pipeline) completeMatch(ctx context.Context, s *searchee.Searchee, idx *models.Indexer, candidate torznab.Candidate, meta *metafile.Metafile, res matcher.Result) error {
	artifact, err := p.writeArtifact(meta, candidate.Tracker)
	if err != nil {
		return err
	}

	p.logger.Info().Str("searchee", s.Name).Str("candidate", meta.Name()).
		Str("indexer", idx.DisplayName()).Str("verdict", string(res.Verdict)).
		Str("artifact", artifact).Msg("Cross-seed found")

	savePath := ""
	if s.Origin == searchee.OriginData && p.linker.Enabled() {
		savePath, err = p.linker.LinkTree(meta, s, candidate.Tracker, res.FileMap)
		if err != nil {
			p.notify("Cross-seed needs attention",
				fmt.Sprintf("%s matched %s but linking failed: %v", s.Name, meta.Name(), err))
			return fmt.Errorf("link tree: %w", err)
		}
	}

	if p.cfg.Action == domain.ActionInject {
		if err := p.inject(ctx, s, meta, res, savePath); err != nil {
			// Client trouble degrades to save-only semantics.
			p.logger.Error().Err(err).Str("candidate", meta.Name()).Msg("Injection failed, artifact saved")
			p.notify("Cross-seed injection failed",
				fmt.Sprintf("%s matched %s; artifact saved to %s (%v)", s.Name, meta.Name(), artifact, err))
			return nil
		}
	}

	p.notify("Cross-seed found",
		fmt.Sprintf("%s matched %s (%s) on %s", s.Name, meta.Name(), res.Verdict, idx.DisplayName()))
	return nil
}

func (p *Pipeline) inject(ctx context.Context, s *searchee.Searchee, meta *metafile.Metafile, res matcher.Result, savePath string) error {
	if savePath == "" {
		switch {
		case s.Origin == searchee.OriginClient && s.InfoHash != "":
			dir, err := p.client.GetDownloadDir(ctx, s.InfoHash, true)
			if err != nil {
				return fmt.Errorf("resolve download dir: %w", err)
			}
			savePath = dir
		case s.Path != "":
			savePath = filepath.Dir(s.Path)
		default:
			return errors.New("no save path for injection")
		}
	}

	recheck := matcher.ShouldRecheck(s, res.Verdict)
	outcome, err := p.client.Inject(ctx, &clients.InjectRequest{
		Meta:         meta,
		Searchee:     s,
		SavePath:     savePath,
		Tags:         []string{"cross-seed"},
		SkipChecking: !recheck,
	})
	if err != nil {
		return err
	}
	switch outcome {
	case clients.InjectSuccess:
		if recheck {
			if err := p.client.RecheckTorrent(ctx, meta.InfoHash()); err != nil {
				p.logger.Warn().Err(err).Str("infoHash", meta.InfoHash()).Msg("Recheck failed")
			}
		}
	case clients.InjectAlreadyExists:
		p.logger.Debug().Str("infoHash", meta.InfoHash()).Msg("Torrent already in client")
	default:
		return fmt.Errorf("injection outcome %s", outcome)
	}
	return nil
}

// knownHashes collects every infohash the active client reports.
func (p *Pipeline) knownHashes(ctx context.Context) (matcher.HashSet, error) {
	torrents, err := p.client.GetAllTorrents(ctx)
	if err != nil {
		return nil, err
	}
	set := make(matcher.HashSet, len(torrents))
	for _, t := range torrents {
		if t.InfoHash != "" {
			set[strings.ToLower(t.InfoHash)] = struct{}{}
		}
	}
	return set, nil
}

func (p *Pipeline) notify(title, body string) {
	if p.notifier.Enabled() {
		p.notifier.Notify(notifications.Event{Title: title, Body: body})
	}
}
