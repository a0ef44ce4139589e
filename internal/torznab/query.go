// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torznab

import (
	"strconv"
	"strings"

	"github.com/moistari/rls"

	"github.com/autobrr/crossseed/internal/models"
	"github.com/autobrr/crossseed/internal/searchee"
)

// QueryPlan is one concrete request against one indexer: the query kind plus
// its parameters.
type QueryPlan struct {
	Kind   string
	Params map[string]string
}

// PlanQuery turns a searchee name into a query plan for one indexer, or nil
// when the indexer lacks the required capability. ids carries resolved
// external database ids (tvdbid, tmdbid, imdbid); each is emitted only when
// the indexer advertises the matching id capability.
func PlanQuery(s *searchee.Searchee, caps models.IndexerCaps, ids map[string]string) *QueryPlan {
	release := rls.ParseString(s.Name)

	kind := queryKind(release)
	if !caps.SupportsQueryKind(kind) {
		// Indexers without the specific capability can still serve the
		// generic query.
		if kind == "search" || !caps.Search {
			return nil
		}
		kind = "search"
	}

	params := map[string]string{
		"q": searchTerms(release, s.Name),
	}

	if kind == "tvsearch" {
		if release.Series > 0 {
			params["season"] = strconv.Itoa(release.Series)
		}
		if release.Episode > 0 {
			params["ep"] = strconv.Itoa(release.Episode)
		}
	}
	if kind == "movie" && release.Year > 0 {
		params["year"] = strconv.Itoa(release.Year)
	}

	for _, param := range idParamsForKind(kind) {
		if value := ids[param]; value != "" && caps.HasIDCap(param) {
			params[param] = value
		}
	}

	return &QueryPlan{Kind: kind, Params: params}
}

func idParamsForKind(kind string) []string {
	switch kind {
	case "tvsearch":
		return []string{"tvdbid", "imdbid"}
	case "movie":
		return []string{"tmdbid", "imdbid"}
	}
	return nil
}

func queryKind(release rls.Release) string {
	switch release.Type {
	case rls.Episode, rls.Series:
		return "tvsearch"
	case rls.Movie:
		return "movie"
	case rls.Music, rls.Audiobook:
		return "music"
	case rls.Book, rls.Comic:
		return "book"
	}
	if release.Series > 0 || release.Episode > 0 {
		return "tvsearch"
	}
	if release.Year > 0 {
		return "movie"
	}
	return "search"
}

func searchTerms(release rls.Release, fallback string) string {
	title := release.Title
	if title == "" {
		title = fallback
	}
	parts := []string{cleanForSearch(title)}
	if release.Year > 0 && release.Type == rls.Movie {
		parts = append(parts, strconv.Itoa(release.Year))
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// cleanForSearch strips separators and brackets that confuse indexer search
// backends.
func cleanForSearch(s string) string {
	replacer := strings.NewReplacer(
		".", " ",
		"_", " ",
		"[", "",
		"]", "",
		"(", "",
		")", "",
		"{", "",
		"}", "",
	)
	return strings.Join(strings.Fields(replacer.Replace(s)), " ")
}
