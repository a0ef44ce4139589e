// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torznab

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/autobrr/crossseed/internal/models"
)

type capsResponse struct {
	XMLName    xml.Name      `xml:"caps"`
	Limits     capsLimits    `xml:"limits"`
	Searching  capsSearching `xml:"searching"`
	Categories []capsCat     `xml:"categories>category"`
}

type capsLimits struct {
	Max     string `xml:"max,attr"`
	Default string `xml:"default,attr"`
}

type capsSearching struct {
	Search      capsSearchNode `xml:"search"`
	TVSearch    capsSearchNode `xml:"tv-search"`
	MovieSearch capsSearchNode `xml:"movie-search"`
	MusicSearch capsSearchNode `xml:"music-search"`
	AudioSearch capsSearchNode `xml:"audio-search"`
	BookSearch  capsSearchNode `xml:"book-search"`
}

type capsSearchNode struct {
	Available       string `xml:"available,attr"`
	SupportedParams string `xml:"supportedParams,attr"`
}

type capsCat struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

// parseCaps decodes a Torznab caps document into the registry's capability
// shape.
func parseCaps(r io.Reader) (models.IndexerCaps, error) {
	var resp capsResponse
	if err := xml.NewDecoder(r).Decode(&resp); err != nil {
		return models.IndexerCaps{}, fmt.Errorf("decode caps response: %w", err)
	}

	caps := models.IndexerCaps{
		Search: capsAvailable(resp.Searching.Search.Available),
		TV:     capsAvailable(resp.Searching.TVSearch.Available),
		Movie:  capsAvailable(resp.Searching.MovieSearch.Available),
		Music:  capsAvailable(resp.Searching.MusicSearch.Available),
		Audio:  capsAvailable(resp.Searching.AudioSearch.Available),
		Book:   capsAvailable(resp.Searching.BookSearch.Available),
	}

	seen := map[string]bool{}
	for _, node := range []capsSearchNode{
		resp.Searching.TVSearch, resp.Searching.MovieSearch,
	} {
		for _, param := range strings.Split(node.SupportedParams, ",") {
			param = strings.TrimSpace(param)
			if strings.HasSuffix(param, "id") && !seen[param] {
				seen[param] = true
				caps.IDCaps = append(caps.IDCaps, param)
			}
		}
	}

	for _, cat := range resp.Categories {
		if id := strings.TrimSpace(cat.ID); id != "" {
			caps.CatCaps = append(caps.CatCaps, id)
		}
	}

	if n, err := strconv.Atoi(strings.TrimSpace(resp.Limits.Max)); err == nil {
		caps.Limits.Max = n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(resp.Limits.Default)); err == nil {
		caps.Limits.Default = n
	}

	return caps, nil
}

func capsAvailable(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "true", "1":
		return true
	default:
		return false
	}
}
