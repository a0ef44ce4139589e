// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torznab

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Candidate is one Torznab search result.
type Candidate struct {
	Tracker    string
	Title      string
	GUID       string
	Link       string
	Size       int64
	PubDate    time.Time
	InfoHash   string
	Seeders    int
	Categories []string
}

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title     string       `xml:"title"`
	GUID      string       `xml:"guid"`
	Link      string       `xml:"link"`
	Comments  string       `xml:"comments"`
	PubDate   string       `xml:"pubDate"`
	Size      string       `xml:"size"`
	Category  []string     `xml:"category"`
	Enclosure rssEnclosure `xml:"enclosure"`
	Attrs     []rssAttr    `xml:"attr"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Length string `xml:"length,attr"`
}

type rssAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// parseFeed decodes a Torznab RSS response. Attribute values take precedence
// over plain item elements since indexers are inconsistent about which they
// populate.
func parseFeed(r io.Reader) ([]Candidate, error) {
	var feed rssFeed
	if err := xml.NewDecoder(r).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode torznab feed: %w", err)
	}

	tracker := strings.TrimSpace(feed.Channel.Title)
	out := make([]Candidate, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		c := Candidate{
			Tracker:    tracker,
			Title:      strings.TrimSpace(item.Title),
			GUID:       strings.TrimSpace(item.GUID),
			Link:       item.Enclosure.URL,
			Categories: item.Category,
		}
		if c.Link == "" {
			c.Link = strings.TrimSpace(item.Link)
		}
		if c.GUID == "" {
			c.GUID = c.Link
		}

		if size, err := strconv.ParseInt(strings.TrimSpace(item.Size), 10, 64); err == nil {
			c.Size = size
		} else if size, err := strconv.ParseInt(item.Enclosure.Length, 10, 64); err == nil {
			c.Size = size
		}

		c.PubDate = parsePubDate(item.PubDate)

		for _, attr := range item.Attrs {
			value := strings.TrimSpace(attr.Value)
			switch strings.ToLower(strings.TrimSpace(attr.Name)) {
			case "size":
				if v, err := strconv.ParseInt(value, 10, 64); err == nil {
					c.Size = v
				}
			case "infohash":
				c.InfoHash = strings.ToLower(value)
			case "seeders":
				if v, err := strconv.Atoi(value); err == nil {
					c.Seeders = v
				}
			case "guid":
				if value != "" {
					c.GUID = value
				}
			case "category":
				c.Categories = append(c.Categories, value)
			}
		}

		if c.Title == "" || c.GUID == "" {
			continue
		}
		out = append(out, c)
	}

	return out, nil
}

func parsePubDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
