// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"path/filepath"
	"strings"
)

// DefaultVideoExtensions are the recognized primary content extensions.
var DefaultVideoExtensions = []string{
	".mkv", ".mp4", ".avi", ".m2ts", ".ts", ".mov", ".wmv", ".iso", ".vob", ".bdmv", ".m4v",
}

// DefaultIgnorableExtensions are non-video auxiliaries whose presence or
// absence should not break a match under the partial policy.
var DefaultIgnorableExtensions = []string{
	".nfo", ".srt", ".sub", ".idx", ".txt", ".jpg", ".jpeg", ".png", ".sfv", ".md5", ".cue",
}

// discImageExtensions flag searchees that need a recheck after injection.
var discImageExtensions = map[string]struct{}{
	".iso": {}, ".vob": {}, ".bdmv": {}, ".m2ts": {},
}

// ExtensionSet is a lowercase extension lookup.
type ExtensionSet map[string]struct{}

func newExtensionSet(exts []string) ExtensionSet {
	set := make(ExtensionSet, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = struct{}{}
	}
	return set
}

// Contains reports whether the file name's extension is in the set.
func (s ExtensionSet) Contains(name string) bool {
	_, ok := s[strings.ToLower(filepath.Ext(name))]
	return ok
}

// VideoExtensionSet returns the configured video extensions, or the default
// set when the config does not override them.
func (c *Config) VideoExtensionSet() ExtensionSet {
	if len(c.VideoExtensions) > 0 {
		return newExtensionSet(c.VideoExtensions)
	}
	return newExtensionSet(DefaultVideoExtensions)
}

// IgnorableExtensionSet returns the configured ignorable extensions, or the
// default set when the config does not override them.
func (c *Config) IgnorableExtensionSet() ExtensionSet {
	if len(c.IgnorableExtensions) > 0 {
		return newExtensionSet(c.IgnorableExtensions)
	}
	return newExtensionSet(DefaultIgnorableExtensions)
}

// IsDiscImage reports whether the file name carries a disc-image extension.
func IsDiscImage(name string) bool {
	_, ok := discImageExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}
