// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metafile

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

type treeNode struct {
	name     string
	length   int64
	children map[string]*treeNode
}

func (n *treeNode) child(name string) *treeNode {
	if n.children == nil {
		n.children = make(map[string]*treeNode)
	}
	c, ok := n.children[name]
	if !ok {
		c = &treeNode{name: name}
		n.children[name] = c
	}
	return c
}

// Tree writes a deterministic depth-first rendering of the file tree.
// Directories sort before files, then by name; sizes are printed for leaves.
func (m *Metafile) Tree(w io.Writer) error {
	root := &treeNode{name: m.name}
	for _, f := range m.files {
		node := root
		segs := f.Path
		// Multi-file torrents nest under the root name; the single-file
		// entry already carries it.
		if m.singleFile {
			segs = nil
			root.length = f.Length
		}
		for _, seg := range segs {
			node = node.child(seg)
		}
		if node != root {
			node.length = f.Length
		}
	}

	if _, err := fmt.Fprintf(w, "%s (%d files, %d bytes)\n", m.name, len(m.files), m.totalSize); err != nil {
		return err
	}
	return writeTree(w, root, "")
}

func writeTree(w io.Writer, node *treeNode, prefix string) error {
	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := node.children[names[i]], node.children[names[j]]
		aDir, bDir := len(a.children) > 0, len(b.children) > 0
		if aDir != bDir {
			return aDir
		}
		return names[i] < names[j]
	})

	for i, name := range names {
		child := node.children[name]
		connector := "├── "
		childPrefix := prefix + "│   "
		if i == len(names)-1 {
			connector = "└── "
			childPrefix = prefix + "    "
		}

		line := prefix + connector + name
		if len(child.children) == 0 {
			line += fmt.Sprintf(" [%d]", child.length)
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
		if err := writeTree(w, child, childPrefix); err != nil {
			return err
		}
	}
	return nil
}

// Diff compares two metafiles and writes a human-readable summary of the
// differences: infohash, trackers, and per-file additions/removals/resizes.
// Returns true when the two payloads are identical (same file tree).
func Diff(w io.Writer, a, b *Metafile) (identical bool, err error) {
	identical = true
	report := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format+"\n", args...)
		}
	}

	if a.InfoHash() == b.InfoHash() {
		report("infohash: identical (%s)", a.InfoHash())
	} else {
		report("infohash: %s != %s", a.InfoHash(), b.InfoHash())
	}

	if a.name != b.name {
		report("name: %q != %q", a.name, b.name)
	}

	aFiles := make(map[string]int64, len(a.files))
	for _, f := range a.files {
		aFiles[f.RelPath()] = f.Length
	}
	bFiles := make(map[string]int64, len(b.files))
	for _, f := range b.files {
		bFiles[f.RelPath()] = f.Length
	}

	var paths []string
	for p := range aFiles {
		paths = append(paths, p)
	}
	for p := range bFiles {
		if _, ok := aFiles[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	for _, p := range paths {
		asz, inA := aFiles[p]
		bsz, inB := bFiles[p]
		switch {
		case inA && !inB:
			identical = false
			report("- %s [%d]", p, asz)
		case !inA && inB:
			identical = false
			report("+ %s [%d]", p, bsz)
		case asz != bsz:
			identical = false
			report("~ %s [%d != %d]", p, asz, bsz)
		}
	}

	if identical {
		report("file trees match (%d files, %d bytes)", len(a.files), a.totalSize)
	}

	aTrackers := strings.Join(a.Trackers(), ", ")
	bTrackers := strings.Join(b.Trackers(), ", ")
	if aTrackers != bTrackers {
		report("trackers: %s | %s", aTrackers, bTrackers)
	}

	return identical, err
}
