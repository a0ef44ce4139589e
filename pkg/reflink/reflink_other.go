// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build !linux

package reflink

import "errors"

// Clone is unsupported on this platform.
func Clone(src, dst string) error {
	return errors.New("reflink is not supported on this platform")
}
