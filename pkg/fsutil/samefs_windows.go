// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build windows

package fsutil

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func sameFilesystem(path1, path2 string) (bool, error) {
	serial1, err := volumeSerial(path1)
	if err != nil {
		return false, err
	}
	serial2, err := volumeSerial(path2)
	if err != nil {
		return false, err
	}
	return serial1 == serial2, nil
}

func volumeSerial(path string) (uint32, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, fmt.Errorf("encode path %s: %w", path, err)
	}
	handle, err := windows.CreateFile(p, 0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil, windows.OPEN_EXISTING, windows.FILE_FLAG_BACKUP_SEMANTICS, 0)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer windows.CloseHandle(handle)

	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(handle, &info); err != nil {
		return 0, fmt.Errorf("file information %s: %w", path, err)
	}
	return info.VolumeSerialNumber, nil
}
