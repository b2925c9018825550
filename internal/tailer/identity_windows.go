// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build windows

package tailer

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"

	"eventpipe/internal/envelope"
)

// fileIdentity opens the file to read its BY_HANDLE_FILE_INFORMATION,
// since os.FileInfo carries no inode-equivalent on Windows. The volume
// serial number stands in for device; the 64-bit file index stands in
// for inode.
func fileIdentity(path string, info os.FileInfo) (envelope.FileIdentity, error) {
	h, err := windows.Open(path, windows.O_RDONLY, 0)
	if err != nil {
		return envelope.FileIdentity{}, fmt.Errorf("tailer: open for identity: %w", err)
	}
	defer windows.CloseHandle(h)

	var fi windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &fi); err != nil {
		return envelope.FileIdentity{}, fmt.Errorf("tailer: GetFileInformationByHandle: %w", err)
	}
	inode := uint64(fi.FileIndexHigh)<<32 | uint64(fi.FileIndexLow)
	return envelope.FileIdentity{Device: uint64(fi.VolumeSerialNumber), Inode: inode}, nil
}
