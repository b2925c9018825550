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

//go:build !windows

package tailer

import (
	"fmt"
	"os"
	"syscall"

	"eventpipe/internal/envelope"
)

func fileIdentity(path string, info os.FileInfo) (envelope.FileIdentity, error) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return envelope.FileIdentity{}, fmt.Errorf("tailer: unsupported Sys() type for %s", info.Name())
	}
	return envelope.FileIdentity{Device: uint64(st.Dev), Inode: st.Ino}, nil
}
