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

package queue

import (
	"context"
	"fmt"
)

// BackendOptions configures BuildBackend's selection.
type BackendOptions struct {
	// Dir is required for the "file" adapter (the default).
	Dir string
	// RedisAddr and RedisKey are required for the "redis" adapter.
	RedisAddr string
	RedisKey  string
	MaxItems  int
}

// BuildBackend constructs a Backend by string selector, mirroring the
// project's convention of a small adapter factory (file is the default
// durable backend; redis is available for shared overflow across
// instances).
func BuildBackend(adapter string, opts BackendOptions) (Backend, error) {
	switch adapter {
	case "", "file":
		return OpenFileBackend(opts.Dir, opts.MaxItems)
	case "redis":
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("queue: redis adapter requires RedisAddr")
		}
		key := opts.RedisKey
		if key == "" {
			key = "eventpipe:queue"
		}
		client := NewGoRedisLister(opts.RedisAddr)
		return NewRedisBackend(context.Background(), client, key, opts.MaxItems), nil
	default:
		return nil, fmt.Errorf("queue: unknown backend adapter %q", adapter)
	}
}
