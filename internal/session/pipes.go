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

package session

import (
	"encoding/json"
	"fmt"

	"eventpipe/internal/config"
	"eventpipe/internal/pipe"
)

func regexFilterPipeFactory(cfg config.PipeConfig) (pipe.Pipe, error) {
	var params struct {
		Pattern string `json:"Pattern"`
		Negate  bool   `json:"Negate"`
	}
	if err := json.Unmarshal(cfg.Raw, &params); err != nil {
		return nil, fmt.Errorf("session: decode RegexFilterPipe %q: %w", cfg.Id, err)
	}
	p, err := pipe.NewRegexFilterPipe(params.Pattern, params.Negate)
	if err != nil {
		return nil, fmt.Errorf("session: compile RegexFilterPipe %q: %w", cfg.Id, err)
	}
	return p, nil
}
