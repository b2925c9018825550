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
	"regexp"
	"time"

	"eventpipe/internal/bookmark"
	"eventpipe/internal/config"
	"eventpipe/internal/pipe"
	"eventpipe/internal/tailer"
)

// directorySourceParams is the DirectorySource entry's type-specific
// configuration, decoded from config.ComponentConfig.Raw.
type directorySourceParams struct {
	Dir            string   `json:"Dir"`
	Globs          []string `json:"Globs"`
	ExcludeExt     []string `json:"ExcludeExt"`
	Recursive      bool     `json:"Recursive"`
	ScanIntervalMs int      `json:"ScanIntervalMs"`
	Initial        string   `json:"Initial"` // "bookmark" (default), "end", "timestamp"
	InitialTime    string   `json:"InitialTime"`
	Parser         struct {
		Type            string `json:"Type"` // "SingleLine" (default), "Regex", "TimestampAnchored"
		Pattern         string `json:"Pattern"`
		CaseInsensitive bool   `json:"CaseInsensitive"`
		Multiline       bool   `json:"Multiline"`
	} `json:"Parser"`
}

// DirectorySourceFactory builds a tailer.DirectoryTailer from a
// DirectorySource entry's JSON parameters.
func DirectorySourceFactory(cfg config.ComponentConfig, store *bookmark.Store, emit pipe.Accept) (Lifecycle, error) {
	var params directorySourceParams
	if err := json.Unmarshal(cfg.Raw, &params); err != nil {
		return nil, fmt.Errorf("session: decode DirectorySource %q: %w", cfg.Id, err)
	}
	if params.Dir == "" {
		return nil, fmt.Errorf("session: DirectorySource %q: Dir is required", cfg.Id)
	}

	tcfg := tailer.Config{
		SourceID:   cfg.Id,
		Dir:        params.Dir,
		Globs:      params.Globs,
		ExcludeExt: params.ExcludeExt,
		Recursive:  params.Recursive,
	}
	if params.ScanIntervalMs > 0 {
		tcfg.ScanInterval = time.Duration(params.ScanIntervalMs) * time.Millisecond
	}
	switch params.Initial {
	case "", "bookmark":
		tcfg.Initial = bookmark.PositionBookmark
	case "end":
		tcfg.Initial = bookmark.PositionEnd
	case "timestamp":
		tcfg.Initial = bookmark.PositionTimestamp
		if params.InitialTime != "" {
			t, err := time.Parse(time.RFC3339, params.InitialTime)
			if err != nil {
				return nil, fmt.Errorf("session: DirectorySource %q: InitialTime: %w", cfg.Id, err)
			}
			tcfg.InitialTime = t
		}
	default:
		return nil, fmt.Errorf("session: DirectorySource %q: unknown Initial %q", cfg.Id, params.Initial)
	}

	var newParser tailer.ParserFactory
	switch params.Parser.Type {
	case "", "SingleLine":
		newParser = func() tailer.Parser { return tailer.NewSingleLineParser() }
	case "Regex":
		pattern := params.Parser.Pattern
		opts := tailer.RegexOptions{CaseInsensitive: params.Parser.CaseInsensitive, Multiline: params.Parser.Multiline}
		newParser = func() tailer.Parser {
			p, err := tailer.NewRegexParser(pattern, opts)
			if err != nil {
				// The pattern was already validated at factory
				// construction time below; this path is unreachable
				// in practice, so fall back to the single-line
				// parser rather than panicking mid-scan.
				return tailer.NewSingleLineParser()
			}
			return p
		}
		if _, err := tailer.NewRegexParser(pattern, opts); err != nil {
			return nil, fmt.Errorf("session: DirectorySource %q: Parser.Pattern: %w", cfg.Id, err)
		}
	case "TimestampAnchored":
		flags := ""
		if params.Parser.CaseInsensitive {
			flags = "(?i)"
		}
		anchor, err := regexp.Compile(flags + params.Parser.Pattern)
		if err != nil {
			return nil, fmt.Errorf("session: DirectorySource %q: Parser.Pattern: %w", cfg.Id, err)
		}
		newParser = func() tailer.Parser { return tailer.NewTimestampAnchoredParser(anchor) }
	default:
		return nil, fmt.Errorf("session: DirectorySource %q: unknown Parser.Type %q", cfg.Id, params.Parser.Type)
	}

	return tailer.New(tcfg, store, newParser, tailer.EmitFunc(emit))
}
