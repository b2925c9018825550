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

package tailer

import (
	"regexp"
	"strings"
)

// Record is one parsed unit of text plus any named captures a parser
// extracted along the way. EndOffset is the byte position, relative to
// the start of the parser's own stream (i.e. zero at the first byte
// ever passed to Feed), immediately after this record's last consumed
// byte — its own terminating position, not the end of whatever read
// chunk produced it. Callers add their own base offset to get an
// absolute file position.
type Record struct {
	Text      string
	Captures  map[string]string
	EndOffset int64
}

// Parser accumulates raw appended text and yields completed Records.
// Feed is called once per newly read chunk; implementations buffer any
// partial trailing line themselves, until a later chunk completes it.
// The interface has no Flush; TimestampAnchoredParser offers its own
// Flush, which the tailer does not call.
type Parser interface {
	Feed(chunk string) []Record
}

// SingleLineParser yields one Record per newline, dropping blank lines.
type SingleLineParser struct {
	buf      string
	consumed int64
}

func NewSingleLineParser() *SingleLineParser { return &SingleLineParser{} }

func (p *SingleLineParser) Feed(chunk string) []Record {
	p.buf += chunk
	var out []Record
	for {
		i := strings.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(p.buf[:i], "\r")
		p.buf = p.buf[i+1:]
		p.consumed += int64(i + 1)
		if line == "" {
			continue
		}
		out = append(out, Record{Text: line, EndOffset: p.consumed})
	}
	return out
}

// TimestampAnchoredParser starts a new record at any line matching
// anchor, folding subsequent non-matching lines (including blanks) into
// the current record until the next anchor line arrives.
type TimestampAnchoredParser struct {
	anchor   *regexp.Regexp
	buf      string
	current  []string
	started  bool
	consumed int64
}

func NewTimestampAnchoredParser(anchor *regexp.Regexp) *TimestampAnchoredParser {
	return &TimestampAnchoredParser{anchor: anchor}
}

func (p *TimestampAnchoredParser) Feed(chunk string) []Record {
	p.buf += chunk
	var out []Record
	for {
		i := strings.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(p.buf[:i], "\r")
		p.buf = p.buf[i+1:]
		// endOfPrior is the stream position right after the previous
		// record's last continuation line, i.e. before this line's own
		// bytes are folded in — that is the completed record's true
		// terminating offset, not wherever this read chunk happens to end.
		endOfPrior := p.consumed
		p.consumed += int64(i + 1)

		if p.anchor.MatchString(line) {
			if p.started {
				out = append(out, Record{Text: strings.Join(p.current, "\n"), EndOffset: endOfPrior})
			}
			p.current = []string{line}
			p.started = true
			continue
		}
		if p.started {
			p.current = append(p.current, line)
		}
		// Lines before the first anchor are discarded: there is no
		// record to attach them to.
	}
	return out
}

// Flush emits whatever record is currently accumulating, for use when
// the tailer is stopping and wants to avoid losing a buffered record
// that will never see its successor anchor line.
func (p *TimestampAnchoredParser) Flush() []Record {
	if !p.started || len(p.current) == 0 {
		return nil
	}
	rec := Record{Text: strings.Join(p.current, "\n"), EndOffset: p.consumed}
	p.current = nil
	p.started = false
	return []Record{rec}
}

// RegexOptions configures RegexParser's compiled pattern.
type RegexOptions struct {
	Multiline       bool
	CaseInsensitive bool
}

// RegexParser matches each line against a pattern with named capture
// groups; a non-matching line is dropped. An optional separate
// ExtractPattern (not modeled here as a distinct field; callers compile
// it into Pattern directly) can refine captures further upstream.
type RegexParser struct {
	pattern  *regexp.Regexp
	buf      string
	consumed int64
}

// NewRegexParser compiles pattern with the given options and returns a
// line-oriented RegexParser. Right-to-left matching is not supported by
// Go's RE2 engine; callers needing it should pre-reverse input, which
// this parser does not do (documented limitation, not implemented here).
func NewRegexParser(pattern string, opts RegexOptions) (*RegexParser, error) {
	flags := ""
	if opts.CaseInsensitive {
		flags += "i"
	}
	if opts.Multiline {
		flags += "s"
	}
	full := pattern
	if flags != "" {
		full = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(full)
	if err != nil {
		return nil, err
	}
	return &RegexParser{pattern: re}, nil
}

func (p *RegexParser) Feed(chunk string) []Record {
	p.buf += chunk
	var out []Record
	for {
		i := strings.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(p.buf[:i], "\r")
		p.buf = p.buf[i+1:]
		p.consumed += int64(i + 1)
		if line == "" {
			continue
		}
		m := p.pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		rec := Record{Text: line, EndOffset: p.consumed}
		names := p.pattern.SubexpNames()
		for idx, name := range names {
			if name == "" || idx >= len(m) {
				continue
			}
			if rec.Captures == nil {
				rec.Captures = make(map[string]string)
			}
			rec.Captures[name] = m[idx]
		}
		out = append(out, rec)
	}
	return out
}
