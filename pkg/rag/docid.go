// Copyright 2025 Kadir Pekel
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

package rag

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Doc-id prefixes by ingestion source.
const (
	DocPrefixFile  = "file"
	DocPrefixText  = "text_user_input"
	DocPrefixTable = "table"
	DocPrefixURL   = "url"
)

var (
	invalidDocIDChars = regexp.MustCompile(`[^a-z0-9_.-]`)
	collapseUnder     = regexp.MustCompile(`_+`)
)

// DocIDGenerator mints unique document identifiers of the form
// {prefix}_{sanitized_source}_{yyyymmdd_hhmmss}. Collisions within the
// process are resolved by appending microseconds and a counter.
type DocIDGenerator struct {
	mu   sync.Mutex
	seen map[string]bool
	now  func() time.Time
}

// NewDocIDGenerator creates a generator.
func NewDocIDGenerator() *DocIDGenerator {
	return &DocIDGenerator{
		seen: make(map[string]bool),
		now:  time.Now,
	}
}

// sanitizeSource lowercases, strips the extension, replaces characters
// outside [a-z0-9_.-] with underscores, collapses runs, and caps at 30
// characters.
func sanitizeSource(source string) string {
	base := filepath.Base(source)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.ToLower(base)
	base = invalidDocIDChars.ReplaceAllString(base, "_")
	base = collapseUnder.ReplaceAllString(base, "_")
	base = strings.Trim(base, "_")
	if len(base) > 30 {
		base = base[:30]
	}
	if base == "" {
		base = "source"
	}
	return base
}

// Generate mints a new unique doc id for the source under the prefix.
func (g *DocIDGenerator) Generate(prefix, source string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	stamp := now.Format("20060102_150405")
	candidate := fmt.Sprintf("%s_%s_%s", prefix, sanitizeSource(source), stamp)
	if source == "" {
		// Sourceless ingestion (raw text) carries the prefix alone.
		candidate = fmt.Sprintf("%s_%s", prefix, stamp)
	}

	if !g.seen[candidate] {
		g.seen[candidate] = true
		return candidate
	}

	// Same-second collision: append microseconds, then count up.
	micro := now.Nanosecond() / 1000
	for counter := 0; ; counter++ {
		next := fmt.Sprintf("%s_%06d_%d", candidate, micro, counter)
		if !g.seen[next] {
			g.seen[next] = true
			return next
		}
	}
}
