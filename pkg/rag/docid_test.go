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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDocIDFormat(t *testing.T) {
	g := NewDocIDGenerator()
	g.now = func() time.Time {
		return time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	}

	id := g.Generate(DocPrefixFile, "/tmp/Quarterly Report.pdf")
	assert.Equal(t, "file_quarterly_report_20250314_092653", id)
}

func TestSanitizeSource(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"simple", "report.txt", "report"},
		{"uppercase and spaces", "My Great Doc.pdf", "my_great_doc"},
		{"special characters", "a$b%c&d.docx", "a_b_c_d"},
		{"collapsed underscores", "a___b.md", "a_b"},
		{"path stripped", "/var/data/notes.md", "notes"},
		{"long name capped", "this_is_a_very_long_source_name_that_keeps_going.txt",
			"this_is_a_very_long_source_nam"},
		{"empty", "", "source"},
		{"only specials", "$$$.txt", "source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeSource(tt.source))
		})
	}
}

func TestGenerateDocIDCollision(t *testing.T) {
	g := NewDocIDGenerator()
	fixed := time.Date(2025, 3, 14, 9, 26, 53, 123456000, time.UTC)
	g.now = func() time.Time { return fixed }

	first := g.Generate(DocPrefixText, "")
	second := g.Generate(DocPrefixText, "")
	third := g.Generate(DocPrefixText, "")

	assert.Equal(t, "text_user_input_20250314_092653", first)
	assert.NotEqual(t, first, second)
	assert.NotEqual(t, second, third)
	assert.Contains(t, second, "_123456_")
}

func TestGenerateDocIDConcurrent(t *testing.T) {
	g := NewDocIDGenerator()

	const n = 1000
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- g.Generate(DocPrefixFile, "shared.txt")
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, n)
	for id := range ids {
		require.False(t, seen[id], "duplicate doc id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}
