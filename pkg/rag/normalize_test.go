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
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanNormalize(t *testing.T) {
	n := NewNormalizer()

	assert.True(t, n.CanNormalize("report.pdf"))
	assert.True(t, n.CanNormalize("notes.MD"))
	assert.True(t, n.CanNormalize("/data/sheet.xlsx"))
	assert.True(t, n.CanNormalize("doc.docx"))
	assert.False(t, n.CanNormalize("image.png"))
	assert.False(t, n.CanNormalize("archive.zip"))
	assert.False(t, n.CanNormalize("noextension"))
}

func TestNormalizeText(t *testing.T) {
	n := NewNormalizer()
	doc := n.NormalizeText("Plain text body.", "user_input")

	assert.Equal(t, "Plain text body.", doc.Markdown)
	assert.Equal(t, "user_input", doc.Source)
}

func TestNormalizePlainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Notes\n\nSome content."), 0o644))

	n := NewNormalizer()
	doc, err := n.NormalizeFile(context.Background(), path)
	require.NoError(t, err)

	assert.Contains(t, doc.Markdown, "Some content.")
	assert.Equal(t, path, doc.Source)
}

func TestNormalizeFileUnsupported(t *testing.T) {
	n := NewNormalizer()
	_, err := n.NormalizeFile(context.Background(), "photo.png")
	assert.Error(t, err)
}

func TestNormalizeFileMissing(t *testing.T) {
	n := NewNormalizer()
	_, err := n.NormalizeFile(context.Background(), filepath.Join(t.TempDir(), "absent.txt"))
	assert.Error(t, err)
}

func TestRenderTableRows(t *testing.T) {
	rows := []TableRow{
		{
			Index:   0,
			Columns: []string{"name", "city"},
			Values:  map[string]string{"name": "Ada", "city": "London"},
		},
		{
			Index:   1,
			Columns: []string{"name", "city"},
			Values:  map[string]string{"name": "Alan", "city": "Manchester"},
		},
	}

	out := RenderTableRows("people", rows)

	assert.Contains(t, out, "--- Table Record: people (Index: 0) ---")
	assert.Contains(t, out, "--- Table Record: people (Index: 1) ---")
	assert.Contains(t, out, "**name:** Ada")
	assert.Contains(t, out, "**city:** Manchester")
}
