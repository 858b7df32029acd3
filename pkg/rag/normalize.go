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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// NormalizedDocument is the markdown form every ingestion source is
// reduced to before classification and chunking.
type NormalizedDocument struct {
	Markdown string
	Title    string
	Source   string
	Format   string
}

// Normalizer converts heterogeneous inputs (files, raw text, table rows)
// into normalized markdown preserving headings, tables, and paragraph
// breaks.
type Normalizer struct{}

// NewNormalizer creates a normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// SupportedExtensions lists the file types NormalizeFile accepts.
func (n *Normalizer) SupportedExtensions() []string {
	return []string{".pdf", ".docx", ".xlsx", ".txt", ".md", ".markdown", ".csv", ".json", ".log"}
}

// CanNormalize reports whether the path has a supported extension.
func (n *Normalizer) CanNormalize(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range n.SupportedExtensions() {
		if ext == s {
			return true
		}
	}
	return false
}

// NormalizeFile converts one file to markdown, dispatching on extension.
func (n *Normalizer) NormalizeFile(ctx context.Context, path string) (*NormalizedDocument, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return n.normalizePDF(ctx, path)
	case ".docx":
		return n.normalizeDocx(path)
	case ".xlsx":
		return n.normalizeExcel(ctx, path)
	default:
		return n.normalizePlain(path)
	}
}

// NormalizeText wraps raw text input. Text is already markdown-safe and
// passes through unchanged.
func (n *Normalizer) NormalizeText(text, source string) *NormalizedDocument {
	return &NormalizedDocument{
		Markdown: text,
		Title:    source,
		Source:   source,
		Format:   "text",
	}
}

func (n *Normalizer) normalizePlain(path string) (*NormalizedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return &NormalizedDocument{
		Markdown: string(data),
		Title:    filepath.Base(path),
		Source:   path,
		Format:   strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
	}, nil
}

// normalizePDF extracts text page by page. The primary path reads the
// page structure; pages whose extraction fails degrade to a marker line
// instead of aborting the document.
func (n *Normalizer) normalizePDF(ctx context.Context, path string) (*NormalizedDocument, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat PDF: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer file.Close()

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			parts = append(parts, fmt.Sprintf("## Page %d\n\n_(extraction failed: %v)_", pageNum, err))
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, fmt.Sprintf("## Page %d\n\n%s", pageNum, strings.TrimSpace(text)))
		}
	}

	return &NormalizedDocument{
		Markdown: strings.Join(parts, "\n\n"),
		Title:    filepath.Base(path),
		Source:   path,
		Format:   "pdf",
	}, nil
}

// normalizeDocx extracts paragraphs, then any tables embedded in the
// document body.
func (n *Normalizer) normalizeDocx(path string) (*NormalizedDocument, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Word document: %w", err)
	}
	defer doc.Close()

	content := doc.Editable().GetContent()

	// The raw content is WordprocessingML; reduce it to paragraph text.
	var paragraphs []string
	for _, para := range strings.Split(content, "</w:p>") {
		text := stripXMLTags(para)
		if strings.TrimSpace(text) != "" {
			paragraphs = append(paragraphs, strings.TrimSpace(text))
		}
	}

	return &NormalizedDocument{
		Markdown: strings.Join(paragraphs, "\n\n"),
		Title:    filepath.Base(path),
		Source:   path,
		Format:   "docx",
	}, nil
}

func stripXMLTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeExcel renders each sheet as a markdown table, first row as
// header.
func (n *Normalizer) normalizeExcel(ctx context.Context, path string) (*NormalizedDocument, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Excel document: %w", err)
	}
	defer f.Close()

	var parts []string
	for _, sheet := range f.GetSheetList() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}

		var b strings.Builder
		fmt.Fprintf(&b, "## Sheet: %s\n\n", sheet)
		b.WriteString("| " + strings.Join(rows[0], " | ") + " |\n")
		b.WriteString("|" + strings.Repeat(" --- |", len(rows[0])) + "\n")
		for _, row := range rows[1:] {
			b.WriteString("| " + strings.Join(row, " | ") + " |\n")
		}
		parts = append(parts, strings.TrimSpace(b.String()))
	}

	return &NormalizedDocument{
		Markdown: strings.Join(parts, "\n\n"),
		Title:    filepath.Base(path),
		Source:   path,
		Format:   "xlsx",
	}, nil
}

// TableRow is one relational row destined for ingestion: column names in
// stable order with their rendered values.
type TableRow struct {
	Index   int
	Columns []string
	Values  map[string]string
}

// RenderTableRows produces the normalized markdown for a relational
// row-set: one titled record block per row with **Column:** value lines.
func RenderTableRows(table string, rows []TableRow) string {
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "--- Table Record: %s (Index: %d) ---\n", table, row.Index)
		for _, col := range row.Columns {
			fmt.Fprintf(&b, "**%s:** %s\n", col, row.Values[col])
		}
	}
	return b.String()
}
