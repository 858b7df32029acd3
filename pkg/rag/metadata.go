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
	"log/slog"

	"github.com/kadirpekel/mend/pkg/llm"
)

// DocumentMetadata is the semantic metadata extracted per document.
type DocumentMetadata struct {
	Title    string   `json:"title"`
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
	Topics   []string `json:"topics"`
	DocType  string   `json:"doc_type"`
}

// metadataPreviewChars bounds how much document text the extraction
// prompt sees.
const metadataPreviewChars = 2000

// DefaultMetadata is returned when extraction fails; ingestion continues
// with it rather than aborting.
func DefaultMetadata() DocumentMetadata {
	return DocumentMetadata{
		Title:    "Document",
		Summary:  "Unable to extract detailed metadata.",
		Keywords: []string{"document", "metadata_failure"},
		Topics:   []string{"unknown"},
		DocType:  "report",
	}
}

// MetadataExtractor runs the second-stage LLM call producing title,
// summary, keywords, topics, and document type.
type MetadataExtractor struct {
	llm llm.Service
}

// NewMetadataExtractor creates an extractor on top of an LLM service.
func NewMetadataExtractor(svc llm.Service) *MetadataExtractor {
	return &MetadataExtractor{llm: svc}
}

// Extract analyzes the first part of the normalized text. On failure it
// returns defaults plus the error for recording.
func (e *MetadataExtractor) Extract(ctx context.Context, text string) (DocumentMetadata, error) {
	if e == nil || e.llm == nil {
		return DefaultMetadata(), fmt.Errorf("metadata extractor has no LLM service")
	}

	prompt := fmt.Sprintf(`Extract metadata from this document.

Document:
%s

Return only JSON:
{"title": "<title>", "summary": "<2-3 sentences>", "keywords": ["<5-10 keywords>"], "topics": ["<topic>", ...], "doc_type": "report|policy|manual|email|contract|table|other"}`,
		truncate(text, metadataPreviewChars))

	obj, err := e.llm.GenerateJSON(ctx, prompt)
	if err != nil {
		slog.Warn("Metadata extraction failed, using defaults", "error", err)
		return DefaultMetadata(), fmt.Errorf("metadata extraction failed: %w", err)
	}

	md := DocumentMetadata{
		Title:    stringField(obj, "title"),
		Summary:  stringField(obj, "summary"),
		Keywords: stringSlice(obj, "keywords"),
		Topics:   stringSlice(obj, "topics"),
		DocType:  stringField(obj, "doc_type"),
	}

	// Partial responses keep what the model produced and default the rest.
	defaults := DefaultMetadata()
	if md.Title == "" {
		md.Title = defaults.Title
	}
	if md.Summary == "" {
		md.Summary = defaults.Summary
	}
	if len(md.Keywords) == 0 {
		md.Keywords = defaults.Keywords
	}
	if len(md.Topics) == 0 {
		md.Topics = defaults.Topics
	}
	if md.DocType == "" {
		md.DocType = defaults.DocType
	}
	return md, nil
}
