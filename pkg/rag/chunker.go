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
	"strings"
)

// ChunkStrategy is the canonical name recorded with each document.
const ChunkStrategy = "recursive_splitter"

// Chunk is one bounded piece of a normalized document, the unit of
// embedding and retrieval.
type Chunk struct {
	// ChunkID is {doc_id}_chunk_{index}.
	ChunkID string

	// Index numbers chunks from 0 within their document.
	Index int

	// Text is the chunk body.
	Text string
}

// ChunkerConfig configures recursive character splitting.
type ChunkerConfig struct {
	// Size is the target chunk size in characters. Default: 500.
	Size int

	// Overlap is the overlap carried between adjacent chunks. Default: 50.
	Overlap int

	// Separators are split boundaries in priority order. The empty
	// string terminates the list and splits at character granularity.
	Separators []string
}

// SetDefaults applies default configuration values.
func (c *ChunkerConfig) SetDefaults() {
	if c.Size <= 0 {
		c.Size = 500
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if c.Overlap == 0 {
		c.Overlap = 50
	}
	if c.Overlap >= c.Size {
		c.Overlap = c.Size / 10
	}
	if len(c.Separators) == 0 {
		c.Separators = []string{"\n\n##", "\n\n", "\n", ". ", " ", ""}
	}
}

// Chunker splits normalized markdown into overlapping chunks by
// recursively descending a separator priority list: heading breaks first,
// then paragraphs, lines, sentences, words, and finally characters.
type Chunker struct {
	config ChunkerConfig
}

// NewChunker creates a chunker with the given configuration.
func NewChunker(config ChunkerConfig) *Chunker {
	config.SetDefaults()
	return &Chunker{config: config}
}

// Config returns the chunker configuration.
func (c *Chunker) Config() ChunkerConfig { return c.config }

// ChunkDocument splits text and assigns chunk ids under docID.
// Empty or whitespace-only text yields zero chunks.
func (c *Chunker) ChunkDocument(docID, text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	pieces := c.split(text, c.config.Separators)
	merged := c.merge(pieces)

	chunks := make([]Chunk, 0, len(merged))
	for i, body := range merged {
		chunks = append(chunks, Chunk{
			ChunkID: fmt.Sprintf("%s_chunk_%d", docID, i),
			Index:   i,
			Text:    body,
		})
	}
	return chunks
}

// split breaks text into pieces no larger than the target size, using the
// highest-priority separator present and recursing on oversized pieces.
func (c *Chunker) split(text string, separators []string) []string {
	if len(text) <= c.config.Size {
		return []string{text}
	}

	sep := ""
	rest := []string{}
	for i, s := range separators {
		if s == "" {
			sep = ""
			break
		}
		if strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	if sep == "" {
		// Character-level fallback: fixed windows.
		var out []string
		for start := 0; start < len(text); start += c.config.Size {
			end := start + c.config.Size
			if end > len(text) {
				end = len(text)
			}
			out = append(out, text[start:end])
		}
		return out
	}

	// SplitAfter keeps the separator with the preceding piece so that
	// concatenating chunks reproduces the source text.
	var out []string
	for _, piece := range strings.SplitAfter(text, sep) {
		if piece == "" {
			continue
		}
		if len(piece) > c.config.Size {
			out = append(out, c.split(piece, rest)...)
		} else {
			out = append(out, piece)
		}
	}
	return out
}

// merge packs split pieces into chunks of at most the target size, then
// prefixes each chunk after the first with the overlap tail of its
// predecessor.
func (c *Chunker) merge(pieces []string) []string {
	var packed []string
	var current strings.Builder

	for _, piece := range pieces {
		if current.Len() > 0 && current.Len()+len(piece) > c.config.Size {
			packed = append(packed, current.String())
			current.Reset()
		}
		current.WriteString(piece)
	}
	if current.Len() > 0 {
		packed = append(packed, current.String())
	}

	if c.config.Overlap == 0 || len(packed) < 2 {
		return packed
	}

	out := make([]string, len(packed))
	out[0] = packed[0]
	for i := 1; i < len(packed); i++ {
		prev := packed[i-1]
		tail := prev
		if len(prev) > c.config.Overlap {
			tail = prev[len(prev)-c.config.Overlap:]
		}
		out[i] = tail + packed[i]
	}
	return out
}
