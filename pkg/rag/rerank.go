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
	"math"
	"sort"
	"strconv"

	"github.com/kadirpekel/mend/pkg/vector"
)

// Rerank weights: distance dominates, content length contributes up to
// lengthTarget characters.
const (
	distanceWeight = 0.7
	lengthWeight   = 0.3
	lengthTarget   = 500.0
)

// RankedChunk is one retrieved chunk after local reranking.
type RankedChunk struct {
	ChunkID    string         `json:"chunk_id"`
	DocID      string         `json:"doc_id"`
	ChunkIndex int            `json:"chunk_index"`
	Text       string         `json:"text"`
	Relevance  float64        `json:"relevance"`
	Distance   float64        `json:"distance"`
	Metadata   map[string]any `json:"metadata"`
}

// Rerank scores each search hit locally and sorts by descending
// relevance:
//
//	relevance = 0.7 * (1 - distance) + 0.3 * min(1, len(text)/500)
//
// clamped to [0, 1]. The backing store reports cosine similarity; its
// complement is the distance used here.
func Rerank(results []vector.Result) []RankedChunk {
	ranked := make([]RankedChunk, 0, len(results))
	for _, r := range results {
		distance := r.Distance()
		relevance := distanceWeight*(1-distance) + lengthWeight*math.Min(1, float64(len(r.Content))/lengthTarget)
		relevance = math.Max(0, math.Min(1, relevance))

		metadata := make(map[string]any, len(r.Metadata)+3)
		for k, v := range r.Metadata {
			metadata[k] = v
		}
		metadata["similarity_score"] = round3(relevance)
		metadata["original_distance"] = round3(distance)
		metadata["text_length"] = len(r.Content)

		ranked = append(ranked, RankedChunk{
			ChunkID:    r.ID,
			DocID:      metadataString(r.Metadata, "doc_id"),
			ChunkIndex: metadataInt(r.Metadata, "chunk_index"),
			Text:       r.Content,
			Relevance:  round3(relevance),
			Distance:   round3(distance),
			Metadata:   metadata,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Relevance > ranked[j].Relevance
	})
	return ranked
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func metadataString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func metadataInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
