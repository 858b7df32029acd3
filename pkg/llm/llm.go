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

// Package llm provides the language-model service consumed by the RAG
// pipelines: text generation, structured JSON generation, and embeddings.
//
// Providers (Ollama, OpenAI-compatible) are selected through a JSON config
// file; a built-in Ollama fallback is used when no config is present.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Service is the language-model surface consumed by the pipelines.
//
// All calls accept a context and honor its deadline; external HTTP calls
// are cancelled when the context is cancelled.
type Service interface {
	// GenerateEmbedding converts text to a fixed-dimension vector.
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// GenerateResponse produces a free-form completion for the prompt.
	GenerateResponse(ctx context.Context, prompt string) (string, error)

	// GenerateJSON produces a completion and parses it as a JSON object.
	// Callers must treat a returned error as "fall back to defaults".
	GenerateJSON(ctx context.Context, prompt string) (map[string]any, error)

	// Model returns the generation model identifier.
	Model() string

	// EmbeddingModel returns the embedding model identifier.
	EmbeddingModel() string

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// Close releases provider resources.
	Close() error
}

// ProviderConfig describes one provider entry in the config file.
type ProviderConfig struct {
	Type           string  `json:"type"`
	Enabled        bool    `json:"enabled"`
	Model          string  `json:"model"`
	EmbeddingModel string  `json:"embedding_model,omitempty"`
	APIEndpoint    string  `json:"api_endpoint,omitempty"`
	APIKeyEnv      string  `json:"api_key_env,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
	Dimension      int     `json:"dimension,omitempty"`
	TimeoutSeconds int     `json:"timeout_seconds,omitempty"`
}

// FileConfig is the on-disk LLM configuration format.
type FileConfig struct {
	DefaultProvider          string                    `json:"default_provider"`
	Providers                map[string]ProviderConfig `json:"llm_providers"`
	EmbeddingProviders       map[string]ProviderConfig `json:"embedding_providers,omitempty"`
	DefaultEmbeddingProvider string                    `json:"default_embedding_provider,omitempty"`
}

// LoadService builds a Service from the config file at path.
//
// A missing or unreadable file is not fatal: a local Ollama provider with
// default models is returned instead, so the engine degrades to a
// zero-config local setup.
func LoadService(path string) (Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewOllamaService(OllamaConfig{}), nil
	}

	var fc FileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("invalid LLM config %s: %w", path, err)
	}

	return NewService(fc)
}

// NewService builds a Service from a parsed configuration.
func NewService(fc FileConfig) (Service, error) {
	pc, ok := fc.Providers[fc.DefaultProvider]
	if !ok {
		// Take the first enabled provider when no default is named.
		for _, cand := range fc.Providers {
			if cand.Enabled {
				pc = cand
				ok = true
				break
			}
		}
	}
	if !ok {
		return NewOllamaService(OllamaConfig{}), nil
	}

	// Embedding may come from a dedicated provider entry.
	if pc.EmbeddingModel == "" && fc.DefaultEmbeddingProvider != "" {
		if ec, ok := fc.EmbeddingProviders[fc.DefaultEmbeddingProvider]; ok {
			pc.EmbeddingModel = ec.Model
			if pc.Dimension == 0 {
				pc.Dimension = ec.Dimension
			}
		}
	}

	switch strings.ToLower(pc.Type) {
	case "", "ollama":
		return NewOllamaService(OllamaConfig{
			BaseURL:        pc.APIEndpoint,
			Model:          pc.Model,
			EmbeddingModel: pc.EmbeddingModel,
			Dimension:      pc.Dimension,
			Temperature:    pc.Temperature,
		}), nil
	case "openai", "azure":
		return NewOpenAIService(OpenAIConfig{
			BaseURL:        pc.APIEndpoint,
			APIKey:         os.Getenv(pc.APIKeyEnv),
			Model:          pc.Model,
			EmbeddingModel: pc.EmbeddingModel,
			Dimension:      pc.Dimension,
			Temperature:    pc.Temperature,
			MaxTokens:      pc.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", pc.Type)
	}
}

// ParseJSONObject extracts and parses the first JSON object in a completion.
//
// Models frequently wrap JSON in prose or code fences; this trims to the
// outermost brace pair before unmarshalling.
func ParseJSONObject(raw string) (map[string]any, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("malformed JSON in response: %w", err)
	}
	return obj, nil
}
