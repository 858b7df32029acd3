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

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Ollama can be flaky under concurrent embedding load; serialize embed
// calls from this process.
var ollamaEmbedMu sync.Mutex

// OllamaConfig configures a local Ollama provider.
type OllamaConfig struct {
	BaseURL        string
	Model          string
	EmbeddingModel string
	Dimension      int
	Temperature    float64
	Timeout        time.Duration
}

// SetDefaults applies default configuration values.
func (c *OllamaConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434"
	}
	if c.Model == "" {
		c.Model = "llama3"
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = "nomic-embed-text"
	}
	if c.Dimension == 0 {
		c.Dimension = defaultOllamaDimension(c.EmbeddingModel)
	}
	if c.Timeout == 0 {
		c.Timeout = 120 * time.Second
	}
}

func defaultOllamaDimension(model string) int {
	switch {
	case strings.Contains(model, "nomic-embed-text"):
		return 768
	case strings.Contains(model, "mxbai-embed-large"):
		return 1024
	case strings.Contains(model, "all-minilm"):
		return 384
	case strings.Contains(model, "mistral"):
		return 4096
	default:
		return 768
	}
}

// OllamaService talks to a local Ollama server over HTTP.
type OllamaService struct {
	config OllamaConfig
	client *http.Client
}

// NewOllamaService creates an Ollama-backed Service.
func NewOllamaService(config OllamaConfig) *OllamaService {
	config.SetDefaults()
	slog.Debug("LLM service configured",
		"provider", "ollama",
		"model", config.Model,
		"embedding_model", config.EmbeddingModel)
	return &OllamaService{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// GenerateResponse produces a completion via /api/generate.
func (s *OllamaService) GenerateResponse(ctx context.Context, prompt string) (string, error) {
	reqBody := ollamaGenerateRequest{
		Model:  s.config.Model,
		Prompt: prompt,
		Stream: false,
	}
	if s.config.Temperature > 0 {
		reqBody.Options = map[string]any{"temperature": s.config.Temperature}
	}

	var resp ollamaGenerateResponse
	if err := s.post(ctx, "/api/generate", reqBody, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("ollama generate: %s", resp.Error)
	}
	return resp.Response, nil
}

// GenerateJSON produces a completion and parses it as a JSON object.
func (s *OllamaService) GenerateJSON(ctx context.Context, prompt string) (map[string]any, error) {
	raw, err := s.GenerateResponse(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return ParseJSONObject(raw)
}

// GenerateEmbedding converts text to a vector via /api/embed.
func (s *OllamaService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	var resp ollamaEmbedResponse
	if err := s.post(ctx, "/api/embed", ollamaEmbedRequest{
		Model: s.config.EmbeddingModel,
		Input: text,
	}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("ollama embed: %s", resp.Error)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama embed: empty embedding for model %s", s.config.EmbeddingModel)
	}
	return resp.Embeddings[0], nil
}

func (s *OllamaService) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.config.BaseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse ollama response: %w", err)
	}
	return nil
}

// Model returns the generation model identifier.
func (s *OllamaService) Model() string { return s.config.Model }

// EmbeddingModel returns the embedding model identifier.
func (s *OllamaService) EmbeddingModel() string { return s.config.EmbeddingModel }

// Dimension returns the embedding vector dimension.
func (s *OllamaService) Dimension() int { return s.config.Dimension }

// Close releases provider resources.
func (s *OllamaService) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
