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
	"time"
)

// OpenAIConfig configures an OpenAI-compatible provider (OpenAI, Azure,
// or any server exposing the same chat/embeddings API).
type OpenAIConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	Dimension      int
	Temperature    float64
	MaxTokens      int
	Timeout        time.Duration
}

// SetDefaults applies default configuration values.
func (c *OpenAIConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = "text-embedding-3-small"
	}
	if c.Dimension == 0 {
		switch c.EmbeddingModel {
		case "text-embedding-3-large":
			c.Dimension = 3072
		case "text-embedding-ada-002":
			c.Dimension = 1536
		default:
			c.Dimension = 1536
		}
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.Timeout == 0 {
		c.Timeout = 120 * time.Second
	}
}

// Validate checks required configuration values.
func (c *OpenAIConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	return nil
}

// OpenAIService talks to an OpenAI-compatible HTTP API.
type OpenAIService struct {
	config OpenAIConfig
	client *http.Client
}

// NewOpenAIService creates an OpenAI-backed Service.
func NewOpenAIService(config OpenAIConfig) (*OpenAIService, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("openai config: %w", err)
	}
	slog.Debug("LLM service configured",
		"provider", "openai",
		"model", config.Model,
		"embedding_model", config.EmbeddingModel)
	return &OpenAIService{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GenerateResponse produces a completion via /chat/completions.
func (s *OpenAIService) GenerateResponse(ctx context.Context, prompt string) (string, error) {
	var resp openAIChatResponse
	if err := s.post(ctx, "/chat/completions", openAIChatRequest{
		Model:       s.config.Model,
		Messages:    []openAIMessage{{Role: "user", Content: prompt}},
		Temperature: s.config.Temperature,
		MaxTokens:   s.config.MaxTokens,
	}, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("openai chat: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateJSON produces a completion and parses it as a JSON object.
func (s *OpenAIService) GenerateJSON(ctx context.Context, prompt string) (map[string]any, error) {
	raw, err := s.GenerateResponse(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return ParseJSONObject(raw)
}

// GenerateEmbedding converts text to a vector via /embeddings.
func (s *OpenAIService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	var resp openAIEmbedResponse
	if err := s.post(ctx, "/embeddings", openAIEmbedRequest{
		Model: s.config.EmbeddingModel,
		Input: text,
	}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("openai embed: %s", resp.Error.Message)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai embed: empty embedding for model %s", s.config.EmbeddingModel)
	}
	return resp.Data[0].Embedding, nil
}

func (s *OpenAIService) post(ctx context.Context, path string, body, out any) error {
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
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai API error (status %d): %s", resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse openai response: %w", err)
	}
	return nil
}

// Model returns the generation model identifier.
func (s *OpenAIService) Model() string { return s.config.Model }

// EmbeddingModel returns the embedding model identifier.
func (s *OpenAIService) EmbeddingModel() string { return s.config.EmbeddingModel }

// Dimension returns the embedding vector dimension.
func (s *OpenAIService) Dimension() int { return s.config.Dimension }

// Close releases provider resources.
func (s *OpenAIService) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
