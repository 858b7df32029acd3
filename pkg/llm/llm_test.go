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
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONObject(t *testing.T) {
	t.Run("plain object", func(t *testing.T) {
		obj, err := ParseJSONObject(`{"title": "Q3 Report", "doc_type": "report"}`)
		require.NoError(t, err)
		assert.Equal(t, "Q3 Report", obj["title"])
	})

	t.Run("object wrapped in prose and fences", func(t *testing.T) {
		raw := "Here is the metadata:\n```json\n{\"keywords\": [\"a\", \"b\"]}\n```\nDone."
		obj, err := ParseJSONObject(raw)
		require.NoError(t, err)
		assert.Len(t, obj["keywords"], 2)
	})

	t.Run("no object", func(t *testing.T) {
		_, err := ParseJSONObject("I cannot answer that.")
		assert.Error(t, err)
	})

	t.Run("malformed object", func(t *testing.T) {
		_, err := ParseJSONObject(`{"title": unquoted}`)
		assert.Error(t, err)
	})
}

func TestOllamaService(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/generate":
			w.Write([]byte(`{"response": "{\"answer\": \"42\"}"}`))
		case "/api/embed":
			w.Write([]byte(`{"embeddings": [[0.1, 0.2, 0.3]]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	svc := NewOllamaService(OllamaConfig{BaseURL: server.URL, Model: "llama3"})

	t.Run("generate response", func(t *testing.T) {
		out, err := svc.GenerateResponse(context.Background(), "question")
		require.NoError(t, err)
		assert.Contains(t, out, "42")
	})

	t.Run("generate JSON", func(t *testing.T) {
		obj, err := svc.GenerateJSON(context.Background(), "question")
		require.NoError(t, err)
		assert.Equal(t, "42", obj["answer"])
	})

	t.Run("generate embedding", func(t *testing.T) {
		vec, err := svc.GenerateEmbedding(context.Background(), "hello")
		require.NoError(t, err)
		assert.Len(t, vec, 3)
	})

	t.Run("defaults", func(t *testing.T) {
		assert.Equal(t, "nomic-embed-text", svc.EmbeddingModel())
		assert.Equal(t, 768, svc.Dimension())
	})
}

func TestOllamaServiceErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "model not found"}`))
	}))
	defer server.Close()

	svc := NewOllamaService(OllamaConfig{BaseURL: server.URL})

	_, err := svc.GenerateResponse(context.Background(), "question")
	assert.ErrorContains(t, err, "status 500")

	_, err = svc.GenerateEmbedding(context.Background(), "hello")
	assert.Error(t, err)
}

func TestOpenAIService(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/chat/completions":
			w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "hello"}}]}`))
		case "/embeddings":
			w.Write([]byte(`{"data": [{"embedding": [0.5, 0.5]}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	svc, err := NewOpenAIService(OpenAIConfig{BaseURL: server.URL, APIKey: "test-key"})
	require.NoError(t, err)

	t.Run("generate response", func(t *testing.T) {
		out, err := svc.GenerateResponse(context.Background(), "hi")
		require.NoError(t, err)
		assert.Equal(t, "hello", out)
	})

	t.Run("generate embedding", func(t *testing.T) {
		vec, err := svc.GenerateEmbedding(context.Background(), "hi")
		require.NoError(t, err)
		assert.Len(t, vec, 2)
	})

	t.Run("missing API key rejected", func(t *testing.T) {
		_, err := NewOpenAIService(OpenAIConfig{})
		assert.ErrorContains(t, err, "API key is required")
	})
}

func TestLoadService(t *testing.T) {
	t.Run("missing file falls back to ollama", func(t *testing.T) {
		svc, err := LoadService(filepath.Join(t.TempDir(), "nope.json"))
		require.NoError(t, err)
		assert.Equal(t, "llama3", svc.Model())
	})

	t.Run("config file selects provider", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "llm_config.json")
		cfg := `{
			"default_provider": "local",
			"llm_providers": {
				"local": {"type": "ollama", "enabled": true, "model": "mistral", "embedding_model": "mistral"}
			}
		}`
		require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

		svc, err := LoadService(path)
		require.NoError(t, err)
		assert.Equal(t, "mistral", svc.Model())
		assert.Equal(t, 4096, svc.Dimension())
	})

	t.Run("invalid JSON rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "llm_config.json")
		require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))

		_, err := LoadService(path)
		assert.Error(t, err)
	})
}
