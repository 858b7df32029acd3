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
	"strings"

	"github.com/kadirpekel/mend/pkg/llm"
)

// FallbackRBACTag partitions documents whose classification failed.
const FallbackRBACTag = "rbac:generic:viewer"

// Classification is the structured access-control assessment of a
// document.
type Classification struct {
	Intent      string   `json:"intent"`
	Department  string   `json:"department"`
	Roles       []string `json:"required_roles"`
	Sensitivity string   `json:"sensitivity"`
	Keywords    []string `json:"keywords"`
}

// RBACTags renders rbac:dept:{d}:role:{r} tags, one per required role.
func (c Classification) RBACTags() []string {
	if c.Department == "" || len(c.Roles) == 0 {
		return []string{FallbackRBACTag}
	}
	tags := make([]string, 0, len(c.Roles))
	for _, role := range c.Roles {
		tags = append(tags, fmt.Sprintf("rbac:dept:%s:role:%s",
			strings.ToLower(c.Department), strings.ToLower(role)))
	}
	return tags
}

// MetaTags renders meta:intent and meta:sensitivity tags.
func (c Classification) MetaTags() []string {
	var tags []string
	if c.Intent != "" {
		tags = append(tags, "meta:intent:"+strings.ToLower(c.Intent))
	}
	if c.Sensitivity != "" {
		tags = append(tags, "meta:sensitivity:"+strings.ToLower(c.Sensitivity))
	}
	return tags
}

// Namespace returns the primary RBAC tag used as the vector-store
// partition for this document.
func (c Classification) Namespace() string {
	return c.RBACTags()[0]
}

// Classifier assigns access-control classifications through the LLM.
type Classifier struct {
	llm llm.Service
}

// NewClassifier creates a classifier on top of an LLM service.
func NewClassifier(svc llm.Service) *Classifier {
	return &Classifier{llm: svc}
}

// Classify analyzes document text. LLM or parse failure degrades to the
// generic fallback classification; the error is returned for recording
// but the classification is always usable.
func (c *Classifier) Classify(ctx context.Context, text string) (Classification, error) {
	fallback := Classification{}

	if c == nil || c.llm == nil {
		return fallback, fmt.Errorf("classifier has no LLM service")
	}

	prompt := fmt.Sprintf(`Classify this document for access control.

Document:
%s

Return only JSON:
{"intent": "<one word>", "department": "<department>", "required_roles": ["<role>", ...], "sensitivity": "public|internal|confidential|restricted", "keywords": ["<kw>", ...]}`,
		truncate(text, 2000))

	obj, err := c.llm.GenerateJSON(ctx, prompt)
	if err != nil {
		slog.Warn("Document classification failed, using generic namespace", "error", err)
		return fallback, fmt.Errorf("classification failed: %w", err)
	}

	cls := Classification{
		Intent:      stringField(obj, "intent"),
		Department:  stringField(obj, "department"),
		Roles:       stringSlice(obj, "required_roles"),
		Sensitivity: stringField(obj, "sensitivity"),
		Keywords:    stringSlice(obj, "keywords"),
	}
	return cls, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func stringField(obj map[string]any, key string) string {
	if v, ok := obj[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func stringSlice(obj map[string]any, key string) []string {
	raw, ok := obj[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
