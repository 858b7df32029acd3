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

package guardrails

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/mend/pkg/llm"
)

// groundingThreshold is the minimum fraction of answer words that must
// appear in the source context before the overlap heuristic flags a
// possible hallucination.
const groundingThreshold = 0.3

// SemanticChecker runs LLM-backed answer quality checks: hallucination,
// accuracy, tone, and completeness. All checks fail open — an LLM error
// or malformed response never blocks an answer.
type SemanticChecker struct {
	llm llm.Service
}

// NewSemanticChecker creates a semantic checker on top of an LLM service.
func NewSemanticChecker(svc llm.Service) *SemanticChecker {
	return &SemanticChecker{llm: svc}
}

// Check evaluates the answer against the question and its source
// context. Returned violations are advisory (LOW/MEDIUM risk).
func (c *SemanticChecker) Check(ctx context.Context, question, answer string, sourceContext []string) []Violation {
	var violations []Violation

	// Cheap word-overlap grounding check runs regardless of LLM health.
	if len(sourceContext) > 0 {
		if coverage := contextCoverage(answer, sourceContext); coverage < groundingThreshold {
			violations = append(violations, Violation{
				Check:   "hallucination_heuristic",
				Risk:    RiskMedium,
				Message: fmt.Sprintf("answer shares only %.0f%% of its terms with retrieved context", coverage*100),
			})
		}
	}

	if c == nil || c.llm == nil {
		return violations
	}

	prompt := fmt.Sprintf(`Evaluate this answer for quality issues.

Question: %s

Answer: %s

Context:
%s

Return only JSON: {"hallucination": bool, "accuracy": float 0-1, "tone_issue": bool, "complete": bool}`,
		question, answer, strings.Join(sourceContext, "\n---\n"))

	verdict, err := c.llm.GenerateJSON(ctx, prompt)
	if err != nil {
		// Fail open: semantic checks never block an answer.
		slog.Debug("Semantic guardrail check skipped", "error", err)
		return violations
	}

	if flagged, ok := verdict["hallucination"].(bool); ok && flagged {
		violations = append(violations, Violation{
			Check:   "hallucination",
			Risk:    RiskMedium,
			Message: "model judged the answer unsupported by context",
		})
	}
	if accuracy, ok := verdict["accuracy"].(float64); ok && accuracy < 0.5 {
		violations = append(violations, Violation{
			Check:   "accuracy",
			Risk:    RiskLow,
			Message: fmt.Sprintf("model rated accuracy %.2f", accuracy),
		})
	}
	if toneIssue, ok := verdict["tone_issue"].(bool); ok && toneIssue {
		violations = append(violations, Violation{
			Check:   "tone",
			Risk:    RiskLow,
			Message: "model flagged an inappropriate tone",
		})
	}
	if complete, ok := verdict["complete"].(bool); ok && !complete {
		violations = append(violations, Violation{
			Check:   "completeness",
			Risk:    RiskLow,
			Message: "model judged the answer incomplete",
		})
	}

	return violations
}

// contextCoverage computes the fraction of words in the answer that also
// occur in the source context. Short connective words are skipped.
func contextCoverage(answer string, sourceContext []string) float64 {
	contextWords := make(map[string]bool)
	for _, chunk := range sourceContext {
		for _, w := range strings.Fields(strings.ToLower(chunk)) {
			contextWords[strings.Trim(w, ".,!?;:\"'()")] = true
		}
	}

	var total, covered int
	for _, w := range strings.Fields(strings.ToLower(answer)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) <= 3 {
			continue
		}
		total++
		if contextWords[w] {
			covered++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(covered) / float64(total)
}
