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

// Package guardrails validates generated answers before user exposure.
// Pattern checks cover PII, credentials, and injection-shaped SQL; PII and
// credential matches are redacted in place. Optional semantic checks run
// through the LLM and fail open.
package guardrails

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// RiskLevel orders safety classifications from benign to blocking.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

// String returns the canonical name of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskSafe:
		return "SAFE"
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	case RiskCritical:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

// Violation is one pattern or semantic check failure.
type Violation struct {
	Check   string    `json:"check"`
	Risk    RiskLevel `json:"risk"`
	Message string    `json:"message"`
}

// Result is the outcome of a validation sweep.
type Result struct {
	IsSafe         bool        `json:"is_safe"`
	SafetyLevel    string      `json:"safety_level"`
	PIIDetected    bool        `json:"pii_detected"`
	InputErrors    []Violation `json:"input_errors"`
	OutputErrors   []Violation `json:"output_errors"`
	FilteredOutput string      `json:"filtered_output"`
	Message        string      `json:"message"`
}

// pattern is one static check: a compiled regexp, its risk level, and
// whether matches get redacted.
type pattern struct {
	name   string
	re     *regexp.Regexp
	risk   RiskLevel
	redact bool
}

var staticPatterns = []pattern{
	{
		name:   "pii_email",
		re:     regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		risk:   RiskHigh,
		redact: true,
	},
	{
		name:   "pii_phone",
		re:     regexp.MustCompile(`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`),
		risk:   RiskHigh,
		redact: true,
	},
	{
		name:   "pii_ssn",
		re:     regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		risk:   RiskCritical,
		redact: true,
	},
	{
		name:   "pii_credit_card",
		re:     regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),
		risk:   RiskCritical,
		redact: true,
	},
	{
		name:   "credentials",
		re:     regexp.MustCompile(`(?i)(api[_-]?key|password|token|secret|credential)[\s:=]+\S+`),
		risk:   RiskCritical,
		redact: true,
	},
	{
		name: "sql_injection",
		// whitespace inside fragments may span line breaks
		re:   regexp.MustCompile(`(?is)(\bUNION\b|\bSELECT\b.*\bWHERE\b|\bDROP\b.*\bTABLE\b)`),
		risk: RiskMedium,
	},
}

const redactedPlaceholder = "[REDACTED]"

// Engine runs guardrail validation sweeps.
type Engine struct {
	semantic *SemanticChecker
}

// NewEngine creates a guardrails engine. The semantic checker is
// optional; pass nil for pattern-only validation.
func NewEngine(semantic *SemanticChecker) *Engine {
	return &Engine{semantic: semantic}
}

// Validate sweeps the generated answer (and optionally the originating
// question) with the static patterns and, when configured, the semantic
// checks. PII and credential matches are redacted in FilteredOutput.
func (e *Engine) Validate(ctx context.Context, question, answer string, sourceContext []string) Result {
	result := Result{
		IsSafe:         true,
		SafetyLevel:    RiskSafe.String(),
		FilteredOutput: answer,
	}

	result.InputErrors = sweep(question, nil)

	result.OutputErrors = sweep(answer, &result.FilteredOutput)
	for _, v := range result.OutputErrors {
		if strings.HasPrefix(v.Check, "pii_") {
			result.PIIDetected = true
		}
	}

	if e != nil && e.semantic != nil {
		result.OutputErrors = append(result.OutputErrors,
			e.semantic.Check(ctx, question, answer, sourceContext)...)
	}

	max := RiskSafe
	for _, v := range append(result.InputErrors, result.OutputErrors...) {
		if v.Risk > max {
			max = v.Risk
		}
	}
	result.SafetyLevel = max.String()
	result.IsSafe = max < RiskHigh

	switch {
	case max == RiskSafe:
		result.Message = "Response passed all guardrail checks."
	case result.IsSafe:
		result.Message = fmt.Sprintf("Response flagged at %s risk; returned with warnings.", max)
	default:
		result.Message = fmt.Sprintf("Response flagged at %s risk; sensitive content redacted.", max)
	}

	return result
}

// sweep applies the static patterns to text. When filtered is non-nil,
// redacting patterns rewrite matches in place.
func sweep(text string, filtered *string) []Violation {
	if text == "" {
		return nil
	}

	var violations []Violation
	for _, p := range staticPatterns {
		matches := p.re.FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}
		violations = append(violations, Violation{
			Check:   p.name,
			Risk:    p.risk,
			Message: fmt.Sprintf("%s matched %d time(s)", p.name, len(matches)),
		})
		if p.redact && filtered != nil {
			*filtered = p.re.ReplaceAllString(*filtered, redactedPlaceholder)
		}
	}
	return violations
}
