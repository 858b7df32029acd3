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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCleanAnswer(t *testing.T) {
	e := NewEngine(nil)
	result := e.Validate(context.Background(), "What is the capital of France?",
		"The capital of France is Paris.", nil)

	assert.True(t, result.IsSafe)
	assert.Equal(t, "SAFE", result.SafetyLevel)
	assert.False(t, result.PIIDetected)
	assert.Empty(t, result.OutputErrors)
	assert.Equal(t, "The capital of France is Paris.", result.FilteredOutput)
}

func TestValidateRedaction(t *testing.T) {
	e := NewEngine(nil)

	t.Run("password and email redacted", func(t *testing.T) {
		result := e.Validate(context.Background(), "what are my credentials",
			"Your password: hunter2 and email foo@bar.com", nil)

		assert.False(t, result.IsSafe)
		assert.Contains(t, []string{"HIGH", "CRITICAL"}, result.SafetyLevel)
		assert.True(t, result.PIIDetected)
		assert.NotContains(t, result.FilteredOutput, "hunter2")
		assert.NotContains(t, result.FilteredOutput, "foo@bar.com")
		assert.Contains(t, result.FilteredOutput, "[REDACTED]")
	})

	t.Run("ssn is critical", func(t *testing.T) {
		result := e.Validate(context.Background(), "",
			"The SSN on file is 123-45-6789.", nil)
		assert.Equal(t, "CRITICAL", result.SafetyLevel)
		assert.True(t, result.PIIDetected)
		assert.NotContains(t, result.FilteredOutput, "123-45-6789")
	})

	t.Run("credit card with mixed separators", func(t *testing.T) {
		result := e.Validate(context.Background(), "",
			"Card number 4111 1111-1111 1111 expires soon.", nil)
		assert.Equal(t, "CRITICAL", result.SafetyLevel)
		assert.NotContains(t, result.FilteredOutput, "4111")
	})

	t.Run("phone number", func(t *testing.T) {
		result := e.Validate(context.Background(), "",
			"Call 555-123-4567 for details.", nil)
		assert.Equal(t, "HIGH", result.SafetyLevel)
		assert.False(t, result.IsSafe)
		assert.NotContains(t, result.FilteredOutput, "555-123-4567")
	})
}

func TestValidateSQLInjection(t *testing.T) {
	e := NewEngine(nil)

	t.Run("select-where fragment is medium risk", func(t *testing.T) {
		result := e.Validate(context.Background(), "",
			"Run SELECT * FROM users\nWHERE role = 'admin' to list admins.", nil)
		assert.Equal(t, "MEDIUM", result.SafetyLevel)
		// Medium risk is surfaced but not redacted or blocking.
		assert.True(t, result.IsSafe)
		assert.Contains(t, result.FilteredOutput, "SELECT")
	})

	t.Run("drop table", func(t *testing.T) {
		result := e.Validate(context.Background(), "",
			"Then DROP the audit TABLE.", nil)
		require.Len(t, result.OutputErrors, 1)
		assert.Equal(t, "sql_injection", result.OutputErrors[0].Check)
	})
}

func TestValidateInputSweep(t *testing.T) {
	e := NewEngine(nil)
	result := e.Validate(context.Background(),
		"my api_key = sk-abc123, is it valid?", "I cannot verify keys.", nil)

	require.NotEmpty(t, result.InputErrors)
	assert.Equal(t, "credentials", result.InputErrors[0].Check)
	// Input violations classify the response but only output is filtered.
	assert.Equal(t, "CRITICAL", result.SafetyLevel)
	assert.Equal(t, "I cannot verify keys.", result.FilteredOutput)
}

func TestRiskLevelOrdering(t *testing.T) {
	assert.True(t, RiskCritical > RiskHigh)
	assert.True(t, RiskHigh > RiskMedium)
	assert.True(t, RiskMedium > RiskLow)
	assert.True(t, RiskLow > RiskSafe)
	assert.Equal(t, "CRITICAL", RiskCritical.String())
}

func TestContextCoverage(t *testing.T) {
	sources := []string{"The capital of France is Paris. It is known for the Eiffel Tower."}

	t.Run("grounded answer", func(t *testing.T) {
		c := contextCoverage("The capital of France is Paris.", sources)
		assert.Greater(t, c, groundingThreshold)
	})

	t.Run("fabricated answer", func(t *testing.T) {
		c := contextCoverage("Quarterly revenue exceeded projections across every segment.", sources)
		assert.Less(t, c, groundingThreshold)
	})

	t.Run("empty answer counts as covered", func(t *testing.T) {
		assert.Equal(t, 1.0, contextCoverage("", sources))
	})
}

func TestSemanticCheckerHeuristicOnly(t *testing.T) {
	// A checker without an LLM still runs the overlap heuristic.
	c := NewSemanticChecker(nil)
	violations := c.Check(context.Background(), "revenue?",
		"Quarterly revenue exceeded projections across every segment.",
		[]string{"The capital of France is Paris."})

	require.Len(t, violations, 1)
	assert.Equal(t, "hallucination_heuristic", violations[0].Check)
	assert.Equal(t, RiskMedium, violations[0].Risk)
}

func TestPatternsSpanWhitespace(t *testing.T) {
	e := NewEngine(nil)
	result := e.Validate(context.Background(), "",
		"password :\tsupersecret", nil)
	assert.Equal(t, "CRITICAL", result.SafetyLevel)
	assert.NotContains(t, result.FilteredOutput, "supersecret")
}
