package ai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/baker-compliant-ai/bakerbroker/internal/domain"
)

func TestSystemPromptFor_FallsBackToGeneral(t *testing.T) {
	assert.Equal(t, systemPrompts[domain.SpecializationGeneral], SystemPromptFor(domain.Specialization("unknown")))
	assert.NotEqual(t, SystemPromptFor(domain.SpecializationCRM), SystemPromptFor(domain.SpecializationGeneral))
}

func TestBuildPrompt_TruncatesAndOrdersParts(t *testing.T) {
	longInstructions := strings.Repeat("x", 300)
	ctxMsgs := []string{"first message, dropped", "second message " + strings.Repeat("y", 150), "third message"}

	got := BuildPrompt(longInstructions, ctxMsgs, "hello there")

	assert.Contains(t, got, "Instructions: "+strings.Repeat("x", systemInstructionLimit))
	assert.NotContains(t, got, "first message, dropped", "only the last two context messages are kept")
	assert.Contains(t, got, "second message "+strings.Repeat("y", contextMessageLimit-len("second message ")))
	assert.Contains(t, got, "third message")
	assert.Contains(t, got, "User: hello there")
	assert.True(t, strings.HasSuffix(got, "Respond briefly and helpfully:"))
}

func TestConfidenceFor(t *testing.T) {
	assert.Equal(t, 0.75, ConfidenceFor(domain.SpecializationCompliance))
	assert.Equal(t, 0.80, ConfidenceFor(domain.SpecializationCRM))
	assert.Equal(t, 0.80, ConfidenceFor(domain.SpecializationPortfolio))
	assert.Equal(t, 0.85, ConfidenceFor(domain.SpecializationGeneral))
	assert.Equal(t, 0.85, ConfidenceFor(domain.SpecializationTax))
}

func TestIsSECCompliant(t *testing.T) {
	assert.True(t, IsSECCompliant("a balanced, diversified strategy"))
	assert.False(t, IsSECCompliant("This fund offers Guaranteed Returns."))
	assert.False(t, IsSECCompliant("a risk-free investment"))
}

func TestHumanReviewRequired(t *testing.T) {
	assert.True(t, HumanReviewRequired(0.5, domain.SpecializationGeneral))
	assert.True(t, HumanReviewRequired(0.9, domain.SpecializationCompliance))
	assert.False(t, HumanReviewRequired(0.85, domain.SpecializationGeneral))
}

func TestToolInteractionsFor(t *testing.T) {
	assert.Nil(t, ToolInteractionsFor(domain.SpecializationGeneral, []string{"redtail_crm"}))
	assert.Nil(t, ToolInteractionsFor(domain.SpecializationCRM, []string{"unknown_tool"}))

	got := ToolInteractionsFor(domain.SpecializationCRM, []string{"redtail_crm", "unknown_tool", "black_diamond"})
	assert.Equal(t, []domain.ToolInteraction{
		{Tool: "redtail_crm", Outcome: "success"},
		{Tool: "black_diamond", Outcome: "success"},
	}, got)
}
