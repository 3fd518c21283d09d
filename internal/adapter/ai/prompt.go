// Package ai holds the prompt-construction and response-scoring logic shared
// by the real and stub inference adapters (internal/adapter/ai/real,
// internal/adapter/ai/stub).
package ai

import (
	"fmt"
	"strings"

	"github.com/baker-compliant-ai/bakerbroker/internal/domain"
)

// systemPrompts mirrors original_source/inference/src/agents/chat_agent.py's
// _get_system_prompt base_prompts table, condensed to the operative
// sentence per specialization; "general" is the fallback for anything else.
var systemPrompts = map[domain.Specialization]string{
	domain.SpecializationCRM: "You are an expert CRM assistant for financial advisors: client relationship " +
		"management, portfolio insights, and SEC-compliant client communication.",
	domain.SpecializationPortfolio: "You are an expert portfolio analysis assistant: asset allocation, risk " +
		"assessment, and performance attribution, compliant with SEC and FINRA guidelines.",
	domain.SpecializationCompliance: "You are an expert compliance officer assistant: SEC regulations, FINRA " +
		"guidelines, audit trails, and investment recommendation compliance review.",
	domain.SpecializationGeneral: "You are a comprehensive financial advisory assistant spanning client " +
		"relationship management, portfolio analysis, and regulatory compliance.",
	domain.SpecializationRetirement: "You are an expert retirement planning specialist: income strategies, " +
		"Social Security optimization, and tax-efficient withdrawal planning.",
	domain.SpecializationTax: "You are an expert tax planning specialist: tax optimization, estate and gift " +
		"tax planning, and investment tax efficiency.",
}

// SystemPromptFor returns the base system prompt for a specialization,
// falling back to the general template for anything unrecognized.
func SystemPromptFor(s domain.Specialization) string {
	if p, ok := systemPrompts[s]; ok {
		return p
	}
	return systemPrompts[domain.SpecializationGeneral]
}

const (
	systemInstructionLimit = 200
	contextMessageLimit    = 100
	contextMessagesUsed    = 2
)

// BuildPrompt concatenates truncated system instructions, the last two
// context messages (each truncated), the current user message, and a
// terminal instruction — the same order as _build_conversation_prompt in
// original_source/inference/src/agents/chat_agent.py.
func BuildPrompt(customInstructions string, contextMessages []string, userMessage string) string {
	var b strings.Builder

	if ci := truncate(customInstructions, systemInstructionLimit); ci != "" {
		fmt.Fprintf(&b, "Instructions: %s\n", ci)
	}

	start := 0
	if len(contextMessages) > contextMessagesUsed {
		start = len(contextMessages) - contextMessagesUsed
	}
	for _, msg := range contextMessages[start:] {
		fmt.Fprintf(&b, "%s\n", truncate(msg, contextMessageLimit))
	}

	fmt.Fprintf(&b, "User: %s\n", userMessage)
	b.WriteString("Respond briefly and helpfully:")
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ConfidenceFor returns the heuristic confidence score for a specialization
// per spec.md §4.4: 0.75 for compliance, 0.80 for crm/portfolio, 0.85
// otherwise.
func ConfidenceFor(s domain.Specialization) float64 {
	switch s {
	case domain.SpecializationCompliance:
		return 0.75
	case domain.SpecializationCRM, domain.SpecializationPortfolio:
		return 0.80
	default:
		return 0.85
	}
}

// prohibitedPhrases forces sec_compliant=false when present in the response
// content, per spec.md §4.4 and chat_agent.py's _check_sec_compliance.
var prohibitedPhrases = []string{"guaranteed returns", "risk-free"}

// IsSECCompliant reports whether content avoids every prohibited phrase.
func IsSECCompliant(content string) bool {
	lower := strings.ToLower(content)
	for _, phrase := range prohibitedPhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}
	return true
}

// HumanReviewRequired implements spec.md §4.4's rule:
// confidence < 0.7 OR specialization == compliance.
func HumanReviewRequired(confidence float64, s domain.Specialization) bool {
	return confidence < 0.7 || s == domain.SpecializationCompliance
}

// ComplianceFlagsFor derives the response_metadata.compliance_flags list
// (spec.md §8 scenario 6) from the two booleans every adapter already
// computes. Order is SEC first, then human-review, matching the order the
// two checks run in chat_agent.py's response-assembly step.
func ComplianceFlagsFor(secCompliant, humanReviewRequired bool) []string {
	var flags []string
	if !secCompliant {
		flags = append(flags, "SEC_NON_COMPLIANT")
	}
	if humanReviewRequired {
		flags = append(flags, "HUMAN_REVIEW_REQUIRED")
	}
	return flags
}

// knownToolIntegrations are the MCP integrations chat_agent.py's
// mcp_interactions bookkeeping names; a custom GPT's ToolsEnabled is
// matched against this set.
var knownToolIntegrations = map[string]bool{
	"redtail_crm":        true,
	"albridge_portfolio": true,
	"black_diamond":      true,
}

// ToolInteractionsFor synthesizes one ToolInteraction per known integration
// named in toolsEnabled, restricted to crm/portfolio specializations per
// SPEC_FULL's (+) Tool interactions note.
func ToolInteractionsFor(s domain.Specialization, toolsEnabled []string) []domain.ToolInteraction {
	if s != domain.SpecializationCRM && s != domain.SpecializationPortfolio {
		return nil
	}
	var out []domain.ToolInteraction
	for _, t := range toolsEnabled {
		if knownToolIntegrations[t] {
			out = append(out, domain.ToolInteraction{Tool: t, Outcome: "success"})
		}
	}
	return out
}
