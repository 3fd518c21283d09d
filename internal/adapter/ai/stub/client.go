// Package stub implements domain.InferenceAdapter deterministically, for
// tests and for local runs without a configured backend_base_url.
package stub

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"time"

	aiadapter "github.com/baker-compliant-ai/bakerbroker/internal/adapter/ai"
	"github.com/baker-compliant-ai/bakerbroker/internal/domain"
)

// Client is a fast, deterministic stand-in for the real backend: same
// prompt-construction and scoring rules, content derived from a sha1-seeded
// LCG over the built prompt instead of a network call.
type Client struct{}

// New constructs a stub inference adapter.
func New() *Client { return &Client{} }

var _ domain.InferenceAdapter = (*Client)(nil)

// Infer returns deterministic content keyed on the prompt's hash, scored with
// the same heuristics the real adapter uses.
func (c *Client) Infer(ctx domain.Context, req domain.InferRequest) (domain.InferResult, error) {
	systemPrompt := aiadapter.SystemPromptFor(req.Specialization)
	userPrompt := aiadapter.BuildPrompt(req.SystemPrompt, req.ContextMessages, req.Message)

	content := deterministicReply(systemPrompt + userPrompt)

	confidence := aiadapter.ConfidenceFor(req.Specialization)
	secCompliant := aiadapter.IsSECCompliant(content)
	humanReviewRequired := aiadapter.HumanReviewRequired(confidence, req.Specialization)
	meta := domain.ResponseMetadata{
		ModelUsed:           "stub-" + string(req.Specialization),
		Confidence:          confidence,
		HumanReviewRequired: humanReviewRequired,
		SecCompliant:        secCompliant,
		ComplianceFlags:     aiadapter.ComplianceFlagsFor(secCompliant, humanReviewRequired),
		InputTokens:         len(systemPrompt+userPrompt) / 4,
		OutputTokens:        len(content) / 4,
		ToolInteractions:    aiadapter.ToolInteractionsFor(req.Specialization, req.ToolsEnabled),
	}

	return domain.InferResult{Content: content, Metadata: meta}, nil
}

// deterministicReply maps a prompt to a fixed-shape response using a
// sha1-seeded linear congruential generator, following the teacher's
// disabled mock.go EvaluateMock/embedDeterministic pattern.
func deterministicReply(prompt string) string {
	h := sha1.Sum([]byte(prompt))
	x := binary.BigEndian.Uint32(h[:4])
	const a, cc = 1664525, 1013904223
	x = a*x + cc
	topic := topicWords[x%uint32(len(topicWords))]
	return fmt.Sprintf("Based on the available information, here is guidance on %s. "+
		"This response was generated in %s for evaluation purposes.", topic, time.Now().UTC().Format("2006"))
}

var topicWords = []string{
	"portfolio rebalancing",
	"retirement income planning",
	"client onboarding compliance",
	"tax-efficient withdrawals",
	"risk-adjusted asset allocation",
	"regulatory disclosure requirements",
}
