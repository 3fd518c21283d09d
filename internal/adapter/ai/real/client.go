// Package real implements domain.InferenceAdapter against an OpenAI-compatible
// chat-completions HTTP backend.
package real

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	aiadapter "github.com/baker-compliant-ai/bakerbroker/internal/adapter/ai"
	"github.com/baker-compliant-ai/bakerbroker/internal/adapter/ai/tokencount"
	"github.com/baker-compliant-ai/bakerbroker/internal/config"
	"github.com/baker-compliant-ai/bakerbroker/internal/domain"
	"github.com/baker-compliant-ai/bakerbroker/internal/observability"
)

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

const (
	maxOutputTokens = 4096
	maxInputTokens  = 8192
	hardTimeout     = 180 * time.Second
)

// Client calls a single configured chat-completions endpoint
// (cfg.BackendBaseURL/cfg.ChatModel). Within one Infer call, network
// failures and 5xx responses are retried with exponential backoff (see
// callWithBackoff); once that gives up, the failure is returned wrapped in
// domain.ErrBackendTransient and the dispatcher, which owns the retry budget
// across attempts, decides whether to try again (spec.md §4.4, §4.6).
type Client struct {
	cfg     config.Config
	hc      *http.Client
	breaker *observability.CircuitBreaker
}

// New constructs a real inference adapter with the backend timeout from cfg,
// capped at the 180s hard timeout spec.md §4.4 mandates. A per-backend
// circuit breaker short-circuits calls once the backend has failed 5 times
// in a row, giving it 30s to recover before trial half-open requests resume
// — distinct from the dispatcher's cycle-level consecutive-exception
// breaker (spec.md §4.6), which trips on exceptions across claims rather
// than HTTP calls to one backend.
func New(cfg config.Config) *Client {
	timeout := cfg.BackendTimeout
	if timeout <= 0 || timeout > hardTimeout {
		timeout = hardTimeout
	}
	return &Client{
		cfg: cfg,
		hc: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return fmt.Sprintf("inference %s %s", r.Method, r.URL.Host)
				}),
			),
		},
		breaker: observability.NewCircuitBreaker(5, 30*time.Second, 0.5),
	}
}

var _ domain.InferenceAdapter = (*Client)(nil)

type chatCompletionRequest struct {
	Model       string              `json:"model"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float64             `json:"temperature"`
	Messages    []chatCompletionMsg `json:"messages"`
}

type chatCompletionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Infer builds the prompt, calls the backend through callWithBackoff (which
// repeats only transient network/5xx failures; retrying a failed attempt is
// the dispatcher's job), and scores the response per spec.md §4.4.
func (c *Client) Infer(ctx domain.Context, req domain.InferRequest) (domain.InferResult, error) {
	systemPrompt := aiadapter.SystemPromptFor(req.Specialization)
	userPrompt := aiadapter.BuildPrompt(req.SystemPrompt, req.ContextMessages, req.Message)

	inputTokens, err := tokencount.CountTokensDefault(systemPrompt+userPrompt, c.cfg.ChatModel)
	if err != nil {
		inputTokens = len(systemPrompt+userPrompt) / 4
	}
	if inputTokens > maxInputTokens {
		return domain.InferResult{}, fmt.Errorf("op=real.Infer: %w: input exceeds %d tokens", domain.ErrBackendUsageLimit, maxInputTokens)
	}

	body := chatCompletionRequest{
		Model:       c.cfg.ChatModel,
		MaxTokens:   maxOutputTokens,
		Temperature: 0.3,
		Messages: []chatCompletionMsg{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.InferResult{}, fmt.Errorf("op=real.Infer: %w: %v", domain.ErrBackendMisbehaviour, err)
	}

	if !c.breaker.CanExecute() {
		return domain.InferResult{}, fmt.Errorf("op=real.Infer: %w: backend circuit breaker open", domain.ErrBackendTransient)
	}

	callCtx := ctx
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	content, usage, err := c.callWithBackoff(callCtx, payload, systemPrompt, userPrompt)
	if err != nil {
		if errors.Is(err, domain.ErrBackendTransient) || errors.Is(err, domain.ErrBackendMisbehaviour) {
			c.breaker.RecordFailure()
		}
		return domain.InferResult{}, err
	}
	c.breaker.RecordSuccess()

	confidence := aiadapter.ConfidenceFor(req.Specialization)
	secCompliant := aiadapter.IsSECCompliant(content)
	humanReviewRequired := aiadapter.HumanReviewRequired(confidence, req.Specialization)
	meta := domain.ResponseMetadata{
		ModelUsed:           c.cfg.ChatModel,
		Confidence:          confidence,
		HumanReviewRequired: humanReviewRequired,
		SecCompliant:        secCompliant,
		ComplianceFlags:     aiadapter.ComplianceFlagsFor(secCompliant, humanReviewRequired),
		InputTokens:         usage.PromptTokens,
		OutputTokens:        usage.CompletionTokens,
		ToolInteractions:    aiadapter.ToolInteractionsFor(req.Specialization, req.ToolsEnabled),
	}

	return domain.InferResult{Content: content, Metadata: meta}, nil
}

// callWithBackoff performs the HTTP call, retrying only transient
// network/connection errors with exponential backoff — never logical
// adapter failures (those propagate to the dispatcher untouched).
func (c *Client) callWithBackoff(ctx context.Context, payload []byte, systemPrompt, userPrompt string) (string, struct{ PromptTokens, CompletionTokens int }, error) {
	var content string
	var usage struct{ PromptTokens, CompletionTokens int }

	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = 15 * time.Second
	expo.InitialInterval = 200 * time.Millisecond
	expo.MaxInterval = 2 * time.Second
	bo := backoff.WithContext(expo, ctx)

	op := func() error {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BackendBaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("op=real.callWithBackoff: %w: %v", domain.ErrBackendMisbehaviour, err))
		}
		r.Header.Set("Content-Type", "application/json")

		resp, err := c.hc.Do(r)
		if err != nil {
			// Network-level failure: transient, retry.
			return fmt.Errorf("op=real.callWithBackoff: %w: %v", domain.ErrBackendTransient, err)
		}
		defer func() { _ = resp.Body.Close() }()

		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("op=real.callWithBackoff: %w: %v", domain.ErrBackendTransient, err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return backoff.Permanent(fmt.Errorf("op=real.callWithBackoff: %w", domain.ErrBackendUsageLimit))
		case resp.StatusCode >= 500:
			return fmt.Errorf("op=real.callWithBackoff: %w: status %d", domain.ErrBackendTransient, resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("op=real.callWithBackoff: %w: status %d: %s", domain.ErrBackendMisbehaviour, resp.StatusCode, bodyBytes))
		}

		var out chatCompletionResponse
		if err := json.Unmarshal(bodyBytes, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("op=real.callWithBackoff: %w: %v", domain.ErrBackendMisbehaviour, err))
		}
		if out.Error != nil {
			return backoff.Permanent(fmt.Errorf("op=real.callWithBackoff: %w: %s", domain.ErrBackendMisbehaviour, out.Error.Message))
		}
		if len(out.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("op=real.callWithBackoff: %w: empty choices", domain.ErrBackendMisbehaviour))
		}

		content = out.Choices[0].Message.Content
		usage.PromptTokens = out.Usage.PromptTokens
		usage.CompletionTokens = out.Usage.CompletionTokens
		if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
			// Backend omitted usage accounting: fall back to tiktoken-based
			// estimation, the same chat-message-overhead formula the counter
			// uses for a provider that never returns usage.
			if est, estErr := tokencount.CalculateUsageDefault(systemPrompt, userPrompt, content, c.cfg.ChatModel, "real"); estErr == nil {
				usage.PromptTokens = est.PromptTokens
				usage.CompletionTokens = est.CompletionTokens
			}
		}
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		return "", usage, err
	}
	return content, usage, nil
}
