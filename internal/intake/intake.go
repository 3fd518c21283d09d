// Package intake implements C7, the single write path into the queue.
//
// Grounded on the teacher's internal/usecase/evaluate.go's Enqueue
// (validate → Store call → structured log), simplified to this spec's one
// function and one request type (spec.md §4.7 names "enqueue_chat" as the
// only write path; chat is the only request type with a concrete adapter).
package intake

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/baker-compliant-ai/bakerbroker/internal/domain"
	"github.com/baker-compliant-ai/bakerbroker/internal/observability"
	"github.com/baker-compliant-ai/bakerbroker/pkg/textx"
)

// minPriority and maxPriority bound the silent clamp spec.md §4.7 requires.
const (
	minPriority = 1
	maxPriority = 10
)

// Enqueuer is the narrow write-path port the intake service needs. The
// broker satisfies it directly.
type Enqueuer interface {
	Enqueue(ctx domain.Context, r domain.Request) (string, error)
}

// Service is the concrete C7 Intake API.
type Service struct {
	queue Enqueuer
}

// New constructs a Service over the given Enqueuer.
func New(queue Enqueuer) *Service {
	return &Service{queue: queue}
}

// ChatRequest bundles the fields a chat enqueue needs beyond the bare
// spec.md §4.7 signature — thread_id and custom_gpt_id are hoisted onto
// inference_queue's own columns (schema.go), not buried in input_data, so
// the intake layer needs them to populate the Request it inserts.
type ChatRequest struct {
	UserID          string
	CustomGPTID     string
	ThreadID        string
	Message         string
	ContextMessages []string
	Attachments     []domain.Attachment
	Priority        int
}

// EnqueueChat validates the request, clamps priority silently into
// [1,10], and inserts a pending row. It is the only write path into the
// queue (spec.md §4.7).
func (s *Service) EnqueueChat(ctx domain.Context, req ChatRequest) (string, error) {
	tr := otel.Tracer("intake")
	ctx, span := tr.Start(ctx, "intake.EnqueueChat")
	defer span.End()

	log := observability.LoggerFromContext(ctx)

	if req.UserID == "" || req.CustomGPTID == "" || req.ThreadID == "" || req.Message == "" {
		log.Error("enqueue chat rejected: missing required field",
			slog.String("user_id", req.UserID), slog.String("custom_gpt_id", req.CustomGPTID), slog.String("thread_id", req.ThreadID))
		return "", fmt.Errorf("op=intake.EnqueueChat: %w: user_id, custom_gpt_id, thread_id, and message are required", domain.ErrValidation)
	}

	priority := clampPriority(req.Priority)

	contextMessages := make([]string, len(req.ContextMessages))
	for i, m := range req.ContextMessages {
		contextMessages[i] = textx.SanitizeText(m)
	}

	id, err := s.queue.Enqueue(ctx, domain.Request{
		UserID:      req.UserID,
		CustomGPTID: req.CustomGPTID,
		ThreadID:    req.ThreadID,
		RequestType: domain.RequestTypeChat,
		InputData: domain.ChatInput{
			Message:         textx.SanitizeText(req.Message),
			ContextMessages: contextMessages,
			Attachments:     req.Attachments,
		},
		Priority: priority,
		Status:   domain.StatusPending,
	})
	if err != nil {
		log.Error("enqueue chat failed", slog.Any("error", err), slog.String("user_id", req.UserID))
		return "", fmt.Errorf("op=intake.EnqueueChat: %w", err)
	}

	observability.RequestsEnqueuedTotal.WithLabelValues(string(domain.RequestTypeChat)).Inc()
	log.Info("chat request enqueued", slog.String("request_id", id), slog.String("user_id", req.UserID), slog.Int("priority", priority))
	return id, nil
}

func clampPriority(p int) int {
	if p < minPriority {
		return minPriority
	}
	if p > maxPriority {
		return maxPriority
	}
	return p
}
