// Package httpserver contains HTTP handlers and middleware for the intake
// API — the only externally reachable write path into the queue
// (spec.md §4.7).
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/baker-compliant-ai/bakerbroker/internal/config"
	"github.com/baker-compliant-ai/bakerbroker/internal/domain"
	"github.com/baker-compliant-ai/bakerbroker/internal/intake"
	"github.com/baker-compliant-ai/bakerbroker/internal/service/ratelimiter"
)

// Server aggregates the handler dependencies: the intake service that owns
// the only write path into the queue, plus the checks readiness probes.
type Server struct {
	Cfg         config.Config
	Intake      *intake.Service
	DBCheck     func(ctx context.Context) error
	UserLimiter ratelimiter.Limiter
}

// NewServer constructs an HTTP server with all handlers and checks wired.
// userLimiter may be nil — go-chi/httprate's per-IP limiter in
// internal/app.BuildRouter still applies in that case.
func NewServer(cfg config.Config, svc *intake.Service, dbCheck func(context.Context) error, userLimiter ratelimiter.Limiter) *Server {
	return &Server{Cfg: cfg, Intake: svc, DBCheck: dbCheck, UserLimiter: userLimiter}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// chatRequestBody is the wire shape of POST /v1/chat, grounded on the
// teacher's EvaluateHandler's decode-then-struct-validate pattern.
type chatRequestBody struct {
	UserID          string             `json:"user_id" validate:"required"`
	CustomGPTID     string             `json:"custom_gpt_id" validate:"required"`
	ThreadID        string             `json:"thread_id" validate:"required"`
	Message         string             `json:"message" validate:"required,max=10000"`
	ContextMessages []string           `json:"context_messages" validate:"omitempty,dive,max=10000"`
	Attachments     []attachmentBody   `json:"attachments" validate:"omitempty,dive"`
	Priority        int                `json:"priority" validate:"omitempty,min=1,max=10"`
}

// attachmentBody is the wire shape of spec.md §6's input_data.attachments
// entry: metadata only, never the attachment's own content.
type attachmentBody struct {
	ID         string    `json:"id" validate:"required"`
	Name       string    `json:"name" validate:"required"`
	Type       string    `json:"type"`
	Size       int64     `json:"size"`
	URL        string    `json:"url" validate:"required"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// ChatHandler enqueues a chat request (spec.md §4.7's only write path).
func (s *Server) ChatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a := r.Header.Get("Accept"); a != "" && a != "*/*" && !strings.Contains(a, "application/json") {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusNotAcceptable)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "VALIDATION", "message": "not acceptable", "details": map[string]any{"accept": a}}})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB

		var req chatRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrValidation), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrValidation), verrs)
			return
		}

		if s.UserLimiter != nil {
			allowed, retryAfter, err := s.UserLimiter.Allow(r.Context(), "user:"+req.UserID, 1)
			if err == nil && !allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
				writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": map[string]any{"code": "RATE_LIMITED", "message": "per-user rate limit exceeded"}})
				return
			}
		}

		id, err := s.Intake.EnqueueChat(r.Context(), intake.ChatRequest{
			UserID:          req.UserID,
			CustomGPTID:     req.CustomGPTID,
			ThreadID:        req.ThreadID,
			Message:         req.Message,
			ContextMessages: req.ContextMessages,
			Attachments:     toDomainAttachments(req.Attachments),
			Priority:        req.Priority,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"request_id": id, "status": "pending"})
	}
}

func toDomainAttachments(in []attachmentBody) []domain.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.Attachment, len(in))
	for i, a := range in {
		out[i] = domain.Attachment{
			ID:         a.ID,
			Name:       a.Name,
			Type:       a.Type,
			Size:       a.Size,
			URL:        a.URL,
			UploadedAt: a.UploadedAt,
		}
	}
	return out
}

// HealthzHandler reports process liveness unconditionally — it never
// touches the database, unlike ReadyzHandler.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
	}
}

// ReadyzHandler probes the database, the only external dependency an
// intake process needs to accept writes.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		c := check{Name: "db", OK: true}
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				c.OK = false
				c.Details = err.Error()
			}
		}
		status := http.StatusOK
		if !c.OK {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"checks": []check{c}})
	}
}

// MetricsHandler serves the Prometheus exposition format for the metrics
// registered in internal/observability/metrics.go.
func (s *Server) MetricsHandler() http.HandlerFunc {
	return promhttp.Handler().ServeHTTP
}
