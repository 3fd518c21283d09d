package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	httpserver "github.com/baker-compliant-ai/bakerbroker/internal/adapter/httpserver"
	"github.com/baker-compliant-ai/bakerbroker/internal/app"
	"github.com/baker-compliant-ai/bakerbroker/internal/config"
	"github.com/baker-compliant-ai/bakerbroker/internal/domain"
	"github.com/baker-compliant-ai/bakerbroker/internal/intake"
)

type fakeEnqueuer struct{}

func (f *fakeEnqueuer) Enqueue(ctx domain.Context, r domain.Request) (string, error) {
	return "req-1", nil
}

func TestBuildRouter_HealthzAndReadyz(t *testing.T) {
	cfg := config.Config{Port: 8080, RateLimitPerMin: 60}
	svc := intake.New(&fakeEnqueuer{})
	srv := httpserver.NewServer(cfg, svc, func(_ context.Context) error { return nil }, nil)
	h := app.BuildRouter(cfg, srv)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Result().StatusCode)

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec2.Result().StatusCode)
}

func TestBuildRouter_PostsChat(t *testing.T) {
	cfg := config.Config{Port: 8080, RateLimitPerMin: 60}
	svc := intake.New(&fakeEnqueuer{})
	srv := httpserver.NewServer(cfg, svc, nil, nil)
	h := app.BuildRouter(cfg, srv)

	body, _ := json.Marshal(map[string]any{
		"user_id": "u1", "custom_gpt_id": "g1", "thread_id": "t1", "message": "hi there",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Result().StatusCode)
}
