package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/baker-compliant-ai/bakerbroker/internal/adapter/httpserver"
	"github.com/baker-compliant-ai/bakerbroker/internal/config"
	"github.com/baker-compliant-ai/bakerbroker/internal/domain"
	"github.com/baker-compliant-ai/bakerbroker/internal/intake"
)

type fakeLimiter struct {
	allowed bool
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, cost int64) (bool, time.Duration, error) {
	return f.allowed, 2 * time.Second, nil
}

type fakeEnqueuer struct {
	lastReq domain.Request
	err     error
}

func (f *fakeEnqueuer) Enqueue(ctx domain.Context, r domain.Request) (string, error) {
	f.lastReq = r
	if f.err != nil {
		return "", f.err
	}
	return "req-1", nil
}

func newChatTestServer(fe *fakeEnqueuer) *httpserver.Server {
	svc := intake.New(fe)
	return httpserver.NewServer(config.Config{}, svc, nil, nil)
}

func TestChatHandler_HappyPath(t *testing.T) {
	fe := &fakeEnqueuer{}
	s := newChatTestServer(fe)

	body, _ := json.Marshal(map[string]any{
		"user_id": "u1", "custom_gpt_id": "g1", "thread_id": "t1", "message": "hi there",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.ChatHandler()(rec, req)

	resp := rec.Result()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "req-1", out["request_id"])
}

func TestChatHandler_ThreadsAttachments(t *testing.T) {
	fe := &fakeEnqueuer{}
	s := newChatTestServer(fe)

	body, _ := json.Marshal(map[string]any{
		"user_id": "u1", "custom_gpt_id": "g1", "thread_id": "t1", "message": "see attached",
		"attachments": []map[string]any{
			{"id": "a1", "name": "statement.pdf", "type": "application/pdf", "size": 1024, "url": "https://example.test/a1"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.ChatHandler()(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Result().StatusCode)
	input, ok := fe.lastReq.InputData.(domain.ChatInput)
	require.True(t, ok)
	require.Len(t, input.Attachments, 1)
	assert.Equal(t, "a1", input.Attachments[0].ID)
	assert.Equal(t, "statement.pdf", input.Attachments[0].Name)
}

func TestChatHandler_RejectsMissingFields(t *testing.T) {
	s := newChatTestServer(&fakeEnqueuer{})

	body, _ := json.Marshal(map[string]any{"message": "hi"})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.ChatHandler()(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Result().StatusCode)
}

func TestChatHandler_PropagatesStoreError(t *testing.T) {
	fe := &fakeEnqueuer{err: errors.New("boom")}
	s := newChatTestServer(fe)

	body, _ := json.Marshal(map[string]any{
		"user_id": "u1", "custom_gpt_id": "g1", "thread_id": "t1", "message": "hi there",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.ChatHandler()(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Result().StatusCode)
}

func TestHealthzHandler_AlwaysOK(t *testing.T) {
	s := httpserver.NewServer(config.Config{}, nil, nil, nil)
	rec := httptest.NewRecorder()
	s.HealthzHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Result().StatusCode)
}

func TestReadyzHandler_ReportsDBFailure(t *testing.T) {
	s := httpserver.NewServer(config.Config{}, nil, func(context.Context) error { return errors.New("db down") }, nil)
	rec := httptest.NewRecorder()
	s.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Result().StatusCode)
}

func TestReadyzHandler_OKWhenDBHealthy(t *testing.T) {
	s := httpserver.NewServer(config.Config{}, nil, func(context.Context) error { return nil }, nil)
	rec := httptest.NewRecorder()
	s.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Result().StatusCode)
}

func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	s := httpserver.NewServer(config.Config{}, nil, nil, nil)
	rec := httptest.NewRecorder()
	s.MetricsHandler()(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Result().StatusCode)
}

func TestChatHandler_RejectsWhenUserLimiterDenies(t *testing.T) {
	svc := intake.New(&fakeEnqueuer{})
	s := httpserver.NewServer(config.Config{}, svc, nil, &fakeLimiter{allowed: false})

	body, _ := json.Marshal(map[string]any{
		"user_id": "u1", "custom_gpt_id": "g1", "thread_id": "t1", "message": "hi there",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.ChatHandler()(rec, req)

	resp := rec.Result()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("Retry-After"))
}
