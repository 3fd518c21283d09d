package intake

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baker-compliant-ai/bakerbroker/internal/domain"
)

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

func TestService_EnqueueChat_ClampsPriority(t *testing.T) {
	fe := &fakeEnqueuer{}
	s := New(fe)

	_, err := s.EnqueueChat(context.Background(), ChatRequest{
		UserID: "u1", CustomGPTID: "g1", ThreadID: "t1", Message: "hi", Priority: 99,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, fe.lastReq.Priority)

	_, err = s.EnqueueChat(context.Background(), ChatRequest{
		UserID: "u1", CustomGPTID: "g1", ThreadID: "t1", Message: "hi", Priority: -5,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fe.lastReq.Priority)
}

func TestService_EnqueueChat_RejectsMissingFields(t *testing.T) {
	s := New(&fakeEnqueuer{})

	_, err := s.EnqueueChat(context.Background(), ChatRequest{Message: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestService_EnqueueChat_PropagatesStoreErrors(t *testing.T) {
	fe := &fakeEnqueuer{err: errors.New("boom")}
	s := New(fe)

	_, err := s.EnqueueChat(context.Background(), ChatRequest{
		UserID: "u1", CustomGPTID: "g1", ThreadID: "t1", Message: "hi", Priority: 5,
	})
	require.Error(t, err)
}

func TestService_EnqueueChat_BuildsChatInput(t *testing.T) {
	fe := &fakeEnqueuer{}
	s := New(fe)

	id, err := s.EnqueueChat(context.Background(), ChatRequest{
		UserID: "u1", CustomGPTID: "g1", ThreadID: "t1",
		Message: "what's my allocation", ContextMessages: []string{"earlier turn"}, Priority: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", id)
	input, ok := fe.lastReq.InputData.(domain.ChatInput)
	require.True(t, ok)
	assert.Equal(t, "what's my allocation", input.Message)
	assert.Equal(t, []string{"earlier turn"}, input.ContextMessages)
	assert.Equal(t, domain.StatusPending, fe.lastReq.Status)
}

func TestService_EnqueueChat_ThreadsAttachments(t *testing.T) {
	fe := &fakeEnqueuer{}
	s := New(fe)

	attachments := []domain.Attachment{{ID: "a1", Name: "statement.pdf", Type: "application/pdf", Size: 1024, URL: "https://example.test/a1"}}
	_, err := s.EnqueueChat(context.Background(), ChatRequest{
		UserID: "u1", CustomGPTID: "g1", ThreadID: "t1", Message: "see attached", Attachments: attachments, Priority: 5,
	})
	require.NoError(t, err)
	input, ok := fe.lastReq.InputData.(domain.ChatInput)
	require.True(t, ok)
	assert.Equal(t, attachments, input.Attachments)
}
