package generation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern-ai/lectern/internal/common"
	"github.com/lectern-ai/lectern/internal/interfaces"
	"github.com/lectern-ai/lectern/internal/services/llm"
)

func userMessage(text string) []interfaces.Message {
	return []interfaces.Message{{Role: "user", Content: text}}
}

func waitDone(t *testing.T, stream *Stream) {
	t.Helper()
	select {
	case <-stream.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not reach a terminal state in time")
	}
}

func TestStream_NaturalCompletion(t *testing.T) {
	mock := llm.NewMockService(4)
	mock.Responses = []string{"this is the full generated answer"}
	svc := NewService(mock, 0, common.GetLogger())

	stream, err := svc.Stream(context.Background(), userMessage("question"))
	require.NoError(t, err)

	var got strings.Builder
	for fragment := range stream.Fragments() {
		got.WriteString(fragment)
	}
	waitDone(t, stream)

	assert.Equal(t, "this is the full generated answer", got.String())
	assert.Equal(t, got.String(), stream.Text())
	assert.Equal(t, StateCompleted, stream.State())
	assert.NoError(t, stream.Err())
}

func TestStream_MidStreamFailureKeepsDeliveredText(t *testing.T) {
	mock := llm.NewMockService(4)
	mock.Responses = []string{"abcdefghijklmnopqrstuvwxyz"}
	mock.FragmentSize = 4
	mock.FailAfterFragments = 2
	mock.StreamErr = errors.New("gateway exploded")
	svc := NewService(mock, 0, common.GetLogger())

	stream, err := svc.Stream(context.Background(), userMessage("question"))
	require.NoError(t, err)

	var got strings.Builder
	for fragment := range stream.Fragments() {
		got.WriteString(fragment)
	}
	waitDone(t, stream)

	assert.Equal(t, "abcdefgh", got.String(), "fragments before the failure are delivered")
	assert.Equal(t, "abcdefgh", stream.Text())
	assert.Equal(t, StateFailed, stream.State())
	require.Error(t, stream.Err())
	assert.True(t, errors.Is(stream.Err(), interfaces.ErrUpstream))
	assert.Contains(t, stream.Err().Error(), "gateway exploded")
}

func TestStream_CloseStopsGeneration(t *testing.T) {
	mock := llm.NewMockService(4)
	mock.Responses = []string{strings.Repeat("x", 1000)}
	mock.FragmentSize = 4
	mock.FragmentDelay = 10 * time.Millisecond
	svc := NewService(mock, 0, common.GetLogger())

	stream, err := svc.Stream(context.Background(), userMessage("question"))
	require.NoError(t, err)

	// Take one fragment, then walk away
	first, ok := <-stream.Fragments()
	require.True(t, ok)
	require.Equal(t, "xxxx", first)

	stream.Close()
	waitDone(t, stream)

	assert.Equal(t, StateCanceled, stream.State())
	require.Error(t, stream.Err())
	assert.True(t, strings.HasPrefix(stream.Text(), "xxxx"), "delivered prefix survives cancellation")
	assert.Less(t, len(stream.Text()), 1000, "generation stopped early")
}

func TestStream_ContextCancellation(t *testing.T) {
	mock := llm.NewMockService(4)
	mock.Responses = []string{strings.Repeat("y", 1000)}
	mock.FragmentSize = 4
	mock.FragmentDelay = 10 * time.Millisecond
	svc := NewService(mock, 0, common.GetLogger())

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := svc.Stream(ctx, userMessage("question"))
	require.NoError(t, err)

	<-stream.Fragments()
	cancel()
	waitDone(t, stream)

	assert.Equal(t, StateCanceled, stream.State())
	assert.Error(t, stream.Err())
}

func TestStream_CloseIsIdempotent(t *testing.T) {
	mock := llm.NewMockService(4)
	mock.Responses = []string{"short"}
	svc := NewService(mock, 0, common.GetLogger())

	stream, err := svc.Stream(context.Background(), userMessage("question"))
	require.NoError(t, err)

	waitDone(t, stream)
	stream.Close()
	stream.Close()

	assert.Equal(t, StateCompleted, stream.State())
	assert.NoError(t, stream.Err())
}

func TestStream_FragmentsChannelClosesOnTerminalState(t *testing.T) {
	mock := llm.NewMockService(4)
	mock.Responses = []string{"done"}
	svc := NewService(mock, 0, common.GetLogger())

	stream, err := svc.Stream(context.Background(), userMessage("question"))
	require.NoError(t, err)
	waitDone(t, stream)

	// Drain; channel must be closed, not blocked
	for range stream.Fragments() {
	}
	_, ok := <-stream.Fragments()
	assert.False(t, ok)
}

func TestStream_EmptyMessagesRejected(t *testing.T) {
	svc := NewService(llm.NewMockService(4), 0, common.GetLogger())

	_, err := svc.Stream(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, interfaces.ErrInvalidInput))
}

func TestStream_ChatErrFailsImmediately(t *testing.T) {
	mock := llm.NewMockService(4)
	mock.ChatErr = errors.New("auth rejected")
	svc := NewService(mock, 0, common.GetLogger())

	stream, err := svc.Stream(context.Background(), userMessage("question"))
	require.NoError(t, err)
	waitDone(t, stream)

	assert.Equal(t, StateFailed, stream.State())
	assert.True(t, errors.Is(stream.Err(), interfaces.ErrUpstream))
	assert.Empty(t, stream.Text())
}
