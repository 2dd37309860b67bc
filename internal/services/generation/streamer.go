package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/lectern-ai/lectern/internal/common"
	"github.com/lectern-ai/lectern/internal/interfaces"
)

// State is the terminal state of a generation stream.
type State int

const (
	// StateStreaming means fragments are still arriving.
	StateStreaming State = iota
	// StateCompleted means the model finished the answer naturally.
	StateCompleted
	// StateCanceled means the consumer closed the stream or its context
	// expired before the answer finished.
	StateCanceled
	// StateFailed means the model gateway failed mid-stream.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCanceled:
		return "canceled"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Service turns blocking model gateways into consumable fragment streams.
type Service struct {
	llm     interfaces.LLMService
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// NewService creates a generation streamer. requestsPerSecond of 0 disables
// the client-side gateway limit.
func NewService(llm interfaces.LLMService, requestsPerSecond float64, logger arbor.ILogger) *Service {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &Service{
		llm:     llm,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Stream starts a generation and returns a Stream delivering fragments as
// the model produces them. The producer goroutine always terminates: on
// natural completion, on upstream failure, on ctx expiry, or on Close.
func (s *Service) Stream(ctx context.Context, messages []interfaces.Message) (*Stream, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: messages cannot be empty", interfaces.ErrInvalidInput)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrUpstream, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream := &Stream{
		fragments: make(chan string, 16),
		done:      make(chan struct{}),
		cancel:    cancel,
	}

	common.SafeGo(s.logger, "generation-stream", func() {
		err := s.llm.ChatStream(streamCtx, messages, func(fragment string) error {
			stream.append(fragment)
			select {
			case stream.fragments <- fragment:
				return nil
			case <-streamCtx.Done():
				return streamCtx.Err()
			}
		})
		stream.finish(streamCtx, err)
	})

	return stream, nil
}

// Stream is one in-flight generation. Fragments are delivered on Fragments
// until the stream reaches a terminal state, at which point the channel is
// closed and Done is signalled. Text always holds every fragment delivered
// so far, so a failed or canceled stream still yields its partial answer.
type Stream struct {
	fragments chan string
	done      chan struct{}
	cancel    context.CancelFunc

	mu    sync.Mutex
	text  strings.Builder
	state State
	err   error

	closeOnce sync.Once
}

// Fragments returns the fragment channel. It is closed once the stream
// reaches a terminal state.
func (st *Stream) Fragments() <-chan string {
	return st.fragments
}

// Done is closed when the stream reaches a terminal state.
func (st *Stream) Done() <-chan struct{} {
	return st.done
}

// State returns the current stream state.
func (st *Stream) State() State {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// Err returns the terminal error: nil after natural completion, a
// cancellation error after Close or context expiry, an upstream error after
// mid-stream failure.
func (st *Stream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// Text returns the concatenation of every fragment delivered so far.
func (st *Stream) Text() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.text.String()
}

// Close stops the generation. Fragments already delivered stay in Text.
// Close is idempotent and safe to call from any goroutine.
func (st *Stream) Close() {
	st.closeOnce.Do(st.cancel)
}

func (st *Stream) append(fragment string) {
	st.mu.Lock()
	st.text.WriteString(fragment)
	st.mu.Unlock()
}

// finish records the terminal state and releases consumers. Called exactly
// once by the producer goroutine.
func (st *Stream) finish(streamCtx context.Context, err error) {
	st.mu.Lock()
	switch {
	case err == nil:
		st.state = StateCompleted
	case streamCtx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		st.state = StateCanceled
		st.err = context.Cause(streamCtx)
		if st.err == nil {
			st.err = err
		}
	default:
		st.state = StateFailed
		st.err = fmt.Errorf("%w: %v", interfaces.ErrUpstream, err)
	}
	st.mu.Unlock()

	st.cancel()
	close(st.fragments)
	close(st.done)
}
