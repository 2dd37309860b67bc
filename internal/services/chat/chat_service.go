package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/lectern-ai/lectern/internal/common"
	"github.com/lectern-ai/lectern/internal/interfaces"
	"github.com/lectern-ai/lectern/internal/models"
	"github.com/lectern-ai/lectern/internal/services/generation"
	"github.com/lectern-ai/lectern/internal/services/prompt"
)

// titleRunes bounds titles derived from the first question.
const titleRunes = 40

// Service orchestrates conversations: session lifecycle, per-session ask
// serialization, retrieval, prompt assembly, streaming generation and
// incremental history persistence.
//
// One ask runs per session at a time. The slot is held from the moment the
// user message is persisted until the assistant message lands, so the
// message log always alternates user/assistant and never interleaves two
// generations. Different sessions proceed independently.
type Service struct {
	sessions  interfaces.SessionStorage
	users     interfaces.UserStorage
	retriever interfaces.Retriever
	index     interfaces.CorpusIndex
	assembler *prompt.Assembler
	generator *generation.Service
	config    *common.RetrievalConfig
	logger    arbor.ILogger

	slotMu sync.Mutex
	slots  map[string]chan struct{}
}

// NewService creates the chat service.
func NewService(
	sessions interfaces.SessionStorage,
	users interfaces.UserStorage,
	retriever interfaces.Retriever,
	index interfaces.CorpusIndex,
	assembler *prompt.Assembler,
	generator *generation.Service,
	config *common.RetrievalConfig,
	logger arbor.ILogger,
) *Service {
	return &Service{
		sessions:  sessions,
		users:     users,
		retriever: retriever,
		index:     index,
		assembler: assembler,
		generator: generator,
		config:    config,
		logger:    logger,
		slots:     make(map[string]chan struct{}),
	}
}

// Create starts a new session for the owner. Duplicate titles within one
// owner get a " (n)" suffix so session lists stay unambiguous.
func (s *Service) Create(ctx context.Context, owner, title string) (*models.Session, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("%w: owner cannot be empty", interfaces.ErrInvalidInput)
	}
	if _, err := s.users.GetUser(owner); err != nil {
		return nil, fmt.Errorf("owner lookup failed: %w", err)
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = "New chat"
	}

	uniqueTitle, err := s.dedupeTitle(owner, title)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &models.Session{
		ID:            common.NewSessionID(),
		Owner:         owner,
		Title:         uniqueTitle,
		CreatedAt:     now,
		LastMessageAt: now,
	}

	if err := s.sessions.SaveSession(session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info().
		Str("session_id", session.ID).
		Str("owner", owner).
		Msg("Session created")

	return session, nil
}

// Get returns one of the owner's sessions with its full message log.
func (s *Service) Get(ctx context.Context, owner, sessionID string) (*models.Session, error) {
	return s.ownedSession(owner, sessionID)
}

// List returns the owner's sessions, most recently active first.
func (s *Service) List(ctx context.Context, owner string) ([]*models.Session, error) {
	if _, err := s.users.GetUser(owner); err != nil {
		return nil, fmt.Errorf("owner lookup failed: %w", err)
	}
	return s.sessions.ListSessionsByOwner(owner)
}

// Rename changes a session's title, applying the same owner-scoped
// uniqueness rule as Create.
func (s *Service) Rename(ctx context.Context, owner, sessionID, title string) (*models.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title cannot be empty", interfaces.ErrInvalidInput)
	}

	session, err := s.ownedSession(owner, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Title == title {
		return session, nil
	}

	uniqueTitle, err := s.dedupeTitle(owner, title)
	if err != nil {
		return nil, err
	}

	// Atomic title-only update: a rename racing the stream watcher's
	// message append must not clobber the freshly appended message.
	if err := s.sessions.UpdateSession(sessionID, func(stored *models.Session) error {
		stored.Title = uniqueTitle
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to rename session: %w", err)
	}

	session.Title = uniqueTitle
	return session, nil
}

// Delete removes a session and its message log. The underlying corpus is
// never touched: a corpus may be shared by, or outlive, a session.
func (s *Service) Delete(ctx context.Context, owner, sessionID string) error {
	if _, err := s.ownedSession(owner, sessionID); err != nil {
		return err
	}

	if err := s.sessions.DeleteSession(sessionID); err != nil {
		return err
	}

	s.slotMu.Lock()
	delete(s.slots, sessionID)
	s.slotMu.Unlock()

	s.logger.Info().
		Str("session_id", sessionID).
		Str("owner", owner).
		Msg("Session deleted")
	return nil
}

// End closes out an evaluation session for good: the session goes away and
// so does its private corpus, since an uploaded evaluation has no life
// beyond the conversation about it. Shared corpora are never touched.
func (s *Service) End(ctx context.Context, owner, sessionID string) error {
	session, err := s.ownedSession(owner, sessionID)
	if err != nil {
		return err
	}

	if session.CorpusTag != "" && !s.isSharedCorpus(session.CorpusTag) {
		if err := s.index.DeleteCorpus(ctx, session.CorpusTag); err != nil {
			s.logger.Warn().
				Err(err).
				Str("corpus", session.CorpusTag).
				Msg("Failed to delete session corpus; session removal continues")
		}
	}

	return s.Delete(ctx, owner, sessionID)
}

// AttachCorpus binds an ingested corpus to the session, turning it into an
// evaluation session: asks render the two-context evaluation prompt with
// the session corpus as the evaluation source.
func (s *Service) AttachCorpus(ctx context.Context, owner, sessionID, corpusTag string) (*models.Session, error) {
	corpusTag = strings.TrimSpace(corpusTag)
	if corpusTag == "" {
		return nil, fmt.Errorf("%w: corpus tag cannot be empty", interfaces.ErrInvalidInput)
	}

	session, err := s.ownedSession(owner, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.UpdateSession(sessionID, func(stored *models.Session) error {
		stored.CorpusTag = corpusTag
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to attach corpus: %w", err)
	}

	session.CorpusTag = corpusTag
	s.logger.Info().
		Str("session_id", sessionID).
		Str("corpus", corpusTag).
		Msg("Corpus attached to session")
	return session, nil
}

// Ask runs one conversational turn: persist the question, retrieve context,
// assemble the prompt and start streaming generation. The returned stream
// delivers answer fragments; once it reaches a terminal state the assistant
// message is persisted (marked incomplete on anything but natural
// completion) and the session's ask slot is released.
//
// An empty sessionID starts a new session implicitly, titled from the
// question. Concurrent asks on one session queue up in arrival order.
func (s *Service) Ask(ctx context.Context, owner, sessionID, question string) (*models.Session, *generation.Stream, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, nil, fmt.Errorf("%w: question cannot be empty", interfaces.ErrInvalidInput)
	}

	var session *models.Session
	var err error
	if sessionID == "" {
		session, err = s.Create(ctx, owner, deriveTitle(question))
	} else {
		session, err = s.ownedSession(owner, sessionID)
	}
	if err != nil {
		return nil, nil, err
	}

	if err := s.acquireSlot(ctx, session.ID); err != nil {
		return nil, nil, err
	}

	// Slot held: every path below either hands off to the stream watcher
	// or releases it before returning.
	before, err := s.appendMessage(session.ID, models.ChatMessage{
		ID:        common.NewMessageID(),
		Sender:    models.SenderUser,
		Text:      question,
		CreatedAt: time.Now(),
	})
	if err != nil {
		s.releaseSlot(session.ID)
		return nil, nil, err
	}

	messages, err := s.buildPrompt(ctx, before, question)
	if err != nil {
		s.failTurn(session.ID, err)
		return nil, nil, err
	}

	stream, err := s.generator.Stream(ctx, messages)
	if err != nil {
		s.failTurn(session.ID, err)
		return nil, nil, err
	}

	common.SafeGo(s.logger, "chat-turn-watcher", func() {
		s.watchStream(session.ID, stream)
	})

	return session, stream, nil
}

// watchStream persists the assistant message once the stream terminates,
// then releases the session's ask slot.
func (s *Service) watchStream(sessionID string, stream *generation.Stream) {
	defer s.releaseSlot(sessionID)

	<-stream.Done()

	state := stream.State()
	msg := models.ChatMessage{
		ID:         common.NewMessageID(),
		Sender:     models.SenderAssistant,
		Text:       stream.Text(),
		Incomplete: state != generation.StateCompleted,
		CreatedAt:  time.Now(),
	}

	if _, err := s.appendMessage(sessionID, msg); err != nil {
		s.logger.Error().
			Err(err).
			Str("session_id", sessionID).
			Msg("Failed to persist assistant message")
		return
	}

	s.logger.Debug().
		Str("session_id", sessionID).
		Str("state", state.String()).
		Int("answer_length", len(msg.Text)).
		Msg("Turn completed")
}

// failTurn records an empty incomplete assistant message for a turn that
// died before generation started, keeping the log's user/assistant
// alternation intact, then releases the slot.
func (s *Service) failTurn(sessionID string, cause error) {
	defer s.releaseSlot(sessionID)

	s.logger.Warn().
		Err(cause).
		Str("session_id", sessionID).
		Msg("Turn failed before generation")

	_, err := s.appendMessage(sessionID, models.ChatMessage{
		ID:         common.NewMessageID(),
		Sender:     models.SenderAssistant,
		Incomplete: true,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("session_id", sessionID).
			Msg("Failed to persist failure marker")
	}
}

// buildPrompt retrieves context for the question and renders the full
// guardrailed prompt: retrieved context, the serialized conversation so
// far and the question, all inside one template. Sessions with an attached
// corpus render the two-context evaluation template, with the shared
// corpora as reference material and the session corpus as the evaluation;
// everything else renders the tutor template.
func (s *Service) buildPrompt(ctx context.Context, session *models.Session, question string) ([]interfaces.Message, error) {
	tags := make([]string, 0, len(s.config.SharedCorpora)+1)
	if session.CorpusTag != "" {
		tags = append(tags, session.CorpusTag)
	}
	tags = append(tags, s.config.SharedCorpora...)

	results, err := s.retriever.Retrieve(ctx, question, tags, s.config.TopK, s.config.ScoreThreshold)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	// Session corpus entries apart from shared ones, each in configured order
	var sessionEntries, sharedEntries []models.ScoredChunk
	for _, tag := range tags {
		result, ok := results[tag]
		if !ok {
			continue
		}
		if result.Unavailable {
			s.logger.Warn().
				Str("corpus", tag).
				Str("cause", result.Cause).
				Msg("Corpus unavailable, answering with degraded context")
			continue
		}
		if tag == session.CorpusTag {
			sessionEntries = append(sessionEntries, result.Entries...)
		} else {
			sharedEntries = append(sharedEntries, result.Entries...)
		}
	}

	// History excludes the user message persisted for this turn and the
	// empty markers left by failed turns.
	history := make([]models.ChatMessage, 0, len(session.Messages))
	for _, msg := range session.Messages {
		if msg.Incomplete && msg.Text == "" {
			continue
		}
		history = append(history, msg)
	}
	historyText := s.assembler.FormatHistory(history)

	var rendered string
	if session.CorpusTag != "" {
		rendered = s.assembler.BuildEvaluationPrompt(
			s.assembler.FormatContext(sharedEntries),
			s.assembler.FormatContext(sessionEntries),
			historyText,
			question,
		)
	} else {
		rendered = s.assembler.BuildTutorPrompt(s.assembler.FormatContext(sharedEntries), historyText, question)
	}

	return []interfaces.Message{{Role: "user", Content: rendered}}, nil
}

// appendMessage appends one message to the session log as a single-key
// atomic update, returning the session state before the append for
// history assembly.
func (s *Service) appendMessage(sessionID string, msg models.ChatMessage) (*models.Session, error) {
	var before *models.Session
	err := s.sessions.UpdateSession(sessionID, func(session *models.Session) error {
		snapshot := *session
		snapshot.Messages = append([]models.ChatMessage(nil), session.Messages...)
		before = &snapshot

		session.Messages = append(session.Messages, msg)
		session.LastMessageAt = msg.CreatedAt
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return before, nil
}

// acquireSlot blocks until the session's ask slot is free or ctx expires.
func (s *Service) acquireSlot(ctx context.Context, sessionID string) error {
	s.slotMu.Lock()
	slot, ok := s.slots[sessionID]
	if !ok {
		slot = make(chan struct{}, 1)
		s.slots[sessionID] = slot
	}
	s.slotMu.Unlock()

	select {
	case slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) releaseSlot(sessionID string) {
	s.slotMu.Lock()
	slot, ok := s.slots[sessionID]
	s.slotMu.Unlock()
	if !ok {
		// Session deleted mid-turn; nothing to release
		return
	}
	select {
	case <-slot:
	default:
	}
}

// ownedSession loads a session and verifies ownership. A session owned by
// someone else is reported as not found, not as forbidden.
func (s *Service) ownedSession(owner, sessionID string) (*models.Session, error) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Owner != owner {
		return nil, fmt.Errorf("session %s: %w", sessionID, interfaces.ErrNotFound)
	}
	return session, nil
}

// dedupeTitle appends " (n)" with the smallest free n when the title is
// already taken within the owner's sessions.
func (s *Service) dedupeTitle(owner, title string) (string, error) {
	existing, err := s.sessions.ListSessionsByOwner(owner)
	if err != nil {
		return "", fmt.Errorf("failed to list sessions: %w", err)
	}

	taken := make(map[string]bool, len(existing))
	for _, session := range existing {
		taken[session.Title] = true
	}

	if !taken[title] {
		return title, nil
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", title, n)
		if !taken[candidate] {
			return candidate, nil
		}
	}
}

func (s *Service) isSharedCorpus(tag string) bool {
	for _, shared := range s.config.SharedCorpora {
		if shared == tag {
			return true
		}
	}
	return false
}

// deriveTitle titles an implicit session from its first question.
func deriveTitle(question string) string {
	runes := []rune(strings.TrimSpace(question))
	if len(runes) <= titleRunes {
		return string(runes)
	}
	return strings.TrimSpace(string(runes[:titleRunes])) + "..."
}
