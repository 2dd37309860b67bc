package badger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/lectern-ai/lectern/internal/interfaces"
	"github.com/lectern-ai/lectern/internal/models"
)

// SessionStorage implements the SessionStorage interface for Badger
type SessionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// Serializes UpdateSession calls. Badger transactions conflict rather
	// than queue, so concurrent read-modify-writes on one key must not
	// race each other.
	updateMu sync.Mutex
}

// NewSessionStorage creates a new SessionStorage instance
func NewSessionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SessionStorage {
	return &SessionStorage{
		db:     db,
		logger: logger,
	}
}

// SaveSession upserts the full session record. The message log lives
// inside the record, so appends performed by the caller land atomically.
func (s *SessionStorage) SaveSession(session *models.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session ID is required")
	}

	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	if err := s.db.Store().Upsert(session.ID, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *SessionStorage) GetSession(id string) (*models.Session, error) {
	var session models.Session
	if err := s.db.Store().Get(id, &session); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("session %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

func (s *SessionStorage) DeleteSession(id string) error {
	if err := s.db.Store().Delete(id, &models.Session{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("session %s: %w", id, interfaces.ErrNotFound)
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// UpdateSession applies fn to the stored session inside a single
// transaction, so a message append and a concurrent title change can
// never overwrite each other.
func (s *SessionStorage) UpdateSession(id string, fn func(session *models.Session) error) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	found := false
	err := s.db.Store().UpdateMatching(&models.Session{}, badgerhold.Where(badgerhold.Key).Eq(id), func(record interface{}) error {
		session, ok := record.(*models.Session)
		if !ok {
			return fmt.Errorf("unexpected record type %T", record)
		}
		found = true
		return fn(session)
	})
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if !found {
		return fmt.Errorf("session %s: %w", id, interfaces.ErrNotFound)
	}
	return nil
}

// ListSessionsByOwner returns the owner's sessions ordered by most recent
// message first, ties broken by session id.
func (s *SessionStorage) ListSessionsByOwner(owner string) ([]*models.Session, error) {
	var sessions []models.Session
	if err := s.db.Store().Find(&sessions, badgerhold.Where("Owner").Eq(owner).Index("Owner")); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	result := make([]*models.Session, len(sessions))
	for i := range sessions {
		result[i] = &sessions[i]
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastMessageAt.Equal(result[j].LastMessageAt) {
			return result[i].LastMessageAt.After(result[j].LastMessageAt)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}
