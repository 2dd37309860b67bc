package badger

import (
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/lectern-ai/lectern/internal/common"
	"github.com/lectern-ai/lectern/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db      *BadgerDB
	session interfaces.SessionStorage
	corpus  interfaces.CorpusStorage
	user    interfaces.UserStorage
	kv      interfaces.KeyValueStorage
	logger  arbor.ILogger
	stopGC  chan struct{}
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:      db,
		session: NewSessionStorage(db, logger),
		corpus:  NewCorpusStorage(db, logger),
		user:    NewUserStorage(db, logger),
		kv:      NewKVStorage(db, logger),
		logger:  logger,
		stopGC:  make(chan struct{}),
	}

	manager.startValueLogGC(common.ParseDurationOr(config.GCInterval, 10*time.Minute))

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// SessionStorage returns the Session storage interface
func (m *Manager) SessionStorage() interfaces.SessionStorage {
	return m.session
}

// CorpusStorage returns the Corpus storage interface
func (m *Manager) CorpusStorage() interfaces.CorpusStorage {
	return m.corpus
}

// UserStorage returns the User storage interface
func (m *Manager) UserStorage() interfaces.UserStorage {
	return m.user
}

// KeyValueStorage returns the KeyValue storage interface
func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

// Close stops background maintenance and closes the database connection
func (m *Manager) Close() error {
	close(m.stopGC)
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// startValueLogGC runs Badger's value-log garbage collection on a timer.
// ErrNoRewrite is the normal "nothing to reclaim" outcome and is not logged.
func (m *Manager) startValueLogGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-m.stopGC:
				return
			case <-ticker.C:
				err := m.db.Store().Badger().RunValueLogGC(0.5)
				if err != nil && err != badgerdb.ErrNoRewrite {
					m.logger.Warn().Err(err).Msg("Badger value-log GC failed")
				}
			}
		}
	}()
}
