package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/stockcheck/internal/common"
	"github.com/ternarybob/stockcheck/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db         *BadgerDB
	collection interfaces.CollectionStorage
	tried      interfaces.TriedStorage
	run        interfaces.RunStorage
	logger     arbor.ILogger
}

// NewManager opens the database and builds every storage on top of it
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	var (
		db  *BadgerDB
		err error
	)
	if config.Path == "" {
		db, err = NewInMemoryBadgerDB(logger)
	} else {
		db, err = NewBadgerDB(logger, config)
	}
	if err != nil {
		return nil, err
	}

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return newManager(db, logger), nil
}

func newManager(db *BadgerDB, logger arbor.ILogger) *Manager {
	return &Manager{
		db:         db,
		collection: NewCollectionStorage(db, logger),
		tried:      NewTriedStorage(db, logger),
		run:        NewRunStorage(db, logger),
		logger:     logger,
	}
}

// CollectionStorage returns the collection storage
func (m *Manager) CollectionStorage() interfaces.CollectionStorage {
	return m.collection
}

// TriedStorage returns the tried-cards storage
func (m *Manager) TriedStorage() interfaces.TriedStorage {
	return m.tried
}

// RunStorage returns the run history storage
func (m *Manager) RunStorage() interfaces.RunStorage {
	return m.run
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
