package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockfeed/internal/common"
	"github.com/ternarybob/stockfeed/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db     *BadgerDB
	runs   interfaces.RunStorage
	logger arbor.ILogger
}

// NewManager opens the history database and builds its storages
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:     db,
		runs:   NewRunStorage(db, logger),
		logger: logger,
	}

	logger.Debug().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// RunStorage returns the run history storage
func (m *Manager) RunStorage() interfaces.RunStorage {
	return m.runs
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
