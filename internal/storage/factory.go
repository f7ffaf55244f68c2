package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockfeed/internal/common"
	"github.com/ternarybob/stockfeed/internal/interfaces"
	"github.com/ternarybob/stockfeed/internal/storage/badger"
)

// NewStorageManager opens the run-history store selected by config
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	if config.Storage.Type != "badger" && config.Storage.Type != "" {
		return nil, fmt.Errorf("unsupported storage type: %s (only 'badger' is supported)", config.Storage.Type)
	}
	return badger.NewManager(logger, &config.Storage.Badger)
}
