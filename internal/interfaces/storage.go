package interfaces

import (
	"context"

	"github.com/ternarybob/stockfeed/internal/models"
)

// RunStorage - interface for supervisor run history persistence
type RunStorage interface {
	SaveRun(ctx context.Context, run *models.RunRecord) error
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*models.RunRecord, error) // Newest first
	Prune(ctx context.Context, keep int) (int, error)                        // Returns the number of records deleted
}

// StorageManager - owns the history database and the storages built on it
type StorageManager interface {
	RunStorage() RunStorage
	Close() error
}
