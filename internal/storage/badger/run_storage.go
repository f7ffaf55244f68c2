package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockfeed/internal/interfaces"
	"github.com/ternarybob/stockfeed/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RunStorage implements the RunStorage interface for Badger
type RunStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunStorage creates a new RunStorage instance
func NewRunStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RunStorage {
	return &RunStorage{
		db:     db,
		logger: logger,
	}
}

func (s *RunStorage) SaveRun(ctx context.Context, run *models.RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if err := s.db.Store().Upsert(run.ID, run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (s *RunStorage) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	var run models.RunRecord
	if err := s.db.Store().Get(id, &run); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

func (s *RunStorage) ListRecent(ctx context.Context, limit int) ([]*models.RunRecord, error) {
	var runs []models.RunRecord
	if err := s.db.Store().Find(&runs, nil); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	sortRunsDesc(runs)
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	result := make([]*models.RunRecord, len(runs))
	for i := range runs {
		result[i] = &runs[i]
	}
	return result, nil
}

// Prune deletes all but the newest keep records. keep <= 0 keeps everything.
func (s *RunStorage) Prune(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	var runs []models.RunRecord
	if err := s.db.Store().Find(&runs, nil); err != nil {
		return 0, fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) <= keep {
		return 0, nil
	}

	sortRunsDesc(runs)
	deleted := 0
	for _, run := range runs[keep:] {
		if err := s.db.Store().Delete(run.ID, &models.RunRecord{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return deleted, fmt.Errorf("failed to delete run %s: %w", run.ID, err)
		}
		deleted++
	}

	s.logger.Debug().Int("deleted", deleted).Int("kept", keep).Msg("Pruned run history")
	return deleted, nil
}

// sortRunsDesc sorts runs newest first; ID breaks ties for a stable order
func sortRunsDesc(runs []models.RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID > runs[j].ID
	})
}
