package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/stockcheck/internal/interfaces"
	"github.com/ternarybob/stockcheck/internal/models"
)

const interruptedMessage = "interrupted by shutdown"

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
	err := s.db.Store().Get(id, &run)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns returns runs newest first; limit <= 0 returns all
func (s *RunStorage) ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var runs []models.RunRecord
	if err := s.db.Store().Find(&runs, query); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	result := make([]*models.RunRecord, len(runs))
	for i := range runs {
		result[i] = &runs[i]
	}
	return result, nil
}

// MarkInterrupted settles runs a previous process left running
func (s *RunStorage) MarkInterrupted(ctx context.Context) (int, error) {
	now := time.Now()
	count := 0

	err := s.db.Store().UpdateMatching(&models.RunRecord{},
		badgerhold.Where("Status").Eq(models.RunStatusRunning).Index("Status"),
		func(record interface{}) error {
			run, ok := record.(*models.RunRecord)
			if !ok {
				return fmt.Errorf("unexpected record type %T", record)
			}
			run.Status = models.RunStatusCancelled
			run.CompletedAt = &now
			run.ErrorMessage = interruptedMessage
			count++
			return nil
		})
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted runs: %w", err)
	}

	if count > 0 {
		s.logger.Warn().Int("runs", count).Msg("Marked interrupted stock checks as cancelled")
	}
	return count, nil
}
