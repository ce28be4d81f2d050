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

// TriedStorage implements the TriedStorage interface for Badger
type TriedStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTriedStorage creates a new TriedStorage instance
func NewTriedStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TriedStorage {
	return &TriedStorage{
		db:     db,
		logger: logger,
	}
}

// GetTried returns the tried card IDs for key; an unknown key is an empty set
func (s *TriedStorage) GetTried(ctx context.Context, key string) (map[string]bool, error) {
	var tried models.TriedCards
	err := s.db.Store().Get(key, &tried)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tried cards: %w", err)
	}

	set := make(map[string]bool, len(tried.CardIDs))
	for _, id := range tried.CardIDs {
		set[id] = true
	}
	return set, nil
}

func (s *TriedStorage) SaveTried(ctx context.Context, key string, cardIDs []string) error {
	tried := &models.TriedCards{
		Key:       key,
		CardIDs:   cardIDs,
		UpdatedAt: time.Now(),
	}
	if err := s.db.Store().Upsert(key, tried); err != nil {
		return fmt.Errorf("failed to save tried cards: %w", err)
	}
	return nil
}

func (s *TriedStorage) ClearTried(ctx context.Context, key string) error {
	err := s.db.Store().Delete(key, &models.TriedCards{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to clear tried cards: %w", err)
	}
	return nil
}
