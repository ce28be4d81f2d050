package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/stockcheck/internal/interfaces"
	"github.com/ternarybob/stockcheck/internal/models"
)

// CollectionStorage implements the CollectionStorage interface for Badger.
// Collections are keyed by normalized artist name.
type CollectionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCollectionStorage creates a new CollectionStorage instance
func NewCollectionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CollectionStorage {
	return &CollectionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *CollectionStorage) GetCollection(ctx context.Context, artist string) (*models.Collection, error) {
	var collection models.Collection
	err := s.db.Store().Get(models.NormalizeArtist(artist), &collection)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	return &collection, nil
}

func (s *CollectionStorage) SaveCollection(ctx context.Context, collection *models.Collection) error {
	key := models.NormalizeArtist(collection.Artist)
	if key == "" {
		return fmt.Errorf("collection artist is required")
	}
	collection.Artist = key
	if collection.UpdatedAt.IsZero() {
		collection.UpdatedAt = time.Now()
	}

	if err := s.db.Store().Upsert(key, collection); err != nil {
		return fmt.Errorf("failed to save collection: %w", err)
	}
	return nil
}

func (s *CollectionStorage) DeleteCollection(ctx context.Context, artist string) error {
	err := s.db.Store().Delete(models.NormalizeArtist(artist), &models.Collection{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return nil
}

// ListCollections returns every collection ordered by artist
func (s *CollectionStorage) ListCollections(ctx context.Context) ([]*models.Collection, error) {
	var collections []models.Collection
	if err := s.db.Store().Find(&collections, badgerhold.Where("Artist").Ne("").SortBy("Artist")); err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	result := make([]*models.Collection, len(collections))
	for i := range collections {
		result[i] = &collections[i]
	}
	return result, nil
}

// ReplaceAll swaps the stored collections for the given set in one transaction
func (s *CollectionStorage) ReplaceAll(ctx context.Context, collections []*models.Collection) error {
	store := s.db.Store()
	err := store.Badger().Update(func(tx *badger.Txn) error {
		if err := store.TxDeleteMatching(tx, &models.Collection{}, nil); err != nil {
			return fmt.Errorf("clear collections: %w", err)
		}
		for _, collection := range collections {
			key := models.NormalizeArtist(collection.Artist)
			if key == "" {
				return fmt.Errorf("collection artist is required")
			}
			collection.Artist = key
			if err := store.TxUpsert(tx, key, collection); err != nil {
				return fmt.Errorf("store collection %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace collections: %w", err)
	}

	s.logger.Debug().Int("collections", len(collections)).Msg("Collections replaced")
	return nil
}
