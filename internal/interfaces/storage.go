package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/stockcheck/internal/models"
)

// ErrNotFound is returned by storages when a record does not exist
var ErrNotFound = errors.New("not found")

// CollectionStorage persists artist collections
type CollectionStorage interface {
	GetCollection(ctx context.Context, artist string) (*models.Collection, error)
	SaveCollection(ctx context.Context, collection *models.Collection) error
	DeleteCollection(ctx context.Context, artist string) error
	ListCollections(ctx context.Context) ([]*models.Collection, error)
	// ReplaceAll deletes every stored collection and stores the given ones
	ReplaceAll(ctx context.Context, collections []*models.Collection) error
}

// TriedStorage remembers which cards were already searched per artist and site
type TriedStorage interface {
	GetTried(ctx context.Context, key string) (map[string]bool, error)
	SaveTried(ctx context.Context, key string, cardIDs []string) error
	ClearTried(ctx context.Context, key string) error
}

// RunStorage persists stock check run records
type RunStorage interface {
	SaveRun(ctx context.Context, run *models.RunRecord) error
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error)
	// MarkInterrupted settles runs left "running" by a previous process
	MarkInterrupted(ctx context.Context) (int, error)
}

// StorageManager aggregates all storages backed by one database
type StorageManager interface {
	CollectionStorage() CollectionStorage
	TriedStorage() TriedStorage
	RunStorage() RunStorage
	Close() error
}
