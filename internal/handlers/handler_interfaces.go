package handlers

import (
	"context"

	"github.com/ternarybob/stockcheck/internal/models"
	"github.com/ternarybob/stockcheck/internal/services/stock"
)

// StockService is the stock check surface the HTTP layer drives.
type StockService interface {
	StartCheck(ctx context.Context, req stock.StartRequest) (*stock.Run, error)
	CancelCheck(runID string) error
	Current() *stock.Run
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error)
}

// CollectionService manages artist collections and candidate pools.
type CollectionService interface {
	Sites() []string
	List(ctx context.Context) ([]models.CollectionSummary, error)
	Get(ctx context.Context, artist string) (*models.Collection, error)
	Save(ctx context.Context, collection *models.Collection) error
	Delete(ctx context.Context, artist string) error
	SetOwned(ctx context.Context, artist, cardID string, owned bool) (*models.Collection, error)
	SetIgnored(ctx context.Context, artist, cardID string, ignored bool) (*models.Collection, error)
	ToggleIgnoreAll(ctx context.Context, artist string) (*models.Collection, error)
	BuildPool(ctx context.Context, artist, site string, limit int) ([]models.Item, error)
	Export(ctx context.Context) ([]byte, error)
	Import(ctx context.Context, data []byte) (int, error)
}

// PageStatus reports the page controller's state for health checks.
type PageStatus interface {
	Started() bool
	OpenPages() int
}
