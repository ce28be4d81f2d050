package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/stockcheck/internal/common"
	"github.com/ternarybob/stockcheck/internal/handlers"
	"github.com/ternarybob/stockcheck/internal/interfaces"
	"github.com/ternarybob/stockcheck/internal/services/browser"
	"github.com/ternarybob/stockcheck/internal/services/collection"
	"github.com/ternarybob/stockcheck/internal/services/events"
	"github.com/ternarybob/stockcheck/internal/services/extractors"
	"github.com/ternarybob/stockcheck/internal/services/scheduler"
	"github.com/ternarybob/stockcheck/internal/services/stock"
	"github.com/ternarybob/stockcheck/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	ctx            context.Context
	cancelCtx      context.CancelFunc
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService     interfaces.EventService
	SchedulerService interfaces.SchedulerService
	StockJob         *scheduler.StockJob

	// Page lifecycle and extraction
	Registry *extractors.Registry
	Pages    *browser.ChromeController

	// Stock checks and collections
	StockScheduler    *stock.Scheduler
	StockService      *stock.Service
	CollectionService *collection.Service

	// HTTP handlers
	APIHandler        *handlers.APIHandler
	StockHandler      *handlers.StockHandler
	CollectionHandler *handlers.CollectionHandler
	SchedulerHandler  *handlers.SchedulerHandler
	WSHandler         *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := app.initDatabase(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// EventService is needed before the WebSocket handler subscribes
	app.EventService = events.NewService(app.Logger)

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Strs("extractors", app.Registry.Names()).
		Int("default_concurrency", cfg.Stock.DefaultConcurrency).
		Bool("schedule_enabled", cfg.Schedule.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger) and settles runs a
// previous process left running
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	interrupted, err := a.StorageManager.RunStorage().MarkInterrupted(a.ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to settle interrupted runs")
	} else if interrupted > 0 {
		a.Logger.Info().Int("runs", interrupted).Msg("Marked interrupted stock checks as cancelled")
	}

	return nil
}

// initServices initializes all business services in dependency order:
// registry and page controller, stock scheduler and service, collections,
// then the cron scheduler that drives both.
func (a *App) initServices() error {
	a.Registry = extractors.NewDefaultRegistry()
	a.Pages = browser.NewChromeController(a.Config.Browser, a.Logger)

	a.StockScheduler = stock.NewScheduler(a.Registry, a.Pages, a.Config.Stock, a.Logger)
	a.StockService = stock.NewService(a.StockScheduler, a.EventService, a.StorageManager.RunStorage(), a.Logger).
		WithPageRetention(!a.Config.Browser.Headless)

	a.CollectionService = collection.NewService(
		a.StorageManager.CollectionStorage(),
		a.StorageManager.TriedStorage(),
		a.EventService,
		a.Config.Sites,
		a.Config.Stock.DefaultSite,
		a.Logger,
	)

	a.SchedulerService = scheduler.NewService(a.Logger)
	a.StockJob = scheduler.NewStockJob(a.ctx, a.CollectionService, a.StockService, a.Config, a.Logger)
	if err := a.StockJob.Register(a.SchedulerService); err != nil {
		return fmt.Errorf("failed to register stock check job: %w", err)
	}

	if a.Config.Schedule.Enabled {
		if err := a.SchedulerService.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		a.Logger.Debug().Msg("Scheduled stock checks disabled")
	}

	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.StockService, a.Pages, a.Logger)
	a.StockHandler = handlers.NewStockHandler(a.StockService, a.CollectionService, a.Config.Stock, a.Logger)
	a.CollectionHandler = handlers.NewCollectionHandler(a.CollectionService, a.Logger)
	a.SchedulerHandler = handlers.NewSchedulerHandler(a.SchedulerService)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Logger, &a.Config.WebSocket)
}

// Close closes all application resources
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.StockService != nil {
		if err := a.StockService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close stock service")
		}
	}

	if a.Pages != nil {
		if err := a.Pages.Shutdown(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to shut down browser")
		} else {
			a.Logger.Info().Msg("Browser closed")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
