package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/stockcheck/internal/common"
	"github.com/ternarybob/stockcheck/internal/interfaces"
	"github.com/ternarybob/stockcheck/internal/models"
	"github.com/ternarybob/stockcheck/internal/services/stock"
)

// StockJobName is the name the scheduled stock check registers under
const StockJobName = "stock-check"

// PoolSource lists collections and builds their candidate pools
type PoolSource interface {
	List(ctx context.Context) ([]models.CollectionSummary, error)
	BuildPool(ctx context.Context, artist, site string, limit int) ([]models.Item, error)
}

// CheckStarter starts stock checks
type CheckStarter interface {
	StartCheck(ctx context.Context, req stock.StartRequest) (*stock.Run, error)
}

// StockJob checks the configured collections one after another. A collection
// whose run is cancelled (for example by a manual check) stops the job.
type StockJob struct {
	ctx         context.Context
	pools       PoolSource
	checks      CheckStarter
	schedule    common.ScheduleConfig
	concurrency int
	variantOnly bool
	logger      arbor.ILogger
}

// NewStockJob creates the scheduled stock check job. ctx bounds every run.
func NewStockJob(ctx context.Context, pools PoolSource, checks CheckStarter, config *common.Config, logger arbor.ILogger) *StockJob {
	return &StockJob{
		ctx:         ctx,
		pools:       pools,
		checks:      checks,
		schedule:    config.Schedule,
		concurrency: config.Stock.DefaultConcurrency,
		variantOnly: config.Stock.VariantOnly,
		logger:      logger,
	}
}

// Register adds the job to the scheduler
func (j *StockJob) Register(scheduler interfaces.SchedulerService) error {
	return scheduler.RegisterJob(StockJobName, j.schedule.Cron, j.Run)
}

// Run executes one scheduled pass
func (j *StockJob) Run() error {
	artists, err := j.artists()
	if err != nil {
		return err
	}

	var errs []error
	for _, artist := range artists {
		cancelled, err := j.checkArtist(artist)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", artist, err))
			continue
		}
		if cancelled {
			j.logger.Info().Str("artist", artist).Msg("Scheduled stock check cancelled - stopping pass")
			break
		}
	}
	return errors.Join(errs...)
}

func (j *StockJob) artists() ([]string, error) {
	if len(j.schedule.Collections) > 0 {
		return j.schedule.Collections, nil
	}

	summaries, err := j.pools.List(j.ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	artists := make([]string, 0, len(summaries))
	for _, summary := range summaries {
		artists = append(artists, summary.Artist)
	}
	return artists, nil
}

func (j *StockJob) checkArtist(artist string) (bool, error) {
	items, err := j.pools.BuildPool(j.ctx, artist, j.schedule.Site, j.schedule.Limit)
	if err != nil {
		return false, err
	}
	if len(items) == 0 {
		j.logger.Debug().Str("artist", artist).Msg("Nothing to check")
		return false, nil
	}

	run, err := j.checks.StartCheck(j.ctx, stock.StartRequest{
		Items:            items,
		VariantOnly:      j.variantOnly,
		ConcurrencyLimit: j.concurrency,
		Artist:           models.NormalizeArtist(artist),
		Site:             j.schedule.Site,
		TriggeredBy:      "schedule",
	})
	if err != nil {
		return false, err
	}

	outcome, err := run.Wait(j.ctx)
	if err != nil {
		run.Cancel()
		return true, nil
	}

	j.logger.Info().
		Str("artist", artist).
		Int("checked", outcome.Checked).
		Int("available", len(outcome.Available)).
		Msg("Scheduled stock check finished")

	return outcome.Cancelled, nil
}
