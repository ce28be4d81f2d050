package stock

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/stockcheck/internal/common"
	"github.com/ternarybob/stockcheck/internal/interfaces"
	"github.com/ternarybob/stockcheck/internal/models"
)

// Options configures one stock check run
type Options struct {
	RunID            string // generated when empty
	VariantOnly      bool
	ConcurrencyLimit int // <= 0 is treated as 1
}

// Progress is emitted after every settled item
type Progress struct {
	RunID   string `json:"run_id"`
	Checked int    `json:"checked"`
	Total   int    `json:"total"`
}

// Outcome is the settled result of a run
type Outcome struct {
	RunID     string                 `json:"run_id"`
	Available []models.AvailableItem `json:"available"`
	Checked   int                    `json:"checked"`
	Total     int                    `json:"total"`
	Cancelled bool                   `json:"cancelled"`
	Duration  time.Duration          `json:"duration"`
}

// ProgressFunc receives progress events. Calls are serial.
type ProgressFunc func(Progress)

// CompleteFunc receives the outcome exactly once per run
type CompleteFunc func(Outcome)

// Scheduler runs bounded-concurrency stock checks against external pages.
// It holds no per-run state; every Start creates an independent Run.
type Scheduler struct {
	registry       interfaces.CapabilityRegistry
	pages          interfaces.PageController
	logger         arbor.ILogger
	settleDelay    time.Duration
	itemTimeout    time.Duration
	maxConcurrency int
}

// NewScheduler creates a scheduler over an explicit capability registry and
// page controller.
func NewScheduler(registry interfaces.CapabilityRegistry, pages interfaces.PageController, config common.StockConfig, logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		registry:       registry,
		pages:          pages,
		logger:         logger,
		settleDelay:    config.SettleDelayDuration(),
		itemTimeout:    config.ItemTimeoutDuration(),
		maxConcurrency: config.MaxConcurrency,
	}
}

// EffectiveLimit returns the concurrency actually used for a requested limit
func (s *Scheduler) EffectiveLimit(requested int) int {
	limit := requested
	if limit <= 0 {
		limit = 1
	}
	if s.maxConcurrency > 0 && limit > s.maxConcurrency {
		limit = s.maxConcurrency
	}
	return limit
}

// Start admits items for checking and returns immediately. onProgress is
// called after each settled item and onComplete exactly once, both from the
// run's own goroutine. Either may be nil.
//
// Cancelling ctx cancels the run and aborts in-flight checks; their results
// are discarded.
func (s *Scheduler) Start(ctx context.Context, items []models.Item, opts Options, onProgress ProgressFunc, onComplete CompleteFunc) (*Run, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		runID = common.NewRunID()
	}
	limit := s.EffectiveLimit(opts.ConcurrencyLimit)

	runCtx, stop := context.WithCancel(ctx)
	r := &Run{
		id:          runID,
		items:       slices.Clone(items),
		limit:       limit,
		variantOnly: opts.VariantOnly,
		scheduler:   s,
		logger:      s.logger.WithCorrelationId(runID),
		ctx:         runCtx,
		stop:        stop,
		mailbox:     make(chan any, limit+1),
		done:        make(chan struct{}),
		onProgress:  onProgress,
		onComplete:  onComplete,
		startedAt:   time.Now(),
	}
	r.stopParentWatch = context.AfterFunc(ctx, r.Cancel)

	r.logger.Info().
		Int("total", len(r.items)).
		Int("concurrency", limit).
		Bool("variant_only", opts.VariantOnly).
		Msg("Stock check started")

	go r.receive()

	return r, nil
}

// ready checks the page host before a run exists
func (s *Scheduler) ready(ctx context.Context) error {
	if s.pages == nil {
		return fmt.Errorf("%w: no page controller configured", ErrHostUnavailable)
	}
	if s.registry == nil || s.registry.Len() == 0 {
		return fmt.Errorf("%w: no extraction capabilities registered", ErrHostUnavailable)
	}
	if err := s.pages.Ready(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrHostUnavailable, err)
	}
	return nil
}
