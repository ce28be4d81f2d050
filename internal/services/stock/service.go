package stock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/stockcheck/internal/common"
	"github.com/ternarybob/stockcheck/internal/interfaces"
	"github.com/ternarybob/stockcheck/internal/models"
)

// StartRequest describes a stock check requested by a caller
type StartRequest struct {
	Items            []models.Item `json:"items" validate:"dive"`
	VariantOnly      bool          `json:"variant_only"`
	ConcurrencyLimit int           `json:"concurrency"`
	Artist           string        `json:"artist,omitempty"`
	Site             string        `json:"site,omitempty"`
	TriggeredBy      string        `json:"triggered_by,omitempty"`
}

// Service owns the single active stock check, persists run records and
// publishes progress events. Starting a check cancels the previous one and
// closes the pages the previous run left open.
type Service struct {
	scheduler *Scheduler
	events    interfaces.EventService
	runs      interfaces.RunStorage
	validate  *validator.Validate
	logger    arbor.ILogger
	keepPages bool

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	current  *Run
	retained []models.AvailableItem // pages left open by the last settled run
}

// NewService creates the stock service. Runs are parented to an internal
// context so they outlive the request that started them; Close cancels it.
func NewService(scheduler *Scheduler, events interfaces.EventService, runs interfaces.RunStorage, logger arbor.ILogger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		scheduler: scheduler,
		events:    events,
		runs:      runs,
		validate:  validator.New(),
		logger:    logger,
		keepPages: true,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// WithPageRetention sets whether available pages stay open after a run
// settles. Without retention (headless browsers) they are closed as soon as
// the run is recorded. Retained pages are closed when the next check starts.
func (s *Service) WithPageRetention(keep bool) *Service {
	s.keepPages = keep
	return s
}

// StartCheck validates the request, cancels any running check and starts a
// new one. Only ErrHostUnavailable and validation errors are returned.
func (s *Service) StartCheck(ctx context.Context, req StartRequest) (*Run, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid stock check request: %w", err)
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "api"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.logger.Info().Str("run_id", s.current.ID()).Msg("Cancelling previous stock check")
		s.current.Cancel()
	}
	s.scheduler.ClosePages(s.retained)
	s.retained = nil

	runID := common.NewRunID()
	record := &models.RunRecord{
		ID:          runID,
		Artist:      req.Artist,
		Site:        req.Site,
		Status:      models.RunStatusRunning,
		VariantOnly: req.VariantOnly,
		Concurrency: s.scheduler.EffectiveLimit(req.ConcurrencyLimit),
		Total:       len(req.Items),
		Available:   []models.AvailableItem{},
		StartedAt:   time.Now(),
		TriggeredBy: req.TriggeredBy,
	}
	s.saveRecord(record)

	opts := Options{
		RunID:            runID,
		VariantOnly:      req.VariantOnly,
		ConcurrencyLimit: req.ConcurrencyLimit,
	}

	run, err := s.scheduler.Start(s.ctx, req.Items, opts,
		func(p Progress) { s.onProgress(p) },
		func(o Outcome) { s.onComplete(record, o) },
	)
	if err != nil {
		now := time.Now()
		record.Status = models.RunStatusCancelled
		record.CompletedAt = &now
		record.ErrorMessage = err.Error()
		s.saveRecord(record)
		return nil, err
	}

	s.current = run

	s.publish(interfaces.EventStockStarted, map[string]interface{}{
		"run_id":      run.ID(),
		"total":       run.Total(),
		"concurrency": run.Limit(),
		"artist":      req.Artist,
	})

	return run, nil
}

// CancelCheck cancels the active run. An empty runID cancels whatever is
// running; a runID that is not the active run returns ErrRunNotFound.
func (s *Service) CancelCheck(runID string) error {
	s.mu.Lock()
	run := s.current
	s.mu.Unlock()

	if run == nil || (runID != "" && run.ID() != runID) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	run.Cancel()
	return nil
}

// Current returns the active run, or nil when none is running
func (s *Service) Current() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil
	}
	if _, settled := s.current.Outcome(); settled {
		return nil
	}
	return s.current
}

// GetRun returns a persisted run record
func (s *Service) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	record, err := s.runs.GetRun(ctx, id)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return record, err
}

// ListRuns returns the most recent run records, newest first
func (s *Service) ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error) {
	return s.runs.ListRuns(ctx, limit)
}

// Close cancels the active run, waits briefly for it to settle and closes
// any pages still retained.
func (s *Service) Close() error {
	s.mu.Lock()
	run := s.current
	s.mu.Unlock()

	s.cancel()
	if run != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := run.Wait(ctx); err != nil {
			return fmt.Errorf("stock check %s did not settle: %w", run.ID(), err)
		}
	}

	s.mu.Lock()
	retained := s.retained
	s.retained = nil
	s.mu.Unlock()

	s.scheduler.ClosePages(retained)
	return nil
}

func (s *Service) onProgress(p Progress) {
	s.publish(interfaces.EventStockProgress, map[string]interface{}{
		"run_id":  p.RunID,
		"checked": p.Checked,
		"total":   p.Total,
	})
}

// onComplete runs on the run's goroutine, exactly once
func (s *Service) onComplete(record *models.RunRecord, o Outcome) {
	o.Available = s.settlePages(o)

	now := time.Now()
	record.Checked = o.Checked
	record.Available = o.Available
	record.CompletedAt = &now
	record.Status = models.RunStatusCompleted
	if o.Cancelled {
		record.Status = models.RunStatusCancelled
	}
	s.saveRecord(record)

	s.publish(interfaces.EventStockComplete, map[string]interface{}{
		"run_id":    o.RunID,
		"total":     o.Total,
		"checked":   o.Checked,
		"available": o.Available,
		"cancelled": o.Cancelled,
	})
}

// settlePages decides the fate of the pages a settled run left open. The
// active run keeps them until the next check when retention is on; a
// superseded run, or any run without retention, has them closed now.
func (s *Service) settlePages(o Outcome) []models.AvailableItem {
	if len(o.Available) == 0 {
		return o.Available
	}

	s.mu.Lock()
	superseded := s.current != nil && s.current.ID() != o.RunID
	keep := s.keepPages && !superseded
	if keep {
		s.retained = o.Available
	}
	s.mu.Unlock()

	if keep {
		return o.Available
	}
	s.logger.Debug().Str("run_id", o.RunID).Int("pages", len(o.Available)).Msg("Closing pages of settled stock check")
	return s.scheduler.ClosePages(o.Available)
}

func (s *Service) saveRecord(record *models.RunRecord) {
	if s.runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.runs.SaveRun(ctx, record); err != nil {
		s.logger.Warn().Str("run_id", record.ID).Err(err).Msg("Failed to save run record")
	}
}

func (s *Service) publish(eventType interfaces.EventType, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().Str("event_type", string(eventType)).Err(err).Msg("Failed to publish event")
	}
}
