package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/stockcheck/internal/interfaces"
	"github.com/ternarybob/stockcheck/internal/models"
)

const pageCloseTimeout = 5 * time.Second

// checkItem drives one item through open, wait-for-load, settle, extract and
// classify. It returns the enriched item when available (page left open) and
// nil otherwise (page closed). Any error means "checked, not available".
func (s *Scheduler) checkItem(ctx context.Context, logger arbor.ILogger, item models.Item, variantOnly bool) (*models.AvailableItem, error) {
	capability, ok := s.registry.Resolve(item.URL)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSite, item.URL)
	}

	if s.itemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.itemTimeout)
		defer cancel()
	}

	handle, err := s.pages.Open(ctx, item.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: open page: %w", ErrPageLifecycle, err)
	}

	keepOpen := false
	defer func() {
		if !keepOpen {
			s.closePage(handle, logger)
		}
	}()

	if err := s.pages.WaitLoaded(ctx, handle); err != nil {
		return nil, fmt.Errorf("%w: wait for load: %w", ErrPageLifecycle, err)
	}

	if err := settle(ctx, s.settleFor(capability)); err != nil {
		return nil, fmt.Errorf("%w: settle: %w", ErrPageLifecycle, err)
	}

	raw, err := s.pages.Inject(ctx, handle, capability, interfaces.ExtractArgs{
		DisplayName:   item.DisplayName,
		PositionLabel: item.PositionLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: inject %s: %w", ErrPageLifecycle, capability.Name(), err)
	}

	observations, err := ParseObservations(raw)
	if err != nil {
		return nil, err
	}

	if !Classify(observations, variantOnly) {
		return nil, nil
	}

	keepOpen = true
	logger.Debug().
		Str("item_id", item.ID).
		Str("site", capability.Name()).
		Int("observations", len(observations)).
		Msg("Item available")

	return &models.AvailableItem{
		Item:         item,
		Observations: observations,
		PageID:       string(handle),
	}, nil
}

// settleFor prefers the capability's own delay over the configured default
func (s *Scheduler) settleFor(capability interfaces.ExtractionCapability) time.Duration {
	if d := capability.SettleDelay(); d > 0 {
		return d
	}
	return s.settleDelay
}

// closePage closes a page on a fresh context so an expired item deadline
// does not leak the page.
func (s *Scheduler) closePage(handle interfaces.PageHandle, logger arbor.ILogger) {
	ctx, cancel := context.WithTimeout(context.Background(), pageCloseTimeout)
	defer cancel()

	if err := s.pages.Close(ctx, handle); err != nil {
		logger.Warn().Str("page", string(handle)).Err(err).Msg("Failed to close page")
	}
}

// ClosePages closes the pages available items were left on and returns the
// items with their page handles cleared.
func (s *Scheduler) ClosePages(items []models.AvailableItem) []models.AvailableItem {
	released := make([]models.AvailableItem, len(items))
	for i, item := range items {
		if item.PageID != "" {
			s.closePage(interfaces.PageHandle(item.PageID), s.logger)
		}
		item.PageID = ""
		released[i] = item
	}
	return released
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
