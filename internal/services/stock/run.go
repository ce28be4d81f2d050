package stock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/stockcheck/internal/common"
	"github.com/ternarybob/stockcheck/internal/interfaces"
	"github.com/ternarybob/stockcheck/internal/models"
)

// settledMessage is posted by a worker when its item finishes, whatever the result
type settledMessage struct {
	index  int
	result *models.AvailableItem
}

type cancelMessage struct{}

// Run is one stock check. Its queue, in-flight count, completed counter,
// results and cancel flag are owned by a single goroutine (receive); workers
// and callers only talk to it through the mailbox.
type Run struct {
	id          string
	items       []models.Item
	limit       int
	variantOnly bool
	scheduler   *Scheduler
	logger      arbor.ILogger

	ctx             context.Context
	stop            context.CancelFunc
	stopParentWatch func() bool

	mailbox chan any
	done    chan struct{}

	onProgress ProgressFunc
	onComplete CompleteFunc

	startedAt       time.Time
	checked         atomic.Int64
	cancelRequested atomic.Bool

	// written once by receive before done is closed
	outcome Outcome
}

// ID returns the run identifier
func (r *Run) ID() string { return r.id }

// Total returns the number of items in the run
func (r *Run) Total() int { return len(r.items) }

// Limit returns the effective concurrency limit
func (r *Run) Limit() int { return r.limit }

// StartedAt returns when the run was admitted
func (r *Run) StartedAt() time.Time { return r.startedAt }

// Checked returns the number of settled items reported so far
func (r *Run) Checked() int { return int(r.checked.Load()) }

// Progress returns the latest progress snapshot
func (r *Run) Progress() Progress {
	return Progress{RunID: r.id, Checked: r.Checked(), Total: len(r.items)}
}

// Done is closed once the run has settled and onComplete has returned
func (r *Run) Done() <-chan struct{} { return r.done }

// Cancel stops admitting items and discards the results of checks still in
// flight. In-flight checks are not aborted; the run settles once they finish.
// Cancel is idempotent and a no-op after completion.
func (r *Run) Cancel() {
	if !r.cancelRequested.CompareAndSwap(false, true) {
		return
	}
	select {
	case r.mailbox <- cancelMessage{}:
	case <-r.done:
	}
}

// Wait blocks until the run settles or ctx is done
func (r *Run) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-r.done:
		return r.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Outcome returns the settled outcome and whether the run has settled
func (r *Run) Outcome() (Outcome, bool) {
	select {
	case <-r.done:
		return r.outcome, true
	default:
		return Outcome{}, false
	}
}

// receive is the run's actor loop. Admission is pull-based: the first
// min(limit, total) items start immediately and every settle admits the next.
func (r *Run) receive() {
	defer r.stop()
	defer r.stopParentWatch()

	total := len(r.items)
	available := make([]models.AvailableItem, 0)
	next, inFlight, completed := 0, 0, 0
	cancelled := false

	admit := func() {
		for !cancelled && inFlight < r.limit && next < total {
			r.launch(next)
			next++
			inFlight++
		}
	}

	if total == 0 {
		r.finish(available, 0, false)
		return
	}
	admit()

	for {
		switch msg := (<-r.mailbox).(type) {
		case settledMessage:
			inFlight--

			// A parent cancel aborts workers before its cancelMessage arrives.
			if !cancelled && (r.ctx.Err() != nil || r.cancelRequested.Load()) {
				cancelled = true
				r.logCancelled(completed, inFlight+1, total-next)
			}

			if cancelled {
				if msg.result != nil {
					r.discard(msg.result)
				}
				if inFlight == 0 {
					r.finish(available, completed, true)
					return
				}
				continue
			}

			completed++
			r.checked.Store(int64(completed))
			if msg.result != nil {
				available = append(available, *msg.result)
			}
			r.emitProgress(Progress{RunID: r.id, Checked: completed, Total: total})

			if completed == total {
				r.finish(available, completed, false)
				return
			}
			admit()

		case cancelMessage:
			if cancelled {
				continue
			}
			cancelled = true
			r.logCancelled(completed, inFlight, total-next)
			if inFlight == 0 {
				r.finish(available, completed, true)
				return
			}
		}
	}
}

func (r *Run) logCancelled(checked, inFlight, notStarted int) {
	r.logger.Info().
		Int("checked", checked).
		Int("in_flight", inFlight).
		Int("not_started", notStarted).
		Msg("Stock check cancelled")
}

// launch starts the check for items[index] in its own goroutine. The worker
// always posts exactly one settledMessage, even on panic.
func (r *Run) launch(index int) {
	item := r.items[index]
	go func() {
		var result *models.AvailableItem
		defer func() {
			r.mailbox <- settledMessage{index: index, result: result}
		}()
		defer common.RecoverAndLog(r.logger, "stock-check-item")

		available, err := r.scheduler.checkItem(r.ctx, r.logger, item, r.variantOnly)
		if err != nil {
			r.logger.Debug().
				Str("item_id", item.ID).
				Str("url", item.URL).
				Err(err).
				Msg("Item checked with failure - counted as not available")
			return
		}
		result = available
	}()
}

// discard closes the page a straggler left open after cancel
func (r *Run) discard(result *models.AvailableItem) {
	if result.PageID == "" {
		return
	}
	r.scheduler.closePage(interfaces.PageHandle(result.PageID), r.logger)
}

func (r *Run) emitProgress(p Progress) {
	if r.onProgress == nil {
		return
	}
	defer common.RecoverAndLog(r.logger, "stock-progress-callback")
	r.onProgress(p)
}

// finish records the outcome, fires onComplete once and releases waiters
func (r *Run) finish(available []models.AvailableItem, checked int, cancelled bool) {
	r.outcome = Outcome{
		RunID:     r.id,
		Available: available,
		Checked:   checked,
		Total:     len(r.items),
		Cancelled: cancelled,
		Duration:  time.Since(r.startedAt),
	}

	r.logger.Info().
		Int("total", r.outcome.Total).
		Int("checked", checked).
		Int("available", len(available)).
		Bool("cancelled", cancelled).
		Dur("duration", r.outcome.Duration).
		Msg("Stock check settled")

	r.complete()
	close(r.done)
}

func (r *Run) complete() {
	if r.onComplete == nil {
		return
	}
	defer common.RecoverAndLog(r.logger, "stock-complete-callback")
	r.onComplete(r.outcome)
}
