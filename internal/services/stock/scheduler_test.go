package stock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/stockcheck/internal/common"
	"github.com/ternarybob/stockcheck/internal/models"
	"github.com/ternarybob/stockcheck/internal/services/extractors"
)

const (
	inStockVariant   = `[{"isVariantMatch":true,"isOutOfStock":false}]`
	inStockPlain     = `[{"isVariantMatch":false,"isOutOfStock":false}]`
	waitTimeout      = 5 * time.Second
	eventuallyTick   = 5 * time.Millisecond
	quietPeriod      = 50 * time.Millisecond
	testItemTimeout  = "5s"
	testSettleDelay  = "0s"
	testMaxParallels = 50
)

func newTestScheduler(pages *fakePages) *Scheduler {
	return NewScheduler(testRegistry(), pages, common.StockConfig{
		MaxConcurrency: testMaxParallels,
		SettleDelay:    testSettleDelay,
		ItemTimeout:    testItemTimeout,
	}, arbor.NewLogger())
}

func makeItems(n int) []models.Item {
	items := make([]models.Item, n)
	for i := range items {
		items[i] = models.Item{
			ID:            fmt.Sprintf("card-%d", i),
			URL:           fmt.Sprintf("https://shop.example.test/search?q=card-%d", i),
			DisplayName:   fmt.Sprintf("Card %d", i),
			PositionLabel: fmt.Sprintf("%03d/165", i),
		}
	}
	return items
}

// recorder collects callbacks from one run
type recorder struct {
	mu        sync.Mutex
	progress  []Progress
	outcomes  []Outcome
	completed atomic.Int32
}

func (r *recorder) onProgress(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recorder) onComplete(o Outcome) {
	r.completed.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recorder) progressSnapshot() []Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Progress(nil), r.progress...)
}

func waitRun(t *testing.T, run *Run) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	outcome, err := run.Wait(ctx)
	require.NoError(t, err, "run did not settle")
	return outcome
}

func TestScheduler_ConcurrencyNeverExceedsLimit(t *testing.T) {
	for _, limit := range []int{-3, 0, 1, 3, 10} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			pages := newFakePages()
			pages.gate = make(chan struct{})
			scheduler := newTestScheduler(pages)

			effective := max(1, limit)
			items := makeItems(12)
			rec := &recorder{}

			run, err := scheduler.Start(context.Background(), items, Options{ConcurrencyLimit: limit}, rec.onProgress, rec.onComplete)
			require.NoError(t, err)
			assert.Equal(t, effective, run.Limit())

			assert.Eventually(t, func() bool { return pages.openCount() == effective }, waitTimeout, eventuallyTick)
			time.Sleep(quietPeriod)
			assert.Equal(t, effective, pages.openCount(), "no admission while all slots are busy")

			close(pages.gate)
			outcome := waitRun(t, run)

			assert.LessOrEqual(t, pages.maxConcurrent(), effective)
			assert.Equal(t, len(items), outcome.Checked)
			assert.Equal(t, len(items), pages.openCount())
			assert.Equal(t, int32(1), rec.completed.Load())
		})
	}
}

func TestScheduler_LimitClampedToMax(t *testing.T) {
	scheduler := NewScheduler(testRegistry(), newFakePages(), common.StockConfig{MaxConcurrency: 4}, arbor.NewLogger())
	assert.Equal(t, 4, scheduler.EffectiveLimit(100))
	assert.Equal(t, 1, scheduler.EffectiveLimit(0))
	assert.Equal(t, 3, scheduler.EffectiveLimit(3))
}

func TestScheduler_SaturationSevenItemsLimitThree(t *testing.T) {
	pages := newFakePages()
	pages.loaded = make(chan string, 16)
	pages.gate = make(chan struct{})
	scheduler := newTestScheduler(pages)

	items := makeItems(7)
	for i, item := range items {
		if i%2 == 0 {
			pages.results[item.URL] = inStockVariant
		}
	}
	rec := &recorder{}

	run, err := scheduler.Start(context.Background(), items, Options{ConcurrencyLimit: 3, VariantOnly: true}, rec.onProgress, rec.onComplete)
	require.NoError(t, err)
	assert.Equal(t, 7, run.Total())

	for i := 0; i < 3; i++ {
		select {
		case <-pages.loaded:
		case <-time.After(waitTimeout):
			t.Fatal("expected three pages loading")
		}
	}
	time.Sleep(quietPeriod)
	assert.Equal(t, 3, pages.openCount())

	close(pages.gate)
	outcome := waitRun(t, run)

	assert.Equal(t, 3, pages.maxConcurrent())
	assert.False(t, outcome.Cancelled)
	assert.Equal(t, 7, outcome.Checked)
	assert.Len(t, outcome.Available, 4)
	assert.LessOrEqual(t, len(outcome.Available), 7)
	for _, available := range outcome.Available {
		assert.NotEmpty(t, available.PageID)
		assert.Len(t, available.Observations, 1)
	}
	assert.Equal(t, 4, pages.stillOpen(), "available pages stay open")

	progress := rec.progressSnapshot()
	require.Len(t, progress, 7)
	for i, p := range progress {
		assert.Equal(t, i+1, p.Checked)
		assert.Equal(t, 7, p.Total)
		assert.Equal(t, run.ID(), p.RunID)
	}
}

func TestScheduler_EmptyList(t *testing.T) {
	pages := newFakePages()
	scheduler := newTestScheduler(pages)
	rec := &recorder{}

	run, err := scheduler.Start(context.Background(), nil, Options{ConcurrencyLimit: 5}, rec.onProgress, rec.onComplete)
	require.NoError(t, err)
	assert.Equal(t, 0, run.Total())

	outcome := waitRun(t, run)
	assert.NotNil(t, outcome.Available)
	assert.Empty(t, outcome.Available)
	assert.Equal(t, 0, outcome.Checked)
	assert.Empty(t, rec.progressSnapshot())
	assert.Equal(t, int32(1), rec.completed.Load())
	assert.Equal(t, 0, pages.openCount())
}

func TestScheduler_CompletesExactlyOnce(t *testing.T) {
	for _, n := range []int{0, 1, 2, 9, 25} {
		t.Run(fmt.Sprintf("items=%d", n), func(t *testing.T) {
			pages := newFakePages()
			scheduler := newTestScheduler(pages)
			rec := &recorder{}

			run, err := scheduler.Start(context.Background(), makeItems(n), Options{ConcurrencyLimit: 4}, rec.onProgress, func(o Outcome) {
				assert.Equal(t, o.Total, o.Checked, "completion only after every item is checked")
				rec.onComplete(o)
			})
			require.NoError(t, err)

			waitRun(t, run)
			run.Cancel()
			run.Cancel()
			time.Sleep(quietPeriod)

			assert.Equal(t, int32(1), rec.completed.Load())
			assert.False(t, rec.outcomes[0].Cancelled, "cancel after completion is a no-op")
			assert.Len(t, rec.progressSnapshot(), n)
		})
	}
}

func TestScheduler_CancelIsIdempotent(t *testing.T) {
	pages := newFakePages()
	pages.gate = make(chan struct{})
	scheduler := newTestScheduler(pages)
	rec := &recorder{}

	run, err := scheduler.Start(context.Background(), makeItems(6), Options{ConcurrencyLimit: 2}, rec.onProgress, rec.onComplete)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return pages.openCount() == 2 }, waitTimeout, eventuallyTick)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run.Cancel()
		}()
	}
	wg.Wait()

	close(pages.gate)
	outcome := waitRun(t, run)

	assert.True(t, outcome.Cancelled)
	assert.Equal(t, 2, pages.openCount())
	assert.Equal(t, int32(1), rec.completed.Load())
}

func TestScheduler_CancelMidRun(t *testing.T) {
	pages := newFakePages()
	pages.loaded = make(chan string, 16)
	pages.gate = make(chan struct{})
	scheduler := newTestScheduler(pages)

	items := makeItems(10)
	for _, item := range items {
		pages.results[item.URL] = inStockPlain
	}
	rec := &recorder{}

	run, err := scheduler.Start(context.Background(), items, Options{ConcurrencyLimit: 2}, rec.onProgress, rec.onComplete)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case <-pages.loaded:
		case <-time.After(waitTimeout):
			t.Fatal("expected two items to start")
		}
	}

	run.Cancel()
	close(pages.gate)
	outcome := waitRun(t, run)

	assert.True(t, outcome.Cancelled)
	assert.Equal(t, 0, outcome.Checked)
	assert.Empty(t, outcome.Available, "straggler results are discarded")
	assert.Equal(t, 2, pages.openCount(), "no items admitted after cancel")
	assert.Equal(t, 0, pages.stillOpen(), "pages left open by stragglers are closed")
	assert.Empty(t, rec.progressSnapshot())
	assert.Equal(t, int32(1), rec.completed.Load())
}

func TestScheduler_CancelKeepsEarlierResults(t *testing.T) {
	pages := newFakePages()
	scheduler := newTestScheduler(pages)

	items := makeItems(4)
	pages.results[items[0].URL] = inStockPlain
	pages.hang[items[1].URL] = true

	ctx, abort := context.WithCancel(context.Background())
	defer abort()

	run, err := scheduler.Start(ctx, items, Options{ConcurrencyLimit: 1}, nil, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return run.Checked() == 1 }, waitTimeout, eventuallyTick)
	assert.Eventually(t, func() bool { return pages.openCount() == 2 }, waitTimeout, eventuallyTick)
	run.Cancel()

	// the hung item would otherwise hold its slot until the item timeout
	abort()
	outcome := waitRun(t, run)

	assert.True(t, outcome.Cancelled)
	assert.Equal(t, 1, outcome.Checked)
	require.Len(t, outcome.Available, 1)
	assert.Equal(t, items[0].ID, outcome.Available[0].ID)
	assert.Equal(t, 2, pages.openCount())
}

func TestScheduler_ParentContextCancelsRun(t *testing.T) {
	pages := newFakePages()
	scheduler := newTestScheduler(pages)

	items := makeItems(3)
	for _, item := range items {
		pages.hang[item.URL] = true
	}
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	run, err := scheduler.Start(ctx, items, Options{ConcurrencyLimit: 3}, rec.onProgress, rec.onComplete)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return pages.openCount() == 3 }, waitTimeout, eventuallyTick)

	cancel()
	outcome := waitRun(t, run)

	assert.True(t, outcome.Cancelled)
	assert.Equal(t, 0, outcome.Checked, "aborted checks are discarded, not counted")
	assert.Empty(t, rec.progressSnapshot(), "no progress after cancel")
	assert.Equal(t, 0, pages.stillOpen())
	assert.Equal(t, int32(1), rec.completed.Load())
}

func TestScheduler_ParentCancelDiscardsLateResults(t *testing.T) {
	for i := 0; i < 20; i++ {
		pages := newFakePages()
		pages.gate = make(chan struct{})
		scheduler := newTestScheduler(pages)

		items := makeItems(4)
		for _, item := range items {
			pages.results[item.URL] = inStockPlain
		}
		rec := &recorder{}

		ctx, cancel := context.WithCancel(context.Background())
		run, err := scheduler.Start(ctx, items, Options{ConcurrencyLimit: 4}, rec.onProgress, rec.onComplete)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return pages.openCount() == 4 }, waitTimeout, eventuallyTick)

		cancel()
		outcome := waitRun(t, run)

		require.True(t, outcome.Cancelled)
		require.Zero(t, outcome.Checked)
		require.Empty(t, outcome.Available)
		require.Empty(t, rec.progressSnapshot())
		require.Zero(t, pages.stillOpen())
	}
}

func TestScheduler_MalformedExtraction(t *testing.T) {
	pages := newFakePages()
	scheduler := newTestScheduler(pages)

	items := makeItems(3)
	pages.results[items[0].URL] = `{"notAnArray": true}`
	pages.results[items[1].URL] = inStockPlain
	pages.results[items[2].URL] = `[{"isVariantMatch":"yes","isOutOfStock":false}]`

	run, err := scheduler.Start(context.Background(), items, Options{ConcurrencyLimit: 3}, nil, nil)
	require.NoError(t, err)
	outcome := waitRun(t, run)

	assert.Equal(t, 3, outcome.Checked)
	require.Len(t, outcome.Available, 1)
	assert.Equal(t, items[1].ID, outcome.Available[0].ID)
	assert.Equal(t, 1, pages.stillOpen(), "malformed pages are closed")
}

func TestScheduler_UnsupportedHostNeverOpensPage(t *testing.T) {
	pages := newFakePages()
	scheduler := newTestScheduler(pages)
	rec := &recorder{}

	items := []models.Item{
		{ID: "a", URL: "https://unknown-shop.test/x", DisplayName: "A"},
		{ID: "b", URL: "https://shop.example.test/b", DisplayName: "B"},
		{ID: "c", URL: "::not a url::", DisplayName: "C"},
	}
	pages.results[items[1].URL] = inStockPlain

	run, err := scheduler.Start(context.Background(), items, Options{ConcurrencyLimit: 1}, rec.onProgress, rec.onComplete)
	require.NoError(t, err)
	outcome := waitRun(t, run)

	assert.Equal(t, 3, outcome.Checked)
	assert.Len(t, outcome.Available, 1)
	assert.Equal(t, 1, pages.openCount(), "only the supported item opens a page")
	assert.Len(t, rec.progressSnapshot(), 3)
}

func TestScheduler_OpenFailureCountsAsChecked(t *testing.T) {
	pages := newFakePages()
	scheduler := newTestScheduler(pages)

	items := makeItems(2)
	pages.openErr[items[0].URL] = errors.New("net::ERR_NAME_NOT_RESOLVED")
	pages.results[items[1].URL] = inStockPlain

	run, err := scheduler.Start(context.Background(), items, Options{ConcurrencyLimit: 2}, nil, nil)
	require.NoError(t, err)
	outcome := waitRun(t, run)

	assert.Equal(t, 2, outcome.Checked)
	assert.Len(t, outcome.Available, 1)
}

func TestScheduler_ItemTimeoutFreesSlot(t *testing.T) {
	pages := newFakePages()
	scheduler := NewScheduler(testRegistry(), pages, common.StockConfig{
		MaxConcurrency: 10,
		SettleDelay:    testSettleDelay,
		ItemTimeout:    "100ms",
	}, arbor.NewLogger())

	items := makeItems(3)
	pages.hang[items[0].URL] = true
	pages.results[items[1].URL] = inStockPlain
	pages.results[items[2].URL] = inStockPlain

	run, err := scheduler.Start(context.Background(), items, Options{ConcurrencyLimit: 1}, nil, nil)
	require.NoError(t, err)
	outcome := waitRun(t, run)

	assert.Equal(t, 3, outcome.Checked)
	assert.Len(t, outcome.Available, 2)
	assert.Equal(t, 2, pages.stillOpen(), "timed-out page is closed")
}

func TestScheduler_WorkerPanicCountsAsChecked(t *testing.T) {
	pages := newFakePages()
	scheduler := newTestScheduler(pages)

	items := makeItems(3)
	pages.panicOn[items[1].URL] = true
	pages.results[items[2].URL] = inStockPlain

	run, err := scheduler.Start(context.Background(), items, Options{ConcurrencyLimit: 2}, nil, func(Outcome) {
		panic("callback bug")
	})
	require.NoError(t, err)
	outcome := waitRun(t, run)

	assert.Equal(t, 3, outcome.Checked)
	assert.Len(t, outcome.Available, 1)
}

func TestScheduler_HostUnavailable(t *testing.T) {
	logger := arbor.NewLogger()
	config := common.StockConfig{MaxConcurrency: 10}

	tests := []struct {
		name      string
		scheduler *Scheduler
	}{
		{"nil controller", NewScheduler(testRegistry(), nil, config, logger)},
		{"nil registry", NewScheduler(nil, newFakePages(), config, logger)},
		{"empty registry", NewScheduler(extractors.NewRegistry(), newFakePages(), config, logger)},
		{"controller not ready", func() *Scheduler {
			pages := newFakePages()
			pages.readyErr = errors.New("chrome not found")
			return NewScheduler(testRegistry(), pages, config, logger)
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			run, err := tt.scheduler.Start(context.Background(), makeItems(2), Options{}, nil, func(Outcome) { called = true })
			assert.Nil(t, run)
			assert.ErrorIs(t, err, ErrHostUnavailable)
			assert.False(t, called)
		})
	}
}

func TestScheduler_SettleDelayPrefersCapability(t *testing.T) {
	scheduler := NewScheduler(testRegistry(), newFakePages(), common.StockConfig{SettleDelay: "750ms"}, arbor.NewLogger())

	assert.Equal(t, 750*time.Millisecond, scheduler.settleFor(testCapability{}))
	assert.Equal(t, 2*time.Second, scheduler.settleFor(extractors.NewFaceToFace()))
	assert.Equal(t, 300*time.Millisecond, scheduler.settleFor(extractors.NewGames401().WithSettleDelay(300*time.Millisecond)))
}

func TestScheduler_ConcurrentRunsAreIndependent(t *testing.T) {
	pages := newFakePages()
	scheduler := newTestScheduler(pages)

	first, err := scheduler.Start(context.Background(), makeItems(5), Options{ConcurrencyLimit: 2}, nil, nil)
	require.NoError(t, err)
	second, err := scheduler.Start(context.Background(), makeItems(3), Options{ConcurrencyLimit: 1}, nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())

	assert.Equal(t, 5, waitRun(t, first).Checked)
	assert.Equal(t, 3, waitRun(t, second).Checked)
}
