package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/stockcheck/internal/common"
	"github.com/ternarybob/stockcheck/internal/interfaces"
	"github.com/ternarybob/stockcheck/internal/services/collection"
	"github.com/ternarybob/stockcheck/internal/services/events"
	"github.com/ternarybob/stockcheck/internal/services/extractors"
	"github.com/ternarybob/stockcheck/internal/services/stock"
	"github.com/ternarybob/stockcheck/internal/storage/badger"
)

const testSiteURL = "https://shop.test/search?q="

// stubPages loads pages instantly. URLs containing "Charizard" report an
// in-stock variant; release, when set, holds every page until closed.
type stubPages struct {
	mu       sync.Mutex
	next     int
	urls     map[interfaces.PageHandle]string
	readyErr error
	release  chan struct{}
}

func newStubPages() *stubPages {
	return &stubPages{urls: make(map[interfaces.PageHandle]string)}
}

func (p *stubPages) Ready(ctx context.Context) error { return p.readyErr }

func (p *stubPages) Open(ctx context.Context, url string) (interfaces.PageHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	handle := interfaces.PageHandle(fmt.Sprintf("page-%d", p.next))
	p.urls[handle] = url
	return handle, nil
}

func (p *stubPages) WaitLoaded(ctx context.Context, handle interfaces.PageHandle) error {
	if p.release == nil {
		return nil
	}
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *stubPages) Inject(ctx context.Context, handle interfaces.PageHandle, capability interfaces.ExtractionCapability, args interfaces.ExtractArgs) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.Contains(p.urls[handle], "Charizard") {
		return json.RawMessage(`[{"isVariantMatch":true,"isOutOfStock":false}]`), nil
	}
	return json.RawMessage(`[{"isVariantMatch":true,"isOutOfStock":true}]`), nil
}

func (p *stubPages) Close(ctx context.Context, handle interfaces.PageHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.urls, handle)
	return nil
}

func (p *stubPages) Started() bool { return true }

func (p *stubPages) OpenPages() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.urls)
}

type stubCapability struct{}

func (stubCapability) Name() string { return "stub" }

func (stubCapability) Hosts() []string { return []string{"shop.test"} }

func (stubCapability) SettleDelay() time.Duration { return 0 }

func (stubCapability) Extract(ctx context.Context, page interfaces.PageDocument, args interfaces.ExtractArgs) (json.RawMessage, error) {
	return nil, nil
}

// testEnv wires real services over in-memory storage and a stub page controller
type testEnv struct {
	pages       *stubPages
	events      interfaces.EventService
	stock       *stock.Service
	collections *collection.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := arbor.NewLogger()

	manager, err := badger.NewManager(logger, &common.BadgerConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	eventService := events.NewService(logger)
	t.Cleanup(func() { eventService.Close() })

	pages := newStubPages()
	scheduler := stock.NewScheduler(extractors.NewRegistry(stubCapability{}), pages, common.StockConfig{
		MaxConcurrency: 10,
		SettleDelay:    "0s",
		ItemTimeout:    "5s",
	}, logger)
	stockService := stock.NewService(scheduler, eventService, manager.RunStorage(), logger)
	t.Cleanup(func() { stockService.Close() })

	collections := collection.NewService(manager.CollectionStorage(), manager.TriedStorage(), eventService,
		map[string]string{"shop": testSiteURL}, "shop", logger)

	return &testEnv{
		pages:       pages,
		events:      eventService,
		stock:       stockService,
		collections: collections,
	}
}

func (e *testEnv) waitSettled(t *testing.T, runID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		record, err := e.stock.GetRun(context.Background(), runID)
		return err == nil && record.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
}
