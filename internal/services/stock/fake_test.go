package stock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/stockcheck/internal/interfaces"
	"github.com/ternarybob/stockcheck/internal/services/extractors"
)

// fakePages is an in-memory PageController. Per-URL behaviour is driven by
// the results map; gate, when set, blocks WaitLoaded until released. active
// holds pages whose pipeline has not finished extraction.
type fakePages struct {
	mu      sync.Mutex
	next    int
	open    map[interfaces.PageHandle]string
	opened  []string
	closed  []interfaces.PageHandle
	active  map[interfaces.PageHandle]bool
	maxSeen int

	readyErr error
	openErr  map[string]error
	results  map[string]string // url -> raw extractor output
	gate     chan struct{}
	hang     map[string]bool
	panicOn  map[string]bool
	loaded   chan string
}

func newFakePages() *fakePages {
	return &fakePages{
		open:    make(map[interfaces.PageHandle]string),
		active:  make(map[interfaces.PageHandle]bool),
		openErr: make(map[string]error),
		results: make(map[string]string),
		hang:    make(map[string]bool),
		panicOn: make(map[string]bool),
	}
}

func (f *fakePages) Ready(ctx context.Context) error { return f.readyErr }

func (f *fakePages) Open(ctx context.Context, url string) (interfaces.PageHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opened = append(f.opened, url)
	if err := f.openErr[url]; err != nil {
		return "", err
	}
	if f.panicOn[url] {
		panic("controller exploded")
	}

	f.next++
	handle := interfaces.PageHandle(fmt.Sprintf("page-%d", f.next))
	f.open[handle] = url
	f.active[handle] = true
	if len(f.active) > f.maxSeen {
		f.maxSeen = len(f.active)
	}
	return handle, nil
}

func (f *fakePages) WaitLoaded(ctx context.Context, handle interfaces.PageHandle) error {
	url := f.urlOf(handle)
	if f.loaded != nil {
		f.loaded <- url
	}

	f.mu.Lock()
	hang := f.hang[url]
	gate := f.gate
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakePages) Inject(ctx context.Context, handle interfaces.PageHandle, capability interfaces.ExtractionCapability, args interfaces.ExtractArgs) (json.RawMessage, error) {
	defer f.settled(handle)

	url := f.urlOf(handle)
	f.mu.Lock()
	raw, ok := f.results[url]
	f.mu.Unlock()
	if !ok {
		return json.RawMessage(`[]`), nil
	}
	return json.RawMessage(raw), nil
}

func (f *fakePages) Close(ctx context.Context, handle interfaces.PageHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.open, handle)
	delete(f.active, handle)
	f.closed = append(f.closed, handle)
	return nil
}

// settled marks a pipeline as past extraction; available pages stay open
func (f *fakePages) settled(handle interfaces.PageHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, handle)
}

func (f *fakePages) urlOf(handle interfaces.PageHandle) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open[handle]
}

func (f *fakePages) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSeen
}

func (f *fakePages) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

func (f *fakePages) stillOpen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}

// testCapability serves example.test with no settle delay
type testCapability struct{}

func (testCapability) Name() string { return "test" }

func (testCapability) Hosts() []string { return []string{"example.test"} }

func (testCapability) SettleDelay() time.Duration { return 0 }

func (testCapability) Extract(ctx context.Context, page interfaces.PageDocument, args interfaces.ExtractArgs) (json.RawMessage, error) {
	return nil, errors.New("fake controller does not run extractors")
}

func testRegistry() *extractors.Registry {
	return extractors.NewRegistry(testCapability{})
}
