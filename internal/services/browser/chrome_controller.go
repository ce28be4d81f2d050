package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/stockcheck/internal/common"
	"github.com/ternarybob/stockcheck/internal/interfaces"
)

const (
	defaultUserAgent  = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	readyStatePoll    = 250 * time.Millisecond
	readyStateScript  = `document.readyState`
	shutdownTimeout   = 30 * time.Second
	startupTestTarget = "about:blank"
)

// ErrBrowserClosed is returned once Shutdown has been called
var ErrBrowserClosed = errors.New("browser closed")

// ChromeController hosts storefront pages as tabs of one headless Chrome.
// The browser starts lazily on the first Ready call.
type ChromeController struct {
	config  common.BrowserConfig
	limiter *HostLimiter
	logger  arbor.ILogger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	started       bool
	closed        bool
	pages         map[interfaces.PageHandle]*tab
}

// tab is one open page
type tab struct {
	ctx      context.Context
	cancel   context.CancelFunc
	url      string
	loaded   chan struct{}
	loadOnce sync.Once
}

func (t *tab) markLoaded() {
	t.loadOnce.Do(func() { close(t.loaded) })
}

// NewChromeController creates a controller; no browser is launched yet
func NewChromeController(config common.BrowserConfig, logger arbor.ILogger) *ChromeController {
	return &ChromeController{
		config:  config,
		limiter: NewHostLimiter(config.PerHostInterval(), config.PerHostBurst),
		logger:  logger,
		pages:   make(map[interfaces.PageHandle]*tab),
	}
}

// Ready launches Chrome if needed and checks it responds
func (c *ChromeController) Ready(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrBrowserClosed
	}
	if c.started {
		return nil
	}

	startTime := time.Now()
	userAgent := c.config.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.config.Headless),
		chromedp.Flag("disable-gpu", c.config.DisableGPU),
		chromedp.Flag("no-sandbox", c.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.UserAgent(userAgent),
	)
	if c.config.ExecPath != "" {
		allocatorOpts = append(allocatorOpts, chromedp.ExecPath(c.config.ExecPath))
	}

	allocatorCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	testCtx, testCancel := scoped(ctx, browserCtx, c.config.StartupTimeoutDuration())
	defer testCancel()

	var title string
	if err := chromedp.Run(testCtx, chromedp.Navigate(startupTestTarget), chromedp.Title(&title)); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser failed startup test: %w", err)
	}

	c.allocCancel = allocCancel
	c.browserCtx = browserCtx
	c.browserCancel = browserCancel
	c.started = true

	c.logger.Info().
		Bool("headless", c.config.Headless).
		Dur("startup_time", time.Since(startTime)).
		Msg("Chrome started")

	return nil
}

// Open creates a background tab and starts navigating it to url. It does not
// wait for the page to load.
func (c *ChromeController) Open(ctx context.Context, url string) (interfaces.PageHandle, error) {
	if err := c.Ready(ctx); err != nil {
		return "", err
	}
	if err := c.limiter.Wait(ctx, url); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrBrowserClosed
	}
	tabCtx, tabCancel := chromedp.NewContext(c.browserCtx)
	c.mu.Unlock()

	t := &tab{
		ctx:    tabCtx,
		cancel: tabCancel,
		url:    url,
		loaded: make(chan struct{}),
	}
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventLoadEventFired); ok {
			t.markLoaded()
		}
	})

	opCtx, opCancel := scoped(ctx, tabCtx, 0)
	defer opCancel()

	err := chromedp.Run(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errorText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("navigation failed: %s", errorText)
		}
		return nil
	}))
	if err != nil {
		tabCancel()
		return "", fmt.Errorf("open %s: %w", url, err)
	}

	handle := interfaces.PageHandle(uuid.NewString())

	c.mu.Lock()
	c.pages[handle] = t
	open := len(c.pages)
	c.mu.Unlock()

	c.logger.Trace().Str("page", string(handle)).Str("url", url).Int("open_pages", open).Msg("Page opened")
	return handle, nil
}

// WaitLoaded blocks until the page fires its load event or its document
// reports readyState "complete".
func (c *ChromeController) WaitLoaded(ctx context.Context, handle interfaces.PageHandle) error {
	t, err := c.tab(handle)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(readyStatePoll)
	defer ticker.Stop()

	for {
		select {
		case <-t.loaded:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-t.ctx.Done():
			return fmt.Errorf("page closed while loading: %w", t.ctx.Err())
		case <-ticker.C:
			if c.documentComplete(ctx, t) {
				t.markLoaded()
				return nil
			}
		}
	}
}

// Inject runs the capability against the page
func (c *ChromeController) Inject(ctx context.Context, handle interfaces.PageHandle, capability interfaces.ExtractionCapability, args interfaces.ExtractArgs) (json.RawMessage, error) {
	t, err := c.tab(handle)
	if err != nil {
		return nil, err
	}
	return capability.Extract(ctx, &pageDocument{tab: t}, args)
}

// Close closes the tab. Unknown handles are ignored.
func (c *ChromeController) Close(ctx context.Context, handle interfaces.PageHandle) error {
	c.mu.Lock()
	t, ok := c.pages[handle]
	delete(c.pages, handle)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	t.cancel()
	return nil
}

// OpenPages returns the number of tabs currently open
func (c *ChromeController) OpenPages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pages)
}

// Started reports whether Chrome is running
func (c *ChromeController) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started && !c.closed
}

// Shutdown closes every tab and the browser
func (c *ChromeController) Shutdown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pages := c.pages
	c.pages = make(map[interfaces.PageHandle]*tab)
	started := c.started
	browserCtx := c.browserCtx
	c.mu.Unlock()

	for _, t := range pages {
		t.cancel()
	}
	if !started {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(browserCtx) }()

	var err error
	select {
	case err = <-done:
	case <-time.After(shutdownTimeout):
		err = fmt.Errorf("browser shutdown timed out after %s", shutdownTimeout)
	}

	c.browserCancel()
	c.allocCancel()

	c.logger.Info().Int("pages_closed", len(pages)).Msg("Chrome stopped")
	return err
}

func (c *ChromeController) tab(handle interfaces.PageHandle) (*tab, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.pages[handle]
	if !ok {
		return nil, fmt.Errorf("unknown page %q", handle)
	}
	return t, nil
}

func (c *ChromeController) documentComplete(ctx context.Context, t *tab) bool {
	opCtx, cancel := scoped(ctx, t.ctx, readyStatePoll)
	defer cancel()

	var state string
	if err := chromedp.Run(opCtx, chromedp.Evaluate(readyStateScript, &state)); err != nil {
		return false
	}
	return state == "complete"
}

// pageDocument exposes a tab to extraction capabilities
type pageDocument struct {
	tab *tab
}

func (d *pageDocument) URL() string { return d.tab.url }

func (d *pageDocument) OuterHTML(ctx context.Context) (string, error) {
	opCtx, cancel := scoped(ctx, d.tab.ctx, 0)
	defer cancel()

	var html string
	if err := chromedp.Run(opCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}

func (d *pageDocument) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	opCtx, cancel := scoped(ctx, d.tab.ctx, 0)
	defer cancel()

	var raw []byte
	if err := chromedp.Run(opCtx, chromedp.Evaluate(expression, &raw)); err != nil {
		return nil, fmt.Errorf("evaluate script: %w", err)
	}
	return json.RawMessage(raw), nil
}

// scoped derives a context carrying the chromedp target of tabCtx that is
// also cancelled when parent is done. timeout > 0 adds a deadline.
func scoped(parent, tabCtx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(tabCtx)
	if deadline, ok := parent.Deadline(); ok {
		ctx, cancel = withDeadline(ctx, cancel, deadline)
	}
	if timeout > 0 {
		ctx, cancel = withDeadline(ctx, cancel, time.Now().Add(timeout))
	}
	stop := context.AfterFunc(parent, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func withDeadline(ctx context.Context, cancel context.CancelFunc, deadline time.Time) (context.Context, context.CancelFunc) {
	dctx, dcancel := context.WithDeadline(ctx, deadline)
	return dctx, func() {
		dcancel()
		cancel()
	}
}
