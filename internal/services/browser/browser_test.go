package browser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/stockcheck/internal/common"
	"github.com/ternarybob/stockcheck/internal/interfaces"
)

func TestHostLimiter_SpacesOpensPerHost(t *testing.T) {
	limiter := NewHostLimiter(100*time.Millisecond, 1)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx, "https://store.401games.ca/a"))
	require.NoError(t, limiter.Wait(ctx, "https://www.facetofacegames.com/a"))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "different hosts do not wait on each other")

	require.NoError(t, limiter.Wait(ctx, "https://store.401games.ca/b"))
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestHostLimiter_Disabled(t *testing.T) {
	limiter := NewHostLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, limiter.Wait(context.Background(), "https://store.401games.ca/"))
	}

	var nilLimiter *HostLimiter
	assert.NoError(t, nilLimiter.Wait(context.Background(), "https://x.test/"))
}

func TestHostLimiter_ContextCancelled(t *testing.T) {
	limiter := NewHostLimiter(time.Hour, 1)
	require.NoError(t, limiter.Wait(context.Background(), "https://x.test/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, limiter.Wait(ctx, "https://x.test/"))
}

func TestScoped_FollowsParent(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := scoped(parent, context.Background(), 0)
	defer cancel()

	cancelParent()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("scoped context not cancelled with parent")
	}
}

func TestScoped_InheritsDeadline(t *testing.T) {
	parent, cancelParent := context.WithTimeout(context.Background(), time.Minute)
	defer cancelParent()

	ctx, cancel := scoped(parent, context.Background(), 0)
	defer cancel()

	want, _ := parent.Deadline()
	got, ok := ctx.Deadline()
	require.True(t, ok)
	assert.Equal(t, want, got)

	short, cancelShort := scoped(parent, context.Background(), time.Millisecond)
	defer cancelShort()
	<-short.Done()
	assert.ErrorIs(t, short.Err(), context.DeadlineExceeded)
}

func TestChromeController_WithoutBrowser(t *testing.T) {
	controller := NewChromeController(common.BrowserConfig{}, arbor.NewLogger())

	assert.NoError(t, controller.Close(context.Background(), "missing"), "closing an unknown page is not an error")
	assert.Equal(t, 0, controller.OpenPages())
	assert.False(t, controller.Started())

	require.NoError(t, controller.Shutdown())
	assert.ErrorIs(t, controller.Ready(context.Background()), ErrBrowserClosed)

	err := controller.WaitLoaded(context.Background(), "missing")
	assert.Error(t, err)
}

// echoCapability returns the page title as a single observation
type echoCapability struct{}

func (echoCapability) Name() string { return "echo" }

func (echoCapability) Hosts() []string { return []string{"127.0.0.1"} }

func (echoCapability) SettleDelay() time.Duration { return 0 }

func (echoCapability) Extract(ctx context.Context, doc interfaces.PageDocument, args interfaces.ExtractArgs) (json.RawMessage, error) {
	return doc.Evaluate(ctx, `[{"isVariantMatch": document.title === "`+args.DisplayName+`", "isOutOfStock": false}]`)
}

func findChrome() string {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

func TestChromeController_PageLifecycle(t *testing.T) {
	chrome := findChrome()
	if chrome == "" {
		t.Skip("Chrome not installed")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Pikachu</title></head><body><div class="bb-card">x</div></body></html>`))
	}))
	defer server.Close()

	controller := NewChromeController(common.BrowserConfig{
		Headless:   true,
		DisableGPU: true,
		NoSandbox:  true,
		ExecPath:   chrome,
	}, arbor.NewLogger())
	defer controller.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	require.NoError(t, controller.Ready(ctx))

	handle, err := controller.Open(ctx, server.URL)
	require.NoError(t, err)
	assert.Equal(t, 1, controller.OpenPages())

	require.NoError(t, controller.WaitLoaded(ctx, handle))

	raw, err := controller.Inject(ctx, handle, echoCapability{}, interfaces.ExtractArgs{DisplayName: "Pikachu"})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"isVariantMatch":true,"isOutOfStock":false}]`, string(raw))

	doc := &pageDocument{tab: mustTab(t, controller, handle)}
	html, err := doc.OuterHTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "bb-card")

	require.NoError(t, controller.Close(ctx, handle))
	assert.Equal(t, 0, controller.OpenPages())
}

func mustTab(t *testing.T, c *ChromeController, handle interfaces.PageHandle) *tab {
	t.Helper()
	tb, err := c.tab(handle)
	require.NoError(t, err)
	return tb
}
