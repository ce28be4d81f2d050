package extractors

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/stockcheck/internal/interfaces"
	"github.com/ternarybob/stockcheck/internal/models"
)

// fakeDocument implements interfaces.PageDocument for testing
type fakeDocument struct {
	html       string
	evalResult json.RawMessage
	evalErr    error
	lastScript string
}

func (d *fakeDocument) URL() string { return "https://example.test/" }

func (d *fakeDocument) OuterHTML(ctx context.Context) (string, error) {
	return d.html, nil
}

func (d *fakeDocument) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	d.lastScript = expression
	return d.evalResult, d.evalErr
}

// stubCapability is a minimal capability used to exercise the registry
type stubCapability struct {
	name  string
	hosts []string
}

func (s stubCapability) Name() string { return s.name }

func (s stubCapability) Hosts() []string { return s.hosts }

func (s stubCapability) SettleDelay() time.Duration { return 0 }

func (s stubCapability) Extract(ctx context.Context, page interfaces.PageDocument, args interfaces.ExtractArgs) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

const games401Page = `<html><body>
<div class="bb-card">
  <div class="bb-card-title"><a href="/p/1">Pikachu - 025/165 - Holo Rare</a></div>
  <div class="bb-card-metafields"><div data-label="Holo">Holo</div></div>
  <div class="bb-card-vendor-group"><span class="bb-card-inventory">3 in stock</span></div>
</div>
<div class="bb-card">
  <div class="bb-card-title"><a href="/p/2">Pikachu - 025/165 - Reverse Holo</a></div>
  <div class="bb-card-metafields"><div data-label="Reverse Holo">Reverse Holo</div></div>
  <div class="bb-card-vendor-group"><span class="bb-card-inventory">Out of stock</span></div>
</div>
<div class="bb-card">
  <div class="bb-card-title"><a href="/p/3">Pikachu - 025/165</a></div>
  <div class="bb-card-metafields"><div data-label="Rarity">Common</div></div>
  <div class="bb-card-vendor-group"><span class="bb-card-inventory">1 in stock</span></div>
</div>
<div class="bb-card">
  <div class="bb-card-title"><a href="/p/4">Raichu - 026/165</a></div>
  <div class="bb-card-metafields"><div data-label="Holo">Holo</div></div>
  <div class="bb-card-vendor-group"><span class="bb-card-inventory">5 in stock</span></div>
</div>
<div class="bb-card">
  <div class="bb-card-title"><a href="/p/5">Pikachu - 025/165 - Promo</a></div>
  <div class="bb-card-metafields"></div>
</div>
</body></html>`

func TestParseGames401(t *testing.T) {
	t.Parallel()

	args := interfaces.ExtractArgs{DisplayName: "Pikachu", PositionLabel: "025/165"}
	observations, err := ParseGames401(games401Page, args)
	require.NoError(t, err)

	assert.Equal(t, []models.Observation{
		{IsVariantMatch: true, IsOutOfStock: false},
		{IsVariantMatch: true, IsOutOfStock: true},
		{IsVariantMatch: false, IsOutOfStock: false},
		{IsVariantMatch: false, IsOutOfStock: true},
	}, observations)
}

func TestParseGames401_ReadsFirstInventoryLine(t *testing.T) {
	t.Parallel()

	page := `<html><body>
<div class="bb-card">
  <div class="bb-card-title"><a href="/p/1">Pikachu - 025/165 - Holo Rare</a></div>
  <div class="bb-card-metafields"><div data-label="Holo">Holo</div></div>
  <div class="bb-card-vendor-group"><span class="bb-card-inventory">2 in stock</span><span class="bb-card-inventory">Out of stock</span></div>
  <div class="bb-card-vendor-group"><span class="bb-card-inventory">Out of stock</span></div>
</div>
<div class="bb-card">
  <div class="bb-card-title"><a href="/p/2">Pikachu - 025/165 - Reverse Holo</a></div>
  <div class="bb-card-metafields"><div data-label="Reverse Holo">Reverse Holo</div></div>
  <div class="bb-card-vendor-group"><span class="bb-card-inventory">Out of stock</span></div>
  <div class="bb-card-vendor-group"><span class="bb-card-inventory">4 in stock</span></div>
</div>
</body></html>`

	observations, err := ParseGames401(page, interfaces.ExtractArgs{DisplayName: "Pikachu", PositionLabel: "025/165"})
	require.NoError(t, err)

	assert.Equal(t, []models.Observation{
		{IsVariantMatch: true, IsOutOfStock: false},
		{IsVariantMatch: true, IsOutOfStock: true},
	}, observations)
}

func TestParseGames401_NoListings(t *testing.T) {
	t.Parallel()

	observations, err := ParseGames401("<html><body><p>No results</p></body></html>",
		interfaces.ExtractArgs{DisplayName: "Pikachu", PositionLabel: "025/165"})
	require.NoError(t, err)
	assert.Empty(t, observations)
	assert.NotNil(t, observations, "empty result must encode as [] not null")
}

func TestGames401_Extract(t *testing.T) {
	t.Parallel()

	doc := &fakeDocument{html: games401Page}
	raw, err := NewGames401().Extract(context.Background(), doc,
		interfaces.ExtractArgs{DisplayName: "Raichu", PositionLabel: "026/165"})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"isVariantMatch":true,"isOutOfStock":false}]`, string(raw))
}

func TestBuildFaceToFaceScript(t *testing.T) {
	t.Parallel()

	script, err := BuildFaceToFaceScript(interfaces.ExtractArgs{DisplayName: `Mew "ex"`, PositionLabel: "151/165"})
	require.NoError(t, err)

	assert.Contains(t, script, `{"cardName":"Mew \"ex\"","searchNumber":"151/165"}`)
	assert.True(t, strings.HasSuffix(script, ", 5)"))
	assert.Contains(t, script, "shadowRoot")
	assert.NotContains(t, script, "%!")
}

func TestFaceToFace_Extract(t *testing.T) {
	t.Parallel()

	doc := &fakeDocument{evalResult: json.RawMessage(`[{"isVariantMatch":false,"isOutOfStock":false}]`)}
	raw, err := NewFaceToFace().Extract(context.Background(), doc,
		interfaces.ExtractArgs{DisplayName: "Mew", PositionLabel: "151/165"})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"isVariantMatch":false,"isOutOfStock":false}]`, string(raw))
	assert.Contains(t, doc.lastScript, `"cardName":"Mew"`)

	doc.evalErr = errors.New("target closed")
	_, err = NewFaceToFace().Extract(context.Background(), doc, interfaces.ExtractArgs{})
	assert.Error(t, err)
}

func TestRegistry_Resolve(t *testing.T) {
	t.Parallel()

	registry := NewDefaultRegistry()
	assert.Equal(t, 2, registry.Len())
	assert.Equal(t, []string{"401games", "facetofacegames"}, registry.Names())

	tests := []struct {
		url  string
		want string
	}{
		{"https://401games.ca/search?q=x", "401games"},
		{"https://store.401games.ca/pages/search-results?q=x", "401games"},
		{"https://STORE.401Games.CA:443/x", "401games"},
		{"https://www.facetofacegames.com/search/?q=x", "facetofacegames"},
		{"https://evil401games.ca/x", ""},
		{"https://401games.ca.attacker.io/x", ""},
		{"https://example.com/", ""},
		{"not a url", ""},
		{"", ""},
	}
	for _, tt := range tests {
		c, ok := registry.Resolve(tt.url)
		if tt.want == "" {
			assert.False(t, ok, tt.url)
			assert.Nil(t, c, tt.url)
			continue
		}
		require.True(t, ok, tt.url)
		assert.Equal(t, tt.want, c.Name(), tt.url)
	}
}

func TestRegistry_Register(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	assert.Equal(t, 0, registry.Len())

	require.NoError(t, registry.Register(stubCapability{name: "a", hosts: []string{"a.example"}}))
	assert.Error(t, registry.Register(nil))
	assert.Error(t, registry.Register(stubCapability{name: "a", hosts: []string{"other.example"}}), "duplicate name")
	assert.Error(t, registry.Register(stubCapability{name: "b", hosts: []string{"A.example"}}), "duplicate host")
	assert.Error(t, registry.Register(stubCapability{name: "c"}), "no hosts")

	c, ok := registry.Resolve("http://shop.a.example/item")
	require.True(t, ok)
	assert.Equal(t, "a", c.Name())

	assert.Panics(t, func() {
		NewRegistry(stubCapability{name: "x", hosts: []string{"x.example"}}, stubCapability{name: "y", hosts: []string{"x.example"}})
	})
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "store.401games.ca", HostOf("https://Store.401games.ca./x"))
	assert.Equal(t, "localhost", HostOf("http://localhost:8080/"))
	assert.Equal(t, "", HostOf("/relative/path"))
}
