package extractors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/stockcheck/internal/interfaces"
	"github.com/ternarybob/stockcheck/internal/models"
)

// Games401 reads 401 Games search result pages. The results are server
// rendered, so the serialized document is parsed with goquery.
type Games401 struct {
	settleDelay time.Duration
}

// NewGames401 creates the 401 Games capability
func NewGames401() *Games401 {
	return &Games401{}
}

// WithSettleDelay overrides the post-load wait for this storefront
func (g *Games401) WithSettleDelay(d time.Duration) *Games401 {
	g.settleDelay = d
	return g
}

func (g *Games401) Name() string { return "401games" }

func (g *Games401) Hosts() []string { return []string{"401games.ca"} }

func (g *Games401) SettleDelay() time.Duration { return g.settleDelay }

// Extract parses the rendered page
func (g *Games401) Extract(ctx context.Context, page interfaces.PageDocument, args interfaces.ExtractArgs) (json.RawMessage, error) {
	html, err := page.OuterHTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page html: %w", err)
	}

	observations, err := ParseGames401(html, args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(observations)
}

// ParseGames401 returns one observation per listing whose title names both
// the display name and the position label.
//
// A listing is a variant match when its metafields carry a "Holo" or
// "Reverse Holo" label. Stock is read from the first inventory line of the
// first vendor group; a listing with no inventory line is reported out of
// stock.
func ParseGames401(html string, args interfaces.ExtractArgs) ([]models.Observation, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	observations := make([]models.Observation, 0)
	doc.Find(".bb-card-title").Each(func(_ int, title *goquery.Selection) {
		titleText := title.Find("a").First().Text()
		if !titleMatches(titleText, args) {
			return
		}

		listing := title.Parent()
		metafields := listing.Find(".bb-card-metafields")
		isVariant := metafields.Find(`[data-label="Holo"]`).Length() > 0 ||
			metafields.Find(`[data-label="Reverse Holo"]`).Length() > 0

		inventory := listing.Find(".bb-card-vendor-group").First().Find(".bb-card-inventory").First()
		isOutOfStock := inventory.Length() == 0 || strings.Contains(inventory.Text(), "Out of stock")

		observations = append(observations, models.Observation{
			IsVariantMatch: isVariant,
			IsOutOfStock:   isOutOfStock,
		})
	})

	return observations, nil
}

// titleMatches applies the storefront title rule: the listing title must
// contain both the display name and the position label.
func titleMatches(title string, args interfaces.ExtractArgs) bool {
	return strings.Contains(title, args.DisplayName) && strings.Contains(title, args.PositionLabel)
}
