package collection

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ternarybob/stockcheck/internal/models"
)

// componentUnescaper turns query escaping into URI component escaping:
// spaces as %20 and the marks !'()* left literal.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// BuildSearchURL appends the percent-encoded query "name number/printedTotal"
// to a storefront's search URL prefix, escaped as a URI component.
func BuildSearchURL(baseURL string, card models.Card) string {
	return baseURL + escapeComponent(card.Name+" "+card.PositionLabel())
}

func escapeComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}

// ToItem converts a card into a stock check item for the given site
func ToItem(baseURL string, card models.Card) models.Item {
	return models.Item{
		ID:            card.ID,
		URL:           BuildSearchURL(baseURL, card),
		DisplayName:   card.Name,
		PositionLabel: card.PositionLabel(),
	}
}

func triedKey(artist, site string) string {
	return fmt.Sprintf("%s|%s", models.NormalizeArtist(artist), site)
}
