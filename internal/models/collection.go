package models

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// CardSet is the subset of set metadata needed to build storefront queries
type CardSet struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	PrintedTotal int    `json:"printedTotal"`
}

// CardPrice mirrors one tcgplayer price bucket (normal, holofoil, ...)
type CardPrice struct {
	Low    *float64 `json:"low,omitempty"`
	Mid    *float64 `json:"mid,omitempty"`
	High   *float64 `json:"high,omitempty"`
	Market *float64 `json:"market,omitempty"`
}

// CardPricing holds the price buckets keyed by finish
type CardPricing struct {
	Prices map[string]CardPrice `json:"prices,omitempty"`
}

// CardImages holds card image URLs
type CardImages struct {
	Small string `json:"small,omitempty"`
	Large string `json:"large,omitempty"`
}

// Card is a collectible card as exported from the card database.
// JSON keys match the collection export format so exported files round-trip.
type Card struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Number    string       `json:"number"`
	Set       CardSet      `json:"set"`
	Images    *CardImages  `json:"images,omitempty"`
	TCGPlayer *CardPricing `json:"tcgplayer,omitempty"`
}

// PositionLabel returns "number/printedTotal", the label storefronts print on listings
func (c Card) PositionLabel() string {
	if c.Set.PrintedTotal <= 0 {
		return c.Number + "/"
	}
	return c.Number + "/" + strconv.Itoa(c.Set.PrintedTotal)
}

// MarketPrice returns the first usable price across the card's price buckets,
// preferring market, then mid, low and high. Zero when no price is known.
func (c Card) MarketPrice() float64 {
	if c.TCGPlayer == nil {
		return 0
	}
	for _, key := range sortedPriceKeys(c.TCGPlayer.Prices) {
		p := c.TCGPlayer.Prices[key]
		for _, v := range []*float64{p.Market, p.Mid, p.Low, p.High} {
			if v != nil && *v != 0 {
				return *v
			}
		}
	}
	return 0
}

// Collection is the stored state of one artist's card collection.
type Collection struct {
	Artist    string    `json:"artist,omitempty"`
	Cards     []Card    `json:"cards"`
	Owned     []string  `json:"owned"`
	Ignored   []string  `json:"ignored"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NormalizeArtist returns the storage key for an artist name
func NormalizeArtist(artist string) string {
	return strings.ToLower(strings.TrimSpace(artist))
}

// OwnedSet returns the owned card IDs as a set
func (c *Collection) OwnedSet() map[string]bool {
	return toSet(c.Owned)
}

// IgnoredSet returns the ignored card IDs as a set
func (c *Collection) IgnoredSet() map[string]bool {
	return toSet(c.Ignored)
}

// OwnedValue sums the market price of every owned card
func (c *Collection) OwnedValue() float64 {
	owned := c.OwnedSet()
	total := 0.0
	for _, card := range c.Cards {
		if owned[card.ID] {
			total += card.MarketPrice()
		}
	}
	return total
}

// CollectionSummary is the listing view of a collection
type CollectionSummary struct {
	Artist     string    `json:"artist"`
	Cards      int       `json:"cards"`
	Owned      int       `json:"owned"`
	Ignored    int       `json:"ignored"`
	OwnedValue float64   `json:"owned_value"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Summary builds the listing view
func (c *Collection) Summary() CollectionSummary {
	return CollectionSummary{
		Artist:     c.Artist,
		Cards:      len(c.Cards),
		Owned:      len(c.Owned),
		Ignored:    len(c.Ignored),
		OwnedValue: c.OwnedValue(),
		UpdatedAt:  c.UpdatedAt,
	}
}

// TriedCards records which cards of an artist have already been searched,
// so successive checks rotate through the unowned pool.
type TriedCards struct {
	Key       string    `json:"key"` // artist|site
	CardIDs   []string  `json:"card_ids"`
	UpdatedAt time.Time `json:"updated_at"`
}

func sortedPriceKeys(prices map[string]CardPrice) []string {
	keys := make([]string, 0, len(prices))
	for k := range prices {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
