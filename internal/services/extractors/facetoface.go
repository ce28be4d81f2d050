package extractors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/stockcheck/internal/interfaces"
)

// faceToFaceMaxCards bounds how many result cards are inspected; later
// cards are loosely related suggestions.
const faceToFaceMaxCards = 5

// faceToFaceScript runs inside the page. Search results are rendered into the
// #fast-simon-serp-app shadow root, which never appears in serialized HTML,
// so this storefront has to be read from script. %s is the JSON-encoded
// ExtractArgs, %d the card limit.
const faceToFaceScript = `(function (args, limit) {
  try {
    const host = document.getElementById("fast-simon-serp-app");
    if (!host || !host.shadowRoot) return [];
    const cards = Array.from(host.shadowRoot.querySelectorAll(".product-card")).slice(0, limit);
    const results = [];
    for (const card of cards) {
      const title = card.querySelector(".fs-product-title");
      if (!title) continue;
      const text = title.textContent || "";
      if (!(text.includes(args.cardName) && text.includes(args.searchNumber))) continue;
      results.push({
        isVariantMatch: text.includes("Holo"),
        isOutOfStock: !!card.querySelector(".out-of-stock"),
      });
    }
    return results;
  } catch (e) {
    return [];
  }
})(%s, %d)`

// FaceToFace reads Face to Face Games search result pages
type FaceToFace struct {
	settleDelay time.Duration
}

// NewFaceToFace creates the Face to Face Games capability. The results app
// renders after load, so it waits longer than the default.
func NewFaceToFace() *FaceToFace {
	return &FaceToFace{settleDelay: 2 * time.Second}
}

// WithSettleDelay overrides the post-load wait for this storefront
func (f *FaceToFace) WithSettleDelay(d time.Duration) *FaceToFace {
	f.settleDelay = d
	return f
}

func (f *FaceToFace) Name() string { return "facetofacegames" }

func (f *FaceToFace) Hosts() []string { return []string{"facetofacegames.com"} }

func (f *FaceToFace) SettleDelay() time.Duration { return f.settleDelay }

// Extract evaluates the extraction script in the page
func (f *FaceToFace) Extract(ctx context.Context, page interfaces.PageDocument, args interfaces.ExtractArgs) (json.RawMessage, error) {
	script, err := BuildFaceToFaceScript(args)
	if err != nil {
		return nil, err
	}

	raw, err := page.Evaluate(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate extraction script: %w", err)
	}
	return raw, nil
}

// BuildFaceToFaceScript embeds args into the extraction script
func BuildFaceToFaceScript(args interfaces.ExtractArgs) (string, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode extract args: %w", err)
	}
	return fmt.Sprintf(faceToFaceScript, encoded, faceToFaceMaxCards), nil
}
