package interfaces

import (
	"context"
	"encoding/json"
	"time"
)

// PageHandle is an opaque identifier for a page owned by a PageController.
// Only the controller that issued a handle can act on it.
type PageHandle string

// ExtractArgs are the per-item arguments passed to an extraction capability
type ExtractArgs struct {
	DisplayName   string `json:"cardName"`
	PositionLabel string `json:"searchNumber"`
}

// PageDocument is the read-only view of a loaded page given to extractors
type PageDocument interface {
	// URL returns the page's current location
	URL() string

	// OuterHTML returns the serialized document
	OuterHTML(ctx context.Context) (string, error)

	// Evaluate runs a JavaScript expression in the page and returns its JSON result
	Evaluate(ctx context.Context, expression string) (json.RawMessage, error)
}

// ExtractionCapability knows how to read availability observations from one
// storefront's pages.
type ExtractionCapability interface {
	// Name identifies the capability in logs and config
	Name() string

	// Hosts lists the registrable hosts the capability serves (e.g. "401games.ca")
	Hosts() []string

	// SettleDelay is how long to wait after load before extracting.
	// Zero means use the configured default.
	SettleDelay() time.Duration

	// Extract returns a JSON array of observations. The output is untrusted
	// and is validated by the caller.
	Extract(ctx context.Context, page PageDocument, args ExtractArgs) (json.RawMessage, error)
}

// CapabilityRegistry resolves the extraction capability for a page URL
type CapabilityRegistry interface {
	Resolve(rawURL string) (ExtractionCapability, bool)
	Len() int
}

// PageController owns the external page lifecycle.
type PageController interface {
	// Ready reports whether the controller can open pages
	Ready(ctx context.Context) error

	// Open creates a non-focused background page for url
	Open(ctx context.Context, url string) (PageHandle, error)

	// WaitLoaded blocks until the page finished loading or ctx expires
	WaitLoaded(ctx context.Context, handle PageHandle) error

	// Inject runs the capability against the page and returns its raw output
	Inject(ctx context.Context, handle PageHandle, capability ExtractionCapability, args ExtractArgs) (json.RawMessage, error)

	// Close closes the page. Closing an unknown handle is not an error.
	Close(ctx context.Context, handle PageHandle) error
}
