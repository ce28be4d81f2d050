package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/tidwall/gjson"

	"github.com/ternarybob/stockcheck/internal/interfaces"
	"github.com/ternarybob/stockcheck/internal/models"
)

// Service manages artist collections and builds the candidate pools that feed
// stock checks.
type Service struct {
	collections interfaces.CollectionStorage
	tried       interfaces.TriedStorage
	events      interfaces.EventService
	sites       map[string]string
	defaultSite string
	logger      arbor.ILogger

	// mu serializes read-modify-write of collections and tried sets
	mu      sync.Mutex
	shuffle func(n int, swap func(i, j int))
}

// NewService creates a collection service. sites maps site keys to search
// URL prefixes.
func NewService(collections interfaces.CollectionStorage, tried interfaces.TriedStorage, events interfaces.EventService, sites map[string]string, defaultSite string, logger arbor.ILogger) *Service {
	return &Service{
		collections: collections,
		tried:       tried,
		events:      events,
		sites:       maps.Clone(sites),
		defaultSite: defaultSite,
		logger:      logger,
		shuffle:     rand.Shuffle,
	}
}

// Sites returns the configured site keys, sorted
func (s *Service) Sites() []string {
	return slices.Sorted(maps.Keys(s.sites))
}

// SiteURL resolves a site key (empty means the default site)
func (s *Service) SiteURL(site string) (string, string, error) {
	if site == "" {
		site = s.defaultSite
	}
	base, ok := s.sites[site]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownSite, site)
	}
	return site, base, nil
}

// List returns a summary of every stored collection
func (s *Service) List(ctx context.Context) ([]models.CollectionSummary, error) {
	collections, err := s.collections.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]models.CollectionSummary, 0, len(collections))
	for _, c := range collections {
		summaries = append(summaries, c.Summary())
	}
	return summaries, nil
}

// Get returns one collection
func (s *Service) Get(ctx context.Context, artist string) (*models.Collection, error) {
	collection, err := s.collections.GetCollection(ctx, artist)
	if err != nil {
		return nil, fmt.Errorf("collection %q: %w", artist, err)
	}
	return collection, nil
}

// Save stores a collection, replacing any previous one for the artist.
// Owned and ignored IDs not present in the card list are dropped.
func (s *Service) Save(ctx context.Context, collection *models.Collection) error {
	if models.NormalizeArtist(collection.Artist) == "" {
		return ErrArtistMissing
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]bool, len(collection.Cards))
	for _, card := range collection.Cards {
		known[card.ID] = true
	}
	collection.Owned = filterKnown(collection.Owned, known)
	collection.Ignored = filterKnown(collection.Ignored, known)
	collection.UpdatedAt = time.Now()

	if err := s.collections.SaveCollection(ctx, collection); err != nil {
		return err
	}

	s.logger.Info().
		Str("artist", collection.Artist).
		Int("cards", len(collection.Cards)).
		Int("owned", len(collection.Owned)).
		Int("ignored", len(collection.Ignored)).
		Msg("Collection saved")

	s.publishUpdated(collection.Artist)
	return nil
}

// Delete removes a collection and its tried history
func (s *Service) Delete(ctx context.Context, artist string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.collections.DeleteCollection(ctx, artist); err != nil {
		return fmt.Errorf("collection %q: %w", artist, err)
	}
	for site := range s.sites {
		if err := s.tried.ClearTried(ctx, triedKey(artist, site)); err != nil {
			s.logger.Warn().Str("artist", artist).Str("site", site).Err(err).Msg("Failed to clear tried cards")
		}
	}

	s.publishUpdated(models.NormalizeArtist(artist))
	return nil
}

// SetOwned marks or unmarks a card as owned
func (s *Service) SetOwned(ctx context.Context, artist, cardID string, owned bool) (*models.Collection, error) {
	return s.update(ctx, artist, func(c *models.Collection) error {
		if !hasCard(c, cardID) {
			return fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
		}
		c.Owned = setMember(c.Owned, cardID, owned)
		return nil
	})
}

// SetIgnored marks or unmarks a card as ignored for searches
func (s *Service) SetIgnored(ctx context.Context, artist, cardID string, ignored bool) (*models.Collection, error) {
	return s.update(ctx, artist, func(c *models.Collection) error {
		if !hasCard(c, cardID) {
			return fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
		}
		c.Ignored = setMember(c.Ignored, cardID, ignored)
		return nil
	})
}

// ToggleIgnoreAll ignores every card, or clears the ignore list when every
// card is already ignored.
func (s *Service) ToggleIgnoreAll(ctx context.Context, artist string) (*models.Collection, error) {
	return s.update(ctx, artist, func(c *models.Collection) error {
		ignored := c.IgnoredSet()
		allIgnored := true
		for _, card := range c.Cards {
			if !ignored[card.ID] {
				allIgnored = false
				break
			}
		}

		if allIgnored {
			c.Ignored = []string{}
			return nil
		}
		c.Ignored = make([]string, 0, len(c.Cards))
		for _, card := range c.Cards {
			c.Ignored = append(c.Ignored, card.ID)
		}
		return nil
	})
}

// BuildPool picks the cards of an artist to check on a site and returns them
// as stock check items. Owned and ignored cards are excluded; cards already
// tried on this site are skipped until none are left, at which point the
// tried set resets. The pool is shuffled and capped at limit (<= 0 = all).
func (s *Service) BuildPool(ctx context.Context, artist, site string, limit int) ([]models.Item, error) {
	site, baseURL, err := s.SiteURL(site)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	collection, err := s.collections.GetCollection(ctx, artist)
	if err != nil {
		return nil, fmt.Errorf("collection %q: %w", artist, err)
	}

	owned := collection.OwnedSet()
	ignored := collection.IgnoredSet()
	unowned := make([]models.Card, 0, len(collection.Cards))
	for _, card := range collection.Cards {
		if !owned[card.ID] && !ignored[card.ID] {
			unowned = append(unowned, card)
		}
	}

	key := triedKey(artist, site)
	tried, err := s.tried.GetTried(ctx, key)
	if err != nil {
		return nil, err
	}

	pool := make([]models.Card, 0, len(unowned))
	for _, card := range unowned {
		if !tried[card.ID] {
			pool = append(pool, card)
		}
	}
	if len(pool) == 0 {
		s.logger.Debug().Str("artist", artist).Str("site", site).Msg("Every card tried - resetting rotation")
		tried = map[string]bool{}
		pool = unowned
	}

	s.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if limit > 0 && len(pool) > limit {
		pool = pool[:limit]
	}

	items := make([]models.Item, 0, len(pool))
	for _, card := range pool {
		tried[card.ID] = true
		items = append(items, ToItem(baseURL, card))
	}

	if err := s.tried.SaveTried(ctx, key, slices.Sorted(maps.Keys(tried))); err != nil {
		return nil, err
	}

	return items, nil
}

// Export returns every collection as a JSON object keyed by artist
func (s *Service) Export(ctx context.Context) ([]byte, error) {
	collections, err := s.collections.ListCollections(ctx)
	if err != nil {
		return nil, err
	}

	byArtist := make(map[string]models.Collection, len(collections))
	for _, c := range collections {
		exported := *c
		exported.Artist = ""
		byArtist[c.Artist] = exported
	}
	return json.MarshalIndent(byArtist, "", "  ")
}

// Import replaces every stored collection with the contents of an export.
// Anything but a JSON object keyed by artist is rejected.
func (s *Service) Import(ctx context.Context, data []byte) (int, error) {
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return 0, fmt.Errorf("%w: expected a JSON object keyed by artist", ErrInvalidImport)
	}

	var byArtist map[string]*models.Collection
	if err := json.Unmarshal(data, &byArtist); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidImport, err)
	}

	collections := make([]*models.Collection, 0, len(byArtist))
	for artist, c := range byArtist {
		if c == nil || models.NormalizeArtist(artist) == "" {
			return 0, fmt.Errorf("%w: bad entry for artist %q", ErrInvalidImport, artist)
		}
		c.Artist = artist
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = time.Now()
		}
		collections = append(collections, c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.collections.ReplaceAll(ctx, collections); err != nil {
		return 0, err
	}

	s.logger.Info().Int("collections", len(collections)).Msg("Collections imported")
	s.publishUpdated("")
	return len(collections), nil
}

func (s *Service) update(ctx context.Context, artist string, mutate func(*models.Collection) error) (*models.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	collection, err := s.collections.GetCollection(ctx, artist)
	if err != nil {
		return nil, fmt.Errorf("collection %q: %w", artist, err)
	}
	if err := mutate(collection); err != nil {
		return nil, err
	}
	collection.UpdatedAt = time.Now()
	if err := s.collections.SaveCollection(ctx, collection); err != nil {
		return nil, err
	}

	s.publishUpdated(collection.Artist)
	return collection, nil
}

func (s *Service) publishUpdated(artist string) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventCollectionUpdated,
		Payload: map[string]interface{}{"artist": artist},
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish collection update")
	}
}

// IsNotFound reports whether err means the collection does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, interfaces.ErrNotFound)
}

func hasCard(c *models.Collection, cardID string) bool {
	return slices.ContainsFunc(c.Cards, func(card models.Card) bool { return card.ID == cardID })
}

func setMember(ids []string, id string, member bool) []string {
	out := slices.DeleteFunc(slices.Clone(ids), func(existing string) bool { return existing == id })
	if member {
		out = append(out, id)
	}
	return out
}

func filterKnown(ids []string, known map[string]bool) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if known[id] && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
