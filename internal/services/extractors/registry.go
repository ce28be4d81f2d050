package extractors

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/ternarybob/stockcheck/internal/interfaces"
)

// Registry maps storefront hosts to extraction capabilities.
// A URL matches a registered host when its hostname equals the host or is a
// subdomain of it ("www.401games.ca" matches "401games.ca", "evil401games.ca" does not).
type Registry struct {
	mu     sync.RWMutex
	byHost map[string]interfaces.ExtractionCapability
	names  map[string]interfaces.ExtractionCapability
}

// NewRegistry creates a registry holding the given capabilities.
// Duplicate hosts are a programming error and panic.
func NewRegistry(capabilities ...interfaces.ExtractionCapability) *Registry {
	r := &Registry{
		byHost: make(map[string]interfaces.ExtractionCapability),
		names:  make(map[string]interfaces.ExtractionCapability),
	}
	for _, c := range capabilities {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
	return r
}

// NewDefaultRegistry creates a registry with the built-in storefront capabilities
func NewDefaultRegistry() *Registry {
	return NewRegistry(NewGames401(), NewFaceToFace())
}

// Register adds a capability for each of its hosts
func (r *Registry) Register(c interfaces.ExtractionCapability) error {
	if c == nil {
		return fmt.Errorf("capability cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[c.Name()]; exists {
		return fmt.Errorf("capability %q already registered", c.Name())
	}
	hosts := c.Hosts()
	if len(hosts) == 0 {
		return fmt.Errorf("capability %q declares no hosts", c.Name())
	}
	for _, host := range hosts {
		key := normalizeHost(host)
		if key == "" {
			return fmt.Errorf("capability %q declares an empty host", c.Name())
		}
		if existing, ok := r.byHost[key]; ok {
			return fmt.Errorf("host %q already served by capability %q", key, existing.Name())
		}
	}
	for _, host := range hosts {
		r.byHost[normalizeHost(host)] = c
	}
	r.names[c.Name()] = c
	return nil
}

// Resolve returns the capability serving rawURL's host
func (r *Registry) Resolve(rawURL string) (interfaces.ExtractionCapability, bool) {
	host := HostOf(rawURL)
	if host == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	// Walk from the full hostname up through its parent domains
	for candidate := host; candidate != ""; {
		if c, ok := r.byHost[candidate]; ok {
			return c, true
		}
		dot := strings.IndexByte(candidate, '.')
		if dot < 0 {
			break
		}
		candidate = candidate[dot+1:]
	}
	return nil, false
}

// Len returns the number of registered capabilities
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// Names returns the registered capability names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HostOf returns the lowercased hostname of rawURL without port, or "" when
// the URL has no host.
func HostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return normalizeHost(u.Host)
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}
