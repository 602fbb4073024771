// Package capture classifies observed request URLs into the known private
// endpoint shapes and retains the first match of each shape for replay. It is
// a pure state transition over (URL, headers) pairs so it can be exercised
// without a browser; the browser layer feeds it from a CDP event stream.
package capture

import (
	"strings"
	"sync"
)

// Kind is one of the three endpoint shapes discovered by traffic observation.
type Kind string

const (
	KindUsage   Kind = "usage"
	KindCredits Kind = "credits"
	KindOverage Kind = "overage"
)

// Endpoint is a replayable request: the observed URL plus the headers needed
// to call it directly.
type Endpoint struct {
	URL     string
	Headers map[string]string
}

// Classification fragments, checked in order. Usage is matched last so the
// more specific credit and overage paths win when a URL carries both words.
var fragments = []struct {
	kind  Kind
	parts []string
}{
	{KindCredits, []string{"prepaid_credits", "/credits"}},
	{KindOverage, []string{"overage", "spend_limit"}},
	{KindUsage, []string{"/usage"}},
}

// Classify maps a URL to at most one endpoint kind.
func Classify(url string) (Kind, bool) {
	lower := strings.ToLower(url)
	if !strings.Contains(lower, "/api/") {
		return "", false
	}
	for _, f := range fragments {
		for _, part := range f.parts {
			if strings.Contains(lower, part) {
				return f.kind, true
			}
		}
	}
	return "", false
}

// Headers that are connection- or transport-scoped and must not be replayed.
var skippedHeaders = map[string]struct{}{
	"host":            {},
	"content-length":  {},
	"cookie":          {},
	"connection":      {},
	"accept-encoding": {},
}

// Cache holds the captured endpoints for one browser session. It lives until
// the session closes and is emptied on an explicit connection reset.
type Cache struct {
	mu        sync.Mutex
	endpoints map[Kind]Endpoint
}

func NewCache() *Cache {
	return &Cache{endpoints: make(map[Kind]Endpoint, 3)}
}

// Observe feeds one request into the cache. The first URL matching each kind
// is retained; later matches of the same kind are ignored. It reports whether
// the request was captured.
func (c *Cache) Observe(url string, headers map[string]string) bool {
	kind, ok := Classify(url)
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.endpoints[kind]; seen {
		return false
	}

	kept := make(map[string]string, len(headers))
	for k, v := range headers {
		if _, skip := skippedHeaders[strings.ToLower(k)]; skip {
			continue
		}
		kept[k] = v
	}
	c.endpoints[kind] = Endpoint{URL: url, Headers: kept}
	return true
}

// Get returns the captured endpoint for a kind, if any.
func (c *Cache) Get(kind Kind) (Endpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep, ok := c.endpoints[kind]
	return ep, ok
}

// Reset drops every captured endpoint. Called on connection reset.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints = make(map[Kind]Endpoint, 3)
}
