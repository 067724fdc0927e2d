// Package metadata exposes the read-only symbol catalog port the core
// consumes. A separate collaborator owns refreshing the catalog; this
// package only defines the port and an in-memory implementation suitable
// for bootstrapping the gateway from static configuration.
package metadata

import (
	"strings"
	"sync"

	"github.com/odinmarkets/gateway/internal/model"
)

// VenueDescriptor describes one configured venue.
type VenueDescriptor struct {
	ID     string
	Name   string
	Status string
}

// SymbolInfo is the resolved, venue-scoped symbol record the metadata port
// returns for a successful lookup.
type SymbolInfo struct {
	Venue         string
	MarketType    model.MarketType
	Symbol        model.Symbol
	PricePrecision int32
	SizePrecision  int32
	TickSize       model.Decimal
}

// Port is the read-only interface the core consumes. The core never writes
// to the catalog.
type Port interface {
	ListVenues() []VenueDescriptor
	Resolve(venue string, marketType model.MarketType, symbolText string) (SymbolInfo, bool)
	AllowedQuotes(marketType model.MarketType) map[string]struct{}
}

// StaticCatalog is an in-memory Port backed by configuration-time data.
// Lookups are O(1) amortized via pre-built maps.
type StaticCatalog struct {
	mu      sync.RWMutex
	venues  []VenueDescriptor
	symbols map[string]SymbolInfo
	quotes  map[model.MarketType]map[string]struct{}
}

// NewStaticCatalog builds a catalog from the given venues and symbols.
func NewStaticCatalog(venues []VenueDescriptor, symbols []SymbolInfo) *StaticCatalog {
	c := &StaticCatalog{
		venues:  venues,
		symbols: make(map[string]SymbolInfo, len(symbols)),
		quotes:  make(map[model.MarketType]map[string]struct{}),
	}
	for _, s := range symbols {
		c.symbols[lookupKey(s.Venue, s.MarketType, s.Symbol.Base, s.Symbol.Quote)] = s
		set, ok := c.quotes[s.MarketType]
		if !ok {
			set = make(map[string]struct{})
			c.quotes[s.MarketType] = set
		}
		set[s.Symbol.Quote] = struct{}{}
	}
	return c
}

func lookupKey(venue string, marketType model.MarketType, base, quote string) string {
	return strings.ToUpper(venue) + "|" + string(marketType) + "|" + strings.ToUpper(base) + "|" + strings.ToUpper(quote)
}

func (c *StaticCatalog) ListVenues() []VenueDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]VenueDescriptor, len(c.venues))
	copy(out, c.venues)
	return out
}

// Resolve looks up a symbol by its free-text "BASE/QUOTE" or "BASE-QUOTE"
// form, scoped to venue and market type.
func (c *StaticCatalog) Resolve(venue string, marketType model.MarketType, symbolText string) (SymbolInfo, bool) {
	base, quote, ok := splitSymbolText(symbolText)
	if !ok {
		return SymbolInfo{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.symbols[lookupKey(venue, marketType, base, quote)]
	return info, ok
}

func (c *StaticCatalog) AllowedQuotes(marketType model.MarketType) map[string]struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]struct{}, len(c.quotes[marketType]))
	for q := range c.quotes[marketType] {
		out[q] = struct{}{}
	}
	return out
}

// SetVenueStatus updates the reported status of a venue descriptor, used by
// the bootstrap routine to reflect adapter health in /api/exchanges.
func (c *StaticCatalog) SetVenueStatus(venueID, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.venues {
		if c.venues[i].ID == venueID {
			c.venues[i].Status = status
			return
		}
	}
}

func splitSymbolText(text string) (base, quote string, ok bool) {
	text = strings.TrimSpace(text)
	for _, sep := range []string{"/", "-", "_"} {
		if idx := strings.Index(text, sep); idx > 0 && idx < len(text)-1 {
			return strings.ToUpper(text[:idx]), strings.ToUpper(text[idx+len(sep):]), true
		}
	}
	return "", "", false
}
