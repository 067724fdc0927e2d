package model

import "fmt"

// ChannelKind enumerates the canonical channel kinds. The source protocol's
// "orderbook_snapshot"/"orderbook_delta" naming is deliberately not used;
// this gateway accepts book_snapshot/book_delta only (spec open question).
type ChannelKind string

const (
	ChannelTicker       ChannelKind = "ticker"
	ChannelBookSnapshot ChannelKind = "book_snapshot"
	ChannelBookDelta    ChannelKind = "book_delta"
)

func (k ChannelKind) Valid() bool {
	switch k {
	case ChannelTicker, ChannelBookSnapshot, ChannelBookDelta:
		return true
	default:
		return false
	}
}

func (k ChannelKind) IsBook() bool {
	return k == ChannelBookSnapshot || k == ChannelBookDelta
}

// ChannelKey identifies a logical topic. Depth is only meaningful for book
// channels; two keys are equal iff venue/market_type/kind/symbol match and,
// for book kinds, depth also matches — depth is ignored for non-book kinds.
type ChannelKey struct {
	Venue      string
	MarketType MarketType
	Kind       ChannelKind
	Symbol     Symbol
	Depth      int
}

func (k ChannelKey) Equal(other ChannelKey) bool {
	if k.Venue != other.Venue || k.MarketType != other.MarketType || k.Kind != other.Kind || !k.Symbol.Equal(other.Symbol) {
		return false
	}
	if k.Kind.IsBook() {
		return k.Depth == other.Depth
	}
	return true
}

// String returns a canonical, stable string form of the key. The cache and
// the hub's topic registry key their maps by the ChannelKey value itself.
func (k ChannelKey) String() string {
	if k.Kind.IsBook() {
		return fmt.Sprintf("%s|%s|%s|%s|%d", k.Venue, k.MarketType, k.Kind, k.Symbol.String(), k.Depth)
	}
	return fmt.Sprintf("%s|%s|%s|%s", k.Venue, k.MarketType, k.Kind, k.Symbol.String())
}
