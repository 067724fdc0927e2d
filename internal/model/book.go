package model

import (
	"github.com/odinmarkets/gateway/internal/apperror"
)

// PriceLevel is one price/size pair on a book side.
type PriceLevel struct {
	Price Decimal
	Size  Decimal
}

// BookSnapshot is a full order book view at a point in time. Bids are
// ordered descending, asks ascending, each side with strictly unique price
// levels. Checksum is venue-specific and treated opaquely by the hub/cache.
type BookSnapshot struct {
	TsUTCMs  int64
	Venue    string
	Symbol   Symbol
	Depth    int
	Bids     []PriceLevel
	Asks     []PriceLevel
	Checksum string
	Seq      int64
}

// NewBookSnapshot validates level ordering and uniqueness per side.
func NewBookSnapshot(tsUTCMs int64, venue string, symbol Symbol, depth int, bids, asks []PriceLevel, checksum string, seq int64) (BookSnapshot, error) {
	if err := validateLevels(bids, true); err != nil {
		return BookSnapshot{}, err
	}
	if err := validateLevels(asks, false); err != nil {
		return BookSnapshot{}, err
	}
	return BookSnapshot{
		TsUTCMs: tsUTCMs, Venue: venue, Symbol: symbol, Depth: depth,
		Bids: bids, Asks: asks, Checksum: checksum, Seq: seq,
	}, nil
}

func (s BookSnapshot) channelMarketType() MarketType {
	if s.Symbol.MarketType != "" {
		return s.Symbol.MarketType
	}
	return MarketSpot
}

func validateLevels(levels []PriceLevel, descending bool) error {
	for i := 1; i < len(levels); i++ {
		prev, cur := levels[i-1].Price, levels[i].Price
		ordered := prev.GreaterThan(cur)
		if !descending {
			ordered = prev.LessThan(cur)
		}
		if !ordered {
			side := "ask"
			if descending {
				side = "bid"
			}
			return apperror.New(apperror.CodeInvariantViolation,
				"book levels must be strictly ordered and unique",
				apperror.WithContext(side))
		}
	}
	return nil
}

func (s BookSnapshot) ChannelKey() ChannelKey {
	return ChannelKey{Venue: s.Venue, MarketType: s.channelMarketType(), Kind: ChannelBookSnapshot, Symbol: s.Symbol, Depth: s.Depth}
}

// BookDelta carries incremental order book changes. Ordering per channel is
// monotonic by Seq when present, else by TsUTCMs; neither this type nor the
// cache checks that ordering across successive deltas.
type BookDelta struct {
	TsUTCMs    int64
	Venue      string
	Symbol     Symbol
	Depth      int
	UpsertBids []PriceLevel
	UpsertAsks []PriceLevel
	DeleteBids []Decimal
	DeleteAsks []Decimal
	Seq        int64
}

func (d BookDelta) ChannelKey() ChannelKey {
	mt := d.Symbol.MarketType
	if mt == "" {
		mt = MarketSpot
	}
	return ChannelKey{Venue: d.Venue, MarketType: mt, Kind: ChannelBookDelta, Symbol: d.Symbol, Depth: d.Depth}
}

// SeqOrTs returns the ordering key for delta/snapshot monotonicity checks:
// Seq when nonzero, else TsUTCMs.
func (d BookDelta) SeqOrTs() int64 {
	if d.Seq != 0 {
		return d.Seq
	}
	return d.TsUTCMs
}

func (s BookSnapshot) SeqOrTs() int64 {
	if s.Seq != 0 {
		return s.Seq
	}
	return s.TsUTCMs
}
