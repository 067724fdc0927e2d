package model

import (
	"github.com/odinmarkets/gateway/internal/apperror"
)

// Ticker is the canonical best-bid/ask/last snapshot for a symbol.
type Ticker struct {
	TsUTCMs    int64
	Venue      string
	MarketType MarketType
	Symbol     Symbol
	Bid        Decimal
	Ask        Decimal
	Last       Decimal
	BidSize    Decimal
	AskSize    Decimal
}

// NewTicker enforces the bid<=ask invariant when both sides are nonzero.
// ts_utc_ms monotonicity is a per-channel property that this constructor does
// not check, since it requires the previous value; the cache does not check
// it either.
func NewTicker(tsUTCMs int64, venue string, marketType MarketType, symbol Symbol, bid, ask, last, bidSize, askSize Decimal) (Ticker, error) {
	if !bid.IsZero() && !ask.IsZero() && bid.GreaterThan(ask) {
		return Ticker{}, apperror.New(apperror.CodeInvariantViolation,
			"ticker bid must not exceed ask",
			apperror.WithContext(symbol.String()))
	}
	return Ticker{
		TsUTCMs:    tsUTCMs,
		Venue:      venue,
		MarketType: marketType,
		Symbol:     symbol,
		Bid:        bid,
		Ask:        ask,
		Last:       last,
		BidSize:    bidSize,
		AskSize:    askSize,
	}, nil
}

func (t Ticker) ChannelKey() ChannelKey {
	return ChannelKey{Venue: t.Venue, MarketType: t.MarketType, Kind: ChannelTicker, Symbol: t.Symbol}
}
