package model

import (
	"testing"

	"github.com/odinmarkets/gateway/internal/apperror"
)

func level(price, size float64) PriceLevel {
	return PriceLevel{Price: DecimalFromFloat(price, 2), Size: DecimalFromFloat(size, 2)}
}

func TestNewBookSnapshotValidOrdering(t *testing.T) {
	sym := NewSymbol("btc", "usdt", MarketSpot)
	bids := []PriceLevel{level(100, 1), level(99, 2)}
	asks := []PriceLevel{level(101, 1), level(102, 2)}
	snap, err := NewBookSnapshot(1, "binance", sym, 10, bids, asks, "abc", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.SeqOrTs() != 5 {
		t.Fatalf("expected SeqOrTs to prefer Seq, got %d", snap.SeqOrTs())
	}
}

func TestNewBookSnapshotRejectsUnorderedBids(t *testing.T) {
	sym := NewSymbol("btc", "usdt", MarketSpot)
	bids := []PriceLevel{level(99, 1), level(100, 2)} // ascending, should be descending
	_, err := NewBookSnapshot(1, "binance", sym, 10, bids, nil, "", 0)
	if err == nil {
		t.Fatal("expected error for unordered bids")
	}
	if apperror.CodeOf(err) != apperror.CodeInvariantViolation {
		t.Fatalf("expected CodeInvariantViolation, got %v", apperror.CodeOf(err))
	}
}

func TestNewBookSnapshotRejectsDuplicateLevels(t *testing.T) {
	sym := NewSymbol("btc", "usdt", MarketSpot)
	asks := []PriceLevel{level(101, 1), level(101, 2)}
	_, err := NewBookSnapshot(1, "binance", sym, 10, nil, asks, "", 0)
	if err == nil {
		t.Fatal("expected error for duplicate ask levels")
	}
}

func TestBookSnapshotChannelKeyDefaultsMarketType(t *testing.T) {
	sym := Symbol{Base: "BTC", Quote: "USDT"}
	snap, err := NewBookSnapshot(1, "binance", sym, 10, nil, nil, "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.ChannelKey().MarketType != MarketSpot {
		t.Fatalf("expected default market type spot, got %v", snap.ChannelKey().MarketType)
	}
}

func TestBookDeltaSeqOrTsFallsBackToTimestamp(t *testing.T) {
	d := BookDelta{TsUTCMs: 42}
	if d.SeqOrTs() != 42 {
		t.Fatalf("expected fallback to TsUTCMs, got %d", d.SeqOrTs())
	}
	d.Seq = 7
	if d.SeqOrTs() != 7 {
		t.Fatalf("expected Seq to take priority, got %d", d.SeqOrTs())
	}
}
