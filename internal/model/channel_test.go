package model

import "testing"

func TestChannelKeyEqualIgnoresDepthForNonBook(t *testing.T) {
	sym := NewSymbol("btc", "usdt", MarketSpot)
	a := ChannelKey{Venue: "binance", MarketType: MarketSpot, Kind: ChannelTicker, Symbol: sym, Depth: 10}
	b := ChannelKey{Venue: "binance", MarketType: MarketSpot, Kind: ChannelTicker, Symbol: sym, Depth: 50}
	if !a.Equal(b) {
		t.Fatalf("expected ticker keys differing only in depth to be equal")
	}
}

func TestChannelKeyEqualRespectsDepthForBook(t *testing.T) {
	sym := NewSymbol("btc", "usdt", MarketSpot)
	a := ChannelKey{Venue: "binance", MarketType: MarketSpot, Kind: ChannelBookSnapshot, Symbol: sym, Depth: 10}
	b := ChannelKey{Venue: "binance", MarketType: MarketSpot, Kind: ChannelBookSnapshot, Symbol: sym, Depth: 50}
	if a.Equal(b) {
		t.Fatalf("expected book snapshot keys differing in depth to be unequal")
	}
}

func TestChannelKeyStringStable(t *testing.T) {
	sym := NewSymbol("eth", "usdt", MarketPerpetual)
	k := ChannelKey{Venue: "bybit", MarketType: MarketPerpetual, Kind: ChannelBookDelta, Symbol: sym, Depth: 20}
	if k.String() != k.String() {
		t.Fatal("String() must be deterministic")
	}
	other := ChannelKey{Venue: "bybit", MarketType: MarketPerpetual, Kind: ChannelBookDelta, Symbol: sym, Depth: 20}
	if k.String() != other.String() {
		t.Fatalf("expected equal keys to produce equal strings")
	}
}

func TestChannelKindValid(t *testing.T) {
	valid := []ChannelKind{ChannelTicker, ChannelBookSnapshot, ChannelBookDelta}
	for _, k := range valid {
		if !k.Valid() {
			t.Errorf("expected %q to be valid", k)
		}
	}
	if ChannelKind("bogus").Valid() {
		t.Fatal("expected unknown kind to be invalid")
	}
}

func TestChannelKindIsBook(t *testing.T) {
	if ChannelTicker.IsBook() {
		t.Fatal("ticker is not a book kind")
	}
	if !ChannelBookSnapshot.IsBook() || !ChannelBookDelta.IsBook() {
		t.Fatal("book_snapshot and book_delta must report IsBook")
	}
}
