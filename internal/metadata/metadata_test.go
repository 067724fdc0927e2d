package metadata

import (
	"testing"

	"github.com/odinmarkets/gateway/internal/model"
)

func testCatalog() *StaticCatalog {
	sym := model.NewSymbol("btc", "usdt", model.MarketSpot)
	venues := []VenueDescriptor{{ID: "binance", Name: "Binance", Status: "healthy"}}
	symbols := []SymbolInfo{{Venue: "binance", MarketType: model.MarketSpot, Symbol: sym, PricePrecision: 2, SizePrecision: 6}}
	return NewStaticCatalog(venues, symbols)
}

func TestResolveBySlashSeparator(t *testing.T) {
	c := testCatalog()
	info, ok := c.Resolve("binance", model.MarketSpot, "BTC/USDT")
	if !ok {
		t.Fatal("expected BTC/USDT to resolve")
	}
	if info.Symbol.Base != "BTC" || info.Symbol.Quote != "USDT" {
		t.Fatalf("unexpected resolved symbol: %+v", info.Symbol)
	}
}

func TestResolveIsCaseInsensitiveAndAcceptsDashOrUnderscore(t *testing.T) {
	c := testCatalog()
	if _, ok := c.Resolve("BINANCE", model.MarketSpot, "btc-usdt"); !ok {
		t.Fatal("expected a case-insensitive, dash-separated lookup to resolve")
	}
	if _, ok := c.Resolve("binance", model.MarketSpot, "btc_usdt"); !ok {
		t.Fatal("expected an underscore-separated lookup to resolve")
	}
}

func TestResolveUnknownSymbolFails(t *testing.T) {
	c := testCatalog()
	if _, ok := c.Resolve("binance", model.MarketSpot, "ETH/USDT"); ok {
		t.Fatal("expected an unconfigured symbol to fail resolution")
	}
}

func TestResolveWrongMarketTypeFails(t *testing.T) {
	c := testCatalog()
	if _, ok := c.Resolve("binance", model.MarketPerpetual, "BTC/USDT"); ok {
		t.Fatal("expected a symbol configured under a different market type to fail resolution")
	}
}

func TestResolveMalformedSymbolTextFails(t *testing.T) {
	c := testCatalog()
	if _, ok := c.Resolve("binance", model.MarketSpot, "BTCUSDT"); ok {
		t.Fatal("expected a symbol with no recognized separator to fail resolution")
	}
}

func TestAllowedQuotesReflectsConfiguredSymbols(t *testing.T) {
	c := testCatalog()
	quotes := c.AllowedQuotes(model.MarketSpot)
	if _, ok := quotes["USDT"]; !ok {
		t.Fatalf("expected USDT to be an allowed quote, got %v", quotes)
	}
	if _, ok := quotes["EUR"]; ok {
		t.Fatal("expected an unconfigured quote asset to be absent")
	}
}

func TestAllowedQuotesReturnsACopy(t *testing.T) {
	c := testCatalog()
	quotes := c.AllowedQuotes(model.MarketSpot)
	quotes["FAKE"] = struct{}{}
	if _, ok := c.AllowedQuotes(model.MarketSpot)["FAKE"]; ok {
		t.Fatal("expected mutating the returned map to not affect the catalog's internal state")
	}
}

func TestSetVenueStatusUpdatesListedVenue(t *testing.T) {
	c := testCatalog()
	c.SetVenueStatus("binance", "degraded")
	venues := c.ListVenues()
	if len(venues) != 1 || venues[0].Status != "degraded" {
		t.Fatalf("expected binance status to be updated to degraded, got %+v", venues)
	}
}

func TestSetVenueStatusUnknownVenueIsNoop(t *testing.T) {
	c := testCatalog()
	c.SetVenueStatus("nonexistent", "degraded")
	venues := c.ListVenues()
	if venues[0].Status != "healthy" {
		t.Fatalf("expected the existing venue's status to be untouched, got %+v", venues)
	}
}
