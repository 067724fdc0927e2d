package bybit

import (
	"encoding/json"
	"testing"

	"github.com/odinmarkets/gateway/internal/model"
)

func tickerKey() model.ChannelKey {
	sym := model.NewSymbol("btc", "usdt", model.MarketPerpetual)
	return model.ChannelKey{Venue: venueID, MarketType: model.MarketPerpetual, Kind: model.ChannelTicker, Symbol: sym}
}

func TestSubscribePayloadBuildsTopicRequest(t *testing.T) {
	tr := New(50)
	topic, payload, err := tr.SubscribePayload(tickerKey())
	if err != nil {
		t.Fatalf("SubscribePayload: %v", err)
	}
	if topic != "tickers.BTCUSDT" {
		t.Fatalf("unexpected topic: %s", topic)
	}
	var req wsRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if req.Op != "subscribe" || len(req.Args) != 1 || req.Args[0] != "tickers.BTCUSDT" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestTopicNameForBookChannel(t *testing.T) {
	sym := model.NewSymbol("eth", "usdt", model.MarketPerpetual)
	key := model.ChannelKey{Venue: venueID, MarketType: model.MarketPerpetual, Kind: model.ChannelBookSnapshot, Symbol: sym, Depth: 50}
	if got := topicName(key, 50); got != "orderbook.50.ETHUSDT" {
		t.Fatalf("unexpected topic name: %s", got)
	}
}

func TestTranslateTickerFrame(t *testing.T) {
	tr := New(50)
	frame := []byte(`{"topic":"tickers.BTCUSDT","type":"snapshot","ts":1700000000000,"data":{"symbol":"BTCUSDT","bid1Price":"100.5","bid1Size":"1","ask1Price":"100.6","ask1Size":"2","lastPrice":"100.55"}}`)
	events, err := tr.Translate(frame)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	ticker, ok := events[0].(model.Ticker)
	if !ok {
		t.Fatalf("expected Ticker, got %T", events[0])
	}
	if ticker.TsUTCMs != 1700000000000 || ticker.Symbol.Base != "BTC" {
		t.Fatalf("unexpected ticker: %+v", ticker)
	}
}

func TestTranslateTickerDeltaFrameLeavesAbsentFieldsZero(t *testing.T) {
	tr := New(50)
	// Bybit's linear tickers stream is itself a delta feed: only changed
	// fields are present on subsequent pushes.
	frame := []byte(`{"topic":"tickers.BTCUSDT","type":"delta","ts":1,"data":{"symbol":"BTCUSDT","lastPrice":"101.00"}}`)
	events, err := tr.Translate(frame)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	ticker := events[0].(model.Ticker)
	if !ticker.Bid.IsZero() || !ticker.Ask.IsZero() {
		t.Fatalf("expected absent bid/ask fields to be zero, got %+v", ticker)
	}
	if ticker.Last.IsZero() {
		t.Fatal("expected the present lastPrice field to be populated")
	}
}

func TestTranslateOrderbookSnapshot(t *testing.T) {
	tr := New(50)
	frame := []byte(`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1,"data":{"s":"BTCUSDT","b":[["100.0","1.0"]],"a":[["101.0","2.0"]],"seq":9}}`)
	events, err := tr.Translate(frame)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	snap, ok := events[0].(model.BookSnapshot)
	if !ok {
		t.Fatalf("expected BookSnapshot, got %T", events[0])
	}
	if snap.Seq != 9 || len(snap.Bids) != 1 || len(snap.Asks) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestTranslateOrderbookDeltaSplitsZeroSizeIntoDeletes(t *testing.T) {
	tr := New(50)
	frame := []byte(`{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1,"data":{"s":"BTCUSDT","b":[["100.0","1.0"],["99.0","0"]],"a":[["101.0","0"]],"seq":10}}`)
	events, err := tr.Translate(frame)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	delta, ok := events[0].(model.BookDelta)
	if !ok {
		t.Fatalf("expected BookDelta, got %T", events[0])
	}
	if len(delta.UpsertBids) != 1 || delta.UpsertBids[0].Price.String() != "100.00000000" {
		t.Fatalf("unexpected upsert bids: %+v", delta.UpsertBids)
	}
	if len(delta.DeleteBids) != 1 || !delta.DeleteBids[0].Equal(model.DecimalFromFloat(99, 8)) {
		t.Fatalf("expected the zero-size bid row to become a delete marker, got %+v", delta.DeleteBids)
	}
	if len(delta.DeleteAsks) != 1 {
		t.Fatalf("expected the zero-size ask row to become a delete marker, got %+v", delta.DeleteAsks)
	}
}

func TestTranslateFrameWithNoTopicProducesNoEvents(t *testing.T) {
	tr := New(50)
	events, err := tr.Translate([]byte(`{"success":true,"op":"subscribe"}`))
	if err != nil {
		t.Fatalf("expected no error for an ack frame, got %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}
