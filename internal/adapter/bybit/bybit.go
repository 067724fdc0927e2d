// Package bybit translates Bybit's v5 public WebSocket protocol into the
// gateway's canonical model. Subscribe/unsubscribe use Bybit's
// {"op":"subscribe","args":["tickers.BTCUSDT"]} topic shape; tickers.*
// frames become Ticker events, orderbook.*.* frames become BookSnapshot
// (type=="snapshot") or BookDelta (type=="delta").
package bybit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/odinmarkets/gateway/internal/apperror"
	"github.com/odinmarkets/gateway/internal/model"
)

const venueID = "bybit"

// wsRequest is Bybit's subscribe/unsubscribe control-channel frame.
type wsRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// topicEvent wraps every public-stream push; Type distinguishes
// "snapshot" from "delta" on orderbook topics.
type topicEvent struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Ts    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

type tickerData struct {
	Symbol    string `json:"symbol"`
	Bid1Price string `json:"bid1Price"`
	Bid1Size  string `json:"bid1Size"`
	Ask1Price string `json:"ask1Price"`
	Ask1Size  string `json:"ask1Size"`
	LastPrice string `json:"lastPrice"`
}

type orderbookData struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
	Seq    int64      `json:"seq"`
}

// Translator implements adapter.Translator for Bybit linear/spot public
// streams.
type Translator struct {
	depth int
}

// New constructs a Bybit translator. depth is the orderbook.N.* level used
// on book topics (Bybit supports 1/50/200/500 depending on category).
func New(depth int) *Translator {
	if depth <= 0 {
		depth = 50
	}
	return &Translator{depth: depth}
}

func (t *Translator) Venue() string { return venueID }

// PingPayload returns Bybit's application-level heartbeat frame. Bybit's
// public stream closes idle connections that never see an app-level ping,
// unlike a venue that can be kept alive by WebSocket control frames alone.
func (t *Translator) PingPayload() []byte { return []byte(`{"op":"ping"}`) }

func topicName(key model.ChannelKey, depth int) string {
	sym := strings.ToUpper(key.Symbol.Base + key.Symbol.Quote)
	switch key.Kind {
	case model.ChannelTicker:
		return "tickers." + sym
	case model.ChannelBookSnapshot, model.ChannelBookDelta:
		return fmt.Sprintf("orderbook.%d.%s", depth, sym)
	default:
		return sym
	}
}

func (t *Translator) SubscribePayload(key model.ChannelKey) (string, []byte, error) {
	if !key.Kind.Valid() {
		return "", nil, apperror.New(apperror.CodeValidationFailure, "unknown channel kind")
	}
	topic := topicName(key, t.depth)
	payload, err := json.Marshal(wsRequest{Op: "subscribe", Args: []string{topic}})
	if err != nil {
		return "", nil, err
	}
	return topic, payload, nil
}

func (t *Translator) UnsubscribePayload(key model.ChannelKey) (string, []byte) {
	topic := topicName(key, t.depth)
	payload, _ := json.Marshal(wsRequest{Op: "unsubscribe", Args: []string{topic}})
	return topic, payload
}

// Translate maps one native frame to zero or more canonical events. Pong
// and subscribe-ack frames (which carry no "topic" field) produce zero
// events rather than an error.
func (t *Translator) Translate(frame []byte) ([]model.Event, error) {
	var env topicEvent
	if err := json.Unmarshal(frame, &env); err != nil || env.Topic == "" {
		return nil, nil
	}

	kind, symbolText := splitTopic(env.Topic)
	if symbolText == "" {
		return nil, nil
	}
	base, quote, ok := splitSymbol(symbolText)
	if !ok {
		return nil, nil
	}
	sym := model.NewSymbol(base, quote, model.MarketPerpetual)
	ts := env.Ts
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	switch kind {
	case "tickers":
		var d tickerData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeProtocolViolation, "malformed tickers frame")
		}
		bid, ask, last, bidSize, askSize, err := parseTickerFields(d)
		if err != nil {
			return nil, err
		}
		ticker, err := model.NewTicker(ts, venueID, model.MarketPerpetual, sym, bid, ask, last, bidSize, askSize)
		if err != nil {
			return nil, err
		}
		return []model.Event{ticker}, nil

	case "orderbook":
		var d orderbookData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeProtocolViolation, "malformed orderbook frame")
		}
		if env.Type == "delta" {
			// A zero size at a price level is Bybit's delete marker; split
			// raw rows into upserts and deletes rather than passing size-0
			// levels through as upserts.
			upsertBids, deleteBids, err := splitDeltaLevels(d.Bids)
			if err != nil {
				return nil, err
			}
			upsertAsks, deleteAsks, err := splitDeltaLevels(d.Asks)
			if err != nil {
				return nil, err
			}
			delta := model.BookDelta{
				TsUTCMs: ts, Venue: venueID, Symbol: sym, Depth: t.depth,
				UpsertBids: upsertBids, UpsertAsks: upsertAsks,
				DeleteBids: deleteBids, DeleteAsks: deleteAsks, Seq: d.Seq,
			}
			return []model.Event{delta}, nil
		}
		bids, err := parseLevels(d.Bids)
		if err != nil {
			return nil, err
		}
		asks, err := parseLevels(d.Asks)
		if err != nil {
			return nil, err
		}
		snap, err := model.NewBookSnapshot(ts, venueID, sym, t.depth, bids, asks, "", d.Seq)
		if err != nil {
			return nil, err
		}
		return []model.Event{snap}, nil

	default:
		return nil, nil
	}
}

func parseTickerFields(d tickerData) (bid, ask, last, bidSize, askSize model.Decimal, err error) {
	parse := func(s string) model.Decimal {
		v, perr := model.ParseDecimal(s, 8)
		if perr != nil {
			err = apperror.New(apperror.CodeProtocolViolation, "malformed ticker price field")
			return model.ZeroDecimal(8)
		}
		return v
	}
	// Bybit's linear tickers push is a delta stream: fields absent from this
	// frame are zero-valued here and left for the cache's last-value merge.
	if d.Bid1Price != "" {
		bid = parse(d.Bid1Price)
	}
	if d.Ask1Price != "" {
		ask = parse(d.Ask1Price)
	}
	if d.LastPrice != "" {
		last = parse(d.LastPrice)
	}
	if d.Bid1Size != "" {
		bidSize = parse(d.Bid1Size)
	}
	if d.Ask1Size != "" {
		askSize = parse(d.Ask1Size)
	}
	return bid, ask, last, bidSize, askSize, err
}

func parseLevels(raw [][]string) ([]model.PriceLevel, error) {
	levels := make([]model.PriceLevel, 0, len(raw))
	for _, r := range raw {
		if len(r) < 2 {
			continue
		}
		price, err := model.ParseDecimal(r[0], 8)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.CodeProtocolViolation, "malformed price level")
		}
		size, err := model.ParseDecimal(r[1], 8)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.CodeProtocolViolation, "malformed price level")
		}
		levels = append(levels, model.PriceLevel{Price: price, Size: size})
	}
	return levels, nil
}

// splitDeltaLevels separates a delta side's raw [price, size] rows into
// upserts (size > 0) and deletes (size == 0, only the price matters).
func splitDeltaLevels(raw [][]string) (upserts []model.PriceLevel, deletes []model.Decimal, err error) {
	for _, r := range raw {
		if len(r) < 2 {
			continue
		}
		price, perr := model.ParseDecimal(r[0], 8)
		if perr != nil {
			return nil, nil, apperror.Wrap(perr, apperror.CodeProtocolViolation, "malformed price level")
		}
		size, serr := model.ParseDecimal(r[1], 8)
		if serr != nil {
			return nil, nil, apperror.Wrap(serr, apperror.CodeProtocolViolation, "malformed price level")
		}
		if size.IsZero() {
			deletes = append(deletes, price)
			continue
		}
		upserts = append(upserts, model.PriceLevel{Price: price, Size: size})
	}
	return upserts, deletes, nil
}

// splitTopic splits "tickers.BTCUSDT" / "orderbook.50.BTCUSDT" into
// (kind, symbol).
func splitTopic(topic string) (kind, symbol string) {
	parts := strings.Split(topic, ".")
	if len(parts) < 2 {
		return "", ""
	}
	kind = parts[0]
	symbol = strings.ToUpper(parts[len(parts)-1])
	return kind, symbol
}

var knownQuoteAssets = []string{"USDT", "USDC", "BTC", "ETH"}

func splitSymbol(symbol string) (base, quote string, ok bool) {
	for _, q := range knownQuoteAssets {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return symbol[:len(symbol)-len(q)], q, true
		}
	}
	return "", "", false
}
