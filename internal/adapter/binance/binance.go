// Package binance translates Binance's combined-stream WebSocket protocol
// into the gateway's canonical model. Subscribe/unsubscribe use Binance's
// {"method":"SUBSCRIBE","params":[...],"id":N} request shape; bookTicker
// frames become Ticker events, partial-depth frames become BookSnapshot.
package binance

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/odinmarkets/gateway/internal/apperror"
	"github.com/odinmarkets/gateway/internal/model"
)

const venueID = "binance"

// wsRequest is Binance's subscribe/unsubscribe control-channel frame.
type wsRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// streamEvent wraps every combined-stream payload.
type streamEvent struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type bookTickerEvent struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

type partialDepthEvent struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// Translator implements adapter.Translator for Binance spot/perpetual.
type Translator struct {
	requestID int64
	depth     int
}

// New constructs a Binance translator. depth is the book depth requested
// on @depthN streams (Binance supports 5/10/20).
func New(depth int) *Translator {
	if depth <= 0 {
		depth = 20
	}
	return &Translator{depth: depth}
}

func (t *Translator) Venue() string { return venueID }

// PingPayload returns nil: Binance's combined stream relies on WebSocket
// control-frame pings, which gorilla/websocket answers transparently, so no
// application-level heartbeat is required.
func (t *Translator) PingPayload() []byte { return nil }

func streamName(key model.ChannelKey, depth int) string {
	sym := strings.ToLower(key.Symbol.Base + key.Symbol.Quote)
	switch key.Kind {
	case model.ChannelTicker:
		return sym + "@bookTicker"
	case model.ChannelBookSnapshot, model.ChannelBookDelta:
		return fmt.Sprintf("%s@depth%d@100ms", sym, depth)
	default:
		return sym
	}
}

func (t *Translator) SubscribePayload(key model.ChannelKey) (string, []byte, error) {
	if !key.Kind.Valid() {
		return "", nil, apperror.New(apperror.CodeValidationFailure, "unknown channel kind")
	}
	stream := streamName(key, t.depth)
	id := atomic.AddInt64(&t.requestID, 1)
	payload, err := json.Marshal(wsRequest{Method: "SUBSCRIBE", Params: []string{stream}, ID: id})
	if err != nil {
		return "", nil, err
	}
	return stream, payload, nil
}

func (t *Translator) UnsubscribePayload(key model.ChannelKey) (string, []byte) {
	stream := streamName(key, t.depth)
	id := atomic.AddInt64(&t.requestID, 1)
	payload, _ := json.Marshal(wsRequest{Method: "UNSUBSCRIBE", Params: []string{stream}, ID: id})
	return stream, payload
}

// Translate maps one native frame to zero or more canonical events. A
// frame with no recognizable stream suffix produces zero events rather
// than an error, matching the "housekeeping frame" case in the adapter
// contract.
func (t *Translator) Translate(frame []byte) ([]model.Event, error) {
	var env streamEvent
	if err := json.Unmarshal(frame, &env); err != nil || env.Stream == "" {
		return nil, nil
	}

	symbol, kind := parseStreamName(env.Stream)
	if symbol == "" {
		return nil, nil
	}

	base, quote, ok := splitSymbol(symbol)
	if !ok {
		return nil, nil
	}
	sym := model.NewSymbol(base, quote, model.MarketSpot)

	switch kind {
	case "bookTicker":
		var raw bookTickerEvent
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeProtocolViolation, "malformed bookTicker frame")
		}
		bid, err1 := model.ParseDecimal(raw.BidPrice, 8)
		ask, err2 := model.ParseDecimal(raw.AskPrice, 8)
		bidSize, err3 := model.ParseDecimal(raw.BidQty, 8)
		askSize, err4 := model.ParseDecimal(raw.AskQty, 8)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			return nil, apperror.New(apperror.CodeProtocolViolation, "malformed bookTicker price field")
		}
		last := bid
		ticker, err := model.NewTicker(time.Now().UnixMilli(), venueID, model.MarketSpot, sym, bid, ask, last, bidSize, askSize)
		if err != nil {
			return nil, err
		}
		return []model.Event{ticker}, nil

	case "depth":
		var raw partialDepthEvent
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeProtocolViolation, "malformed depth frame")
		}
		bids, err := parseLevels(raw.Bids)
		if err != nil {
			return nil, err
		}
		asks, err := parseLevels(raw.Asks)
		if err != nil {
			return nil, err
		}
		snap, err := model.NewBookSnapshot(time.Now().UnixMilli(), venueID, sym, t.depth, bids, asks, "", raw.LastUpdateID)
		if err != nil {
			return nil, err
		}
		return []model.Event{snap}, nil

	default:
		return nil, nil
	}
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
		if size.IsZero() {
			continue
		}
		levels = append(levels, model.PriceLevel{Price: price, Size: size})
	}
	return levels, nil
}

// parseStreamName splits "btcusdt@bookTicker" / "btcusdt@depth20@100ms"
// into (symbol, kind).
func parseStreamName(stream string) (symbol, kind string) {
	parts := strings.Split(stream, "@")
	if len(parts) < 2 {
		return "", ""
	}
	symbol = strings.ToUpper(parts[0])
	if strings.HasPrefix(parts[1], "depth") {
		return symbol, "depth"
	}
	return symbol, parts[1]
}

// knownQuoteAssets is checked longest-first so e.g. "USDT" is preferred
// over a spurious shorter match.
var knownQuoteAssets = []string{"USDT", "BUSD", "USDC", "TUSD", "BTC", "ETH", "BNB"}

// splitSymbol splits Binance's concatenated "BTCUSDT" form into base/quote
// using the known quote-asset suffix list; combined-stream frames carry no
// separator so this is the only way to recover the pair.
func splitSymbol(symbol string) (base, quote string, ok bool) {
	for _, q := range knownQuoteAssets {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return symbol[:len(symbol)-len(q)], q, true
		}
	}
	return "", "", false
}
