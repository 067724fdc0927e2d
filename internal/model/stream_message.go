package model

import (
	"encoding/json"

	"github.com/odinmarkets/gateway/internal/apperror"
)

// StreamType is the discriminator for outbound server->client frames.
type StreamType string

const (
	StreamTicker       StreamType = "ticker"
	StreamBookSnapshot StreamType = "book_snapshot"
	StreamBookDelta    StreamType = "book_delta"
	StreamInfo         StreamType = "info"
	StreamError        StreamType = "error"
)

// TickerPayload is the wire shape of a ticker frame's payload.
type TickerPayload struct {
	Timestamp  string     `json:"timestamp"`
	Exchange   string     `json:"exchange"`
	MarketType MarketType `json:"market_type"`
	Symbol     SymbolSpec `json:"symbol"`
	Bid        Decimal    `json:"bid"`
	Ask        Decimal    `json:"ask"`
	Last       Decimal    `json:"last"`
	BidSize    Decimal    `json:"bid_size"`
	AskSize    Decimal    `json:"ask_size"`
}

// BookLevelPayload is the wire shape of a single price level.
type BookLevelPayload struct {
	Price Decimal `json:"price"`
	Size  Decimal `json:"size"`
}

// BookSnapshotPayload is the wire shape of a book_snapshot frame's payload.
type BookSnapshotPayload struct {
	Timestamp string             `json:"timestamp"`
	Exchange  string             `json:"exchange"`
	Symbol    SymbolSpec         `json:"symbol"`
	Bids      []BookLevelPayload `json:"bids"`
	Asks      []BookLevelPayload `json:"asks"`
	Checksum  string             `json:"checksum,omitempty"`
}

// BookDeltaPayload is the wire shape of a book_delta frame's payload.
type BookDeltaPayload struct {
	Timestamp  string             `json:"timestamp"`
	Exchange   string             `json:"exchange"`
	Symbol     SymbolSpec         `json:"symbol"`
	UpsertBids []BookLevelPayload `json:"upserts_bid"`
	UpsertAsks []BookLevelPayload `json:"upserts_ask"`
	DeleteBids []Decimal          `json:"deletes_bid"`
	DeleteAsks []Decimal          `json:"deletes_ask"`
	Seq        int64              `json:"seq,omitempty"`
}

// StreamMessage is the parsed form of any outbound frame. Exactly one of
// TickerPayload/BookSnapshotPayload/BookDeltaPayload/Message is populated,
// selected by Type.
type StreamMessage struct {
	Type          StreamType
	Ticker        *TickerPayload
	BookSnapshot  *BookSnapshotPayload
	BookDelta     *BookDeltaPayload
	Message       string
	TsUTCMs       int64
	HasTsUTCMs    bool
	Context       map[string]string
}

func NewInfoMessage(message string) StreamMessage {
	return StreamMessage{Type: StreamInfo, Message: message}
}

func NewPongMessage(tsUTCMs int64) StreamMessage {
	return StreamMessage{Type: StreamInfo, Message: "pong", TsUTCMs: tsUTCMs, HasTsUTCMs: true}
}

func NewErrorMessage(message string, context map[string]string) StreamMessage {
	return StreamMessage{Type: StreamError, Message: message, Context: context}
}

func NewTickerMessage(t Ticker) StreamMessage {
	payload := &TickerPayload{
		Timestamp:  formatTsUTCMs(t.TsUTCMs),
		Exchange:   t.Venue,
		MarketType: t.MarketType,
		Symbol:     SymbolSpec{Base: t.Symbol.Base, Quote: t.Symbol.Quote},
		Bid:        t.Bid,
		Ask:        t.Ask,
		Last:       t.Last,
		BidSize:    t.BidSize,
		AskSize:    t.AskSize,
	}
	return StreamMessage{Type: StreamTicker, Ticker: payload}
}

func (t Ticker) ToStreamMessage() StreamMessage { return NewTickerMessage(t) }

func NewBookSnapshotMessage(s BookSnapshot) StreamMessage {
	payload := &BookSnapshotPayload{
		Timestamp: formatTsUTCMs(s.TsUTCMs),
		Exchange:  s.Venue,
		Symbol:    SymbolSpec{Base: s.Symbol.Base, Quote: s.Symbol.Quote},
		Bids:      toLevelPayloads(s.Bids),
		Asks:      toLevelPayloads(s.Asks),
		Checksum:  s.Checksum,
	}
	return StreamMessage{Type: StreamBookSnapshot, BookSnapshot: payload}
}

func (s BookSnapshot) ToStreamMessage() StreamMessage { return NewBookSnapshotMessage(s) }

func NewBookDeltaMessage(d BookDelta) StreamMessage {
	payload := &BookDeltaPayload{
		Timestamp:  formatTsUTCMs(d.TsUTCMs),
		Exchange:   d.Venue,
		Symbol:     SymbolSpec{Base: d.Symbol.Base, Quote: d.Symbol.Quote},
		UpsertBids: toLevelPayloads(d.UpsertBids),
		UpsertAsks: toLevelPayloads(d.UpsertAsks),
		DeleteBids: d.DeleteBids,
		DeleteAsks: d.DeleteAsks,
		Seq:        d.Seq,
	}
	return StreamMessage{Type: StreamBookDelta, BookDelta: payload}
}

func (d BookDelta) ToStreamMessage() StreamMessage { return NewBookDeltaMessage(d) }

func toLevelPayloads(levels []PriceLevel) []BookLevelPayload {
	out := make([]BookLevelPayload, len(levels))
	for i, l := range levels {
		out[i] = BookLevelPayload{Price: l.Price, Size: l.Size}
	}
	return out
}

func formatTsUTCMs(ms int64) string {
	return formatRFC3339Millis(ms)
}

type streamMessageWire struct {
	Type     StreamType           `json:"type"`
	Payload  json.RawMessage      `json:"payload,omitempty"`
	Message  string               `json:"message,omitempty"`
	TsUTCMs  *int64               `json:"ts_utc_ms,omitempty"`
	Context  map[string]string    `json:"context,omitempty"`
}

// MarshalJSON serializes StreamMessage into the tagged-union wire shape.
func (m StreamMessage) MarshalJSON() ([]byte, error) {
	wire := streamMessageWire{Type: m.Type, Message: m.Message, Context: m.Context}
	if m.HasTsUTCMs {
		ts := m.TsUTCMs
		wire.TsUTCMs = &ts
	}
	var payload any
	switch m.Type {
	case StreamTicker:
		payload = m.Ticker
	case StreamBookSnapshot:
		payload = m.BookSnapshot
	case StreamBookDelta:
		payload = m.BookDelta
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		wire.Payload = raw
	}
	return json.Marshal(wire)
}

// UnmarshalJSON parses the tagged-union wire shape back into a StreamMessage.
func (m *StreamMessage) UnmarshalJSON(data []byte) error {
	var wire streamMessageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Type = wire.Type
	m.Message = wire.Message
	m.Context = wire.Context
	if wire.TsUTCMs != nil {
		m.TsUTCMs = *wire.TsUTCMs
		m.HasTsUTCMs = true
	}
	switch wire.Type {
	case StreamTicker:
		var p TickerPayload
		if len(wire.Payload) > 0 {
			if err := json.Unmarshal(wire.Payload, &p); err != nil {
				return err
			}
		}
		m.Ticker = &p
	case StreamBookSnapshot:
		var p BookSnapshotPayload
		if len(wire.Payload) > 0 {
			if err := json.Unmarshal(wire.Payload, &p); err != nil {
				return err
			}
		}
		m.BookSnapshot = &p
	case StreamBookDelta:
		var p BookDeltaPayload
		if len(wire.Payload) > 0 {
			if err := json.Unmarshal(wire.Payload, &p); err != nil {
				return err
			}
		}
		m.BookDelta = &p
	case StreamInfo, StreamError:
	default:
		return apperror.New(apperror.CodeProtocolViolation, "unknown stream message type")
	}
	return nil
}
