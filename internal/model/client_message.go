package model

import (
	"encoding/json"

	"github.com/odinmarkets/gateway/internal/apperror"
)

// ClientOp is the discriminator for inbound client frames.
type ClientOp string

const (
	OpSubscribe   ClientOp = "subscribe"
	OpUnsubscribe ClientOp = "unsubscribe"
	OpPing        ClientOp = "ping"
)

// ChannelSpec is the client-facing channel descriptor used in
// subscribe/unsubscribe frames, mirroring the wire shape in spec §6.
type ChannelSpec struct {
	ChannelType string     `json:"channel_type"`
	Exchange    string     `json:"exchange"`
	MarketType  string     `json:"market_type"`
	Symbol      SymbolSpec `json:"symbol"`
	Depth       int        `json:"depth,omitempty"`
}

// SymbolSpec is the wire form of a symbol reference.
type SymbolSpec struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// ClientMessage is the parsed form of an inbound {"op": ...} frame.
type ClientMessage struct {
	Op       ClientOp
	Channels []ChannelSpec
}

type clientMessageWire struct {
	Op       ClientOp      `json:"op"`
	Channels []ChannelSpec `json:"channels,omitempty"`
}

// ParseClientMessage decodes a raw inbound frame. An unrecognized op
// produces a ProtocolViolation rather than a panic or silent drop, per the
// gateway's rule that dynamic message shapes use an explicit discriminator.
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var wire clientMessageWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return ClientMessage{}, apperror.New(apperror.CodeProtocolViolation, "malformed json frame", apperror.WithCause(err))
	}
	switch wire.Op {
	case OpSubscribe, OpUnsubscribe, OpPing:
		return ClientMessage{Op: wire.Op, Channels: wire.Channels}, nil
	default:
		return ClientMessage{}, apperror.New(apperror.CodeProtocolViolation, "unknown_op", apperror.WithContext(string(wire.Op)))
	}
}
