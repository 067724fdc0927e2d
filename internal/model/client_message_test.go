package model

import (
	"testing"

	"github.com/odinmarkets/gateway/internal/apperror"
)

func TestParseClientMessageSubscribe(t *testing.T) {
	raw := []byte(`{"op":"subscribe","channels":[{"channel_type":"ticker","exchange":"binance","market_type":"spot","symbol":{"base":"BTC","quote":"USDT"}}]}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Op != OpSubscribe || len(msg.Channels) != 1 {
		t.Fatalf("unexpected parse result: %+v", msg)
	}
	if msg.Channels[0].Symbol.Base != "BTC" {
		t.Fatalf("unexpected symbol: %+v", msg.Channels[0].Symbol)
	}
}

func TestParseClientMessagePing(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"op":"ping"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Op != OpPing {
		t.Fatalf("expected ping op, got %v", msg.Op)
	}
}

func TestParseClientMessageUnknownOp(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"op":"explode"}`))
	if err == nil {
		t.Fatal("expected error for unknown op")
	}
	if apperror.CodeOf(err) != apperror.CodeProtocolViolation {
		t.Fatalf("expected CodeProtocolViolation, got %v", apperror.CodeOf(err))
	}
}

func TestParseClientMessageMalformedJSON(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for malformed json")
	}
	if apperror.CodeOf(err) != apperror.CodeProtocolViolation {
		t.Fatalf("expected CodeProtocolViolation, got %v", apperror.CodeOf(err))
	}
}
