package model

// Event is satisfied by every canonical frame an adapter can publish:
// Ticker, BookSnapshot, BookDelta.
type Event interface {
	ChannelKey() ChannelKey
	SeqOrTs() int64
	ToStreamMessage() StreamMessage
}

func (t Ticker) SeqOrTs() int64 { return t.TsUTCMs }

var (
	_ Event = Ticker{}
	_ Event = BookSnapshot{}
	_ Event = BookDelta{}
)
