package hub

import (
	"sync/atomic"

	"github.com/odinmarkets/gateway/internal/model"
)

// infoEvent adapts a one-shot info/error StreamMessage to model.Event so it
// can be fanned out through the same Publish path as canonical frames,
// without being written to the replay cache.
type infoEvent struct {
	key model.ChannelKey
	msg model.StreamMessage
	seq int64
}

func (e infoEvent) ChannelKey() model.ChannelKey          { return e.key }
func (e infoEvent) SeqOrTs() int64                        { return e.seq }
func (e infoEvent) ToStreamMessage() model.StreamMessage { return e.msg }

var seqCounter int64

// PublishInfo fans a one-shot info message (e.g. "degraded", "resynced")
// out to key's current subscribers without touching the replay cache.
func (h *Hub) PublishInfo(key model.ChannelKey, message string) {
	seq := atomic.AddInt64(&seqCounter, 1)
	h.Publish(key, infoEvent{key: key, msg: model.NewInfoMessage(message), seq: seq})
}

func (p Publisher) PublishInfo(key model.ChannelKey, message string) {
	p.h.PublishInfo(key, message)
}
