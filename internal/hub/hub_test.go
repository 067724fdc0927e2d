package hub

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/odinmarkets/gateway/internal/cache"
	"github.com/odinmarkets/gateway/internal/model"
)

type fakeAttacher struct {
	mu          sync.Mutex
	attachCalls int
	detachCalls int
	failAttach  bool
}

func (f *fakeAttacher) Attach(key model.ChannelKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachCalls++
	if f.failAttach {
		return &testAttachError{}
	}
	return nil
}

func (f *fakeAttacher) Detach(key model.ChannelKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detachCalls++
}

type testAttachError struct{}

func (e *testAttachError) Error() string { return "attach failed" }

func (f *fakeAttacher) counts() (attach, detach int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attachCalls, f.detachCalls
}

func tickerKey(venue string) model.ChannelKey {
	sym := model.NewSymbol("btc", "usdt", model.MarketSpot)
	return model.ChannelKey{Venue: venue, MarketType: model.MarketSpot, Kind: model.ChannelTicker, Symbol: sym}
}

func mustTicker(t *testing.T, ts int64) model.Ticker {
	t.Helper()
	sym := model.NewSymbol("btc", "usdt", model.MarketSpot)
	v := model.DecimalFromFloat(100, 2)
	ti, err := model.NewTicker(ts, "binance", model.MarketSpot, sym, v, v, v, v, v)
	if err != nil {
		t.Fatalf("NewTicker: %v", err)
	}
	return ti
}

func newTestHub(grace time.Duration) (*Hub, *cache.Cache) {
	c := cache.New(4, nil)
	h := New(c, nil, zap.NewNop(), grace, 4)
	return h, c
}

func TestAttachFirstSubscriberCallsAdapterOnce(t *testing.T) {
	h, _ := newTestHub(50 * time.Millisecond)
	adapter := &fakeAttacher{}
	h.RegisterAdapter("binance", adapter)
	key := tickerKey("binance")

	id1 := h.RegisterSubscriber()
	id2 := h.RegisterSubscriber()

	if err := h.Attach(id1, key); err != nil {
		t.Fatalf("Attach id1: %v", err)
	}
	if err := h.Attach(id2, key); err != nil {
		t.Fatalf("Attach id2: %v", err)
	}

	attachCalls, _ := adapter.counts()
	if attachCalls != 1 {
		t.Fatalf("expected exactly one adapter Attach for two subscribers on the same key, got %d", attachCalls)
	}
}

func TestDetachLastSubscriberDetachesAdapterAfterGrace(t *testing.T) {
	h, _ := newTestHub(20 * time.Millisecond)
	adapter := &fakeAttacher{}
	h.RegisterAdapter("binance", adapter)
	key := tickerKey("binance")

	id := h.RegisterSubscriber()
	if err := h.Attach(id, key); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	h.Detach(id, key)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, detach := adapter.counts(); detach == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected adapter Detach to be called after the grace period elapsed")
}

func TestReplayDeliversCachedValueBeforeLive(t *testing.T) {
	h, c := newTestHub(50 * time.Millisecond)
	h.RegisterAdapter("binance", &fakeAttacher{})
	key := tickerKey("binance")

	c.Put(key, mustTicker(t, 1))

	id := h.RegisterSubscriber()
	if err := h.Attach(id, key); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	ev, has, open := h.Dequeue(id)
	if !has || !open {
		t.Fatalf("expected a replayed frame, has=%v open=%v", has, open)
	}
	if ev.(model.Ticker).TsUTCMs != 1 {
		t.Fatalf("expected replayed cached ticker, got %+v", ev)
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	h, _ := newTestHub(50 * time.Millisecond)
	h.RegisterAdapter("binance", &fakeAttacher{})
	key := tickerKey("binance")

	id1 := h.RegisterSubscriber()
	id2 := h.RegisterSubscriber()
	if err := h.Attach(id1, key); err != nil {
		t.Fatalf("Attach id1: %v", err)
	}
	if err := h.Attach(id2, key); err != nil {
		t.Fatalf("Attach id2: %v", err)
	}

	h.Publish(key, mustTicker(t, 7))

	for _, id := range []SubID{id1, id2} {
		ev, has, _ := h.Dequeue(id)
		if !has || ev.(model.Ticker).TsUTCMs != 7 {
			t.Fatalf("subscriber %s did not receive the published frame: has=%v ev=%+v", id, has, ev)
		}
	}
}

func TestPublishToUnknownTopicIsNoop(t *testing.T) {
	h, _ := newTestHub(50 * time.Millisecond)
	// No subscriber has ever attached this key, so no topic exists.
	h.Publish(tickerKey("binance"), mustTicker(t, 1))
}

func TestSlowConsumerClosedOnOverflowWithoutCoalesceTarget(t *testing.T) {
	c := cache.New(4, nil)
	h := New(c, nil, zap.NewNop(), 50*time.Millisecond, 2)
	h.RegisterAdapter("binance", &fakeAttacher{})

	sym := model.NewSymbol("btc", "usdt", model.MarketSpot)
	keyA := model.ChannelKey{Venue: "binance", MarketType: model.MarketSpot, Kind: model.ChannelTicker, Symbol: sym}

	id := h.RegisterSubscriber()
	if err := h.Attach(id, keyA); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	// Fill the queue (capacity 2) with frames from two distinct keys so
	// overflow on a third distinct key can't coalesce into either slot.
	symB := model.NewSymbol("eth", "usdt", model.MarketSpot)
	keyB := model.ChannelKey{Venue: "binance", MarketType: model.MarketSpot, Kind: model.ChannelTicker, Symbol: symB}
	symC := model.NewSymbol("sol", "usdt", model.MarketSpot)
	keyC := model.ChannelKey{Venue: "binance", MarketType: model.MarketSpot, Kind: model.ChannelTicker, Symbol: symC}

	// Manually attach keyB/keyC to the same subscriber via the hub so their
	// topics exist, then publish three distinct-keyed frames to overflow.
	if err := h.Attach(id, keyB); err != nil {
		t.Fatalf("Attach keyB: %v", err)
	}
	if err := h.Attach(id, keyC); err != nil {
		t.Fatalf("Attach keyC: %v", err)
	}

	// Drain the replay-triggered empty dequeues (none cached yet), then
	// publish enough distinct-key frames to exceed capacity 2.
	h.Publish(keyA, mustTicker(t, 1))
	h.Publish(keyB, mustTicker(t, 2))
	h.Publish(keyC, mustTicker(t, 3)) // third distinct key, queue already full

	closed, reason, _ := h.CloseInfo(id)
	if !closed || reason != CloseSlowConsumer {
		t.Fatalf("expected subscriber closed with SlowConsumer, got closed=%v reason=%v", closed, reason)
	}
}

func TestCoalescesSameKeyOnOverflowInsteadOfClosing(t *testing.T) {
	c := cache.New(4, nil)
	h := New(c, nil, zap.NewNop(), 50*time.Millisecond, 1)
	h.RegisterAdapter("binance", &fakeAttacher{})
	key := tickerKey("binance")

	id := h.RegisterSubscriber()
	if err := h.Attach(id, key); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	h.Publish(key, mustTicker(t, 1))
	h.Publish(key, mustTicker(t, 2)) // same key, capacity 1: should coalesce in place

	closed, _, _ := h.CloseInfo(id)
	if closed {
		t.Fatal("expected coalescing same-key overflow to keep the subscriber open")
	}
	ev, has, _ := h.Dequeue(id)
	if !has || ev.(model.Ticker).TsUTCMs != 2 {
		t.Fatalf("expected the coalesced frame to carry the latest value, got has=%v ev=%+v", has, ev)
	}
}

func TestCrossTopicIsolation(t *testing.T) {
	h, _ := newTestHub(50 * time.Millisecond)
	h.RegisterAdapter("binance", &fakeAttacher{})

	keyA := tickerKey("binance")
	symB := model.NewSymbol("eth", "usdt", model.MarketSpot)
	keyB := model.ChannelKey{Venue: "binance", MarketType: model.MarketSpot, Kind: model.ChannelTicker, Symbol: symB}

	idA := h.RegisterSubscriber()
	idB := h.RegisterSubscriber()
	if err := h.Attach(idA, keyA); err != nil {
		t.Fatalf("Attach idA: %v", err)
	}
	if err := h.Attach(idB, keyB); err != nil {
		t.Fatalf("Attach idB: %v", err)
	}

	h.Publish(keyA, mustTicker(t, 1))

	if _, has, _ := h.Dequeue(idB); has {
		t.Fatal("expected subscriber on a different topic to receive nothing")
	}
	if _, has, _ := h.Dequeue(idA); !has {
		t.Fatal("expected subscriber on the published topic to receive the frame")
	}
}

// TestReplayPrecedesConcurrentLiveFrameOnNonFirstAttach stresses the case
// the other replay test doesn't cover: attaching a second subscriber to a
// topic that is already Live while Publish is hammering it concurrently.
// addSubscriberAndReplay must keep the subscriber invisible to Publish until
// its cache replay has already been enqueued, or the live frame could win
// the race and the subscriber would see it before the cached value.
func TestReplayPrecedesConcurrentLiveFrameOnNonFirstAttach(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := cache.New(4, nil)
		h := New(c, nil, zap.NewNop(), 50*time.Millisecond, 16)
		h.RegisterAdapter("binance", &fakeAttacher{})
		key := tickerKey("binance")

		c.Put(key, mustTicker(t, 1))

		first := h.RegisterSubscriber()
		if err := h.Attach(first, key); err != nil {
			t.Fatalf("Attach first: %v", err)
		}

		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := int64(1000)
			for {
				select {
				case <-stop:
					return
				default:
					h.Publish(key, mustTicker(t, ts))
					ts++
				}
			}
		}()

		second := h.RegisterSubscriber()
		if err := h.Attach(second, key); err != nil {
			t.Fatalf("Attach second: %v", err)
		}
		close(stop)
		wg.Wait()

		ev, has, _ := h.Dequeue(second)
		if !has {
			t.Fatalf("iteration %d: expected a replayed frame, got none", i)
		}
		if ev.(model.Ticker).TsUTCMs != 1 {
			t.Fatalf("iteration %d: expected the cached frame (ts=1) to be first, got ts=%d", i, ev.(model.Ticker).TsUTCMs)
		}
	}
}

func TestCloseSubscriberDetachesAllTopics(t *testing.T) {
	h, _ := newTestHub(50 * time.Millisecond)
	adapter := &fakeAttacher{}
	h.RegisterAdapter("binance", adapter)
	key := tickerKey("binance")

	id := h.RegisterSubscriber()
	if err := h.Attach(id, key); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	h.CloseSubscriber(id, CloseClientRequested)

	closed, reason, _ := h.CloseInfo(id)
	if !closed || reason != CloseClientRequested {
		t.Fatalf("expected closed=true reason=ClientClosed, got closed=%v reason=%v", closed, reason)
	}
}
