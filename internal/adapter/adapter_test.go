package adapter

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/odinmarkets/gateway/internal/cache"
	"github.com/odinmarkets/gateway/internal/hub"
	"github.com/odinmarkets/gateway/internal/model"
	"github.com/odinmarkets/gateway/internal/upstream"
)

type fakeTranslator struct {
	venue        string
	translateErr error
	nextEvents   []model.Event
	subCalls     int
	unsubCalls   int
}

func (f *fakeTranslator) Venue() string { return f.venue }

func (f *fakeTranslator) SubscribePayload(key model.ChannelKey) (string, []byte, error) {
	f.subCalls++
	return key.String(), []byte(`{}`), nil
}

func (f *fakeTranslator) UnsubscribePayload(key model.ChannelKey) (string, []byte) {
	f.unsubCalls++
	return key.String(), []byte(`{}`)
}

func (f *fakeTranslator) Translate(frame []byte) ([]model.Event, error) {
	if f.translateErr != nil {
		return nil, f.translateErr
	}
	return f.nextEvents, nil
}

func (f *fakeTranslator) PingPayload() []byte { return nil }

func testChannelKey() model.ChannelKey {
	sym := model.NewSymbol("btc", "usdt", model.MarketSpot)
	return model.ChannelKey{Venue: "testvenue", MarketType: model.MarketSpot, Kind: model.ChannelTicker, Symbol: sym}
}

func mustTicker(t *testing.T, key model.ChannelKey, ts int64) model.Ticker {
	t.Helper()
	v := model.DecimalFromFloat(100, 2)
	ti, err := model.NewTicker(ts, key.Venue, key.MarketType, key.Symbol, v, v, v, v, v)
	if err != nil {
		t.Fatalf("NewTicker: %v", err)
	}
	return ti
}

func newTestBase(translator Translator) (*Base, *cache.Cache) {
	c := cache.New(4, nil)
	h := hub.New(c, nil, zap.NewNop(), 50*time.Millisecond, 16)
	sess := upstream.New(upstream.Config{Name: "testvenue", URL: "ws://127.0.0.1:1"}, zap.NewNop())
	base := NewBase(translator, sess, c, h.Publisher(), nil, zap.NewNop(), 30*time.Millisecond)
	return base, c
}

func TestBaseAttachDetachRefcountsIndependentlyOfHub(t *testing.T) {
	tr := &fakeTranslator{venue: "testvenue"}
	base, _ := newTestBase(tr)
	key := testChannelKey()

	if err := base.Attach(key); err != nil {
		t.Fatalf("Attach 1: %v", err)
	}
	if err := base.Attach(key); err != nil {
		t.Fatalf("Attach 2: %v", err)
	}
	if tr.subCalls != 1 {
		t.Fatalf("expected exactly one SubscribePayload call for two attaches, got %d", tr.subCalls)
	}

	base.Detach(key)
	if tr.unsubCalls != 0 {
		t.Fatalf("expected no unsubscribe after only one of two detaches, got %d", tr.unsubCalls)
	}
	base.Detach(key)
	if tr.unsubCalls != 1 {
		t.Fatalf("expected unsubscribe on the final detach, got %d", tr.unsubCalls)
	}
}

func TestBaseHandleFrameCachesAndPublishesTranslatedEvents(t *testing.T) {
	key := testChannelKey()
	tr := &fakeTranslator{venue: "testvenue"}
	base, c := newTestBase(tr)
	tr.nextEvents = []model.Event{mustTicker(t, key, 5)}

	base.handleFrame([]byte(`{}`))

	last, ok := c.GetLast(key)
	if !ok {
		t.Fatal("expected handleFrame to populate the cache")
	}
	if last.(model.Ticker).TsUTCMs != 5 {
		t.Fatalf("unexpected cached ticker: %+v", last)
	}
}

func TestBaseCircuitBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	tr := &fakeTranslator{venue: "testvenue", translateErr: errors.New("boom")}
	base, _ := newTestBase(tr)

	if base.Status() != StatusStarting {
		t.Fatalf("expected initial status Starting, got %v", base.Status())
	}

	for i := 0; i < 5; i++ {
		base.handleFrame([]byte(`{}`))
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if base.Status() == StatusUnreachable {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected status Unreachable after 5 consecutive translate failures, got %v", base.Status())
}

func TestBaseDegradedChannelFallsBackToMockGenerator(t *testing.T) {
	key := testChannelKey()
	tr := &fakeTranslator{venue: "testvenue", translateErr: errors.New("boom")}
	base, c := newTestBase(tr)

	if err := base.Attach(key); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	for i := 0; i < 5; i++ {
		base.handleFrame([]byte(`{}`))
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := c.GetLast(key); ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected the mock generator fallback to populate the cache for a degraded ticker channel")
}

func TestHashChannelKeyDeterministic(t *testing.T) {
	key := testChannelKey()
	a := hashChannelKey(key)
	b := hashChannelKey(key)
	if a != b {
		t.Fatalf("expected hashChannelKey to be deterministic, got %d and %d", a, b)
	}
	other := testChannelKey()
	other.Symbol = model.NewSymbol("eth", "usdt", model.MarketSpot)
	if hashChannelKey(other) == a {
		t.Fatal("expected different channel keys to hash differently (in the overwhelmingly common case)")
	}
}
