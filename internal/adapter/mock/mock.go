// Package mock implements a network-free venue adapter: it never dials
// upstream and instead runs the same deterministic random-walk generator
// the degraded-venue fallback uses, so local runs and tests can exercise
// the hub/cache/session path end to end without a real exchange.
package mock

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/odinmarkets/gateway/internal/adapter"
	"github.com/odinmarkets/gateway/internal/cache"
	"github.com/odinmarkets/gateway/internal/hub"
	"github.com/odinmarkets/gateway/internal/model"
)

const venueID = "mock"
const tickInterval = time.Second

type channel struct {
	refcount int
	cancel   context.CancelFunc
}

// Adapter is a standalone adapter.Adapter that never touches the network.
// Every attached ticker channel gets its own seeded random-walk goroutine;
// book channels attach successfully but never produce frames, matching the
// fallback generator's "tickers only" contract.
type Adapter struct {
	cache     *cache.Cache
	publisher hub.Publisher

	mu       sync.Mutex
	channels map[model.ChannelKey]*channel
	status   adapter.Status
	baseCtx  context.Context
}

// New constructs a mock venue adapter.
func New(c *cache.Cache, pub hub.Publisher) *Adapter {
	return &Adapter{
		cache:     c,
		publisher: pub,
		channels:  make(map[model.ChannelKey]*channel),
		status:    adapter.StatusStarting,
	}
}

func (a *Adapter) ID() string { return venueID }

func (a *Adapter) Status() adapter.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Start marks the adapter healthy immediately; there is no upstream to
// connect to.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	a.baseCtx = ctx
	a.status = adapter.StatusHealthy
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Attach(key model.ChannelKey) error {
	a.mu.Lock()
	ch, ok := a.channels[key]
	if !ok {
		ch = &channel{}
		a.channels[key] = ch
	}
	ch.refcount++
	first := ch.refcount == 1
	base := a.baseCtx
	a.mu.Unlock()

	if !first || key.Kind != model.ChannelTicker {
		return nil
	}
	ctx, cancel := context.WithCancel(base)
	a.mu.Lock()
	ch.cancel = cancel
	a.mu.Unlock()
	go runGenerator(ctx, key, a.cache, a.publisher)
	return nil
}

func (a *Adapter) Detach(key model.ChannelKey) {
	a.mu.Lock()
	ch, ok := a.channels[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	ch.refcount--
	last := ch.refcount <= 0
	var cancel context.CancelFunc
	if last {
		cancel = ch.cancel
		delete(a.channels, key)
	}
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func runGenerator(ctx context.Context, key model.ChannelKey, c *cache.Cache, pub hub.Publisher) {
	rng := rand.New(rand.NewSource(seed(key)))
	const scale int32 = 2
	mid := 100.00

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			step := float64(rng.Intn(21)-10) / 100
			mid += step
			if mid < 0.01 {
				mid = 0.01
			}
			spread := float64(5+rng.Intn(10)) / 100

			bid := model.DecimalFromFloat(mid-spread, scale)
			ask := model.DecimalFromFloat(mid+spread, scale)
			last := model.DecimalFromFloat(mid, scale)
			size := model.DecimalFromFloat(100, scale)

			t, err := model.NewTicker(time.Now().UnixMilli(), key.Venue, key.MarketType, key.Symbol, bid, ask, last, size, size)
			if err != nil {
				continue
			}
			c.Put(key, t)
			pub.Publish(key, t)
		}
	}
}

func seed(key model.ChannelKey) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key.String()))
	return int64(h.Sum64())
}
