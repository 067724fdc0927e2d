package adapter

import (
	"context"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/odinmarkets/gateway/internal/cache"
	"github.com/odinmarkets/gateway/internal/hub"
	"github.com/odinmarkets/gateway/internal/model"
)

const mockTickInterval = time.Second

// runMockGenerator produces deterministic random-walk ticker frames for key
// at 1 Hz, seeded from hash(key) so the same channel produces the same
// sequence across restarts. It never produces book frames and stops as
// soon as ctx is cancelled (traffic resumed or channel detached).
func runMockGenerator(ctx context.Context, key model.ChannelKey, c *cache.Cache, pub hub.Publisher) {
	seed := hashChannelKey(key)
	rng := rand.New(rand.NewSource(seed))

	mid := 100.00
	const scale int32 = 2

	ticker := time.NewTicker(mockTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			step := float64(rng.Intn(21)-10) / 100 // +/-0.10 walk
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

func hashChannelKey(key model.ChannelKey) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key.String()))
	return int64(h.Sum64())
}
