// Command gateway boots the real-time market-data gateway: it wires
// config, logging, metrics, the static symbol catalog, the replay cache,
// the stream hub, one adapter per configured venue, and the client-facing
// transport, then shuts everything down in reverse dependency order on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/odinmarkets/gateway/internal/adapter"
	"github.com/odinmarkets/gateway/internal/adapter/binance"
	"github.com/odinmarkets/gateway/internal/adapter/bybit"
	"github.com/odinmarkets/gateway/internal/adapter/mock"
	"github.com/odinmarkets/gateway/internal/cache"
	"github.com/odinmarkets/gateway/internal/config"
	"github.com/odinmarkets/gateway/internal/hub"
	"github.com/odinmarkets/gateway/internal/logging"
	"github.com/odinmarkets/gateway/internal/metadata"
	"github.com/odinmarkets/gateway/internal/metrics"
	"github.com/odinmarkets/gateway/internal/model"
	"github.com/odinmarkets/gateway/internal/session"
	"github.com/odinmarkets/gateway/internal/transport"
	"github.com/odinmarkets/gateway/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // nolint:errcheck

	reg := metrics.NewRegistry()
	catalog := buildCatalog(cfg)
	c := cache.New(cfg.Cache.BookDeltaRingSize, reg)
	h := hub.New(c, reg, logger, time.Duration(cfg.Hub.TopicGraceMs)*time.Millisecond, cfg.Session.SubscriberQueueDepth)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapters := startAdapters(ctx, cfg, h, c, reg, logger, catalog)

	var bootstrapped atomic.Bool
	sessions := session.NewManager(h, catalog, cfg.Session, reg, logger)
	transportServer := transport.NewServer(cfg.Server, logger, sessions, catalog, reg, bootstrapped.Load)

	if err := transportServer.Start(ctx); err != nil {
		logger.Fatal("transport start failed", zap.Error(err))
	}
	bootstrapped.Store(true)

	metricsErrCh := make(chan error, 1)
	go func() { metricsErrCh <- runMetricsServer(ctx, cfg, reg, logger) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-metricsErrCh:
		if err != nil {
			logger.Error("metrics server error", zap.Error(err))
		}
		stop()
	}

	// Shutdown order mirrors bootstrap in reverse: stop accepting new
	// client work, close existing sessions, then let adapters stop
	// producing into the hub, and finally drop the hub itself.
	transportServer.Stop()
	logger.Info("transport stopped, existing sessions closed")

	// Adapters and their upstream sessions have no explicit Stop; they are
	// torn down by the shared ctx cancellation above (signal.NotifyContext).
	logger.Info("gateway shutdown complete", zap.Int("adapters_started", len(adapters)))
}

func startAdapters(ctx context.Context, cfg config.Config, h *hub.Hub, c *cache.Cache, reg *metrics.Registry, logger *zap.Logger, catalog *metadata.StaticCatalog) map[string]adapter.Adapter {
	out := make(map[string]adapter.Adapter, len(cfg.Exchanges))
	degradeAfter := time.Duration(cfg.Hub.DegradationMs) * time.Millisecond

	for venue, ex := range cfg.Exchanges {
		if !ex.Enabled {
			continue
		}

		if venue == "mock" {
			m := mock.New(c, h.Publisher())
			h.RegisterAdapter(venue, m)
			if err := m.Start(ctx); err != nil {
				logger.Error("mock adapter start failed", zap.Error(err))
				continue
			}
			catalog.SetVenueStatus(venue, string(adapter.StatusHealthy))
			out[venue] = m
			logger.Info("mock adapter started")
			continue
		}

		var translator adapter.Translator
		switch venue {
		case "binance":
			translator = binance.New(cfg.Session.BookDepthDefault)
		case "bybit":
			translator = bybit.New(cfg.Session.BookDepthDefault)
		default:
			logger.Warn("no translator registered for configured venue", zap.String("venue", venue))
			continue
		}

		upCfg := upstream.Config{
			Name:              venue,
			URL:               ex.WSURL,
			BackoffBase:       time.Duration(ex.BackoffBaseMs) * time.Millisecond,
			BackoffCap:        time.Duration(ex.BackoffCapMs) * time.Millisecond,
			BackoffResetAfter: time.Duration(ex.BackoffResetMs) * time.Millisecond,
			HeartbeatInterval: ex.HeartbeatInterval,
			HeartbeatTimeout:  ex.HeartbeatTimeout,
			PingPayload:       translator.PingPayload(),
			RateLimitPerSec:   ex.RateLimitPerSec,
			RateLimitBurst:    ex.RateLimitBurst,
		}
		sess := upstream.New(upCfg, logger)
		base := adapter.NewBase(translator, sess, c, h.Publisher(), reg, logger, degradeAfter)
		h.RegisterAdapter(venue, base)
		if err := base.Start(ctx); err != nil {
			logger.Error("adapter start failed", zap.String("venue", venue), zap.Error(err))
			continue
		}
		catalog.SetVenueStatus(venue, string(adapter.StatusHealthy))
		out[venue] = base
		logger.Info("adapter started", zap.String("venue", venue), zap.String("url", ex.WSURL))
	}
	return out
}

// buildCatalog seeds the static symbol catalog used to validate inbound
// subscribe requests. A production deployment would refresh this from each
// venue's exchange-info REST endpoint; this gateway's scope is the
// streaming path, so the catalog is configuration-time static.
func buildCatalog(cfg config.Config) *metadata.StaticCatalog {
	venues := make([]metadata.VenueDescriptor, 0, len(cfg.Exchanges))
	for id, ex := range cfg.Exchanges {
		status := "unreachable"
		if !ex.Enabled {
			status = "disabled"
		}
		venues = append(venues, metadata.VenueDescriptor{ID: id, Name: id, Status: status})
	}

	symbols := []metadata.SymbolInfo{
		{Venue: "binance", MarketType: model.MarketSpot, Symbol: model.NewSymbol("BTC", "USDT", model.MarketSpot), PricePrecision: 2, SizePrecision: 6, TickSize: model.DecimalFromFloat(0.01, 2)},
		{Venue: "binance", MarketType: model.MarketSpot, Symbol: model.NewSymbol("ETH", "USDT", model.MarketSpot), PricePrecision: 2, SizePrecision: 5, TickSize: model.DecimalFromFloat(0.01, 2)},
		{Venue: "bybit", MarketType: model.MarketPerpetual, Symbol: model.NewSymbol("BTC", "USDT", model.MarketPerpetual), PricePrecision: 2, SizePrecision: 3, TickSize: model.DecimalFromFloat(0.5, 2)},
		{Venue: "bybit", MarketType: model.MarketPerpetual, Symbol: model.NewSymbol("ETH", "USDT", model.MarketPerpetual), PricePrecision: 2, SizePrecision: 2, TickSize: model.DecimalFromFloat(0.05, 2)},
	}
	return metadata.NewStaticCatalog(venues, symbols)
}

func runMetricsServer(ctx context.Context, cfg config.Config, reg *metrics.Registry, logger *zap.Logger) error {
	if !cfg.Metrics.Enabled {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Endpoint, reg.Handler())

	httpServer := &http.Server{
		Addr:         cfg.Metrics.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics http server starting", zap.String("addr", cfg.Metrics.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics http server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
