package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/spooky-finn/go-orderbook-sync/config"
	"github.com/spooky-finn/go-orderbook-sync/domain"
	"github.com/spooky-finn/go-orderbook-sync/infrastructure/logger"
	promclient "github.com/spooky-finn/go-orderbook-sync/infrastructure/prometheus"
	"github.com/spooky-finn/go-orderbook-sync/infrastructure/redis"
	"github.com/spooky-finn/go-orderbook-sync/provider"
	"github.com/spooky-finn/go-orderbook-sync/rpc"
	"github.com/spooky-finn/go-orderbook-sync/usecase"
)

const debugDepth = 2

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "orderbook-sync: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// usage: orderbook-sync [symbol], e.g. btc_usdt or btcusdt
	if len(os.Args) > 1 {
		cfg.Symbol = os.Args[1]
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Debug:  cfg.Debug,
	})

	symbol, err := domain.NewMarketSymbolFromString(cfg.Symbol)
	if err != nil {
		return err
	}
	scalerOpts, err := cfg.ScalerOptions()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsServer := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           promclient.Handler(promclient.NewRegistry()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("metrics server failed")
		}
	}()

	connManager := provider.NewConnectionManager(cfg, log)
	defer connManager.Close()

	storage := domain.NewOrderBookStorage()

	maintainerOpts := []domain.MaintainerOption{
		domain.WithMetrics(promclient.MaintainerMetrics{}),
	}
	if config.DebugMode {
		maintainerOpts = append(maintainerOpts, domain.WithDepthListener(&debugListener{logger: log}))
	}
	if cfg.Redis.Addr != "" {
		publisher := redis.NewTopOfBookPublisher(redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB), log)
		go publisher.Run(ctx)
		maintainerOpts = append(maintainerOpts, domain.WithDepthListener(publisher))
		log.Info().Str("addr", cfg.Redis.Addr).Msg("publishing top of book to redis")
	}

	health := rpc.NewHealthReporter(rpc.HealthServiceName(cfg.Provider, symbol))
	onStatus := func(provider string, symbol *domain.MarketSymbol, status domain.SyncStatus) {
		health.OnStatus(provider, symbol, status)
		promclient.ObserveStatus(provider, symbol, status)
	}

	supervisor := usecase.NewBookSupervisor(ctx, connManager, storage, domain.MaintainerConfig{
		SnapshotLimit:     cfg.SnapshotLimit,
		TopN:              cfg.TopN,
		ScalerOptions:     scalerOpts,
		ResyncBackoff:     cfg.Resync.Backoff,
		MaxResyncAttempts: cfg.Resync.MaxAttempts,
	}, onStatus, log, maintainerOpts...)

	snapshotUseCase := usecase.NewOrderBookSnapshotUseCase(connManager, storage, supervisor, log)
	grpcServer := rpc.NewGRPCServer(rpc.NewServer(snapshotUseCase, &rpc.ValidationServiceConfig{
		AvailableProviders: cfg.Providers,
	}, log), health)

	lis, err := net.Listen("tcp", cfg.RPC.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.RPC.Addr, err)
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc server failed")
			stop()
		}
	}()

	log.Info().
		Str("provider", cfg.Provider).
		Str("symbol", symbol.String()).
		Str("rpc", cfg.RPC.Addr).
		Str("metrics", cfg.Metrics.Addr).
		Msg("starting order book sync")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-supervisor.Start(cfg.Provider, symbol):
	}

	log.Info().Msg("shutting down")
	stop()
	grpcServer.GracefulStop()
	supervisor.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("metrics server shutdown")
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// debugListener logs the top of every published view.
type debugListener struct {
	logger zerolog.Logger
}

func (l *debugListener) OnDepth(provider string, symbol *domain.MarketSymbol, view *domain.OrderBookSnapshot) {
	bids := view.Bids[:min(debugDepth, len(view.Bids))]
	asks := view.Asks[:min(debugDepth, len(view.Asks))]

	l.logger.Debug().
		Str("provider", provider).
		Str("symbol", symbol.String()).
		Uint64("lastUpdateId", view.LastUpdateID).
		Interface("bids", domain.FormatLevels(bids)).
		Interface("asks", domain.FormatLevels(asks)).
		Msg("order book")
}
