package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"
	"go.uber.org/zap"

	"github.com/parlay-systems/parlay/internal/bbo"
	"github.com/parlay-systems/parlay/internal/book"
	"github.com/parlay-systems/parlay/internal/config"
	"github.com/parlay-systems/parlay/internal/directory"
	"github.com/parlay-systems/parlay/internal/feed"
	"github.com/parlay-systems/parlay/internal/logging"
	"github.com/parlay-systems/parlay/internal/replication"
)

// transport is the replication surface the daemon needs; satisfied by both
// the in-process hub and the Kafka transport.
type transport interface {
	Publish(ctx context.Context, rec replication.Record) error
	Subscribe(ctx context.Context, ticker string) (*replication.Subscription, error)
	Close() error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "parlay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()
	defer memguard.Purge()

	logger.Info("parlay starting", zap.String("env", cfg.Env))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tickers, err := resolveMarkets(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("tracking markets", zap.Int("count", len(tickers)))

	var tr transport
	if cfg.Kafka.Enabled {
		tr = replication.NewKafka(cfg.Kafka.Brokers, logger)
	} else {
		tr = replication.NewHub(logger)
	}
	defer tr.Close()

	wsCfg := feed.DefaultWSConfig(cfg.Feed.URL)
	wsCfg.HeartbeatTimeout = cfg.Feed.HeartbeatTimeout
	wsCfg.BackoffInitial = cfg.Feed.BackoffInitial
	wsCfg.BackoffMax = cfg.Feed.BackoffMax
	if cfg.Feed.KeyPath != "" {
		ks, err := feed.LoadKeystore(cfg.Feed.KeyPath)
		if err != nil {
			return fmt.Errorf("load keystore: %w", err)
		}
		apiKey := cfg.Feed.APIKey
		wsCfg.HeaderFunc = func() (http.Header, error) {
			return ks.AuthHeaders(apiKey)
		}
	}

	ws := feed.NewWSClient(wsCfg, logger)
	raw := ws.Subscribe()
	if err := ws.Connect(ctx); err != nil {
		return fmt.Errorf("connect feed: %w", err)
	}
	defer ws.Close()

	client := feed.NewClient(ws)
	manager := book.NewManager(tr, logger, book.ManagerConfig{
		SequenceScope:   book.SequenceScope(cfg.Feed.SequenceScope),
		ReconnectPolicy: book.ReconnectPolicy(cfg.Feed.ReconnectPolicy),
	})

	subscribeAll := func() {
		client.SubscribeTicker(tickers)
		client.SubscribeOrderbook(tickers)
		client.SubscribeTrades(tickers)
	}
	subscribeAll()

	// Ordering is not guaranteed across a reconnect: reset sequence state
	// and resubscribe so the next snapshot is authoritative.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ws.Reconnects():
				logger.Warn("feed reconnected, resynchronizing")
				manager.Resync()
				subscribeAll()
			}
		}
	}()

	if cfg.Redis.Enabled {
		writer := bbo.NewWriter(
			bbo.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB),
			tr, logger)
		go writer.Run(ctx, tickers)
	}

	logger.Info("listening for orderbook and trade updates",
		zap.Int("markets", len(tickers)))

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case msg, ok := <-raw:
			if !ok {
				return nil
			}
			env, err := feed.ParseEnvelope(msg)
			if err != nil {
				logger.Error("undecodable frame", zap.Error(err))
				continue
			}
			if err := manager.Process(ctx, env); err != nil {
				if errors.Is(err, book.ErrSequenceGap) {
					// Messages were lost; invalidate and rebuild from
					// fresh snapshots rather than surfacing stale books.
					logger.Error("sequence gap detected, resynchronizing", zap.Error(err))
					manager.Resync()
					subscribeAll()
					continue
				}
				logger.Error("message processing failed", zap.Error(err))
			}
		}
	}
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.LogFile != "" {
		return logging.NewWithFile(cfg.LogFile)
	}
	return logging.New()
}

func resolveMarkets(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]string, error) {
	if len(cfg.Directory.Tickers) > 0 {
		return cfg.Directory.Tickers, nil
	}
	if len(cfg.Directory.Series) == 0 {
		return nil, errors.New("no markets configured: set PARLAY_DIRECTORY_TICKERS or PARLAY_DIRECTORY_SERIES")
	}

	dir := directory.New(cfg.Directory.BaseURL, logger)
	tickers, err := dir.Markets(ctx, cfg.Directory.Series)
	if err != nil {
		return nil, fmt.Errorf("resolve markets: %w", err)
	}
	if len(tickers) == 0 {
		return nil, errors.New("directory returned no open markets")
	}
	return tickers, nil
}
