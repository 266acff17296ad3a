// booktail tails the replication topic of a single market and logs its
// materialized best-of-book on every update. It attaches with latest
// positioning: only records published after the attach are delivered.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/parlay-systems/parlay/internal/book"
	"github.com/parlay-systems/parlay/internal/config"
	"github.com/parlay-systems/parlay/internal/logging"
	"github.com/parlay-systems/parlay/internal/replication"
)

func main() {
	ticker := flag.String("ticker", "", "market ticker to tail")
	flag.Parse()

	if err := run(*ticker); err != nil {
		fmt.Fprintf(os.Stderr, "booktail: %v\n", err)
		os.Exit(1)
	}
}

func run(ticker string) error {
	if ticker == "" {
		return fmt.Errorf("-ticker is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Kafka.Enabled {
		return fmt.Errorf("booktail reads from the broker: set PARLAY_KAFKA_ENABLED=true")
	}

	logger, err := logging.New()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tr := replication.NewKafka(cfg.Kafka.Brokers, logger)
	defer tr.Close()

	sub, err := tr.Subscribe(ctx, ticker)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", ticker, err)
	}
	defer sub.Close()

	logger.Info("tailing market", zap.String("ticker", ticker),
		zap.String("topic", replication.TopicName(ticker)))

	updates := 0
	for rec := range sub.C {
		updates++
		b := book.FromRecord(rec, logger)
		bestYes, bestNo := b.Best()

		fields := []zap.Field{
			zap.String("ticker", rec.MarketTicker),
			zap.Int("updates", updates),
			zap.Int("yes_levels", len(rec.Yes)),
			zap.Int("no_levels", len(rec.No)),
		}
		if bestYes != nil {
			fields = append(fields,
				zap.Int("best_yes_price", bestYes.Price),
				zap.Int("best_yes_qty", bestYes.Quantity))
		}
		if bestNo != nil {
			fields = append(fields,
				zap.Int("best_no_price", bestNo.Price),
				zap.Int("best_no_qty", bestNo.Quantity))
		}
		logger.Info("book", fields...)
	}

	return nil
}
