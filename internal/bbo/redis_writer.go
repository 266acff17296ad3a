// Package bbo publishes best-of-book summaries for downstream risk and
// order-placement consumers.
package bbo

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/parlay-systems/parlay/internal/replication"
)

// RedisClient abstracts the Redis operations used by Writer. In production
// this is satisfied by goRedisClient; in tests by a mock.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) error
}

// Subscriber attaches read positions to per-market replication topics.
// Satisfied by replication.Hub and replication.Kafka.
type Subscriber interface {
	Subscribe(ctx context.Context, ticker string) (*replication.Subscription, error)
}

// goRedisClient adapts *redis.Client to the RedisClient interface.
type goRedisClient struct {
	c *redis.Client
}

func (g *goRedisClient) HSet(ctx context.Context, key string, values ...any) error {
	return g.c.HSet(ctx, key, values...).Err()
}

// NewRedisClient connects a go-redis client suitable for Writer.
func NewRedisClient(addr, password string, db int) RedisClient {
	return &goRedisClient{c: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// bookTop holds the last-written best levels for a market so duplicate
// writes can be skipped.
type bookTop struct {
	YesPrice, YesQty int
	NoPrice, NoQty   int
	Empty            bool
}

// Writer consumes replication records and persists each market's
// best-of-book into Redis using the schema:
//
//	Key:    book:{ticker}
//	Fields: yes_price, yes_qty, no_price, no_qty, ts
//
// Writes are non-blocking: records are drained into an internal buffer and
// flushed by a dedicated goroutine, so a slow Redis never stalls the
// replication consumers. Unchanged best levels are suppressed.
type Writer struct {
	client RedisClient
	src    Subscriber
	log    *zap.Logger

	buf chan replication.Record

	mu   sync.Mutex
	last map[string]bookTop
}

// NewWriter creates a Writer reading from src and writing through client.
func NewWriter(client RedisClient, src Subscriber, log *zap.Logger) *Writer {
	return &Writer{
		client: client,
		src:    src,
		log:    log,
		buf:    make(chan replication.Record, 1024),
		last:   make(map[string]bookTop),
	}
}

// Run subscribes to every ticker's replication topic and flushes best-of-
// book updates to Redis. It blocks until ctx is cancelled; all
// subscriptions are released on exit.
func (w *Writer) Run(ctx context.Context, tickers []string) error {
	var wg sync.WaitGroup

	for _, ticker := range tickers {
		sub, err := w.src.Subscribe(ctx, ticker)
		if err != nil {
			w.log.Warn("bbo subscribe failed",
				zap.String("ticker", ticker), zap.Error(err))
			continue
		}

		wg.Add(1)
		go func(sub *replication.Subscription) {
			defer wg.Done()
			defer sub.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case rec, ok := <-sub.C:
					if !ok {
						return
					}
					select {
					case w.buf <- rec:
					default:
						// Buffer full, drop to keep the consumers moving.
					}
				}
			}
		}(sub)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case rec := <-w.buf:
				w.write(ctx, rec)
			}
		}
	}()

	wg.Wait()
	return nil
}

// write extracts the best levels, checks for duplicates, and issues an HSET.
func (w *Writer) write(ctx context.Context, rec replication.Record) {
	top := topOf(rec)
	key := "book:" + rec.MarketTicker

	w.mu.Lock()
	prev, exists := w.last[key]
	if exists && prev == top {
		w.mu.Unlock()
		return
	}
	w.last[key] = top
	w.mu.Unlock()

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	err := w.client.HSet(ctx, key,
		"yes_price", strconv.Itoa(top.YesPrice),
		"yes_qty", strconv.Itoa(top.YesQty),
		"no_price", strconv.Itoa(top.NoPrice),
		"no_qty", strconv.Itoa(top.NoQty),
		"ts", ts,
	)
	if err != nil {
		w.log.Warn("bbo write failed", zap.String("key", key), zap.Error(err))
	}
}

// topOf derives the best yes (max price) and best no (min price) levels
// from a full-state record. Zeroes mean the side is empty.
func topOf(rec replication.Record) bookTop {
	var top bookTop
	top.Empty = len(rec.Yes) == 0 && len(rec.No) == 0

	for price, qty := range rec.Yes {
		if top.YesQty == 0 || price > top.YesPrice {
			top.YesPrice, top.YesQty = price, qty
		}
	}
	for price, qty := range rec.No {
		if top.NoQty == 0 || price < top.NoPrice {
			top.NoPrice, top.NoQty = price, qty
		}
	}
	return top
}
