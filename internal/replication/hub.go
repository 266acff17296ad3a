package replication

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// pendingLimit bounds how many records a topic buffers before its first
// subscriber attaches. Beyond it the oldest record is dropped; publishing
// never blocks the manager.
const pendingLimit = 1024

// subscriberBuffer is the channel capacity granted to each live subscriber.
const subscriberBuffer = 256

// Subscription is a lazy, restartable read position on a per-market topic.
// Records arrive on C until the transport shuts down or Close is called;
// C is closed on every exit path.
type Subscription struct {
	C <-chan Record

	once sync.Once
	stop func()
}

// Close detaches the subscription and releases its transport resources.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.stop)
}

type topic struct {
	subs    []chan Record
	pending []Record
}

// Hub is an in-process replication transport: one topic per market ticker,
// fanned out to any number of independent subscribers. Records published
// before the first subscriber attaches are buffered and flushed in arrival
// order ahead of any live record. Live fan-out is non-blocking; a slow
// subscriber gets records dropped rather than stalling the publisher.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic
	closed bool
	log    *zap.Logger
}

// NewHub creates an empty Hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		topics: make(map[string]*topic),
		log:    log,
	}
}

// Publish appends rec to the topic named for its market. Never blocks.
func (h *Hub) Publish(_ context.Context, rec Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}

	t := h.topic(rec.MarketTicker)
	if len(t.subs) == 0 {
		if len(t.pending) >= pendingLimit {
			t.pending = t.pending[1:]
			h.log.Warn("pending buffer full, dropping oldest record",
				zap.String("ticker", rec.MarketTicker))
		}
		t.pending = append(t.pending, rec)
		return nil
	}

	for _, ch := range t.subs {
		select {
		case ch <- rec:
		default:
			h.log.Warn("dropping record for slow subscriber",
				zap.String("ticker", rec.MarketTicker))
		}
	}
	return nil
}

// Subscribe attaches a fresh read position to ticker's topic. Any records
// buffered before the first attach are delivered first, in publish order.
// The subscription is released when ctx is cancelled or Close is called.
func (h *Hub) Subscribe(ctx context.Context, ticker string) (*Subscription, error) {
	h.mu.Lock()
	t := h.topic(ticker)

	ch := make(chan Record, len(t.pending)+subscriberBuffer)
	for _, rec := range t.pending {
		ch <- rec
	}
	t.pending = nil
	t.subs = append(t.subs, ch)
	h.mu.Unlock()

	sub := &Subscription{
		C:    ch,
		stop: func() { h.detach(ticker, ch) },
	}

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return sub, nil
}

// Close shuts down the hub, closing every subscriber channel.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for _, t := range h.topics {
		for _, ch := range t.subs {
			close(ch)
		}
		t.subs = nil
	}
	return nil
}

// topic returns the topic for ticker, creating it if needed. Caller holds mu.
func (h *Hub) topic(ticker string) *topic {
	t, ok := h.topics[ticker]
	if !ok {
		t = &topic{}
		h.topics[ticker] = t
	}
	return t
}

func (h *Hub) detach(ticker string, ch chan Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	t, ok := h.topics[ticker]
	if !ok {
		return
	}
	for i, sub := range t.subs {
		if sub == ch {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			close(ch)
			return
		}
	}
}
