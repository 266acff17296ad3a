package book

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/parlay-systems/parlay/internal/feed"
)

// SequenceScope controls how sequence counters are keyed.
type SequenceScope string

const (
	// ScopeChannel keys one counter per logical channel, matching the
	// upstream's per-connection numbering. A gap in one market's stream
	// can be masked by another market's traffic on the same channel.
	ScopeChannel SequenceScope = "channel"
	// ScopeMarket keys counters per (channel, market) for strict
	// per-market gap detection.
	ScopeMarket SequenceScope = "market"
)

// ReconnectPolicy controls what happens to book state after the upstream
// connection is reestablished.
type ReconnectPolicy string

const (
	// ReconnectResync drops all books; deltas fail with ErrUnknownMarket
	// until a fresh snapshot arrives.
	ReconnectResync ReconnectPolicy = "resync"
	// ReconnectCarry retains books and applies deltas against
	// possibly-stale state until the next snapshot replaces it.
	ReconnectCarry ReconnectPolicy = "carry"
)

// ManagerConfig holds the explicit policies the manager operates under.
type ManagerConfig struct {
	SequenceScope   SequenceScope
	ReconnectPolicy ReconnectPolicy
}

// DefaultManagerConfig returns the production defaults: per-channel
// sequencing for upstream wire compatibility, and resync-on-reconnect so
// no delta ever applies against carried-over state.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		SequenceScope:   ScopeChannel,
		ReconnectPolicy: ReconnectResync,
	}
}

// Manager demultiplexes the upstream event stream, routes market-scoped
// messages to the right OrderBook (creating it on snapshot), and guards
// sequence integrity. Errors are terminal for the triggering message and
// propagate to the caller, which decides whether to resynchronize or abort.
//
// The ticker→book table is owned exclusively by the single goroutine that
// calls Process; it must not be shared across concurrency boundaries.
type Manager struct {
	cfg   ManagerConfig
	books map[string]*OrderBook
	guard *SequenceGuard
	pub   Publisher
	log   *zap.Logger
}

// NewManager creates a Manager publishing materialized state through pub.
func NewManager(pub Publisher, log *zap.Logger, cfg ManagerConfig) *Manager {
	if cfg.SequenceScope == "" {
		cfg.SequenceScope = ScopeChannel
	}
	if cfg.ReconnectPolicy == "" {
		cfg.ReconnectPolicy = ReconnectResync
	}
	return &Manager{
		cfg:   cfg,
		books: make(map[string]*OrderBook),
		guard: NewSequenceGuard(),
		pub:   pub,
		log:   log,
	}
}

// Book returns the book registered for ticker, or nil.
func (m *Manager) Book(ticker string) *OrderBook {
	return m.books[ticker]
}

// MarketCount returns the number of markets with a registered book.
func (m *Manager) MarketCount() int {
	return len(m.books)
}

// Resync prepares the manager for a fresh upstream stream: sequence
// counters are always cleared (the upstream restarts numbering per
// connection), and under ReconnectResync all books are dropped so the next
// orderbook_snapshot is treated as authoritative.
func (m *Manager) Resync() {
	m.guard.Reset()
	if m.cfg.ReconnectPolicy == ReconnectResync {
		clear(m.books)
		m.log.Info("books invalidated, awaiting fresh snapshots")
		return
	}
	m.log.Info("sequence counters reset, carrying book state",
		zap.Int("markets", len(m.books)))
}

// Process handles one feed envelope. The payload is decoded and validated
// first, the sequence number checked second, and state mutated last, so a
// detected gap or malformed message leaves every book at its last-known-good
// state.
func (m *Manager) Process(ctx context.Context, env feed.Envelope) error {
	if env.Type == "" {
		return fmt.Errorf("envelope without channel type: %w", ErrMalformedMessage)
	}

	switch env.Type {
	case feed.ChannelSubscribed:
		return m.handleSubscribed(env)
	case feed.ChannelTicker:
		// Ticker summaries are deliberately unhandled: the book is
		// reconstructed from snapshots and deltas alone.
		return nil
	case feed.ChannelTrade:
		return m.handleTrade(env)
	case feed.ChannelSnapshot:
		return m.handleSnapshot(ctx, env)
	case feed.ChannelDelta:
		return m.handleDelta(ctx, env)
	case feed.ChannelError:
		m.log.Error("upstream error frame", zap.ByteString("msg", env.Msg))
		return nil
	default:
		m.log.Info("unrecognized channel ignored", zap.String("channel", string(env.Type)))
		return nil
	}
}

func (m *Manager) handleSubscribed(env feed.Envelope) error {
	var msg feed.SubscribedMsg
	if err := json.Unmarshal(env.Msg, &msg); err != nil {
		return fmt.Errorf("decode subscribed: %w", ErrMalformedMessage)
	}
	// Control message: no sequence check.
	m.log.Info("subscription confirmed",
		zap.String("channel", msg.Channel), zap.Int("sid", msg.SID))
	return nil
}

func (m *Manager) handleTrade(env feed.Envelope) error {
	var msg feed.TradeMsg
	if err := json.Unmarshal(env.Msg, &msg); err != nil {
		return fmt.Errorf("decode trade: %w", ErrMalformedMessage)
	}
	if msg.MarketTicker == "" {
		return fmt.Errorf("trade without market_ticker: %w", ErrMalformedMessage)
	}
	if err := m.checkSequence(env, msg.MarketTicker); err != nil {
		return err
	}
	m.log.Info("trade",
		zap.String("ticker", msg.MarketTicker),
		zap.Int("price", msg.Price),
		zap.Int("size", msg.Size),
		zap.String("side", msg.Side))
	return nil
}

func (m *Manager) handleSnapshot(ctx context.Context, env feed.Envelope) error {
	var msg feed.SnapshotMsg
	if err := json.Unmarshal(env.Msg, &msg); err != nil {
		return fmt.Errorf("decode snapshot: %w", ErrMalformedMessage)
	}
	if msg.MarketTicker == "" {
		return fmt.Errorf("snapshot without market_ticker: %w", ErrMalformedMessage)
	}
	if err := m.checkSequence(env, msg.MarketTicker); err != nil {
		return err
	}

	m.books[msg.MarketTicker] = NewFromSnapshot(ctx, msg.MarketTicker, msg.Yes, msg.No, m.pub, m.log)
	m.log.Info("snapshot applied",
		zap.String("ticker", msg.MarketTicker),
		zap.Int("yes_levels", len(msg.Yes)),
		zap.Int("no_levels", len(msg.No)))
	return nil
}

func (m *Manager) handleDelta(ctx context.Context, env feed.Envelope) error {
	var msg feed.DeltaMsg
	if err := json.Unmarshal(env.Msg, &msg); err != nil {
		return fmt.Errorf("decode delta: %w", ErrMalformedMessage)
	}
	if msg.MarketTicker == "" {
		return fmt.Errorf("delta without market_ticker: %w", ErrMalformedMessage)
	}

	b, ok := m.books[msg.MarketTicker]
	if !ok {
		return fmt.Errorf("%s: %w", msg.MarketTicker, ErrUnknownMarket)
	}

	if err := m.checkSequence(env, msg.MarketTicker); err != nil {
		return err
	}

	if err := b.ApplyDelta(ctx, Side(msg.Side), msg.Price, msg.Delta); err != nil {
		return fmt.Errorf("delta %s %s %d%+d: %w",
			msg.MarketTicker, msg.Side, msg.Price, msg.Delta, err)
	}
	return nil
}

func (m *Manager) checkSequence(env feed.Envelope, ticker string) error {
	key := string(env.Type)
	if m.cfg.SequenceScope == ScopeMarket {
		key = key + "|" + ticker
	}
	if err := m.guard.Check(key, env.Seq); err != nil {
		return fmt.Errorf("channel %s: %w", env.Type, err)
	}
	return nil
}
