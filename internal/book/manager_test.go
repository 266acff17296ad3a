package book

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/parlay-systems/parlay/internal/feed"
)

func newTestManager(t *testing.T, cfg ManagerConfig) (*Manager, *capturePublisher) {
	t.Helper()
	pub := &capturePublisher{}
	return NewManager(pub, zap.NewNop(), cfg), pub
}

func envelope(t *testing.T, channel feed.Channel, seqNo *int64, msg any) feed.Envelope {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return feed.Envelope{Type: channel, Seq: seqNo, Msg: raw}
}

func snapshotEnvelope(t *testing.T, seqNo int64, ticker string) feed.Envelope {
	t.Helper()
	return envelope(t, feed.ChannelSnapshot, seq(seqNo), feed.SnapshotMsg{
		MarketTicker: ticker,
		Yes:          [][2]int{{40, 10}},
		No:           [][2]int{{55, 20}},
	})
}

func deltaEnvelope(t *testing.T, seqNo int64, ticker, side string, price, delta int) feed.Envelope {
	t.Helper()
	return envelope(t, feed.ChannelDelta, seq(seqNo), feed.DeltaMsg{
		MarketTicker: ticker,
		Side:         side,
		Price:        price,
		Delta:        delta,
	})
}

func TestManager_SnapshotRegistersBook(t *testing.T) {
	m, pub := newTestManager(t, DefaultManagerConfig())

	if err := m.Process(context.Background(), snapshotEnvelope(t, 1, "MKT-A")); err != nil {
		t.Fatalf("Process snapshot: %v", err)
	}

	b := m.Book("MKT-A")
	if b == nil {
		t.Fatal("expected book registered for MKT-A")
	}
	bestYes, _ := b.Best()
	if bestYes.Price != 40 {
		t.Fatalf("unexpected best yes %+v", bestYes)
	}
	if len(pub.recs) != 1 {
		t.Fatalf("expected snapshot to publish one record, got %d", len(pub.recs))
	}
}

func TestManager_DeltaBeforeSnapshot(t *testing.T) {
	m, _ := newTestManager(t, DefaultManagerConfig())

	err := m.Process(context.Background(), deltaEnvelope(t, 1, "MKT-A", "yes", 40, 5))
	if !errors.Is(err, ErrUnknownMarket) {
		t.Fatalf("expected ErrUnknownMarket, got %v", err)
	}
}

func TestManager_DeltaUpdatesAndPublishes(t *testing.T) {
	m, pub := newTestManager(t, DefaultManagerConfig())
	ctx := context.Background()

	if err := m.Process(ctx, snapshotEnvelope(t, 1, "MKT-A")); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := m.Process(ctx, deltaEnvelope(t, 2, "MKT-A", "yes", 40, -10)); err != nil {
		t.Fatalf("delta: %v", err)
	}

	b := m.Book("MKT-A")
	bestYes, _ := b.Best()
	if bestYes != nil {
		t.Fatalf("expected best yes absent after level removal, got %+v", bestYes)
	}

	last := pub.recs[len(pub.recs)-1]
	if _, present := last.Yes[40]; present {
		t.Fatalf("published record retains removed level: %v", last.Yes)
	}
}

func TestManager_MissingChannelType(t *testing.T) {
	m, _ := newTestManager(t, DefaultManagerConfig())

	err := m.Process(context.Background(), feed.Envelope{Msg: []byte(`{}`)})
	if !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestManager_SnapshotWithoutTicker(t *testing.T) {
	m, _ := newTestManager(t, DefaultManagerConfig())

	env := envelope(t, feed.ChannelSnapshot, seq(1), feed.SnapshotMsg{})
	if err := m.Process(context.Background(), env); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestManager_UnrecognizedChannelIgnored(t *testing.T) {
	m, _ := newTestManager(t, DefaultManagerConfig())

	env := feed.Envelope{Type: "market_lifecycle", Msg: []byte(`{}`)}
	if err := m.Process(context.Background(), env); err != nil {
		t.Fatalf("unrecognized channel must not fail: %v", err)
	}
	if m.MarketCount() != 0 {
		t.Fatal("unrecognized channel must not change state")
	}
}

func TestManager_TickerChannelIgnored(t *testing.T) {
	m, _ := newTestManager(t, DefaultManagerConfig())

	env := feed.Envelope{Type: feed.ChannelTicker, Seq: seq(9), Msg: []byte(`{"market_ticker":"MKT-A"}`)}
	if err := m.Process(context.Background(), env); err != nil {
		t.Fatalf("ticker channel must not fail: %v", err)
	}

	// Ticker carries no sequence obligation either: the delta channel
	// still accepts its own numbering afterwards.
	if err := m.Process(context.Background(), snapshotEnvelope(t, 1, "MKT-A")); err != nil {
		t.Fatalf("snapshot after ticker: %v", err)
	}
}

func TestManager_SubscribedSkipsSequenceCheck(t *testing.T) {
	m, _ := newTestManager(t, DefaultManagerConfig())

	env := envelope(t, feed.ChannelSubscribed, nil, feed.SubscribedMsg{Channel: "orderbook_delta", SID: 1})
	if err := m.Process(context.Background(), env); err != nil {
		t.Fatalf("subscribed is a control message, no sequence required: %v", err)
	}
}

func TestManager_TradeSequenceChecked(t *testing.T) {
	m, _ := newTestManager(t, DefaultManagerConfig())
	ctx := context.Background()

	trade := func(seqNo *int64) feed.Envelope {
		return envelope(t, feed.ChannelTrade, seqNo, feed.TradeMsg{
			MarketTicker: "MKT-A", Price: 44, Size: 3, Side: "yes",
		})
	}

	if err := m.Process(ctx, trade(seq(10))); err != nil {
		t.Fatalf("first trade: %v", err)
	}
	if err := m.Process(ctx, trade(seq(10))); !errors.Is(err, ErrSequenceGap) {
		t.Fatalf("expected gap for duplicate trade seq, got %v", err)
	}
	if err := m.Process(ctx, trade(nil)); !errors.Is(err, ErrMissingSequence) {
		t.Fatalf("expected ErrMissingSequence, got %v", err)
	}
}

func TestManager_DuplicateDeltaSeqLeavesBookUntouched(t *testing.T) {
	m, _ := newTestManager(t, DefaultManagerConfig())
	ctx := context.Background()

	if err := m.Process(ctx, snapshotEnvelope(t, 1, "MKT-A")); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := m.Process(ctx, deltaEnvelope(t, 2, "MKT-A", "yes", 40, 5)); err != nil {
		t.Fatalf("delta seq 2: %v", err)
	}

	// Duplicate sequence: validated before application, so the book keeps
	// its last-known-good state.
	err := m.Process(ctx, deltaEnvelope(t, 2, "MKT-A", "yes", 40, 5))
	if !errors.Is(err, ErrSequenceGap) {
		t.Fatalf("expected sequence gap, got %v", err)
	}

	bestYes, _ := m.Book("MKT-A").Best()
	if bestYes.Quantity != 15 {
		t.Fatalf("gap mutated the book: best yes %+v", bestYes)
	}
}

func TestManager_ChannelScopeMasksPerMarketGap(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{SequenceScope: ScopeChannel})
	ctx := context.Background()

	if err := m.Process(ctx, snapshotEnvelope(t, 1, "MKT-A")); err != nil {
		t.Fatalf("snapshot A: %v", err)
	}
	if err := m.Process(ctx, snapshotEnvelope(t, 2, "MKT-B")); err != nil {
		t.Fatalf("snapshot B: %v", err)
	}

	// One shared counter across markets on the delta channel.
	if err := m.Process(ctx, deltaEnvelope(t, 1, "MKT-A", "yes", 40, 1)); err != nil {
		t.Fatalf("delta A seq 1: %v", err)
	}
	if err := m.Process(ctx, deltaEnvelope(t, 2, "MKT-B", "yes", 40, 1)); err != nil {
		t.Fatalf("delta B seq 2 shares the channel counter: %v", err)
	}
}

func TestManager_MarketScopeDetectsPerMarketGap(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{SequenceScope: ScopeMarket})
	ctx := context.Background()

	if err := m.Process(ctx, snapshotEnvelope(t, 1, "MKT-A")); err != nil {
		t.Fatalf("snapshot A: %v", err)
	}
	if err := m.Process(ctx, snapshotEnvelope(t, 1, "MKT-B")); err != nil {
		t.Fatalf("snapshot B starts its own counter: %v", err)
	}

	if err := m.Process(ctx, deltaEnvelope(t, 10, "MKT-A", "yes", 40, 1)); err != nil {
		t.Fatalf("delta A seq 10: %v", err)
	}
	if err := m.Process(ctx, deltaEnvelope(t, 10, "MKT-B", "yes", 40, 1)); err != nil {
		t.Fatalf("delta B seq 10 is independent: %v", err)
	}
	if err := m.Process(ctx, deltaEnvelope(t, 12, "MKT-A", "yes", 40, 1)); !errors.Is(err, ErrSequenceGap) {
		t.Fatalf("expected per-market gap for A, got %v", err)
	}
}

func TestManager_ResyncDropsBooks(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{ReconnectPolicy: ReconnectResync})
	ctx := context.Background()

	if err := m.Process(ctx, snapshotEnvelope(t, 1, "MKT-A")); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	m.Resync()

	if m.MarketCount() != 0 {
		t.Fatal("resync must drop carried-over books")
	}
	err := m.Process(ctx, deltaEnvelope(t, 1, "MKT-A", "yes", 40, 1))
	if !errors.Is(err, ErrUnknownMarket) {
		t.Fatalf("delta after resync must require a fresh snapshot, got %v", err)
	}
}

func TestManager_ResyncCarryRetainsBooks(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{ReconnectPolicy: ReconnectCarry})
	ctx := context.Background()

	if err := m.Process(ctx, snapshotEnvelope(t, 7, "MKT-A")); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	m.Resync()

	if m.MarketCount() != 1 {
		t.Fatal("carry policy must retain books across reconnect")
	}
	// Sequence counters restart regardless of policy.
	if err := m.Process(ctx, deltaEnvelope(t, 3, "MKT-A", "yes", 40, 1)); err != nil {
		t.Fatalf("delta with fresh numbering after resync: %v", err)
	}
}

func TestManager_DeltaErrorPropagates(t *testing.T) {
	m, _ := newTestManager(t, DefaultManagerConfig())
	ctx := context.Background()

	if err := m.Process(ctx, snapshotEnvelope(t, 1, "MKT-A")); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	err := m.Process(ctx, deltaEnvelope(t, 2, "MKT-A", "yes", 40, -999))
	if !errors.Is(err, ErrNegativeQuantity) {
		t.Fatalf("expected ErrNegativeQuantity, got %v", err)
	}
}
